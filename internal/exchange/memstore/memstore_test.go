package memstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/memstore"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

func createDonation(t *testing.T, store *memstore.Store) *exchange.Posting {
	t.Helper()

	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	p := &exchange.Posting{Type: exchange.TypeDonation, OwnerID: uuid.New(), Name: "Chair"}
	require.NoError(t, tx.CreatePosting(ctx, p))

	_, err = ledger.Append(ctx, tx, p.Ref(), string(exchange.StatusSubmitted), ledger.Detail{Key: "donation.request.submitted_detail"}, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return p
}

func TestStore_CommitAppliesStagedWrites(t *testing.T) {
	store := memstore.New()
	p := createDonation(t, store)

	got, err := store.GetPosting(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusSubmitted, got.Status)

	latest, err := store.LatestEntry(context.Background(), p.Ref())
	require.NoError(t, err)
	assert.Equal(t, string(exchange.StatusSubmitted), latest.Status)
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	p := &exchange.Posting{Type: exchange.TypeRecycle, OwnerID: uuid.New()}
	require.NoError(t, tx.CreatePosting(ctx, p))
	require.NoError(t, tx.Rollback())

	_, err = store.GetPosting(ctx, p.ID)
	assert.ErrorIs(t, err, exchange.ErrNotFound)
	assert.ErrorIs(t, tx.Commit(), memstore.ErrTxDone)
}

func TestStore_HistoryIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := createDonation(t, store)

	before, err := store.ListEntries(ctx, p.Ref())
	require.NoError(t, err)
	require.Len(t, before, 1)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	locked, err := tx.LockPosting(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, exchange.AdvancePosting(ctx, tx, locked, exchange.StatusConfirmed, ledger.Detail{Key: "k"}, nil))
	require.NoError(t, tx.Commit())

	after, err := store.ListEntries(ctx, p.Ref())
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].Status, after[0].Status)
	assert.Equal(t, string(exchange.StatusConfirmed), after[1].Status)

	// Mutating a returned entry must not leak into the store.
	after[0].Status = "tampered"
	again, err := store.ListEntries(ctx, p.Ref())
	require.NoError(t, err)
	assert.Equal(t, string(exchange.StatusSubmitted), again[0].Status)
}

func TestStore_LockSerializesSameEntity(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := createDonation(t, store)

	first, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = first.LockPosting(ctx, p.ID)
	require.NoError(t, err)

	acquired := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		second, err := store.Begin(ctx)
		if err != nil {
			return
		}
		defer second.Rollback()

		if _, err := second.LockPosting(ctx, p.ID); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second transaction acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Rollback())
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("second transaction never acquired the lock")
	}
}

func TestStore_LockHonoursContext(t *testing.T) {
	store := memstore.New()
	p := createDonation(t, store)

	holder, err := store.Begin(context.Background())
	require.NoError(t, err)

	_, err = holder.LockPosting(context.Background(), p.ID)
	require.NoError(t, err)

	defer holder.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	waiter, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = waiter.LockPosting(ctx, p.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_ListDueApplications(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	due := &exchange.Application{
		PostingID: uuid.New(), ApplicantID: uuid.New(), Type: exchange.TypeBorrow,
		Borrow: &exchange.BorrowRequest{Window: exchange.Window{From: day(2), To: day(5)}},
	}
	notDue := &exchange.Application{
		PostingID: uuid.New(), ApplicantID: uuid.New(), Type: exchange.TypeBorrow,
		Borrow: &exchange.BorrowRequest{Window: exchange.Window{From: day(2), To: day(20)}},
	}

	for _, a := range []*exchange.Application{due, notDue} {
		require.NoError(t, tx.CreateApplication(ctx, a))
		_, err := ledger.Append(ctx, tx, a.Ref(), string(exchange.StatusBorrowed), ledger.Detail{Key: "k"}, nil)
		require.NoError(t, err)
	}

	require.NoError(t, tx.Commit())

	got, err := store.ListDueApplications(ctx, day(10), []exchange.Status{exchange.StatusBorrowed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	got, err = store.ListDueApplications(ctx, day(10), []exchange.Status{exchange.StatusExtended})
	require.NoError(t, err)
	assert.Empty(t, got)
}
