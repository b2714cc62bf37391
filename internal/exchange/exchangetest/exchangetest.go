// Package exchangetest builds in-memory fixtures for lifecycle tests.
package exchangetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/memstore"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

type Fixture struct {
	Store    *memstore.Store
	Ledger   *ledger.Ledger
	Category *exchange.Category
}

type User struct {
	ID        uuid.UUID
	AddressID uuid.UUID
	PhoneID   uuid.UUID
}

func New(t *testing.T) *Fixture {
	t.Helper()

	store := memstore.New()
	category := &exchange.Category{
		ID:   uuid.New(),
		Name: "Electronics",
		RepairPrices: map[exchange.RepairType]int64{
			exchange.RepairMinor:  10000,
			exchange.RepairMedium: 25000,
			exchange.RepairMajor:  50000,
		},
	}
	store.AddCategory(category)

	return &Fixture{
		Store:    store,
		Ledger:   ledger.New(store, nil),
		Category: category,
	}
}

// User registers a user with one address and one phone.
func (f *Fixture) User() User {
	u := User{ID: uuid.New(), AddressID: uuid.New(), PhoneID: uuid.New()}
	f.Store.AddAddress(u.ID, u.AddressID)
	f.Store.AddPhone(u.ID, u.PhoneID)

	return u
}

func Day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

// Posting creates a posting of typ in its initial status. Borrow postings get
// the window Day(1) to Day(10).
func (f *Fixture) Posting(t *testing.T, owner User, typ exchange.Type, name string) *exchange.Posting {
	t.Helper()

	ctx := context.Background()

	p := &exchange.Posting{
		Type:       typ,
		OwnerID:    owner.ID,
		Name:       name,
		CategoryID: f.Category.ID,
		AddressID:  owner.AddressID,
		PhoneID:    owner.PhoneID,
		Status:     exchange.InitialPostingStatus(typ),
	}

	if typ == exchange.TypeBorrow {
		p.Borrow = &exchange.Window{From: Day(1), To: Day(10)}
	}

	tx, err := f.Store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.CreatePosting(ctx, p))
	_, err = ledger.Append(ctx, tx, p.Ref(), string(p.Status), ledger.Detail{Key: "fixture"}, &owner.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return p
}

// Force appends statuses to ref without consulting the transition tables.
func (f *Fixture) Force(t *testing.T, ref ledger.Ref, statuses ...exchange.Status) {
	t.Helper()

	ctx := context.Background()

	tx, err := f.Store.Begin(ctx)
	require.NoError(t, err)

	for _, s := range statuses {
		_, err := ledger.Append(ctx, tx, ref, string(s), ledger.Detail{Key: "fixture"}, nil)
		require.NoError(t, err)
	}

	require.NoError(t, tx.Commit())
}

// Application inserts a request_submitted application directly.
func (f *Fixture) Application(t *testing.T, p *exchange.Posting, applicant User, configure func(*exchange.Application)) *exchange.Application {
	t.Helper()

	ctx := context.Background()

	a := &exchange.Application{
		PostingID:   p.ID,
		ApplicantID: applicant.ID,
		Type:        p.Type,
		Status:      exchange.InitialApplicationStatus(),
	}

	switch p.Type {
	case exchange.TypeBarter:
		a.Barter = &exchange.BarterOffer{Name: "Offer " + uuid.NewString()[:8], CategoryID: f.Category.ID}
	case exchange.TypeBorrow:
		a.Borrow = &exchange.BorrowRequest{Reason: "need it", Window: exchange.Window{From: Day(2), To: Day(5)}}
	}

	if configure != nil {
		configure(a)
	}

	tx, err := f.Store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.CreateApplication(ctx, a))
	_, err = ledger.Append(ctx, tx, a.Ref(), string(a.Status), ledger.Detail{Key: "fixture"}, &applicant.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return a
}

// Status reads the latest ledger status of ref.
func (f *Fixture) Status(t *testing.T, ref ledger.Ref) exchange.Status {
	t.Helper()

	e, err := f.Ledger.Latest(context.Background(), ref)
	require.NoError(t, err)

	return exchange.Status(e.Status)
}

// Keys returns the detail keys of ref's history in order.
func (f *Fixture) Keys(t *testing.T, ref ledger.Ref) []string {
	t.Helper()

	entries, err := f.Ledger.History(context.Background(), ref)
	require.NoError(t, err)

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Detail.Key
	}

	return keys
}
