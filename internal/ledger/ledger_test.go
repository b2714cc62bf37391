package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/memstore"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

type failingWriter struct{}

func (failingWriter) AppendEntry(context.Context, *ledger.Entry) error {
	return errors.New("disk full")
}

type cached struct {
	seq    int64
	status string
}

type mapCache struct {
	values map[ledger.Ref]cached
	puts   int
	getErr error
}

func (c *mapCache) Get(_ context.Context, ref ledger.Ref) (string, bool, error) {
	if c.getErr != nil {
		return "", false, c.getErr
	}

	v, ok := c.values[ref]

	return v.status, ok, nil
}

func (c *mapCache) Put(_ context.Context, ref ledger.Ref, seq int64, status string) error {
	c.puts++

	if cur, ok := c.values[ref]; ok && cur.seq >= seq {
		return nil
	}

	c.values[ref] = cached{seq: seq, status: status}

	return nil
}

// interleavedReader runs between a LatestEntry read and its return once, so a
// commit can land while the caller still holds the old head.
type interleavedReader struct {
	ledger.Reader
	between func()
}

func (r *interleavedReader) LatestEntry(ctx context.Context, ref ledger.Ref) (*ledger.Entry, error) {
	e, err := r.Reader.LatestEntry(ctx, ref)

	if fn := r.between; fn != nil {
		r.between = nil
		fn()
	}

	return e, err
}

func appendCommitted(t *testing.T, store *memstore.Store, ref ledger.Ref, status string) {
	t.Helper()

	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = ledger.Append(ctx, tx, ref, status, ledger.Detail{Key: status}, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestAppend(t *testing.T) {
	ref := ledger.Ref{Kind: ledger.KindPosting, ID: uuid.New()}

	type testCase struct {
		name    string
		writer  ledger.Writer
		ref     ledger.Ref
		status  string
		wantErr error
	}

	tests := []testCase{
		{
			name:    "MissingStatus",
			writer:  failingWriter{},
			ref:     ref,
			status:  "",
			wantErr: ledger.ErrInvalidEntry,
		},
		{
			name:    "MissingRef",
			writer:  failingWriter{},
			ref:     ledger.Ref{},
			status:  "submitted",
			wantErr: ledger.ErrInvalidEntry,
		},
		{
			name:   "WriterError",
			writer: failingWriter{},
			ref:    ref,
			status: "submitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.Append(context.Background(), tt.writer, tt.ref, tt.status, ledger.Detail{}, nil)
			require.Error(t, err)
			assert.Nil(t, got)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLedger_CurrentStatusMatchesLatestEntry(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := &mapCache{values: map[ledger.Ref]cached{}}
	l := ledger.New(store, cache)

	id := uuid.New()
	ref := exchange.PostingRef(id)

	_, err := l.CurrentStatus(ctx, ref)
	assert.ErrorIs(t, err, ledger.ErrNoEntries)

	actor := uuid.New()

	for _, status := range []string{"waiting_for_request", "waiting_for_confirmation", "confirmed"} {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)

		_, err = ledger.Append(ctx, tx, ref, status, ledger.Detail{Key: status}, &actor)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		l.Publish(ctx, ref)

		history, err := l.History(ctx, ref)
		require.NoError(t, err)

		current, err := l.CurrentStatus(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, history[len(history)-1].Status, current)
		assert.Equal(t, status, cache.values[ref].status)
		assert.Equal(t, history[len(history)-1].Seq, cache.values[ref].seq)
	}

	history, err := l.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "waiting_for_request", history[0].Status)
	assert.Equal(t, &actor, history[0].ActorID)
	assert.Less(t, history[0].Seq, history[1].Seq)
	assert.Less(t, history[1].Seq, history[2].Seq)
	assert.Equal(t, 3, cache.puts)
}

func TestLedger_StaleFillDoesNotOverwriteNewerHead(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	reader := &interleavedReader{Reader: store}
	cache := &mapCache{values: map[ledger.Ref]cached{}}
	l := ledger.New(reader, cache)

	ref := exchange.PostingRef(uuid.New())
	appendCommitted(t, store, ref, "waiting_for_request")
	appendCommitted(t, store, ref, "waiting_for_confirmation")

	reader.between = func() {
		appendCommitted(t, store, ref, "confirmed")
		l.Publish(ctx, ref)
	}

	stale, err := l.CurrentStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "waiting_for_confirmation", stale)

	history, err := l.History(ctx, ref)
	require.NoError(t, err)

	current, err := l.CurrentStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, history[len(history)-1].Status, current)
	assert.Equal(t, "confirmed", current)
}

func TestLedger_CurrentStatusFallsBackOnCacheError(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cache := &mapCache{values: map[ledger.Ref]cached{}, getErr: errors.New("redis down")}
	l := ledger.New(store, cache)

	ref := exchange.ApplicationRef(uuid.New())

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = ledger.Append(ctx, tx, ref, "request_submitted", ledger.Detail{}, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := l.CurrentStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "request_submitted", got)
}

func TestLedger_NilCache(t *testing.T) {
	l := ledger.New(memstore.New(), nil)

	_, err := l.CurrentStatus(context.Background(), exchange.PostingRef(uuid.New()))
	assert.ErrorIs(t, err, ledger.ErrNoEntries)
}

func TestLedger_PublishWithoutCache(t *testing.T) {
	store := memstore.New()
	l := ledger.New(store, nil)

	ref := exchange.ApplicationRef(uuid.New())
	appendCommitted(t, store, ref, "request_submitted")
	l.Publish(context.Background(), ref)

	got, err := l.CurrentStatus(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "request_submitted", got)
}
