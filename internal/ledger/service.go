package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// StatusCache holds the latest status per entity for cheap reads. Put must
// keep whichever of the cached and the offered entry has the larger seq, so a
// slow writer can never replace a newer head with an older one.
type StatusCache interface {
	Get(ctx context.Context, ref Ref) (string, bool, error)
	Put(ctx context.Context, ref Ref, seq int64, status string) error
}

// Ledger is the read side of the status histories.
type Ledger struct {
	store Reader
	cache StatusCache
}

func New(store Reader, cache StatusCache) *Ledger {
	if cache == nil {
		cache = noCache{}
	}

	return &Ledger{store: store, cache: cache}
}

func (l *Ledger) Latest(ctx context.Context, ref Ref) (*Entry, error) {
	return l.store.LatestEntry(ctx, ref)
}

func (l *Ledger) History(ctx context.Context, ref Ref) ([]*Entry, error) {
	entries, err := l.store.ListEntries(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("listing history of %s: %w", ref, err)
	}

	return entries, nil
}

// CurrentStatus returns the status of the latest entry, served from the cache
// when possible. Cache failures fall through to the store.
func (l *Ledger) CurrentStatus(ctx context.Context, ref Ref) (string, error) {
	status, ok, err := l.cache.Get(ctx, ref)
	if err != nil {
		slog.Warn("status cache read failed", "ref", ref.String(), "error", err)
	}

	if ok {
		return status, nil
	}

	latest, err := l.store.LatestEntry(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNoEntries) {
			return "", err
		}

		return "", fmt.Errorf("reading latest entry of %s: %w", ref, err)
	}

	l.put(ctx, latest)

	return latest.Status, nil
}

// Publish pushes the committed heads of refs into the cache. Call it after
// every commit that appended to them.
func (l *Ledger) Publish(ctx context.Context, refs ...Ref) {
	if _, ok := l.cache.(noCache); ok {
		return
	}

	for _, ref := range refs {
		latest, err := l.store.LatestEntry(ctx, ref)
		if err != nil {
			slog.Warn("reading head to publish", "ref", ref.String(), "error", err)
			continue
		}

		l.put(ctx, latest)
	}
}

func (l *Ledger) put(ctx context.Context, e *Entry) {
	if err := l.cache.Put(ctx, e.Ref, e.Seq, e.Status); err != nil {
		slog.Warn("status cache write failed", "ref", e.Ref.String(), "error", err)
	}
}

type noCache struct{}

func (noCache) Get(context.Context, Ref) (string, bool, error) { return "", false, nil }
func (noCache) Put(context.Context, Ref, int64, string) error  { return nil }
