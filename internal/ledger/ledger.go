package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoEntries    = errors.New("ledger: no entries")
	ErrInvalidEntry = errors.New("ledger: invalid entry")
)

// Kind identifies which family of entities a history belongs to.
type Kind string

const (
	KindPosting     Kind = "posting"
	KindApplication Kind = "application"
)

// Ref addresses one entity's history.
type Ref struct {
	Kind Kind
	ID   uuid.UUID
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

// Detail carries a message key and optional interpolation data for clients.
type Detail struct {
	Key  string         `json:"key"`
	Data map[string]any `json:"data,omitempty"`
}

// Entry is one immutable row of a status history. Seq grows with every
// committed append, so a larger Seq is always the newer entry of a subject.
type Entry struct {
	ID        uuid.UUID
	Seq       int64
	Ref       Ref
	Status    string
	Detail    Detail
	ActorID   *uuid.UUID
	CreatedAt time.Time
}

// Writer persists a new entry. Implementations fill ID, Seq and CreatedAt and keep
// the entity's current-status projection in step with the append.
type Writer interface {
	AppendEntry(ctx context.Context, e *Entry) error
}

// Reader exposes an entity's history in insertion order.
type Reader interface {
	LatestEntry(ctx context.Context, ref Ref) (*Entry, error)
	ListEntries(ctx context.Context, ref Ref) ([]*Entry, error)
}

// Append writes the next history entry for ref. It never judges whether the
// transition is legal; callers check that against the current status while
// holding the entity lock.
func Append(ctx context.Context, w Writer, ref Ref, status string, detail Detail, actor *uuid.UUID) (*Entry, error) {
	if ref.ID == uuid.Nil || ref.Kind == "" {
		return nil, fmt.Errorf("%w: missing entity reference", ErrInvalidEntry)
	}

	if status == "" {
		return nil, fmt.Errorf("%w: missing status for %s", ErrInvalidEntry, ref)
	}

	e := &Entry{
		Ref:     ref,
		Status:  status,
		Detail:  detail,
		ActorID: actor,
	}
	if err := w.AppendEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("appending %s to %s: %w", status, ref, err)
	}

	return e, nil
}
