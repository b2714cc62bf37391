package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps notifications in process.
type MemoryStore struct {
	mu    sync.Mutex
	items []*Notification
	seen  map[uuid.UUID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[uuid.UUID]struct{})}
}

func (s *MemoryStore) Save(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[n.EventID]; ok {
		return nil
	}

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	cp := *n
	s.items = append(s.items, &cp)
	s.seen[n.EventID] = struct{}{}

	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Notification

	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].UserID != userID {
			continue
		}

		cp := *s.items[i]
		out = append(out, &cp)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.items {
		if n.ID == id && n.UserID == userID {
			if n.ReadAt == nil {
				n.ReadAt = &at
			}

			return nil
		}
	}

	return ErrNotFound
}
