// Package memstore is an in-process exchange.Repository. It serializes work on
// one entity the same way the PostgreSQL store does with row locks, which
// makes it usable for tests and for running the API without a database.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

var ErrTxDone = errors.New("memstore: transaction already committed or rolled back")

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	postings     map[uuid.UUID]*exchange.Posting
	postingOrder []uuid.UUID
	applications map[uuid.UUID]*exchange.Application
	appOrder     []uuid.UUID
	entries      map[ledger.Ref][]*ledger.Entry
	seq          int64
	payments     map[string]*exchange.Payment
	categories   map[uuid.UUID]*exchange.Category
	addresses    map[uuid.UUID]uuid.UUID
	phones       map[uuid.UUID]uuid.UUID

	locks map[string]chan struct{}
}

func New() *Store {
	return &Store{
		now:          time.Now,
		postings:     make(map[uuid.UUID]*exchange.Posting),
		applications: make(map[uuid.UUID]*exchange.Application),
		entries:      make(map[ledger.Ref][]*ledger.Entry),
		payments:     make(map[string]*exchange.Payment),
		categories:   make(map[uuid.UUID]*exchange.Category),
		addresses:    make(map[uuid.UUID]uuid.UUID),
		phones:       make(map[uuid.UUID]uuid.UUID),
		locks:        make(map[string]chan struct{}),
	}
}

func (s *Store) AddCategory(c *exchange.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	cp.RepairPrices = make(map[exchange.RepairType]int64, len(c.RepairPrices))

	for k, v := range c.RepairPrices {
		cp.RepairPrices[k] = v
	}

	s.categories[c.ID] = &cp
}

func (s *Store) AddAddress(userID, addressID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addresses[addressID] = userID
}

func (s *Store) AddPhone(userID, phoneID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phones[phoneID] = userID
}

func (s *Store) lockFor(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}

	return ch
}

func (s *Store) Begin(_ context.Context) (exchange.Tx, error) {
	return &tx{s: s, held: make(map[string]chan struct{})}, nil
}

func (s *Store) GetPosting(_ context.Context, id uuid.UUID) (*exchange.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.postings[id]
	if !ok {
		return nil, exchange.ErrNotFound
	}

	return clonePosting(p), nil
}

func (s *Store) ListPostings(_ context.Context, filter exchange.PostingFilter) ([]*exchange.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*exchange.Posting

	for i := len(s.postingOrder) - 1; i >= 0; i-- {
		p := s.postings[s.postingOrder[i]]

		if filter.Type != nil && p.Type != *filter.Type {
			continue
		}

		if filter.OwnerID != nil && p.OwnerID != *filter.OwnerID {
			continue
		}

		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}

		out = append(out, clonePosting(p))

		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}

	return out, nil
}

func (s *Store) GetApplication(_ context.Context, id uuid.UUID) (*exchange.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.applications[id]
	if !ok {
		return nil, exchange.ErrNotFound
	}

	return cloneApplication(a), nil
}

func (s *Store) ListApplications(_ context.Context, filter exchange.ApplicationFilter) ([]*exchange.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*exchange.Application

	for _, id := range s.appOrder {
		a := s.applications[id]

		if filter.PostingID != nil && a.PostingID != *filter.PostingID {
			continue
		}

		if filter.ApplicantID != nil && a.ApplicantID != *filter.ApplicantID {
			continue
		}

		out = append(out, cloneApplication(a))
	}

	return out, nil
}

func (s *Store) ListDueApplications(_ context.Context, now time.Time, statuses []exchange.Status) ([]*exchange.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*exchange.Application

	for _, id := range s.appOrder {
		a := s.applications[id]
		if a.Type != exchange.TypeBorrow || a.Borrow == nil {
			continue
		}

		if !a.Borrow.Window.To.Before(now) || !slices.Contains(statuses, a.Status) {
			continue
		}

		out = append(out, cloneApplication(a))
	}

	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id uuid.UUID) (*exchange.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, exchange.ErrNotFound
	}

	cp := *c

	return &cp, nil
}

func (s *Store) OwnsAddress(_ context.Context, userID, addressID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.addresses[addressID]

	return ok && owner == userID, nil
}

func (s *Store) OwnsPhone(_ context.Context, userID, phoneID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.phones[phoneID]

	return ok && owner == userID, nil
}

func (s *Store) GetPaymentByOrderID(_ context.Context, orderID string) (*exchange.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[orderID]
	if !ok {
		return nil, exchange.ErrNotFound
	}

	return clonePayment(p), nil
}

func (s *Store) GetPaymentByPosting(_ context.Context, postingID uuid.UUID) (*exchange.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.PostingID == postingID {
			return clonePayment(p), nil
		}
	}

	return nil, exchange.ErrNotFound
}

func (s *Store) LatestEntry(_ context.Context, ref ledger.Ref) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[ref]
	if len(entries) == 0 {
		return nil, ledger.ErrNoEntries
	}

	return cloneEntry(entries[len(entries)-1]), nil
}

func (s *Store) ListEntries(_ context.Context, ref ledger.Ref) ([]*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entries[ref]
	out := make([]*ledger.Entry, len(entries))

	for i, e := range entries {
		out[i] = cloneEntry(e)
	}

	return out, nil
}

// tx stages writes and applies them on Commit. Locks are channels with a
// buffer of one so that waiting honours context cancellation.
type tx struct {
	s    *Store
	held map[string]chan struct{}
	ops  []func()
	done bool
}

func (t *tx) acquire(ctx context.Context, key string) error {
	if t.done {
		return ErrTxDone
	}

	if _, ok := t.held[key]; ok {
		return nil
	}

	ch := t.s.lockFor(key)

	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
	}
}

func (t *tx) release() {
	for _, ch := range t.held {
		<-ch
	}

	t.held = nil
}

func (t *tx) stage(op func()) error {
	if t.done {
		return ErrTxDone
	}

	t.ops = append(t.ops, op)

	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}

	t.s.mu.Lock()
	for _, op := range t.ops {
		op()
	}
	t.s.mu.Unlock()

	t.done = true
	t.release()

	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}

	t.done = true
	t.ops = nil
	t.release()

	return nil
}

func (t *tx) LockPosting(ctx context.Context, id uuid.UUID) (*exchange.Posting, error) {
	if err := t.acquire(ctx, "posting:"+id.String()); err != nil {
		return nil, err
	}

	return t.s.GetPosting(ctx, id)
}

func (t *tx) LockApplication(ctx context.Context, id uuid.UUID) (*exchange.Application, error) {
	if err := t.acquire(ctx, "application:"+id.String()); err != nil {
		return nil, err
	}

	return t.s.GetApplication(ctx, id)
}

func (t *tx) LockApplications(ctx context.Context, postingID uuid.UUID) ([]*exchange.Application, error) {
	t.s.mu.Lock()

	var ids []uuid.UUID

	for _, id := range t.s.appOrder {
		if t.s.applications[id].PostingID == postingID {
			ids = append(ids, id)
		}
	}
	t.s.mu.Unlock()

	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	out := make([]*exchange.Application, 0, len(ids))

	for _, id := range ids {
		a, err := t.LockApplication(ctx, id)
		if err != nil {
			return nil, err
		}

		out = append(out, a)
	}

	return out, nil
}

func (t *tx) LockPayment(ctx context.Context, orderID string) (*exchange.Payment, error) {
	if err := t.acquire(ctx, "payment:"+orderID); err != nil {
		return nil, err
	}

	return t.s.GetPaymentByOrderID(ctx, orderID)
}

func (t *tx) HasBarterOffer(_ context.Context, postingID, applicantID uuid.UUID, itemName string) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for _, a := range t.s.applications {
		if a.PostingID != postingID || a.ApplicantID != applicantID || a.Barter == nil {
			continue
		}

		if a.Status == exchange.StatusFailed {
			continue
		}

		if a.Barter.Name == itemName {
			return true, nil
		}
	}

	return false, nil
}

func (t *tx) CreatePosting(_ context.Context, p *exchange.Posting) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	now := t.s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	stored := clonePosting(p)

	return t.stage(func() {
		t.s.postings[stored.ID] = stored
		t.s.postingOrder = append(t.s.postingOrder, stored.ID)
	})
}

func (t *tx) CreateApplication(_ context.Context, a *exchange.Application) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	now := t.s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	stored := cloneApplication(a)

	return t.stage(func() {
		t.s.applications[stored.ID] = stored
		t.s.appOrder = append(t.s.appOrder, stored.ID)
	})
}

func (t *tx) UpdateApplicationWindow(_ context.Context, id uuid.UUID, w exchange.Window) error {
	now := t.s.now()

	return t.stage(func() {
		a, ok := t.s.applications[id]
		if !ok || a.Borrow == nil {
			return
		}

		a.Borrow.Window = w
		a.UpdatedAt = now
	})
}

func (t *tx) SetDeclineReason(_ context.Context, id uuid.UUID, reason string) error {
	now := t.s.now()

	return t.stage(func() {
		if a, ok := t.s.applications[id]; ok {
			a.DeclineReason = reason
			a.UpdatedAt = now
		}
	})
}

func (t *tx) CreatePayment(_ context.Context, p *exchange.Payment) error {
	t.s.mu.Lock()
	_, exists := t.s.payments[p.OrderID]
	t.s.mu.Unlock()

	if exists {
		return fmt.Errorf("payment with order id %s already exists", p.OrderID)
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	now := t.s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	stored := clonePayment(p)

	return t.stage(func() {
		t.s.payments[stored.OrderID] = stored
	})
}

func (t *tx) UpdatePayment(_ context.Context, p *exchange.Payment) error {
	p.UpdatedAt = t.s.now()
	stored := clonePayment(p)

	return t.stage(func() {
		if _, ok := t.s.payments[stored.OrderID]; ok {
			t.s.payments[stored.OrderID] = stored
		}
	})
}

func (t *tx) AppendEntry(_ context.Context, e *ledger.Entry) error {
	e.ID = uuid.New()
	e.CreatedAt = t.s.now()
	stored := cloneEntry(e)

	return t.stage(func() {
		t.s.seq++
		stored.Seq = t.s.seq
		e.Seq = t.s.seq
		t.s.entries[stored.Ref] = append(t.s.entries[stored.Ref], stored)

		status := exchange.Status(stored.Status)

		switch stored.Ref.Kind {
		case ledger.KindPosting:
			if p, ok := t.s.postings[stored.Ref.ID]; ok {
				p.Status = status
				p.UpdatedAt = stored.CreatedAt
			}
		case ledger.KindApplication:
			if a, ok := t.s.applications[stored.Ref.ID]; ok {
				a.Status = status
				a.UpdatedAt = stored.CreatedAt
			}
		}
	})
}

func clonePosting(p *exchange.Posting) *exchange.Posting {
	cp := *p
	cp.Images = slices.Clone(p.Images)

	if p.Borrow != nil {
		w := *p.Borrow
		cp.Borrow = &w
	}

	if p.Repair != nil {
		r := *p.Repair
		cp.Repair = &r
	}

	return &cp
}

func cloneApplication(a *exchange.Application) *exchange.Application {
	cp := *a

	if a.Barter != nil {
		b := *a.Barter
		b.Images = slices.Clone(a.Barter.Images)
		cp.Barter = &b
	}

	if a.Borrow != nil {
		b := *a.Borrow
		cp.Borrow = &b
	}

	return &cp
}

func clonePayment(p *exchange.Payment) *exchange.Payment {
	cp := *p
	return &cp
}

func cloneEntry(e *ledger.Entry) *ledger.Entry {
	cp := *e

	if e.Detail.Data != nil {
		cp.Detail.Data = make(map[string]any, len(e.Detail.Data))
		for k, v := range e.Detail.Data {
			cp.Detail.Data[k] = v
		}
	}

	return &cp
}
