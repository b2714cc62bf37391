// Package notification delivers lifecycle events to users. Events are
// published after the owning transaction commits; delivery failures never
// undo a committed transition.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification: not found")

type Type string

const (
	TypePostingCreated          Type = "posting.created"
	TypePostingStatusChanged    Type = "posting.status_changed"
	TypeApplicationReceived     Type = "application.received"
	TypeApplicationAccepted     Type = "application.accepted"
	TypeApplicationDeclined     Type = "application.declined"
	TypeApplicationAutoDeclined Type = "application.auto_declined"
	TypeBorrowLent              Type = "borrow.lent"
	TypeBorrowReturned          Type = "borrow.returned"
	TypeBorrowExtended          Type = "borrow.extended"
	TypeBorrowOverdue           Type = "borrow.overdue"
	TypeExchangeCompleted       Type = "exchange.completed"
	TypePaymentPaid             Type = "payment.paid"
	TypePaymentFailed           Type = "payment.failed"
)

// Event is what lifecycle components emit. Title is filled in by the
// notifier from Type and ItemName.
type Event struct {
	UserID      uuid.UUID      `json:"user_id"`
	Type        Type           `json:"type"`
	EntityID    uuid.UUID      `json:"entity_id"`
	ItemName    string         `json:"item_name"`
	Title       string         `json:"title"`
	MessageKey  string         `json:"message_key"`
	MessageData map[string]any `json:"message_data,omitempty"`
	RedirectTo  string         `json:"redirect_to"`
}

// Notification is a persisted in-app notification.
type Notification struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	UserID      uuid.UUID
	Type        Type
	EntityID    uuid.UUID
	Title       string
	MessageKey  string
	MessageData map[string]any
	RedirectTo  string
	ReadAt      *time.Time
	CreatedAt   time.Time
}

func fromEvent(eventID uuid.UUID, ev Event) *Notification {
	return &Notification{
		EventID:     eventID,
		UserID:      ev.UserID,
		Type:        ev.Type,
		EntityID:    ev.EntityID,
		Title:       ev.Title,
		MessageKey:  ev.MessageKey,
		MessageData: ev.MessageData,
		RedirectTo:  ev.RedirectTo,
	}
}

//go:generate mockgen -source=notification.go -destination=notification_mock.go -package=notification

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Store persists in-app notifications. Save ignores an event it has already
// stored.
type Store interface {
	Save(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) error
}

// Send delivers every event and logs failures. Callers use it after commit.
func Send(ctx context.Context, n Notifier, events ...Event) {
	for _, ev := range events {
		if err := n.Notify(ctx, ev); err != nil {
			slog.Error("failed to send notification",
				"type", ev.Type, "user_id", ev.UserID, "entity_id", ev.EntityID, "error", err)
		}
	}
}

type discard struct{}

func (discard) Notify(context.Context, Event) error { return nil }

// Discard drops every event.
var Discard Notifier = discard{}

// StoreNotifier persists events directly, for deployments without a broker.
type StoreNotifier struct {
	store     Store
	localizer *Localizer
}

func NewStoreNotifier(store Store, l *Localizer) *StoreNotifier {
	return &StoreNotifier{store: store, localizer: l}
}

func (n *StoreNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Title == "" {
		ev.Title = n.localizer.Title(ev.Type, ev.ItemName)
	}

	return n.store.Save(ctx, fromEvent(uuid.New(), ev))
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return s.store.ListByUser(ctx, userID, limit)
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.MarkRead(ctx, userID, id, s.now())
}
