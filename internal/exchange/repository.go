package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

type PostingFilter struct {
	Type    *Type
	OwnerID *uuid.UUID
	Status  *Status
	Limit   int
}

type ApplicationFilter struct {
	PostingID   *uuid.UUID
	ApplicantID *uuid.UUID
}

// Repository is the persistent store shared by every lifecycle component.
// Reads outside a Tx see committed state only.
type Repository interface {
	ledger.Reader

	Begin(ctx context.Context) (Tx, error)

	GetPosting(ctx context.Context, id uuid.UUID) (*Posting, error)
	ListPostings(ctx context.Context, filter PostingFilter) ([]*Posting, error)
	GetApplication(ctx context.Context, id uuid.UUID) (*Application, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]*Application, error)
	// ListDueApplications returns borrow applications whose window ended
	// before now and whose current status is one of statuses.
	ListDueApplications(ctx context.Context, now time.Time, statuses []Status) ([]*Application, error)

	GetCategory(ctx context.Context, id uuid.UUID) (*Category, error)
	OwnsAddress(ctx context.Context, userID, addressID uuid.UUID) (bool, error)
	OwnsPhone(ctx context.Context, userID, phoneID uuid.UUID) (bool, error)

	GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error)
	GetPaymentByPosting(ctx context.Context, postingID uuid.UUID) (*Payment, error)
}

// Tx is one isolated unit of read-validate-append work. Lock methods hold the
// entity until Commit or Rollback; callers lock a posting before any of its
// applications and applications in ascending id order.
type Tx interface {
	ledger.Writer

	LockPosting(ctx context.Context, id uuid.UUID) (*Posting, error)
	LockApplication(ctx context.Context, id uuid.UUID) (*Application, error)
	LockApplications(ctx context.Context, postingID uuid.UUID) ([]*Application, error)
	LockPayment(ctx context.Context, orderID string) (*Payment, error)

	HasBarterOffer(ctx context.Context, postingID, applicantID uuid.UUID, itemName string) (bool, error)

	CreatePosting(ctx context.Context, p *Posting) error
	CreateApplication(ctx context.Context, a *Application) error
	UpdateApplicationWindow(ctx context.Context, id uuid.UUID, w Window) error
	SetDeclineReason(ctx context.Context, id uuid.UUID, reason string) error
	CreatePayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error

	Commit() error
	Rollback() error
}
