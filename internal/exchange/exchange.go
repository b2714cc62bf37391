package exchange

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

var ErrNotFound = errors.New("exchange: not found")

// Type is the kind of posting.
type Type string

const (
	TypeDonation Type = "donation"
	TypeBarter   Type = "barter"
	TypeBorrow   Type = "borrow"
	TypeRepair   Type = "repair"
	TypeRecycle  Type = "recycle"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDonation, TypeBarter, TypeBorrow, TypeRepair, TypeRecycle:
		return true
	}

	return false
}

// AcceptsApplications reports whether other users can send requests against
// postings of this type.
func (t Type) AcceptsApplications() bool {
	return t == TypeBarter || t == TypeBorrow
}

// ApplicationSubject is the message-key prefix for applications on t.
func (t Type) ApplicationSubject() string {
	return string(t) + "_application"
}

// Window is a borrow period.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Valid() bool {
	return w.From.Before(w.To)
}

// Contains reports whether inner lies within w, edges included.
func (w Window) Contains(inner Window) bool {
	return !inner.From.Before(w.From) && !inner.To.After(w.To)
}

type RepairType string

const (
	RepairMinor  RepairType = "minor_repair"
	RepairMedium RepairType = "medium_repair"
	RepairMajor  RepairType = "major_repair"
)

func (r RepairType) Valid() bool {
	switch r {
	case RepairMinor, RepairMedium, RepairMajor:
		return true
	}

	return false
}

type RepairDetails struct {
	Weight   float64
	Type     RepairType
	Location string
	Price    int64
}

// Posting is an offered item. Status mirrors the latest ledger entry.
type Posting struct {
	ID          uuid.UUID
	Type        Type
	OwnerID     uuid.UUID
	Name        string
	Description string
	CategoryID  uuid.UUID
	AddressID   uuid.UUID
	PhoneID     uuid.UUID
	Images      []string
	Borrow      *Window
	Repair      *RepairDetails
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Posting) Ref() ledger.Ref {
	return PostingRef(p.ID)
}

// BarterOffer is the item an applicant proposes in exchange.
type BarterOffer struct {
	Name             string
	Description      string
	CategoryID       uuid.UUID
	Images           []string
	OfferedPostingID *uuid.UUID
}

type BorrowRequest struct {
	Reason string
	Window Window
}

// Application is a counter-party request against a Barter or Borrow posting.
type Application struct {
	ID            uuid.UUID
	PostingID     uuid.UUID
	ApplicantID   uuid.UUID
	Type          Type
	Barter        *BarterOffer
	Borrow        *BorrowRequest
	DeclineReason string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Application) Ref() ledger.Ref {
	return ApplicationRef(a.ID)
}

// Category groups items and carries the repair price list.
type Category struct {
	ID           uuid.UUID
	Name         string
	RepairPrices map[RepairType]int64
}

func PostingRef(id uuid.UUID) ledger.Ref {
	return ledger.Ref{Kind: ledger.KindPosting, ID: id}
}

func ApplicationRef(id uuid.UUID) ledger.Ref {
	return ledger.Ref{Kind: ledger.KindApplication, ID: id}
}
