package exchange

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus mirrors the gateway's view of a repair payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentExpired   PaymentStatus = "expired"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Final reports whether the status can no longer change.
func (s PaymentStatus) Final() bool {
	return s != PaymentPending
}

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodGopay        PaymentMethod = "gopay"
	MethodQRIS         PaymentMethod = "qris"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodGopay, MethodQRIS:
		return true
	}

	return false
}

// Payment is the charge attached to a repair posting. Amounts are in the
// smallest currency unit.
type Payment struct {
	ID          uuid.UUID
	PostingID   uuid.UUID
	OrderID     string
	Amount      int64
	AdminFee    int64
	Method      PaymentMethod
	Bank        string
	VANumber    string
	DeeplinkURL string
	QRURL       string
	Status      PaymentStatus
	PaidAt      *time.Time
	ExpiredAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Payment) Total() int64 {
	return p.Amount + p.AdminFee
}
