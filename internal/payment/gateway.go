package payment

import (
	"context"
	"errors"
	"time"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ChargeRequest asks the gateway to open a payment. Amount includes the
// admin fee.
type ChargeRequest struct {
	OrderID  string
	Amount   int64
	Method   exchange.PaymentMethod
	Bank     string
	ItemName string
}

// Charge is what the payer needs to complete the payment.
type Charge struct {
	OrderID       string
	TransactionID string
	Status        exchange.PaymentStatus
	Bank          string
	VANumber      string
	DeeplinkURL   string
	QRURL         string
	ExpiresAt     *time.Time
}

//go:generate mockgen -source=gateway.go -destination=gateway_mock.go -package=payment

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Charge, error)
}
