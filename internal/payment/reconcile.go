package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

// Notification is the gateway's asynchronous status callback. Field names
// follow the gateway's payload exactly.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	SettlementTime    string `json:"settlement_time"`
	ExpiryTime        string `json:"expiry_time"`
	TransactionTime   string `json:"transaction_time"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
}

// MapStatus translates the gateway vocabulary. ok is false for values it
// does not know.
func MapStatus(transactionStatus, fraudStatus string) (exchange.PaymentStatus, bool) {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "challenge" {
			return exchange.PaymentPending, true
		}

		return exchange.PaymentPaid, true
	case "settlement":
		return exchange.PaymentPaid, true
	case "pending":
		return exchange.PaymentPending, true
	case "expire":
		return exchange.PaymentExpired, true
	case "cancel", "deny":
		return exchange.PaymentFailed, true
	case "refund", "chargeback", "partial_refund", "partial_chargeback":
		return exchange.PaymentCancelled, true
	}

	return "", false
}

type Outcome string

const (
	OutcomeUpdated  Outcome = "updated"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeNotFound Outcome = "not_found"
	OutcomeInvalid  Outcome = "invalid"
	// OutcomeRetry means local storage failed; the delivery should be
	// repeated by the gateway.
	OutcomeRetry Outcome = "retry"
)

type Result struct {
	Outcome Outcome                `json:"outcome"`
	Status  exchange.PaymentStatus `json:"status,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
}

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Reconciler struct {
	repo      exchange.Repository
	ledger    *ledger.Ledger
	notifier  notification.Notifier
	dedup     Deduper
	serverKey string
}

type ReconcilerOption func(*Reconciler)

func WithDeduper(d Deduper) ReconcilerOption {
	return func(r *Reconciler) { r.dedup = d }
}

// WithServerKey enables signature checks on payloads that carry one.
func WithServerKey(key string) ReconcilerOption {
	return func(r *Reconciler) { r.serverKey = key }
}

func NewReconciler(repo exchange.Repository, l *ledger.Ledger, n notification.Notifier, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{repo: repo, ledger: l, notifier: n}
	for _, opt := range opts {
		opt(r)
	}

	if r.notifier == nil {
		r.notifier = notification.Discard
	}

	return r
}

// Reconcile applies one callback. It never returns an error: every failure
// is logged and reported through the Result.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) Result {
	log := slog.With("order_id", n.OrderID, "transaction_status", n.TransactionStatus)

	if n.OrderID == "" || n.TransactionStatus == "" {
		log.Warn("payment notification missing fields")
		return Result{Outcome: OutcomeInvalid, Reason: "missing order_id or transaction_status"}
	}

	if r.serverKey != "" && n.SignatureKey != "" && !VerifySignature(n, r.serverKey) {
		log.Warn("payment notification signature mismatch")
		return Result{Outcome: OutcomeInvalid, Reason: "signature mismatch"}
	}

	status, ok := MapStatus(n.TransactionStatus, n.FraudStatus)
	if !ok {
		log.Warn("unknown payment transaction status")
		return Result{Outcome: OutcomeIgnored, Reason: "unknown transaction_status"}
	}

	dedupID := n.OrderID + ":" + n.TransactionStatus

	if r.dedup != nil {
		seen, err := r.dedup.Seen(ctx, dedupID)
		if err != nil {
			log.Warn("failed to check payment dedup", "error", err)
		}

		if seen {
			return Result{Outcome: OutcomeIgnored, Status: status, Reason: "duplicate delivery"}
		}
	}

	paidAt, err := parseGatewayTime(n.SettlementTime)
	if err != nil {
		log.Warn("invalid settlement_time", "error", err)
		return Result{Outcome: OutcomeInvalid, Reason: "invalid settlement_time"}
	}

	expiredAt, err := parseGatewayTime(n.ExpiryTime)
	if err != nil {
		log.Warn("invalid expiry_time", "error", err)
		return Result{Outcome: OutcomeInvalid, Reason: "invalid expiry_time"}
	}

	res, events, err := r.apply(ctx, n.OrderID, status, paidAt, expiredAt)
	if err != nil {
		log.Error("failed to reconcile payment", "error", err)
		return Result{Outcome: OutcomeRetry, Reason: "storage failure"}
	}

	if res.Outcome == OutcomeUpdated || res.Outcome == OutcomeIgnored {
		if r.dedup != nil {
			if err := r.dedup.Mark(ctx, dedupID); err != nil {
				log.Warn("failed to mark payment dedup", "error", err)
			}
		}
	}

	notification.Send(ctx, r.notifier, events...)

	log.Info("payment notification reconciled", "outcome", res.Outcome, "status", res.Status)

	return res
}

func (r *Reconciler) apply(
	ctx context.Context,
	orderID string,
	status exchange.PaymentStatus,
	paidAt, expiredAt *time.Time,
) (Result, []notification.Event, error) {
	existing, err := r.repo.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, exchange.ErrNotFound) {
		slog.Warn("payment notification for unknown order", "order_id", orderID)
		return Result{Outcome: OutcomeNotFound}, nil, nil
	}

	if err != nil {
		return Result{}, nil, err
	}

	tx, err := r.repo.Begin(ctx)
	if err != nil {
		return Result{}, nil, err
	}
	defer tx.Rollback()

	// Posting before payment, the lock order used everywhere else.
	posting, err := tx.LockPosting(ctx, existing.PostingID)
	if err != nil {
		return Result{}, nil, err
	}

	p, err := tx.LockPayment(ctx, orderID)
	if err != nil {
		return Result{}, nil, err
	}

	if p.Status.Final() {
		return Result{Outcome: OutcomeIgnored, Status: p.Status, Reason: "payment already " + string(p.Status)}, nil, nil
	}

	p.Status = status
	p.PaidAt = paidAt
	p.ExpiredAt = expiredAt

	if err := tx.UpdatePayment(ctx, p); err != nil {
		return Result{}, nil, err
	}

	var events []notification.Event

	switch status {
	case exchange.PaymentPaid:
		if posting.Status == exchange.StatusRequestSubmitted {
			detail := ledger.Detail{
				Key:  exchange.DetailKey(string(exchange.TypeRepair), exchange.StatusConfirmed),
				Data: map[string]any{"order_id": orderID},
			}
			if err := exchange.AdvancePosting(ctx, tx, posting, exchange.StatusConfirmed, detail, nil); err != nil {
				return Result{}, nil, err
			}

			events = append(events, paymentEvent(posting, notification.TypePaymentPaid, detail))
		} else {
			slog.Warn("paid repair is not awaiting payment", "posting_id", posting.ID, "status", posting.Status)
		}
	case exchange.PaymentExpired, exchange.PaymentFailed, exchange.PaymentCancelled:
		if exchange.StatusIn(posting.Status, exchange.StatusRequestSubmitted, exchange.StatusConfirmed) {
			detail := ledger.Detail{
				Key:  exchange.DetailKey(string(exchange.TypeRepair), exchange.StatusFailed),
				Data: map[string]any{"order_id": orderID, "payment_status": string(status)},
			}
			if err := exchange.AdvancePosting(ctx, tx, posting, exchange.StatusFailed, detail, nil); err != nil {
				return Result{}, nil, err
			}

			events = append(events, paymentEvent(posting, notification.TypePaymentFailed, detail))
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, nil, err
	}

	if r.ledger != nil {
		r.ledger.Publish(ctx, posting.Ref())
	}

	return Result{Outcome: OutcomeUpdated, Status: status}, events, nil
}

func paymentEvent(p *exchange.Posting, typ notification.Type, detail ledger.Detail) notification.Event {
	return notification.Event{
		UserID:      p.OwnerID,
		Type:        typ,
		EntityID:    p.ID,
		ItemName:    p.Name,
		MessageKey:  detail.Key,
		MessageData: detail.Data,
		RedirectTo:  "/postings/" + p.ID.String(),
	}
}
