package respond

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

type EntryResponse struct {
	ID          uuid.UUID      `json:"id"`
	Status      string         `json:"status"`
	MessageKey  string         `json:"message_key"`
	MessageData map[string]any `json:"message_data,omitempty"`
	ActorID     *uuid.UUID     `json:"actor_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func History(entries []*ledger.Entry) []EntryResponse {
	resp := make([]EntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = EntryResponse{
			ID:          e.ID,
			Status:      e.Status,
			MessageKey:  e.Detail.Key,
			MessageData: e.Detail.Data,
			ActorID:     e.ActorID,
			CreatedAt:   e.CreatedAt,
		}
	}

	return resp
}

type PaymentResponse struct {
	OrderID     string                 `json:"order_id"`
	Amount      int64                  `json:"amount"`
	AdminFee    int64                  `json:"admin_fee"`
	Total       int64                  `json:"total"`
	Method      exchange.PaymentMethod `json:"method"`
	Bank        string                 `json:"bank,omitempty"`
	VANumber    string                 `json:"va_number,omitempty"`
	DeeplinkURL string                 `json:"deeplink_url,omitempty"`
	QRURL       string                 `json:"qr_url,omitempty"`
	Status      exchange.PaymentStatus `json:"status"`
	PaidAt      *time.Time             `json:"paid_at,omitempty"`
	ExpiredAt   *time.Time             `json:"expired_at,omitempty"`
}

func Payment(p *exchange.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}

	return &PaymentResponse{
		OrderID:     p.OrderID,
		Amount:      p.Amount,
		AdminFee:    p.AdminFee,
		Total:       p.Total(),
		Method:      p.Method,
		Bank:        p.Bank,
		VANumber:    p.VANumber,
		DeeplinkURL: p.DeeplinkURL,
		QRURL:       p.QRURL,
		Status:      p.Status,
		PaidAt:      p.PaidAt,
		ExpiredAt:   p.ExpiredAt,
	}
}
