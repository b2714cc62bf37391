package payment

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrJamesThe3rd/reloop/internal/http/respond"
	"github.com/MrJamesThe3rd/reloop/internal/payment"
)

const maxNotificationBytes = 1 << 20

type Handler struct {
	svc        *payment.Service
	reconciler *payment.Reconciler
}

func NewHandler(svc *payment.Service, reconciler *payment.Reconciler) *Handler {
	return &Handler{svc: svc, reconciler: reconciler}
}

// Routes need an authenticated caller.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{orderID}", h.get)
}

// WebhookRoutes are called by the gateway and carry no bearer token.
func (h *Handler) WebhookRoutes(r chi.Router) {
	r.Post("/", h.notify)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	p, err := h.svc.GetByOrderID(r.Context(), caller.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, respond.Payment(p))
}

// notify acknowledges every delivery, malformed ones included. Only a local
// storage failure asks the gateway to retry.
func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		slog.Warn("failed to read payment notification", "error", err)
		respond.JSON(w, http.StatusOK, payment.Result{Outcome: payment.OutcomeInvalid, Reason: "unreadable body"})

		return
	}

	var n payment.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		slog.Warn("unreadable payment notification", "error", err, "bytes", len(body))
		respond.JSON(w, http.StatusOK, payment.Result{Outcome: payment.OutcomeInvalid, Reason: "malformed json"})

		return
	}

	res := h.reconciler.Reconcile(r.Context(), n)

	status := http.StatusOK
	if res.Outcome == payment.OutcomeRetry {
		status = http.StatusServiceUnavailable
	}

	respond.JSON(w, status, res)
}
