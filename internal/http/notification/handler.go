package notification

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/http/respond"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

type Handler struct {
	svc *notification.Service
}

func NewHandler(svc *notification.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/{id}/read", h.markRead)
}

type notificationResponse struct {
	ID          uuid.UUID         `json:"id"`
	Type        notification.Type `json:"type"`
	EntityID    uuid.UUID         `json:"entity_id"`
	Title       string            `json:"title"`
	MessageKey  string            `json:"message_key"`
	MessageData map[string]any    `json:"message_data,omitempty"`
	RedirectTo  string            `json:"redirect_to"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.svc.List(r.Context(), caller.UserID, limit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	resp := make([]notificationResponse, len(items))
	for i, n := range items {
		resp[i] = notificationResponse{
			ID:          n.ID,
			Type:        n.Type,
			EntityID:    n.EntityID,
			Title:       n.Title,
			MessageKey:  n.MessageKey,
			MessageData: n.MessageData,
			RedirectTo:  n.RedirectTo,
			ReadAt:      n.ReadAt,
			CreatedAt:   n.CreatedAt,
		}
	}

	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	id, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.MarkRead(r.Context(), caller.UserID, id); err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			http.Error(w, "notification not found", http.StatusNotFound)
			return
		}

		respond.Error(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
