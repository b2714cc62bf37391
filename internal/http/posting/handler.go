package posting

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/auth"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/http/respond"
	"github.com/MrJamesThe3rd/reloop/internal/imagestore"
	"github.com/MrJamesThe3rd/reloop/internal/posting"
)

const maxUploadBytes = 10 << 20

type Handler struct {
	svc *posting.Service
}

func NewHandler(svc *posting.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.history)
	r.With(auth.RequireAdmin).Post("/{id}/transitions", h.transition)
	r.Post("/{id}/lent", h.markLent)
	r.Post("/{id}/returned", h.markReturned)
	r.Post("/{id}/completed", h.markCompleted)
}

type createPostingRequest struct {
	Type           exchange.Type `json:"type" validate:"required,oneof=donation barter borrow repair recycle"`
	Name           string        `json:"name" validate:"required,max=200"`
	Description    string        `json:"description" validate:"max=2000"`
	CategoryID     uuid.UUID     `json:"category_id" validate:"required"`
	AddressID      uuid.UUID     `json:"address_id" validate:"required"`
	PhoneID        uuid.UUID     `json:"phone_id" validate:"required"`
	DurationFrom   *time.Time    `json:"duration_from"`
	DurationTo     *time.Time    `json:"duration_to"`
	ItemWeight     float64       `json:"item_weight" validate:"omitempty,gt=0"`
	RepairType     string        `json:"repair_type" validate:"omitempty,oneof=minor_repair medium_repair major_repair"`
	RepairLocation string        `json:"repair_location" validate:"max=500"`
	PaymentMethod  string        `json:"payment_method" validate:"omitempty,oneof=bank_transfer gopay qris"`
	Bank           string        `json:"bank" validate:"max=20"`
}

func (req createPostingRequest) params() posting.CreateParams {
	p := posting.CreateParams{
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		AddressID:   req.AddressID,
		PhoneID:     req.PhoneID,
	}

	if req.DurationFrom != nil && req.DurationTo != nil {
		p.Borrow = &exchange.Window{From: *req.DurationFrom, To: *req.DurationTo}
	}

	if req.Type == exchange.TypeRepair {
		p.Repair = &posting.RepairParams{
			Weight:   req.ItemWeight,
			Type:     exchange.RepairType(req.RepairType),
			Location: req.RepairLocation,
			Method:   exchange.PaymentMethod(req.PaymentMethod),
			Bank:     strings.ToLower(req.Bank),
		}
	}

	return p
}

// create accepts either a JSON body or a multipart form with the JSON in
// "data" and files in "images".
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	var req createPostingRequest

	var images []imagestore.Image

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "failed to parse form: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		if err := respond.DecodeString(r.FormValue("data"), &req); err != nil {
			respond.Error(w, r, err)
			return
		}

		files, closeAll, err := respond.OpenImages(r.MultipartForm.File["images"])
		if err != nil {
			http.Error(w, "failed to read images: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer closeAll()

		images = files
	} else if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	params := req.params()
	params.Images = images

	p, pay, err := h.svc.Create(r.Context(), caller.UserID, params)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	resp := toResponse(p)
	resp.Payment = respond.Payment(pay)

	respond.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	filter := exchange.PostingFilter{}
	q := r.URL.Query()

	if s := q.Get("type"); s != "" {
		filter.Type = new(exchange.Type(s))
	}

	if s := q.Get("status"); s != "" {
		filter.Status = new(exchange.Status(s))
	}

	if q.Get("mine") == "true" {
		filter.OwnerID = new(caller.UserID)
	}

	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			filter.Limit = n
		}
	}

	postings, err := h.svc.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponseList(postings))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.svc.History(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, respond.History(entries))
}

type transitionRequest struct {
	Status exchange.Status `json:"status" validate:"required"`
	Note   string          `json:"note" validate:"max=1000"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	id, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	var req transitionRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	p, err := h.svc.Transition(r.Context(), caller.UserID, id, req.Status, req.Note)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) markLent(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, func(r *http.Request, actor, id uuid.UUID) (*exchange.Posting, *exchange.Application, error) {
		return h.svc.MarkLent(r.Context(), actor, id)
	})
}

func (h *Handler) markReturned(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, func(r *http.Request, actor, id uuid.UUID) (*exchange.Posting, *exchange.Application, error) {
		return h.svc.MarkReturned(r.Context(), actor, id)
	})
}

func (h *Handler) markCompleted(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, func(r *http.Request, actor, id uuid.UUID) (*exchange.Posting, *exchange.Application, error) {
		return h.svc.MarkCompleted(r.Context(), actor, id)
	})
}

func (h *Handler) mark(
	w http.ResponseWriter,
	r *http.Request,
	op func(r *http.Request, actor, id uuid.UUID) (*exchange.Posting, *exchange.Application, error),
) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	id, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	p, a, err := op(r, caller.UserID, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, markResponse{
		Posting:       toResponse(p),
		ApplicationID: a.ID,
		Application:   a.Status,
	})
}
