package application

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/application"
	"github.com/MrJamesThe3rd/reloop/internal/arbitration"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/http/respond"
	"github.com/MrJamesThe3rd/reloop/internal/imagestore"
)

type Handler struct {
	svc    *application.Service
	engine *arbitration.Engine
}

func NewHandler(svc *application.Service, engine *arbitration.Engine) *Handler {
	return &Handler{svc: svc, engine: engine}
}

// PostingRoutes are mounted under /postings/{id}/applications.
func (h *Handler) PostingRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.listByPosting)
	r.Post("/{appID}/decision", h.decide)
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.listMine)
	r.Get("/{appID}", h.get)
	r.Get("/{appID}/history", h.history)
	r.Post("/{appID}/extend", h.extend)
}

type createApplicationRequest struct {
	ItemName         string     `json:"item_name" validate:"max=200"`
	ItemDescription  string     `json:"item_description" validate:"max=2000"`
	ItemCategoryID   uuid.UUID  `json:"item_category_id"`
	OfferedPostingID *uuid.UUID `json:"offered_posting_id"`
	Reason           string     `json:"reason" validate:"max=1000"`
	DurationFrom     *time.Time `json:"duration_from"`
	DurationTo       *time.Time `json:"duration_to"`
}

// params fills both shapes; the service reads the one matching the
// posting's type.
func (req createApplicationRequest) params(images []imagestore.Image) application.CreateParams {
	p := application.CreateParams{
		Barter: &application.BarterParams{
			Name:             req.ItemName,
			Description:      req.ItemDescription,
			CategoryID:       req.ItemCategoryID,
			Images:           images,
			OfferedPostingID: req.OfferedPostingID,
		},
	}

	if req.DurationFrom != nil && req.DurationTo != nil {
		p.Borrow = &application.BorrowParams{
			Reason: req.Reason,
			Window: exchange.Window{From: *req.DurationFrom, To: *req.DurationTo},
		}
	}

	return p
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	postingID, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	var req createApplicationRequest

	var images []imagestore.Image

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
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

	a, err := h.svc.Create(r.Context(), caller.UserID, postingID, req.params(images))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, toResponse(a))
}

func (h *Handler) listByPosting(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	postingID, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	apps, err := h.svc.ListByPosting(r.Context(), caller.UserID, postingID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponseList(apps))
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	apps, err := h.svc.ListByApplicant(r.Context(), caller.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponseList(apps))
}

type decisionRequest struct {
	Action arbitration.Action `json:"action" validate:"required,oneof=accept decline"`
	Reason string             `json:"reason" validate:"max=1000"`
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	postingID, ok := respond.ParamUUID(w, r, "id")
	if !ok {
		return
	}

	appID, ok := respond.ParamUUID(w, r, "appID")
	if !ok {
		return
	}

	var req decisionRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	d, err := h.engine.ProcessIncomingRequest(r.Context(), caller.UserID, postingID, appID, req.Action, req.Reason)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	resp := decisionResponse{
		PostingID:     d.Posting.ID,
		PostingStatus: d.Posting.Status,
		Application:   toResponse(d.Application),
		AutoDeclined:  make([]uuid.UUID, len(d.AutoDeclined)),
	}

	for i, a := range d.AutoDeclined {
		resp.AutoDeclined[i] = a.ID
	}

	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	id, ok := respond.ParamUUID(w, r, "appID")
	if !ok {
		return
	}

	a, err := h.svc.View(r.Context(), caller.UserID, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	id, ok := respond.ParamUUID(w, r, "appID")
	if !ok {
		return
	}

	if _, err := h.svc.View(r.Context(), caller.UserID, id); err != nil {
		respond.Error(w, r, err)
		return
	}

	entries, err := h.svc.History(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, respond.History(entries))
}

type extendRequest struct {
	DurationTo time.Time `json:"duration_to" validate:"required"`
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}

	id, ok := respond.ParamUUID(w, r, "appID")
	if !ok {
		return
	}

	var req extendRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	a, err := h.svc.Extend(r.Context(), caller.UserID, id, req.DurationTo)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, toResponse(a))
}
