package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
)

type applicationResponse struct {
	ID               uuid.UUID       `json:"id"`
	PostingID        uuid.UUID       `json:"posting_id"`
	ApplicantID      uuid.UUID       `json:"applicant_id"`
	Type             exchange.Type   `json:"type"`
	ItemName         string          `json:"item_name,omitempty"`
	ItemDescription  string          `json:"item_description,omitempty"`
	ItemCategoryID   *uuid.UUID      `json:"item_category_id,omitempty"`
	ItemImages       []string        `json:"item_images,omitempty"`
	OfferedPostingID *uuid.UUID      `json:"offered_posting_id,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	DurationFrom     *time.Time      `json:"duration_from,omitempty"`
	DurationTo       *time.Time      `json:"duration_to,omitempty"`
	DeclineReason    string          `json:"decline_reason,omitempty"`
	Status           exchange.Status `json:"current_status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type decisionResponse struct {
	PostingID     uuid.UUID           `json:"posting_id"`
	PostingStatus exchange.Status     `json:"posting_status"`
	Application   applicationResponse `json:"application"`
	AutoDeclined  []uuid.UUID         `json:"auto_declined"`
}

func toResponse(a *exchange.Application) applicationResponse {
	resp := applicationResponse{
		ID:            a.ID,
		PostingID:     a.PostingID,
		ApplicantID:   a.ApplicantID,
		Type:          a.Type,
		DeclineReason: a.DeclineReason,
		Status:        a.Status,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}

	if b := a.Barter; b != nil {
		resp.ItemName = b.Name
		resp.ItemDescription = b.Description
		resp.ItemImages = b.Images
		resp.OfferedPostingID = b.OfferedPostingID

		if b.CategoryID != uuid.Nil {
			resp.ItemCategoryID = &b.CategoryID
		}
	}

	if b := a.Borrow; b != nil {
		resp.Reason = b.Reason
		resp.DurationFrom = &b.Window.From
		resp.DurationTo = &b.Window.To
	}

	return resp
}

func toResponseList(apps []*exchange.Application) []applicationResponse {
	resp := make([]applicationResponse, len(apps))
	for i, a := range apps {
		resp[i] = toResponse(a)
	}

	return resp
}
