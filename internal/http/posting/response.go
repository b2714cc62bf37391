package posting

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/http/respond"
)

type postingResponse struct {
	ID             uuid.UUID                `json:"id"`
	Type           exchange.Type            `json:"type"`
	OwnerID        uuid.UUID                `json:"owner_id"`
	Name           string                   `json:"name"`
	Description    string                   `json:"description"`
	CategoryID     uuid.UUID                `json:"category_id"`
	AddressID      uuid.UUID                `json:"address_id"`
	PhoneID        uuid.UUID                `json:"phone_id"`
	Images         []string                 `json:"images"`
	DurationFrom   *time.Time               `json:"duration_from,omitempty"`
	DurationTo     *time.Time               `json:"duration_to,omitempty"`
	ItemWeight     float64                  `json:"item_weight,omitempty"`
	RepairType     exchange.RepairType      `json:"repair_type,omitempty"`
	RepairLocation string                   `json:"repair_location,omitempty"`
	Price          int64                    `json:"price,omitempty"`
	Status         exchange.Status          `json:"current_status"`
	Payment        *respond.PaymentResponse `json:"payment,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

type markResponse struct {
	Posting       postingResponse `json:"posting"`
	ApplicationID uuid.UUID       `json:"application_id"`
	Application   exchange.Status `json:"application_status"`
}

func toResponse(p *exchange.Posting) postingResponse {
	resp := postingResponse{
		ID:          p.ID,
		Type:        p.Type,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		AddressID:   p.AddressID,
		PhoneID:     p.PhoneID,
		Images:      p.Images,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}

	if resp.Images == nil {
		resp.Images = []string{}
	}

	if p.Borrow != nil {
		resp.DurationFrom = &p.Borrow.From
		resp.DurationTo = &p.Borrow.To
	}

	if p.Repair != nil {
		resp.ItemWeight = p.Repair.Weight
		resp.RepairType = p.Repair.Type
		resp.RepairLocation = p.Repair.Location
		resp.Price = p.Repair.Price
	}

	return resp
}

func toResponseList(postings []*exchange.Posting) []postingResponse {
	resp := make([]postingResponse, len(postings))
	for i, p := range postings {
		resp[i] = toResponse(p)
	}

	return resp
}
