package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
)

// Service exposes payments to the owners of the repairs they belong to.
type Service struct {
	repo exchange.Repository
}

func NewService(repo exchange.Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByOrderID(ctx context.Context, actor uuid.UUID, orderID string) (*exchange.Payment, error) {
	p, err := s.repo.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, apperror.NotFound("payment.not_found", "payment %s not found", orderID)
	}

	if err != nil {
		return nil, fmt.Errorf("getting payment: %w", err)
	}

	posting, err := s.repo.GetPosting(ctx, p.PostingID)
	if err != nil {
		return nil, fmt.Errorf("getting repair posting: %w", err)
	}

	if posting.OwnerID != actor {
		return nil, apperror.Forbidden("payment.forbidden", "payment %s belongs to another user", orderID)
	}

	return p, nil
}
