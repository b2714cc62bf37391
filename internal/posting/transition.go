package posting

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

// manualTypes can be moved along their table by an administrator. Barter and
// borrow postings only move through their applications.
var manualTypes = []exchange.Type{exchange.TypeDonation, exchange.TypeRecycle, exchange.TypeRepair}

// Transition is the administrative move of a posting to next.
func (s *Service) Transition(ctx context.Context, actor, id uuid.UUID, next exchange.Status, note string) (*exchange.Posting, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := lockPosting(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if !isManual(p.Type) {
		return nil, apperror.InvalidState(string(p.Type)+".transition.not_manual",
			"%s postings change status through their applications", p.Type)
	}

	detail := ledger.Detail{Key: exchange.DetailKey(string(p.Type), next)}
	if note != "" {
		detail.Data = map[string]any{"note": note}
	}

	if err := exchange.AdvancePosting(ctx, tx, p, next, detail, &actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}

	s.ledger.Publish(ctx, p.Ref())

	notification.Send(ctx, s.notifier, notification.Event{
		UserID:      p.OwnerID,
		Type:        notification.TypePostingStatusChanged,
		EntityID:    p.ID,
		ItemName:    p.Name,
		MessageKey:  detail.Key,
		MessageData: detail.Data,
		RedirectTo:  "/postings/" + p.ID.String(),
	})

	return p, nil
}

func isManual(t exchange.Type) bool {
	return slices.Contains(manualTypes, t)
}

// pairRule moves a posting and its single matching application together.
type pairRule struct {
	postingFrom []exchange.Status
	appFrom     []exchange.Status
	postingTo   exchange.Status
	appTo       exchange.Status
	event       notification.Type
}

type pairOp struct {
	name  string
	rules map[exchange.Type]pairRule
}

var (
	opLent = pairOp{
		name: "lent",
		rules: map[exchange.Type]pairRule{
			exchange.TypeBorrow: {
				postingFrom: []exchange.Status{exchange.StatusConfirmed},
				appFrom:     []exchange.Status{exchange.StatusConfirmed},
				postingTo:   exchange.StatusLent,
				appTo:       exchange.StatusBorrowed,
				event:       notification.TypeBorrowLent,
			},
		},
	}
	opReturned = pairOp{
		name: "returned",
		rules: map[exchange.Type]pairRule{
			exchange.TypeBorrow: {
				postingFrom: exchange.ActiveBorrowPostingStatuses,
				appFrom:     exchange.ActiveBorrowApplicationStatuses,
				postingTo:   exchange.StatusReturned,
				appTo:       exchange.StatusReturned,
				event:       notification.TypeBorrowReturned,
			},
		},
	}
	opCompleted = pairOp{
		name: "completed",
		rules: map[exchange.Type]pairRule{
			exchange.TypeBarter: {
				postingFrom: []exchange.Status{exchange.StatusConfirmed},
				appFrom:     []exchange.Status{exchange.StatusConfirmed},
				postingTo:   exchange.StatusCompleted,
				appTo:       exchange.StatusCompleted,
				event:       notification.TypeExchangeCompleted,
			},
			exchange.TypeBorrow: {
				postingFrom: []exchange.Status{exchange.StatusReturned},
				appFrom:     []exchange.Status{exchange.StatusReturned},
				postingTo:   exchange.StatusCompleted,
				appTo:       exchange.StatusCompleted,
				event:       notification.TypeExchangeCompleted,
			},
		},
	}
)

// MarkLent records the hand-over of a borrowed item.
func (s *Service) MarkLent(ctx context.Context, actor, postingID uuid.UUID) (*exchange.Posting, *exchange.Application, error) {
	return s.markPair(ctx, actor, postingID, opLent)
}

// MarkReturned records that a borrowed item came back.
func (s *Service) MarkReturned(ctx context.Context, actor, postingID uuid.UUID) (*exchange.Posting, *exchange.Application, error) {
	return s.markPair(ctx, actor, postingID, opReturned)
}

// MarkCompleted closes a confirmed barter or a returned borrow.
func (s *Service) MarkCompleted(ctx context.Context, actor, postingID uuid.UUID) (*exchange.Posting, *exchange.Application, error) {
	return s.markPair(ctx, actor, postingID, opCompleted)
}

func (s *Service) markPair(ctx context.Context, actor, postingID uuid.UUID, op pairOp) (*exchange.Posting, *exchange.Application, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	p, err := lockPosting(ctx, tx, postingID)
	if err != nil {
		return nil, nil, err
	}

	if p.OwnerID != actor {
		return nil, nil, apperror.Forbidden(string(p.Type)+"."+op.name+".forbidden",
			"only the owner can mark posting %s as %s", p.ID, op.name)
	}

	rule, ok := op.rules[p.Type]
	if !ok {
		return nil, nil, apperror.InvalidState(string(p.Type)+"."+op.name+".unsupported",
			"%s postings cannot be marked as %s", p.Type, op.name)
	}

	if !exchange.StatusIn(p.Status, rule.postingFrom...) {
		return nil, nil, apperror.InvalidState(string(p.Type)+"."+op.name+".invalid_status",
			"posting %s is %s", p.ID, p.Status)
	}

	apps, err := tx.LockApplications(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}

	var match []*exchange.Application

	for _, a := range apps {
		if exchange.StatusIn(a.Status, rule.appFrom...) {
			match = append(match, a)
		}
	}

	if len(match) != 1 {
		return nil, nil, apperror.Precondition(p.Type.ApplicationSubject()+"."+op.name+".no_matching_application",
			"posting %s has %d applications in %v", p.ID, len(match), rule.appFrom)
	}

	app := match[0]

	postingDetail := ledger.Detail{
		Key:  exchange.DetailKey(string(p.Type), rule.postingTo),
		Data: map[string]any{"application_id": app.ID.String()},
	}
	if err := exchange.AdvancePosting(ctx, tx, p, rule.postingTo, postingDetail, &actor); err != nil {
		return nil, nil, err
	}

	appDetail := ledger.Detail{Key: exchange.DetailKey(p.Type.ApplicationSubject(), rule.appTo)}
	if err := exchange.AdvanceApplication(ctx, tx, app, rule.appTo, appDetail, &actor); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing %s: %w", op.name, err)
	}

	s.ledger.Publish(ctx, p.Ref(), app.Ref())

	notification.Send(ctx, s.notifier, notification.Event{
		UserID:     app.ApplicantID,
		Type:       rule.event,
		EntityID:   app.ID,
		ItemName:   p.Name,
		MessageKey: appDetail.Key,
		RedirectTo: "/applications/" + app.ID.String(),
	})

	return p, app, nil
}

func lockPosting(ctx context.Context, tx exchange.Tx, id uuid.UUID) (*exchange.Posting, error) {
	p, err := tx.LockPosting(ctx, id)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, apperror.NotFound("posting.not_found", "posting %s not found", id)
	}

	return p, err
}
