// Package arbitration decides incoming requests on barter and borrow
// postings. Accepting one request closes the posting to every other.
package arbitration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

func (a Action) Valid() bool {
	return a == ActionAccept || a == ActionDecline
}

// Decision is the state after a request was decided.
type Decision struct {
	Posting     *exchange.Posting
	Application *exchange.Application
	// AutoDeclined lists the siblings closed by an acceptance.
	AutoDeclined []*exchange.Application
}

type Engine struct {
	repo     exchange.Repository
	ledger   *ledger.Ledger
	notifier notification.Notifier
}

func NewEngine(repo exchange.Repository, l *ledger.Ledger, n notification.Notifier) *Engine {
	if n == nil {
		n = notification.Discard
	}

	return &Engine{repo: repo, ledger: l, notifier: n}
}

// ProcessIncomingRequest accepts or declines one application. The posting
// row stays locked for the whole decision, so two owners' clicks on the same
// posting serialize and the later one sees the posting already confirmed.
func (e *Engine) ProcessIncomingRequest(
	ctx context.Context,
	actor, postingID, applicationID uuid.UUID,
	action Action,
	reason string,
) (*Decision, error) {
	if !action.Valid() {
		return nil, apperror.Field("application.decision.invalid", "action", "must be accept or decline")
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := tx.LockPosting(ctx, postingID)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, apperror.NotFound("posting.not_found", "posting %s not found", postingID)
	}

	if err != nil {
		return nil, err
	}

	if !p.Type.AcceptsApplications() {
		return nil, apperror.InvalidState(string(p.Type)+".application.unsupported",
			"%s postings do not take applications", p.Type)
	}

	subject := p.Type.ApplicationSubject()

	if p.OwnerID != actor {
		return nil, apperror.Forbidden(subject+".decision.forbidden", "only the owner can decide requests")
	}

	var siblings []*exchange.Application

	if action == ActionAccept {
		siblings, err = tx.LockApplications(ctx, p.ID)
	} else {
		siblings, err = lockOne(ctx, tx, applicationID)
	}

	if err != nil {
		return nil, err
	}

	a := find(siblings, applicationID)
	if a == nil || a.PostingID != p.ID {
		return nil, apperror.NotFound(subject+".not_found",
			"application %s not found on posting %s", applicationID, p.ID)
	}

	if p.Status != exchange.StatusWaitingForConfirmation {
		return nil, apperror.InvalidState(subject+".decision.posting_not_waiting",
			"posting %s is %s", p.ID, p.Status)
	}

	if a.Status != exchange.StatusRequestSubmitted {
		return nil, apperror.InvalidState(subject+".decision.already_decided",
			"application %s is %s", a.ID, a.Status)
	}

	d := &Decision{Posting: p, Application: a}

	var events []notification.Event

	if action == ActionDecline {
		events, err = decline(ctx, tx, p, a, actor, reason)
	} else {
		events, err = accept(ctx, tx, p, a, siblings, actor, d)
	}

	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing decision: %w", err)
	}

	refs := []ledger.Ref{p.Ref(), a.Ref()}
	for _, s := range d.AutoDeclined {
		refs = append(refs, s.Ref())
	}

	e.ledger.Publish(ctx, refs...)

	notification.Send(ctx, e.notifier, events...)

	return d, nil
}

func decline(
	ctx context.Context,
	tx exchange.Tx,
	p *exchange.Posting,
	a *exchange.Application,
	actor uuid.UUID,
	reason string,
) ([]notification.Event, error) {
	next := exchange.DeclinedStatus(a.Type)
	detail := ledger.Detail{
		Key:  exchange.DetailKey(a.Type.ApplicationSubject(), next),
		Data: map[string]any{"reason": reason},
	}

	if err := tx.SetDeclineReason(ctx, a.ID, reason); err != nil {
		return nil, err
	}

	if err := exchange.AdvanceApplication(ctx, tx, a, next, detail, &actor); err != nil {
		return nil, err
	}

	a.DeclineReason = reason

	return []notification.Event{event(p, a, notification.TypeApplicationDeclined, detail)}, nil
}

func accept(
	ctx context.Context,
	tx exchange.Tx,
	p *exchange.Posting,
	a *exchange.Application,
	siblings []*exchange.Application,
	actor uuid.UUID,
	d *Decision,
) ([]notification.Event, error) {
	subject := a.Type.ApplicationSubject()

	detail := ledger.Detail{Key: exchange.DetailKey(subject, exchange.StatusConfirmed)}
	if err := exchange.AdvanceApplication(ctx, tx, a, exchange.StatusConfirmed, detail, &actor); err != nil {
		return nil, err
	}

	postDetail := ledger.Detail{
		Key:  exchange.DetailKey(string(p.Type), exchange.StatusConfirmed),
		Data: map[string]any{"application_id": a.ID.String()},
	}
	if err := exchange.AdvancePosting(ctx, tx, p, exchange.StatusConfirmed, postDetail, &actor); err != nil {
		return nil, err
	}

	events := []notification.Event{event(p, a, notification.TypeApplicationAccepted, detail)}

	next := exchange.DeclinedStatus(a.Type)
	auto := ledger.Detail{
		Key:  exchange.AutoDetailKey(subject, next),
		Data: map[string]any{"accepted_application_id": a.ID.String()},
	}

	for _, s := range siblings {
		if s.ID == a.ID || exchange.IsTerminalApplication(s.Type, s.Status) {
			continue
		}

		// System entry: no actor.
		if err := exchange.AdvanceApplication(ctx, tx, s, next, auto, nil); err != nil {
			return nil, err
		}

		d.AutoDeclined = append(d.AutoDeclined, s)
		events = append(events, event(p, s, notification.TypeApplicationAutoDeclined, auto))
	}

	return events, nil
}

func lockOne(ctx context.Context, tx exchange.Tx, id uuid.UUID) ([]*exchange.Application, error) {
	a, err := tx.LockApplication(ctx, id)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return []*exchange.Application{a}, nil
}

func find(apps []*exchange.Application, id uuid.UUID) *exchange.Application {
	for _, a := range apps {
		if a.ID == id {
			return a
		}
	}

	return nil
}

func event(p *exchange.Posting, a *exchange.Application, typ notification.Type, detail ledger.Detail) notification.Event {
	return notification.Event{
		UserID:      a.ApplicantID,
		Type:        typ,
		EntityID:    a.ID,
		ItemName:    p.Name,
		MessageKey:  detail.Key,
		MessageData: detail.Data,
		RedirectTo:  "/applications/" + a.ID.String(),
	}
}
