package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/imagestore"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

// openStatuses are the posting states that accept new applications.
var openStatuses = []exchange.Status{exchange.StatusWaitingForRequest, exchange.StatusWaitingForConfirmation}

type Service struct {
	repo     exchange.Repository
	ledger   *ledger.Ledger
	images   imagestore.Store
	notifier notification.Notifier
}

type Option func(*Service)

func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithImageStore(st imagestore.Store) Option {
	return func(s *Service) { s.images = st }
}

func NewService(repo exchange.Repository, l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{repo: repo, ledger: l, notifier: notification.Discard}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

type BarterParams struct {
	Name        string
	Description string
	CategoryID  uuid.UUID
	Images      []imagestore.Image
	// OfferedPostingID reuses one of the applicant's own barter postings as
	// the offer.
	OfferedPostingID *uuid.UUID
}

type BorrowParams struct {
	Reason string
	Window exchange.Window
}

type CreateParams struct {
	Barter *BarterParams
	Borrow *BorrowParams
}

// Create files a request against a barter or borrow posting. The first
// request moves the posting from waiting_for_request to
// waiting_for_confirmation.
func (s *Service) Create(ctx context.Context, applicant, postingID uuid.UUID, params CreateParams) (*exchange.Application, error) {
	p, err := s.repo.GetPosting(ctx, postingID)
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

	if p.OwnerID == applicant {
		return nil, apperror.Forbidden(subject+".create.own_posting", "cannot apply to your own posting")
	}

	a := &exchange.Application{
		PostingID:   p.ID,
		ApplicantID: applicant,
		Type:        p.Type,
		Status:      exchange.InitialApplicationStatus(),
	}

	var uploads []imagestore.Image

	switch p.Type {
	case exchange.TypeBarter:
		a.Barter, uploads, err = s.barterOffer(ctx, applicant, params.Barter)
	case exchange.TypeBorrow:
		a.Borrow, err = borrowRequest(p, params.Borrow)
	}

	if err != nil {
		return nil, err
	}

	if len(uploads) > 0 {
		if s.images == nil {
			return nil, apperror.Field(subject+".create.invalid", "images", "image uploads are not enabled")
		}

		a.Barter.Images, err = imagestore.PutAll(ctx, s.images, subject, uploads)
		if err != nil {
			return nil, fmt.Errorf("storing images: %w", err)
		}
	}

	p, err = s.persist(ctx, a)
	if err != nil {
		if len(uploads) > 0 {
			imagestore.DeleteAll(ctx, s.images, a.Barter.Images)
		}

		return nil, err
	}

	s.ledger.Publish(ctx, p.Ref(), a.Ref())

	notification.Send(ctx, s.notifier, notification.Event{
		UserID:     p.OwnerID,
		Type:       notification.TypeApplicationReceived,
		EntityID:   a.ID,
		ItemName:   p.Name,
		MessageKey: exchange.DetailKey(subject, a.Status),
		RedirectTo: "/postings/" + p.ID.String() + "/applications",
	})

	return a, nil
}

func (s *Service) persist(ctx context.Context, a *exchange.Application) (*exchange.Posting, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := tx.LockPosting(ctx, a.PostingID)
	if err != nil {
		return nil, err
	}

	subject := p.Type.ApplicationSubject()

	if !exchange.StatusIn(p.Status, openStatuses...) {
		return nil, apperror.InvalidState(subject+".create.posting_closed",
			"posting %s is %s and takes no more requests", p.ID, p.Status)
	}

	if a.Barter != nil {
		dup, err := tx.HasBarterOffer(ctx, p.ID, a.ApplicantID, a.Barter.Name)
		if err != nil {
			return nil, err
		}

		if dup {
			return nil, apperror.Conflict(subject+".create.duplicate",
				"you already offered %q for this posting", a.Barter.Name)
		}
	}

	if err := tx.CreateApplication(ctx, a); err != nil {
		return nil, err
	}

	detail := ledger.Detail{Key: exchange.DetailKey(subject, a.Status)}
	if _, err := ledger.Append(ctx, tx, a.Ref(), string(a.Status), detail, &a.ApplicantID); err != nil {
		return nil, err
	}

	if p.Status == exchange.StatusWaitingForRequest {
		promote := ledger.Detail{
			Key:  exchange.DetailKey(string(p.Type), exchange.StatusWaitingForConfirmation),
			Data: map[string]any{"application_id": a.ID.String()},
		}
		if err := exchange.AdvancePosting(ctx, tx, p, exchange.StatusWaitingForConfirmation, promote, &a.ApplicantID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing application: %w", err)
	}

	return p, nil
}

func (s *Service) barterOffer(ctx context.Context, applicant uuid.UUID, params *BarterParams) (*exchange.BarterOffer, []imagestore.Image, error) {
	const subject = "barter_application"

	if params == nil {
		return nil, nil, apperror.Field(subject+".create.invalid", "item_name", "is required")
	}

	if params.OfferedPostingID != nil {
		offered, err := s.repo.GetPosting(ctx, *params.OfferedPostingID)
		if err != nil && !errors.Is(err, exchange.ErrNotFound) {
			return nil, nil, err
		}

		if offered == nil || offered.OwnerID != applicant || offered.Type != exchange.TypeBarter {
			return nil, nil, apperror.NotFound(subject+".create.offered_posting_not_found",
				"barter posting %s not found", *params.OfferedPostingID)
		}

		id := offered.ID

		return &exchange.BarterOffer{
			Name:             offered.Name,
			Description:      offered.Description,
			CategoryID:       offered.CategoryID,
			Images:           slices.Clone(offered.Images),
			OfferedPostingID: &id,
		}, nil, nil
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, nil, apperror.Field(subject+".create.invalid", "item_name", "is required")
	}

	return &exchange.BarterOffer{
		Name:        name,
		Description: params.Description,
		CategoryID:  params.CategoryID,
	}, params.Images, nil
}

func borrowRequest(p *exchange.Posting, params *BorrowParams) (*exchange.BorrowRequest, error) {
	const subject = "borrow_application"

	if params == nil {
		return nil, apperror.Field(subject+".create.invalid", "duration_from", "is required")
	}

	w := params.Window

	if !w.Valid() {
		return nil, apperror.Field(subject+".create.invalid_window", "duration_to", "must be after duration_from")
	}

	if p.Borrow == nil || !p.Borrow.Contains(w) {
		return nil, apperror.Field(subject+".create.outside_posting_window", "duration_from",
			"must lie within the posting's borrow period")
	}

	return &exchange.BorrowRequest{Reason: params.Reason, Window: w}, nil
}

// Extend pushes the end of an active borrow. Only the posting owner may do
// it, and never past the posting's own window.
func (s *Service) Extend(ctx context.Context, actor, applicationID uuid.UUID, newTo time.Time) (*exchange.Application, error) {
	const subject = "borrow_application"

	a, err := s.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	if a.Type != exchange.TypeBorrow {
		return nil, apperror.InvalidState(a.Type.ApplicationSubject()+".extend.unsupported",
			"only borrow applications can be extended")
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := tx.LockPosting(ctx, a.PostingID)
	if err != nil {
		return nil, err
	}

	a, err = tx.LockApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	if p.OwnerID != actor {
		return nil, apperror.Forbidden(subject+".extend.forbidden", "only the owner can extend a borrow")
	}

	if !exchange.StatusIn(p.Status, exchange.ActiveBorrowPostingStatuses...) ||
		!exchange.StatusIn(a.Status, exchange.ActiveBorrowApplicationStatuses...) {
		return nil, apperror.InvalidState(subject+".extend.not_active",
			"borrow is %s/%s and cannot be extended", p.Status, a.Status)
	}

	current := a.Borrow.Window

	if !newTo.After(current.To) {
		return nil, apperror.Field(subject+".extend.not_later", "duration_to",
			"must be later than the current end")
	}

	if p.Borrow == nil || newTo.After(p.Borrow.To) {
		return nil, apperror.Field(subject+".extend.exceeds_posting_window", "duration_to",
			"must not exceed the posting's borrow period")
	}

	extended := exchange.Window{From: current.From, To: newTo}
	if err := tx.UpdateApplicationWindow(ctx, a.ID, extended); err != nil {
		return nil, err
	}

	data := map[string]any{
		"previous_to": current.To.Format(time.RFC3339),
		"duration_to": newTo.Format(time.RFC3339),
	}

	appDetail := ledger.Detail{Key: exchange.DetailKey(subject, exchange.StatusExtended), Data: data}
	if err := exchange.AdvanceApplication(ctx, tx, a, exchange.StatusExtended, appDetail, &actor); err != nil {
		return nil, err
	}

	postDetail := ledger.Detail{Key: exchange.DetailKey(string(p.Type), exchange.StatusExtended), Data: data}
	if err := exchange.AdvancePosting(ctx, tx, p, exchange.StatusExtended, postDetail, &actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing extension: %w", err)
	}

	a.Borrow.Window = extended

	s.ledger.Publish(ctx, p.Ref(), a.Ref())

	notification.Send(ctx, s.notifier, notification.Event{
		UserID:      a.ApplicantID,
		Type:        notification.TypeBorrowExtended,
		EntityID:    a.ID,
		ItemName:    p.Name,
		MessageKey:  appDetail.Key,
		MessageData: data,
		RedirectTo:  "/applications/" + a.ID.String(),
	})

	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*exchange.Application, error) {
	a, err := s.repo.GetApplication(ctx, id)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, apperror.NotFound("application.not_found", "application %s not found", id)
	}

	if err != nil {
		return nil, err
	}

	status, err := s.ledger.CurrentStatus(ctx, a.Ref())
	if err != nil {
		return nil, fmt.Errorf("reading status of application %s: %w", id, err)
	}

	a.Status = exchange.Status(status)

	return a, nil
}

// View returns an application to its applicant or the posting owner.
func (s *Service) View(ctx context.Context, actor, id uuid.UUID) (*exchange.Application, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.ApplicantID == actor {
		return a, nil
	}

	p, err := s.repo.GetPosting(ctx, a.PostingID)
	if err != nil {
		return nil, fmt.Errorf("getting posting: %w", err)
	}

	if p.OwnerID != actor {
		return nil, apperror.Forbidden("application.forbidden", "application %s belongs to another user", id)
	}

	return a, nil
}

// ListByPosting returns every application to the posting owner and only
// the caller's own to anyone else.
func (s *Service) ListByPosting(ctx context.Context, actor, postingID uuid.UUID) ([]*exchange.Application, error) {
	p, err := s.repo.GetPosting(ctx, postingID)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, apperror.NotFound("posting.not_found", "posting %s not found", postingID)
	}

	if err != nil {
		return nil, err
	}

	filter := exchange.ApplicationFilter{PostingID: &postingID}
	if p.OwnerID != actor {
		filter.ApplicantID = &actor
	}

	return s.repo.ListApplications(ctx, filter)
}

func (s *Service) ListByApplicant(ctx context.Context, applicant uuid.UUID) ([]*exchange.Application, error) {
	return s.repo.ListApplications(ctx, exchange.ApplicationFilter{ApplicantID: &applicant})
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*ledger.Entry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.ledger.History(ctx, exchange.ApplicationRef(id))
}
