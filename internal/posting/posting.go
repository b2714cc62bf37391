package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/MrJamesThe3rd/reloop/internal/apperror"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/imagestore"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
	"github.com/MrJamesThe3rd/reloop/internal/payment"
)

type Service struct {
	repo     exchange.Repository
	ledger   *ledger.Ledger
	gateway  payment.Gateway
	images   imagestore.Store
	notifier notification.Notifier

	categories *lru.Cache
	newOrderID func() string
}

type Option func(*Service)

func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithImageStore(st imagestore.Store) Option {
	return func(s *Service) { s.images = st }
}

// WithOrderIDs replaces the generator for gateway order ids.
func WithOrderIDs(f func() string) Option {
	return func(s *Service) { s.newOrderID = f }
}

func NewService(repo exchange.Repository, l *ledger.Ledger, gateway payment.Gateway, categoryCacheSize int, opts ...Option) (*Service, error) {
	if categoryCacheSize <= 0 {
		categoryCacheSize = 128
	}

	cache, err := lru.New(categoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating category cache: %w", err)
	}

	s := &Service{
		repo:       repo,
		ledger:     l,
		gateway:    gateway,
		notifier:   notification.Discard,
		categories: cache,
		newOrderID: func() string { return "REPAIR-" + uuid.NewString() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

type RepairParams struct {
	Weight   float64
	Type     exchange.RepairType
	Location string
	Method   exchange.PaymentMethod
	Bank     string
}

type CreateParams struct {
	Type        exchange.Type
	Name        string
	Description string
	CategoryID  uuid.UUID
	AddressID   uuid.UUID
	PhoneID     uuid.UUID
	Images      []imagestore.Image
	Borrow      *exchange.Window
	Repair      *RepairParams
}

func (p CreateParams) validate() error {
	fields := map[string][]string{}

	if !p.Type.Valid() {
		fields["type"] = append(fields["type"], "unknown posting type")
	}

	if strings.TrimSpace(p.Name) == "" {
		fields["name"] = append(fields["name"], "is required")
	}

	if p.CategoryID == uuid.Nil {
		fields["category_id"] = append(fields["category_id"], "is required")
	}

	if p.AddressID == uuid.Nil {
		fields["address_id"] = append(fields["address_id"], "is required")
	}

	if p.PhoneID == uuid.Nil {
		fields["phone_id"] = append(fields["phone_id"], "is required")
	}

	switch p.Type {
	case exchange.TypeBorrow:
		if p.Borrow == nil {
			fields["duration_from"] = append(fields["duration_from"], "is required")
		} else if !p.Borrow.Valid() {
			fields["duration_to"] = append(fields["duration_to"], "must be after duration_from")
		}
	case exchange.TypeRepair:
		if p.Repair == nil {
			fields["repair_type"] = append(fields["repair_type"], "is required")
			break
		}

		if !p.Repair.Type.Valid() {
			fields["repair_type"] = append(fields["repair_type"], "unknown repair type")
		}

		if p.Repair.Weight <= 0 {
			fields["item_weight"] = append(fields["item_weight"], "must be greater than zero")
		}

		if !p.Repair.Method.Valid() {
			fields["payment_method"] = append(fields["payment_method"], "unknown payment method")
		}

		if p.Repair.Method == exchange.MethodBankTransfer && p.Repair.Bank == "" {
			fields["bank"] = append(fields["bank"], "is required for bank transfer")
		}
	}

	if len(fields) > 0 {
		return apperror.Validation(string(p.Type)+".create.invalid", fields)
	}

	return nil
}

// Create stores a posting and its initial history entry. For repairs it
// also prices the job and opens a charge with the gateway before the
// transaction starts, then records the payment in the same transaction.
func (s *Service) Create(ctx context.Context, owner uuid.UUID, params CreateParams) (*exchange.Posting, *exchange.Payment, error) {
	if err := params.validate(); err != nil {
		return nil, nil, err
	}

	if err := s.checkOwnership(ctx, owner, params.AddressID, params.PhoneID); err != nil {
		return nil, nil, err
	}

	category, err := s.category(ctx, params.CategoryID)
	if err != nil {
		return nil, nil, err
	}

	p := &exchange.Posting{
		Type:        params.Type,
		OwnerID:     owner,
		Name:        strings.TrimSpace(params.Name),
		Description: params.Description,
		CategoryID:  params.CategoryID,
		AddressID:   params.AddressID,
		PhoneID:     params.PhoneID,
		Status:      exchange.InitialPostingStatus(params.Type),
	}

	if params.Type == exchange.TypeBorrow {
		w := *params.Borrow
		p.Borrow = &w
	}

	var pay *exchange.Payment

	if params.Type == exchange.TypeRepair {
		pay, err = s.charge(ctx, p, category, params.Repair)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(params.Images) > 0 {
		if s.images == nil {
			return nil, nil, apperror.Field(string(p.Type)+".create.invalid", "images", "image uploads are not enabled")
		}

		p.Images, err = imagestore.PutAll(ctx, s.images, string(p.Type), params.Images)
		if err != nil {
			return nil, nil, fmt.Errorf("storing images: %w", err)
		}
	}

	if err := s.persist(ctx, p, pay); err != nil {
		if s.images != nil {
			imagestore.DeleteAll(ctx, s.images, p.Images)
		}

		if pay != nil {
			slog.Error("repair charge left without posting", "order_id", pay.OrderID, "error", err)
		}

		return nil, nil, err
	}

	notification.Send(ctx, s.notifier, notification.Event{
		UserID:     owner,
		Type:       notification.TypePostingCreated,
		EntityID:   p.ID,
		ItemName:   p.Name,
		MessageKey: exchange.DetailKey(string(p.Type), p.Status),
		RedirectTo: "/postings/" + p.ID.String(),
	})

	return p, pay, nil
}

func (s *Service) persist(ctx context.Context, p *exchange.Posting, pay *exchange.Payment) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.CreatePosting(ctx, p); err != nil {
		return err
	}

	detail := ledger.Detail{Key: exchange.DetailKey(string(p.Type), p.Status)}
	if _, err := ledger.Append(ctx, tx, p.Ref(), string(p.Status), detail, &p.OwnerID); err != nil {
		return err
	}

	if pay != nil {
		pay.PostingID = p.ID
		if err := tx.CreatePayment(ctx, pay); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing posting: %w", err)
	}

	return nil
}

func (s *Service) charge(ctx context.Context, p *exchange.Posting, c *exchange.Category, params *RepairParams) (*exchange.Payment, error) {
	price, ok := RepairPrice(c, params.Type, params.Weight)
	if !ok {
		return nil, apperror.Field("repair.create.invalid", "repair_type", "category has no price for this repair type")
	}

	p.Repair = &exchange.RepairDetails{
		Weight:   params.Weight,
		Type:     params.Type,
		Location: params.Location,
		Price:    price,
	}

	pay := &exchange.Payment{
		OrderID:  s.newOrderID(),
		Amount:   price,
		AdminFee: AdminFee(price),
		Method:   params.Method,
		Bank:     params.Bank,
		Status:   exchange.PaymentPending,
	}

	ch, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		OrderID:  pay.OrderID,
		Amount:   pay.Total(),
		Method:   pay.Method,
		Bank:     pay.Bank,
		ItemName: p.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("charging repair: %w", err)
	}

	if ch.Bank != "" {
		pay.Bank = ch.Bank
	}

	pay.VANumber = ch.VANumber
	pay.DeeplinkURL = ch.DeeplinkURL
	pay.QRURL = ch.QRURL
	pay.ExpiredAt = ch.ExpiresAt

	return pay, nil
}

func (s *Service) checkOwnership(ctx context.Context, owner, addressID, phoneID uuid.UUID) error {
	ok, err := s.repo.OwnsAddress(ctx, owner, addressID)
	if err != nil {
		return err
	}

	if !ok {
		return apperror.NotFound("address.not_found", "address %s not found", addressID)
	}

	ok, err = s.repo.OwnsPhone(ctx, owner, phoneID)
	if err != nil {
		return err
	}

	if !ok {
		return apperror.NotFound("phone.not_found", "phone %s not found", phoneID)
	}

	return nil
}

func (s *Service) category(ctx context.Context, id uuid.UUID) (*exchange.Category, error) {
	if v, ok := s.categories.Get(id); ok {
		return v.(*exchange.Category), nil
	}

	c, err := s.repo.GetCategory(ctx, id)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, apperror.NotFound("category.not_found", "category %s not found", id)
	}

	if err != nil {
		return nil, err
	}

	s.categories.Add(id, c)

	return c, nil
}

// Get reads the posting with its status taken from the ledger head, which
// the status cache serves when it is warm.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*exchange.Posting, error) {
	p, err := s.repo.GetPosting(ctx, id)
	if errors.Is(err, exchange.ErrNotFound) {
		return nil, apperror.NotFound("posting.not_found", "posting %s not found", id)
	}

	if err != nil {
		return nil, err
	}

	status, err := s.ledger.CurrentStatus(ctx, p.Ref())
	if err != nil {
		return nil, fmt.Errorf("reading status of posting %s: %w", id, err)
	}

	p.Status = exchange.Status(status)

	return p, nil
}

func (s *Service) List(ctx context.Context, filter exchange.PostingFilter) ([]*exchange.Posting, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}

	return s.repo.ListPostings(ctx, filter)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*ledger.Entry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.ledger.History(ctx, exchange.PostingRef(id))
}
