package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

var _ exchange.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads can run inside or
// outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const selectPostingColumns = `
	id, type, owner_id, name, description, category_id, address_id, phone_id, images,
	duration_from, duration_to, item_weight, repair_type, repair_location, price,
	current_status, created_at, updated_at
`

// scanPosting expects the column order of selectPostingColumns.
func scanPosting(s scanner) (*exchange.Posting, error) {
	var (
		p                 exchange.Posting
		typeStr, status   string
		categoryID        *uuid.UUID
		images            []byte
		from, to          *time.Time
		weight            sql.NullFloat64
		repairType, place sql.NullString
		price             sql.NullInt64
	)

	if err := s.Scan(
		&p.ID, &typeStr, &p.OwnerID, &p.Name, &p.Description, &categoryID, &p.AddressID, &p.PhoneID, &images,
		&from, &to, &weight, &repairType, &place, &price,
		&status, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Type = exchange.Type(typeStr)
	p.Status = exchange.Status(status)

	if categoryID != nil {
		p.CategoryID = *categoryID
	}

	if err := decodeImages(images, &p.Images); err != nil {
		return nil, err
	}

	if from != nil && to != nil {
		p.Borrow = &exchange.Window{From: *from, To: *to}
	}

	if repairType.Valid {
		p.Repair = &exchange.RepairDetails{
			Weight:   weight.Float64,
			Type:     exchange.RepairType(repairType.String),
			Location: place.String,
			Price:    price.Int64,
		}
	}

	return &p, nil
}

const selectApplicationColumns = `
	id, posting_id, applicant_id, type, item_name, item_description, item_category_id, item_images,
	offered_posting_id, reason, duration_from, duration_to, decline_reason,
	current_status, created_at, updated_at
`

func scanApplication(s scanner) (*exchange.Application, error) {
	var (
		a                exchange.Application
		typeStr, status  string
		itemName, desc   sql.NullString
		itemCategory     *uuid.UUID
		images           []byte
		offeredPostingID *uuid.UUID
		reason           sql.NullString
		from, to         *time.Time
	)

	if err := s.Scan(
		&a.ID, &a.PostingID, &a.ApplicantID, &typeStr, &itemName, &desc, &itemCategory, &images,
		&offeredPostingID, &reason, &from, &to, &a.DeclineReason,
		&status, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Type = exchange.Type(typeStr)
	a.Status = exchange.Status(status)

	switch a.Type {
	case exchange.TypeBarter:
		offer := &exchange.BarterOffer{
			Name:             itemName.String,
			Description:      desc.String,
			OfferedPostingID: offeredPostingID,
		}

		if itemCategory != nil {
			offer.CategoryID = *itemCategory
		}

		if err := decodeImages(images, &offer.Images); err != nil {
			return nil, err
		}

		a.Barter = offer
	case exchange.TypeBorrow:
		req := &exchange.BorrowRequest{Reason: reason.String}
		if from != nil && to != nil {
			req.Window = exchange.Window{From: *from, To: *to}
		}

		a.Borrow = req
	}

	return &a, nil
}

const selectPaymentColumns = `
	id, posting_id, order_id, amount, admin_fee, method, bank, va_number, deeplink_url, qr_url,
	status, paid_at, expired_at, created_at, updated_at
`

func scanPayment(s scanner) (*exchange.Payment, error) {
	var (
		p              exchange.Payment
		method, status string
	)

	if err := s.Scan(
		&p.ID, &p.PostingID, &p.OrderID, &p.Amount, &p.AdminFee, &method, &p.Bank, &p.VANumber, &p.DeeplinkURL, &p.QRURL,
		&status, &p.PaidAt, &p.ExpiredAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Method = exchange.PaymentMethod(method)
	p.Status = exchange.PaymentStatus(status)

	return &p, nil
}

const selectEntryColumns = `id, seq, subject_kind, subject_id, status, message_key, message_data, actor_id, created_at`

func scanEntry(s scanner) (*ledger.Entry, error) {
	var (
		e    ledger.Entry
		kind string
		data []byte
	)

	if err := s.Scan(&e.ID, &e.Seq, &kind, &e.Ref.ID, &e.Status, &e.Detail.Key, &data, &e.ActorID, &e.CreatedAt); err != nil {
		return nil, err
	}

	e.Ref.Kind = ledger.Kind(kind)

	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Detail.Data); err != nil {
			return nil, fmt.Errorf("decoding message data: %w", err)
		}

		if len(e.Detail.Data) == 0 {
			e.Detail.Data = nil
		}
	}

	return &e, nil
}

func decodeImages(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding images: %w", err)
	}

	if len(*dst) == 0 {
		*dst = nil
	}

	return nil
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}

	b, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encoding images: %w", err)
	}

	return string(b), nil
}

// nullUUID stores uuid.Nil as NULL.
func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}

	return &id
}

func (s *Store) Begin(ctx context.Context) (exchange.Tx, error) {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("beginning tx: %w", err)
	}

	return &tx{tx: dbTx}, nil
}

func (s *Store) GetPosting(ctx context.Context, id uuid.UUID) (*exchange.Posting, error) {
	return getPosting(ctx, s.db, id, "")
}

func getPosting(ctx context.Context, q querier, id uuid.UUID, suffix string) (*exchange.Posting, error) {
	query := `SELECT ` + selectPostingColumns + ` FROM postings WHERE id = $1` + suffix

	p, err := scanPosting(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exchange.ErrNotFound
		}

		return nil, fmt.Errorf("getting posting: %w", err)
	}

	return p, nil
}

func (s *Store) ListPostings(ctx context.Context, filter exchange.PostingFilter) ([]*exchange.Posting, error) {
	query := `SELECT ` + selectPostingColumns + ` FROM postings WHERE TRUE`

	var args []any

	argIdx := 1

	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argIdx)

		args = append(args, *filter.Type)
		argIdx++
	}

	if filter.OwnerID != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)

		args = append(args, *filter.OwnerID)
		argIdx++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND current_status = $%d", argIdx)

		args = append(args, *filter.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)

		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing postings: %w", err)
	}
	defer rows.Close()

	var postings []*exchange.Posting

	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}

		postings = append(postings, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating postings: %w", err)
	}

	return postings, nil
}

func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (*exchange.Application, error) {
	return getApplication(ctx, s.db, id, "")
}

func getApplication(ctx context.Context, q querier, id uuid.UUID, suffix string) (*exchange.Application, error) {
	query := `SELECT ` + selectApplicationColumns + ` FROM applications WHERE id = $1` + suffix

	a, err := scanApplication(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exchange.ErrNotFound
		}

		return nil, fmt.Errorf("getting application: %w", err)
	}

	return a, nil
}

func (s *Store) ListApplications(ctx context.Context, filter exchange.ApplicationFilter) ([]*exchange.Application, error) {
	query := `SELECT ` + selectApplicationColumns + ` FROM applications WHERE TRUE`

	var args []any

	argIdx := 1

	if filter.PostingID != nil {
		query += fmt.Sprintf(" AND posting_id = $%d", argIdx)

		args = append(args, *filter.PostingID)
		argIdx++
	}

	if filter.ApplicantID != nil {
		query += fmt.Sprintf(" AND applicant_id = $%d", argIdx)

		args = append(args, *filter.ApplicantID)
	}

	query += " ORDER BY created_at ASC"

	return queryApplications(ctx, s.db, query, args...)
}

func (s *Store) ListDueApplications(ctx context.Context, now time.Time, statuses []exchange.Status) ([]*exchange.Application, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := []any{exchange.TypeBorrow, now}
	placeholders := make([]string, len(statuses))

	for i, st := range statuses {
		args = append(args, st)
		placeholders[i] = fmt.Sprintf("$%d", i+3)
	}

	query := `SELECT ` + selectApplicationColumns + `
		FROM applications
		WHERE type = $1 AND duration_to < $2 AND current_status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY duration_to ASC`

	return queryApplications(ctx, s.db, query, args...)
}

func queryApplications(ctx context.Context, q querier, query string, args ...any) ([]*exchange.Application, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	var apps []*exchange.Application

	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning application: %w", err)
		}

		apps = append(apps, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating applications: %w", err)
	}

	return apps, nil
}

func (s *Store) GetCategory(ctx context.Context, id uuid.UUID) (*exchange.Category, error) {
	query := `SELECT id, name, minor_repair, medium_repair, major_repair FROM categories WHERE id = $1`

	var (
		c                   exchange.Category
		minor, medium, major int64
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &minor, &medium, &major)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exchange.ErrNotFound
		}

		return nil, fmt.Errorf("getting category: %w", err)
	}

	c.RepairPrices = map[exchange.RepairType]int64{
		exchange.RepairMinor:  minor,
		exchange.RepairMedium: medium,
		exchange.RepairMajor:  major,
	}

	return &c, nil
}

func (s *Store) OwnsAddress(ctx context.Context, userID, addressID uuid.UUID) (bool, error) {
	return s.owns(ctx, "addresses", userID, addressID)
}

func (s *Store) OwnsPhone(ctx context.Context, userID, phoneID uuid.UUID) (bool, error) {
	return s.owns(ctx, "phones", userID, phoneID)
}

// owns checks a row of table belongs to userID. table is never user input.
func (s *Store) owns(ctx context.Context, table string, userID, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1 AND user_id = $2)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking %s ownership: %w", table, err)
	}

	return ok, nil
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*exchange.Payment, error) {
	return getPayment(ctx, s.db, "order_id = $1", orderID)
}

func (s *Store) GetPaymentByPosting(ctx context.Context, postingID uuid.UUID) (*exchange.Payment, error) {
	return getPayment(ctx, s.db, "posting_id = $1", postingID)
}

func getPayment(ctx context.Context, q querier, where string, arg any) (*exchange.Payment, error) {
	query := `SELECT ` + selectPaymentColumns + ` FROM payments WHERE ` + where

	p, err := scanPayment(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exchange.ErrNotFound
		}

		return nil, fmt.Errorf("getting payment: %w", err)
	}

	return p, nil
}

func (s *Store) LatestEntry(ctx context.Context, ref ledger.Ref) (*ledger.Entry, error) {
	query := `SELECT ` + selectEntryColumns + `
		FROM status_histories
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY seq DESC
		LIMIT 1`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, ref.Kind, ref.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNoEntries
		}

		return nil, fmt.Errorf("getting latest entry: %w", err)
	}

	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, ref ledger.Ref) ([]*ledger.Entry, error) {
	query := `SELECT ` + selectEntryColumns + `
		FROM status_histories
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	entries := []*ledger.Entry{}

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	return entries, nil
}
