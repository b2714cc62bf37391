package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
)

// tx holds row locks taken with SELECT ... FOR UPDATE until Commit or Rollback.
type tx struct {
	tx *sql.Tx
}

func (t *tx) Commit() error   { return t.tx.Commit() }
func (t *tx) Rollback() error { return t.tx.Rollback() }

func (t *tx) LockPosting(ctx context.Context, id uuid.UUID) (*exchange.Posting, error) {
	p, err := getPosting(ctx, t.tx, id, " FOR UPDATE")
	if err != nil {
		return nil, fmt.Errorf("locking posting: %w", err)
	}

	return p, nil
}

func (t *tx) LockApplication(ctx context.Context, id uuid.UUID) (*exchange.Application, error) {
	a, err := getApplication(ctx, t.tx, id, " FOR UPDATE")
	if err != nil {
		return nil, fmt.Errorf("locking application: %w", err)
	}

	return a, nil
}

// LockApplications locks every application of a posting in ascending id
// order, the same order single-application locks must follow.
func (t *tx) LockApplications(ctx context.Context, postingID uuid.UUID) ([]*exchange.Application, error) {
	query := `SELECT ` + selectApplicationColumns + `
		FROM applications
		WHERE posting_id = $1
		ORDER BY id ASC
		FOR UPDATE`

	apps, err := queryApplications(ctx, t.tx, query, postingID)
	if err != nil {
		return nil, fmt.Errorf("locking applications: %w", err)
	}

	return apps, nil
}

func (t *tx) LockPayment(ctx context.Context, orderID string) (*exchange.Payment, error) {
	p, err := getPayment(ctx, t.tx, "order_id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, fmt.Errorf("locking payment: %w", err)
	}

	return p, nil
}

func (t *tx) HasBarterOffer(ctx context.Context, postingID, applicantID uuid.UUID, itemName string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM applications
			WHERE posting_id = $1 AND applicant_id = $2 AND item_name = $3 AND current_status <> $4
		)`

	var exists bool
	if err := t.tx.QueryRowContext(ctx, query, postingID, applicantID, itemName, exchange.StatusFailed).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking barter offer: %w", err)
	}

	return exists, nil
}

func (t *tx) CreatePosting(ctx context.Context, p *exchange.Posting) error {
	images, err := encodeImages(p.Images)
	if err != nil {
		return err
	}

	var (
		from, to          any
		weight, price     any
		repairType, place any
	)

	if p.Borrow != nil {
		from, to = p.Borrow.From, p.Borrow.To
	}

	if p.Repair != nil {
		weight, price = p.Repair.Weight, p.Repair.Price
		repairType, place = string(p.Repair.Type), p.Repair.Location
	}

	query := `
		INSERT INTO postings (
			type, owner_id, name, description, category_id, address_id, phone_id, images,
			duration_from, duration_to, item_weight, repair_type, repair_location, price,
			current_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err = t.tx.QueryRowContext(ctx, query,
		p.Type,
		p.OwnerID,
		p.Name,
		p.Description,
		nullUUID(p.CategoryID),
		p.AddressID,
		p.PhoneID,
		images,
		from, to,
		weight, repairType, place, price,
		p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating posting: %w", err)
	}

	return nil
}

func (t *tx) CreateApplication(ctx context.Context, a *exchange.Application) error {
	var (
		itemName, itemDesc, reason any
		itemCategory, offeredID    any
		from, to                   any
		imageList                  []string
	)

	if a.Barter != nil {
		itemName, itemDesc = a.Barter.Name, a.Barter.Description
		itemCategory = nullUUID(a.Barter.CategoryID)
		imageList = a.Barter.Images

		if a.Barter.OfferedPostingID != nil {
			offeredID = *a.Barter.OfferedPostingID
		}
	}

	if a.Borrow != nil {
		reason = a.Borrow.Reason
		from, to = a.Borrow.Window.From, a.Borrow.Window.To
	}

	images, err := encodeImages(imageList)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO applications (
			posting_id, applicant_id, type, item_name, item_description, item_category_id, item_images,
			offered_posting_id, reason, duration_from, duration_to, current_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err = t.tx.QueryRowContext(ctx, query,
		a.PostingID,
		a.ApplicantID,
		a.Type,
		itemName, itemDesc, itemCategory, images,
		offeredID, reason, from, to,
		a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}

	return nil
}

func (t *tx) UpdateApplicationWindow(ctx context.Context, id uuid.UUID, w exchange.Window) error {
	query := `
		UPDATE applications
		SET duration_from = $1, duration_to = $2, updated_at = NOW()
		WHERE id = $3
	`

	if _, err := t.tx.ExecContext(ctx, query, w.From, w.To, id); err != nil {
		return fmt.Errorf("updating application window: %w", err)
	}

	return nil
}

func (t *tx) SetDeclineReason(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE applications SET decline_reason = $1, updated_at = NOW() WHERE id = $2`

	if _, err := t.tx.ExecContext(ctx, query, reason, id); err != nil {
		return fmt.Errorf("setting decline reason: %w", err)
	}

	return nil
}

func (t *tx) CreatePayment(ctx context.Context, p *exchange.Payment) error {
	query := `
		INSERT INTO payments (
			posting_id, order_id, amount, admin_fee, method, bank, va_number, deeplink_url, qr_url,
			status, paid_at, expired_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err := t.tx.QueryRowContext(ctx, query,
		p.PostingID,
		p.OrderID,
		p.Amount,
		p.AdminFee,
		p.Method,
		p.Bank,
		p.VANumber,
		p.DeeplinkURL,
		p.QRURL,
		p.Status,
		p.PaidAt,
		p.ExpiredAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating payment: %w", err)
	}

	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, p *exchange.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, paid_at = $2, expired_at = $3, updated_at = NOW()
		WHERE order_id = $4
		RETURNING updated_at
	`

	if err := t.tx.QueryRowContext(ctx, query, p.Status, p.PaidAt, p.ExpiredAt, p.OrderID).Scan(&p.UpdatedAt); err != nil {
		return fmt.Errorf("updating payment: %w", err)
	}

	return nil
}

// AppendEntry inserts the history row and moves the entity's current_status
// projection in the same transaction.
func (t *tx) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	data := e.Detail.Data
	if data == nil {
		data = map[string]any{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding message data: %w", err)
	}

	query := `
		INSERT INTO status_histories (subject_kind, subject_id, status, message_key, message_data, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, seq, created_at
	`

	err = t.tx.QueryRowContext(ctx, query,
		e.Ref.Kind,
		e.Ref.ID,
		e.Status,
		e.Detail.Key,
		string(raw),
		e.ActorID,
	).Scan(&e.ID, &e.Seq, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}

	var table string

	switch e.Ref.Kind {
	case ledger.KindPosting:
		table = "postings"
	case ledger.KindApplication:
		table = "applications"
	default:
		return fmt.Errorf("unknown history kind %q", e.Ref.Kind)
	}

	update := `UPDATE ` + table + ` SET current_status = $1, updated_at = $2 WHERE id = $3`
	if _, err := t.tx.ExecContext(ctx, update, e.Status, e.CreatedAt, e.Ref.ID); err != nil {
		return fmt.Errorf("updating %s status: %w", table, err)
	}

	return nil
}
