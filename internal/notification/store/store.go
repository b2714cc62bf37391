package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, n *notification.Notification) error {
	data := n.MessageData
	if data == nil {
		data = map[string]any{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding message data: %w", err)
	}

	var entityID *uuid.UUID
	if n.EntityID != uuid.Nil {
		entityID = &n.EntityID
	}

	query := `
		INSERT INTO notifications (event_id, user_id, type, entity_id, title, message_key, message_data, redirect_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query,
		n.EventID,
		n.UserID,
		n.Type,
		entityID,
		n.Title,
		n.MessageKey,
		string(raw),
		n.RedirectTo,
	)
	if err != nil {
		return fmt.Errorf("saving notification: %w", err)
	}

	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*notification.Notification, error) {
	query := `
		SELECT id, event_id, user_id, type, entity_id, title, message_key, message_data, redirect_to, read_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification

	for rows.Next() {
		var (
			n        notification.Notification
			typ      string
			entityID *uuid.UUID
			data     []byte
		)

		if err := rows.Scan(
			&n.ID, &n.EventID, &n.UserID, &typ, &entityID, &n.Title, &n.MessageKey, &data, &n.RedirectTo, &n.ReadAt, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}

		n.Type = notification.Type(typ)

		if entityID != nil {
			n.EntityID = *entityID
		}

		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.MessageData); err != nil {
				return nil, fmt.Errorf("decoding message data: %w", err)
			}
		}

		out = append(out, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}

	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $1)
		WHERE id = $2 AND user_id = $3
	`

	res, err := s.db.ExecContext(ctx, query, at, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}

	if n == 0 {
		return notification.ErrNotFound
	}

	return nil
}
