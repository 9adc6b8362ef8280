package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message is one append-only message-log row. Rows are never mutated or
// deleted here; retention is someone else's job.
type Message struct {
	ID        string
	TenantID  string
	Phone     string
	Body      string
	Direction string
	CreatedAt time.Time
}

// NewMessage builds a log row with a fresh id. The timestamp is the caller's
// so inbound rows keep the transport's delivery time.
func NewMessage(tenantID, phone, body, direction string, at time.Time) *Message {
	return &Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Phone:     phone,
		Body:      body,
		Direction: direction,
		CreatedAt: at.UTC(),
	}
}

// InsertMessage appends one row to the message log.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, phone, body, direction, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.TenantID, m.Phone, m.Body, m.Direction, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("model: insert message for %s: %w", m.TenantID, err)
	}
	return nil
}

// ListMessages returns the most recent rows for a tenant in insertion order.
func (s *Store) ListMessages(ctx context.Context, tenantID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, phone, body, direction, created_at
		FROM (
			SELECT id, tenant_id, phone, body, direction, created_at
			FROM messages
			WHERE tenant_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("model: list messages for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Phone, &m.Body, &m.Direction, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("model: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
