package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrProductNotFound means no catalog row matched the given code.
var ErrProductNotFound = errors.New("product not found")

// Product is one catalog row, looked up by the short code buyers type in
// chat. Prices are integer cents.
type Product struct {
	TenantID   string
	Code       string
	Name       string
	PriceCents int64
}

// CartSummary is the open (unpaid) order total for one buyer.
type CartSummary struct {
	OrderCount int
	TotalCents int64
}

// ProductByCode resolves a buyer-typed product code for a tenant.
func (s *Store) ProductByCode(ctx context.Context, tenantID, code string) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, code, name, price_cents
		FROM products
		WHERE tenant_id = $1 AND code = $2 AND active = TRUE
	`, tenantID, code).Scan(&p.TenantID, &p.Code, &p.Name, &p.PriceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("model: product %s for %s: %w", code, tenantID, err)
	}
	return &p, nil
}

// OpenCart sums the buyer's unpaid orders for the FINALIZAR flow.
func (s *Store) OpenCart(ctx context.Context, tenantID, phone string) (*CartSummary, error) {
	var c CartSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM orders
		WHERE tenant_id = $1 AND buyer_phone = $2 AND status = 'open'
	`, tenantID, phone).Scan(&c.OrderCount, &c.TotalCents)
	if err != nil {
		return nil, fmt.Errorf("model: open cart for %s/%s: %w", tenantID, phone, err)
	}
	return &c, nil
}

// MarkOrdersPaid flips the given orders to paid and returns how many rows
// changed. Already-paid orders are skipped, which makes gateway webhook
// retries idempotent.
func (s *Store) MarkOrdersPaid(ctx context.Context, tenantID string, orderIDs []int64) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'paid', paid_at = NOW()
		WHERE tenant_id = $1 AND id = ANY($2) AND status <> 'paid'
	`, tenantID, pq.Array(orderIDs))
	if err != nil {
		return 0, fmt.Errorf("model: mark orders paid for %s: %w", tenantID, err)
	}
	return res.RowsAffected()
}

// BuyerPhoneForOrders returns the buyer phone shared by the given orders, or
// "" when the orders don't resolve to exactly one buyer.
func (s *Store) BuyerPhoneForOrders(ctx context.Context, tenantID string, orderIDs []int64) (string, error) {
	if len(orderIDs) == 0 {
		return "", nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT buyer_phone
		FROM orders
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, pq.Array(orderIDs))
	if err != nil {
		return "", fmt.Errorf("model: buyer phone for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return "", fmt.Errorf("model: scan buyer phone: %w", err)
		}
		phones = append(phones, p)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(phones) != 1 {
		return "", nil
	}
	return phones[0], nil
}

// OutboxMessage is one queued outbound notification. The worker drains these
// so the webhook path never touches a socket directly.
type OutboxMessage struct {
	ID        int64
	TenantID  string
	Phone     string
	Body      string
	Attempts  int
	CreatedAt time.Time
}

// EnqueueOutbox queues an outbound message for the dispatch worker.
func (s *Store) EnqueueOutbox(ctx context.Context, tenantID, phone, body string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_outbox (tenant_id, phone, body, status, attempts, created_at)
		VALUES ($1, $2, $3, 'pending', 0, NOW())
	`, tenantID, phone, body)
	if err != nil {
		return fmt.Errorf("model: enqueue outbox for %s: %w", tenantID, err)
	}
	return nil
}

// PendingOutbox fetches the oldest pending rows for dispatch.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, phone, body, attempts, created_at
		FROM message_outbox
		WHERE status = 'pending' AND attempts < 5
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("model: pending outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Phone, &m.Body, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("model: scan outbox row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkOutboxSent marks a row delivered.
func (s *Store) MarkOutboxSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_outbox SET status = 'sent', sent_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("model: mark outbox sent %d: %w", id, err)
	}
	return nil
}

// MarkOutboxFailed bumps the attempt counter; the row stays pending until the
// attempt ceiling in PendingOutbox excludes it.
func (s *Store) MarkOutboxFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_outbox SET attempts = attempts + 1 WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("model: mark outbox failed %d: %w", id, err)
	}
	return nil
}
