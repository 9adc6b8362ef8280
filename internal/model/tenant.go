package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrIntegrationNotFound means the tenant has no active WhatsApp integration
// row. Session creation must fail without touching the session map.
var ErrIntegrationNotFound = errors.New("no active whatsapp integration for tenant")

// Integration is one tenant's WhatsApp integration config. Provider is
// "whatsmeow" for socket-based tenants; REST-proxy tenants carry a different
// provider and are never given an in-process session.
type Integration struct {
	TenantID  string
	Provider  string
	Active    bool
	DeviceJID sql.NullString
	CreatedAt time.Time
}

// ActiveIntegration returns the tenant's active WhatsApp integration row, or
// ErrIntegrationNotFound.
func (s *Store) ActiveIntegration(ctx context.Context, tenantID string) (*Integration, error) {
	query := `
		SELECT tenant_id, provider, active, device_jid, created_at
		FROM whatsapp_integrations
		WHERE tenant_id = $1 AND active = TRUE
	`

	var in Integration
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&in.TenantID, &in.Provider, &in.Active, &in.DeviceJID, &in.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("model: query integration for %s: %w", tenantID, err)
	}
	return &in, nil
}

// SaveDeviceJID records the paired device JID after a successful connect so
// the session can be rebound to the same credentials on restart.
func (s *Store) SaveDeviceJID(ctx context.Context, tenantID, jid string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE whatsapp_integrations
		SET device_jid = $1
		WHERE tenant_id = $2
	`, jid, tenantID)
	if err != nil {
		return fmt.Errorf("model: save device jid for %s: %w", tenantID, err)
	}
	return nil
}

// ClearDeviceJID removes the stored pairing. Called when credentials are
// wiped after an auth failure or an explicit disconnect.
func (s *Store) ClearDeviceJID(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE whatsapp_integrations
		SET device_jid = NULL
		WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return fmt.Errorf("model: clear device jid for %s: %w", tenantID, err)
	}
	return nil
}

// ActiveIntegrations lists every active socket-style integration, used at
// startup to reconnect previously paired tenants.
func (s *Store) ActiveIntegrations(ctx context.Context) ([]Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, provider, active, device_jid, created_at
		FROM whatsapp_integrations
		WHERE active = TRUE AND provider = 'whatsmeow'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("model: list integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.TenantID, &in.Provider, &in.Active, &in.DeviceJID, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("model: scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
