package service

import (
	"errors"
	"fmt"

	"zapbridge/internal/model"
)

var (
	// ErrNoIntegration means the tenant has no active WhatsApp integration
	// row. Surfaced to callers as a 4xx, never retried.
	ErrNoIntegration = errors.New("tenant has no active whatsapp integration")

	// ErrSessionNotFound means no session exists for the tenant.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWrongProvider means the tenant's integration is the REST-proxy
	// style, which never gets an in-process socket session.
	ErrWrongProvider = errors.New("tenant integration is not socket-based")
)

// NotReadyError is returned when an action needs a ready session. It carries
// the current status so the caller can poll or wait.
type NotReadyError struct {
	TenantID string
	Status   model.SessionStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session for tenant %s is not ready (status: %s)", e.TenantID, e.Status)
}
