package service

import (
	"time"

	"zapbridge/internal/model"
)

// CloseReason classifies why the transport dropped. Values mirror the
// WhatsApp Web status codes the bridges have always keyed on; transport
// events are mapped onto these so the policy never imports library constants.
type CloseReason int

const (
	// ReasonConnectionLost covers plain stream drops and timeouts.
	ReasonConnectionLost CloseReason = 0
	// ReasonLoggedOut is the 401-equivalent: the phone unlinked this device.
	ReasonLoggedOut CloseReason = 401
	// ReasonBlocked is the 405-equivalent: a rate-limit / temporary ban.
	ReasonBlocked CloseReason = 405
	// ReasonStreamReplaced means another socket took over the same creds.
	ReasonStreamReplaced CloseReason = 440
)

// Action is the policy's verdict for one disconnect. The caller performs all
// side effects: scheduling, credential deletion, socket teardown.
type Action struct {
	Status           model.SessionStatus
	RetryAfter       time.Duration // zero means no automatic retry
	ClearCredentials bool
	TearDownAll      bool // blocked: defensively suspend every session in the process
}

// PolicyConfig holds the backoff constants. See config.PolicyConfig.
type PolicyConfig struct {
	MaxAttempts        int
	RetryBase          time.Duration
	BlockBase          time.Duration
	BlockCapMultiplier int
}

// Decide maps a disconnect reason plus the session's consecutive attempt
// count (and the process-wide block counter) to the next action. Pure and
// deterministic.
func Decide(reason CloseReason, attempts, blockCount int, cfg PolicyConfig) Action {
	switch reason {
	case ReasonLoggedOut:
		// Terminal. The caller must delete persisted credentials and drop
		// the session; the tenant has to pair again.
		return Action{
			Status:           model.StatusAuthFailure,
			ClearCredentials: true,
		}

	case ReasonBlocked:
		// Shared-IP rate limit. Backoff escalates with every block the
		// process has seen, capped at the configured multiplier.
		mult := blockCount
		if mult < 1 {
			mult = 1
		}
		if mult > cfg.BlockCapMultiplier {
			mult = cfg.BlockCapMultiplier
		}
		return Action{
			Status:           model.StatusBlocked,
			RetryAfter:       cfg.BlockBase * time.Duration(mult),
			ClearCredentials: true,
			TearDownAll:      true,
		}

	default:
		if attempts >= cfg.MaxAttempts {
			// Out of automatic retries; a manual connect re-triggers.
			return Action{Status: model.StatusDisconnected}
		}
		return Action{
			Status:     model.StatusReconnecting,
			RetryAfter: cfg.RetryBase * time.Duration(attempts+1),
		}
	}
}
