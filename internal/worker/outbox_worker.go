package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"zapbridge/internal/model"
	"zapbridge/internal/service"
)

// OutboxStore is the queue the worker drains.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64) error
}

// Sender is the message delivery side of the session manager.
type Sender interface {
	SendMessage(ctx context.Context, tenantID, phone, text string) error
}

// OutboxWorker delivers queued notifications through the session manager.
// Webhook handlers only ever enqueue; actual sending happens here so a tenant
// whose session is down does not fail the gateway callback.
type OutboxWorker struct {
	store    OutboxStore
	manager  Sender
	interval time.Duration
	batch    int
}

func NewOutboxWorker(store OutboxStore, manager Sender, interval time.Duration, batch int) *OutboxWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 20
	}
	return &OutboxWorker{store: store, manager: manager, interval: interval, batch: batch}
}

// Run drains the outbox on a fixed interval until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Int("batch", w.batch).Msg("outbox worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *OutboxWorker) drain(ctx context.Context) {
	pending, err := w.store.PendingOutbox(ctx, w.batch)
	if err != nil {
		log.Error().Err(err).Msg("outbox fetch failed")
		return
	}

	for _, m := range pending {
		if ctx.Err() != nil {
			return
		}
		w.dispatch(ctx, m)
	}
}

func (w *OutboxWorker) dispatch(ctx context.Context, m model.OutboxMessage) {
	err := w.manager.SendMessage(ctx, m.TenantID, m.Phone, m.Body)
	if err == nil {
		if err := w.store.MarkOutboxSent(ctx, m.ID); err != nil {
			log.Error().Err(err).Int64("id", m.ID).Msg("failed to mark outbox row sent")
		}
		return
	}

	// A session that is merely down will come back; leave the row pending
	// without burning an attempt.
	var notReady *service.NotReadyError
	if errors.Is(err, service.ErrSessionNotFound) || errors.As(err, &notReady) {
		log.Debug().Str("tenant", m.TenantID).Int64("id", m.ID).Msg("session not ready, outbox row deferred")
		return
	}

	log.Warn().Err(err).Str("tenant", m.TenantID).Int64("id", m.ID).Int("attempts", m.Attempts).
		Msg("outbox dispatch failed")
	if err := w.store.MarkOutboxFailed(ctx, m.ID); err != nil {
		log.Error().Err(err).Int64("id", m.ID).Msg("failed to bump outbox attempts")
	}
}
