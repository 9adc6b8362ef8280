package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"zapbridge/internal/model"
)

// MessageStore is the append-only message log the relay writes to.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *model.Message) error
}

// Relay persists every inbound and outbound message. Writes go through a
// buffered queue drained by a single goroutine so recording never blocks the
// socket's event delivery. When the queue is full the row is dropped with a
// warning; the log is best-effort by contract.
type Relay struct {
	store MessageStore
	queue chan *model.Message
	done  chan struct{}
}

func NewRelay(store MessageStore, queueSize int) *Relay {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Relay{
		store: store,
		queue: make(chan *model.Message, queueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. It drains the queue until ctx is
// cancelled, then flushes whatever is buffered.
func (r *Relay) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case m := <-r.queue:
				r.write(m)
			case <-ctx.Done():
				for {
					select {
					case m := <-r.queue:
						r.write(m)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the writer goroutine has flushed and exited.
func (r *Relay) Wait() {
	<-r.done
}

func (r *Relay) write(m *model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.InsertMessage(ctx, m); err != nil {
		log.Error().Err(err).Str("tenant", m.TenantID).Str("direction", m.Direction).
			Msg("failed to persist message")
	}
}

// RecordInbound appends a received message. Fire-and-forget.
func (r *Relay) RecordInbound(tenantID, phone, body string, at time.Time) {
	r.enqueue(model.NewMessage(tenantID, phone, body, model.DirectionIn, at))
}

// RecordOutbound appends a sent message. Fire-and-forget.
func (r *Relay) RecordOutbound(tenantID, phone, body string) {
	r.enqueue(model.NewMessage(tenantID, phone, body, model.DirectionOut, time.Now()))
}

func (r *Relay) enqueue(m *model.Message) {
	select {
	case r.queue <- m:
	default:
		log.Warn().Str("tenant", m.TenantID).Msg("relay queue full, dropping message record")
	}
}

// CatalogStore is what the command interpreter looks things up against.
type CatalogStore interface {
	ProductByCode(ctx context.Context, tenantID, code string) (*model.Product, error)
	OpenCart(ctx context.Context, tenantID, phone string) (*model.CartSummary, error)
}

// Interpreter turns inbound buyer texts into replies. It is a state-free
// lookup: a numeric product code answers with the product, the FINALIZAR
// keyword answers with the open cart total. Anything else gets no reply.
type Interpreter struct {
	catalog CatalogStore
}

func NewInterpreter(catalog CatalogStore) *Interpreter {
	return &Interpreter{catalog: catalog}
}

// Reply returns the response for an inbound text, or ok=false when the text
// is not a command.
func (i *Interpreter) Reply(ctx context.Context, tenantID, phone, body string) (string, bool) {
	text := strings.TrimSpace(body)
	if text == "" {
		return "", false
	}

	if strings.EqualFold(text, "finalizar") {
		cart, err := i.catalog.OpenCart(ctx, tenantID, phone)
		if err != nil {
			log.Error().Err(err).Str("tenant", tenantID).Msg("open cart lookup failed")
			return "", false
		}
		if cart.OrderCount == 0 {
			return "Você não tem pedidos em aberto.", true
		}
		return fmt.Sprintf("Seu pedido: %d item(ns), total %s. Em instantes enviaremos o link de pagamento.",
			cart.OrderCount, FormatBRL(cart.TotalCents)), true
	}

	if isDigits(text) {
		p, err := i.catalog.ProductByCode(ctx, tenantID, text)
		if err != nil {
			if err == model.ErrProductNotFound {
				return fmt.Sprintf("Não encontramos o produto %s. Confira o código e tente novamente.", text), true
			}
			log.Error().Err(err).Str("tenant", tenantID).Str("code", text).Msg("product lookup failed")
			return "", false
		}
		return fmt.Sprintf("%s: %s. Responda FINALIZAR para fechar o pedido.", p.Name, FormatBRL(p.PriceCents)), true
	}

	return "", false
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

// FormatBRL renders integer cents as a BRL amount.
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
