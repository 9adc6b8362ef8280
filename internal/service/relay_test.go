package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapbridge/internal/model"
)

type memMessageStore struct {
	mu   sync.Mutex
	rows []*model.Message
}

func (m *memMessageStore) InsertMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, msg)
	return nil
}

func (m *memMessageStore) all() []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Message, len(m.rows))
	copy(out, m.rows)
	return out
}

func TestRelayRecordsBothDirections(t *testing.T) {
	store := &memMessageStore{}
	relay := NewRelay(store, 16)

	ctx, cancel := context.WithCancel(context.Background())
	relay.Start(ctx)

	sent := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	relay.RecordInbound("tenant-a", "5531998765432", "ola", sent)
	relay.RecordOutbound("tenant-a", "5531998765432", "bem-vindo")

	cancel()
	relay.Wait()

	rows := store.all()
	require.Len(t, rows, 2)

	in := rows[0]
	assert.Equal(t, "tenant-a", in.TenantID)
	assert.Equal(t, model.DirectionIn, in.Direction)
	assert.Equal(t, "ola", in.Body)
	assert.Equal(t, sent, in.CreatedAt, "inbound rows keep the transport timestamp")
	assert.NotEmpty(t, in.ID)

	out := rows[1]
	assert.Equal(t, model.DirectionOut, out.Direction)
	assert.Equal(t, "bem-vindo", out.Body)
}

func TestRelayFlushesOnShutdown(t *testing.T) {
	store := &memMessageStore{}
	relay := NewRelay(store, 64)

	// Enqueue before the writer even starts; everything must still land.
	for i := 0; i < 10; i++ {
		relay.RecordOutbound("tenant-a", "5531998765432", "msg")
	}

	ctx, cancel := context.WithCancel(context.Background())
	relay.Start(ctx)
	cancel()
	relay.Wait()

	assert.Len(t, store.all(), 10)
}

type memCatalog struct {
	products map[string]*model.Product
	cart     *model.CartSummary
}

func (m *memCatalog) ProductByCode(_ context.Context, _, code string) (*model.Product, error) {
	if p, ok := m.products[code]; ok {
		return p, nil
	}
	return nil, model.ErrProductNotFound
}

func (m *memCatalog) OpenCart(_ context.Context, _, _ string) (*model.CartSummary, error) {
	if m.cart != nil {
		return m.cart, nil
	}
	return &model.CartSummary{}, nil
}

func TestInterpreterProductLookup(t *testing.T) {
	interp := NewInterpreter(&memCatalog{
		products: map[string]*model.Product{
			"1042": {Code: "1042", Name: "Vestido Floral", PriceCents: 12990},
		},
	})

	reply, ok := interp.Reply(context.Background(), "tenant-a", "5531998765432", "1042")
	require.True(t, ok)
	assert.Contains(t, reply, "Vestido Floral")
	assert.Contains(t, reply, "R$ 129,90")
}

func TestInterpreterProductNotFound(t *testing.T) {
	interp := NewInterpreter(&memCatalog{})

	reply, ok := interp.Reply(context.Background(), "tenant-a", "5531998765432", "9999")
	require.True(t, ok)
	assert.Contains(t, reply, "9999")
	assert.Contains(t, reply, "Não encontramos")
}

func TestInterpreterFinalizar(t *testing.T) {
	interp := NewInterpreter(&memCatalog{
		cart: &model.CartSummary{OrderCount: 3, TotalCents: 45750},
	})

	for _, text := range []string{"finalizar", "FINALIZAR", "Finalizar", "  finalizar  "} {
		reply, ok := interp.Reply(context.Background(), "tenant-a", "5531998765432", text)
		require.True(t, ok, "input %q", text)
		assert.Contains(t, reply, "3 item(ns)")
		assert.Contains(t, reply, "R$ 457,50")
	}
}

func TestInterpreterFinalizarEmptyCart(t *testing.T) {
	interp := NewInterpreter(&memCatalog{})

	reply, ok := interp.Reply(context.Background(), "tenant-a", "5531998765432", "finalizar")
	require.True(t, ok)
	assert.Contains(t, reply, "não tem pedidos")
}

func TestInterpreterIgnoresFreeText(t *testing.T) {
	interp := NewInterpreter(&memCatalog{})

	for _, text := range []string{"oi, tudo bem?", "quero o 10 azul", "", "   ", "abc123"} {
		_, ok := interp.Reply(context.Background(), "tenant-a", "5531998765432", text)
		assert.False(t, ok, "input %q must get no reply", text)
	}
}

func TestFormatBRL(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "R$ 0,00"},
		{5, "R$ 0,05"},
		{100, "R$ 1,00"},
		{12990, "R$ 129,90"},
		{100000, "R$ 1000,00"},
		{-2550, "-R$ 25,50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBRL(tt.cents), "cents=%d", tt.cents)
	}
}
