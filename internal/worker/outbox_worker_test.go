package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"zapbridge/internal/model"
	"zapbridge/internal/service"
)

type fakeOutbox struct {
	pending []model.OutboxMessage
	sent    []int64
	failed  []int64
}

func (f *fakeOutbox) PendingOutbox(context.Context, int) ([]model.OutboxMessage, error) {
	return f.pending, nil
}

func (f *fakeOutbox) MarkOutboxSent(_ context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkOutboxFailed(_ context.Context, id int64) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeSender struct {
	errs map[string]error
	sent []string
}

func (f *fakeSender) SendMessage(_ context.Context, tenantID, phone, text string) error {
	if err, ok := f.errs[tenantID]; ok {
		return err
	}
	f.sent = append(f.sent, tenantID+":"+text)
	return nil
}

func TestOutboxWorkerDrain(t *testing.T) {
	store := &fakeOutbox{pending: []model.OutboxMessage{
		{ID: 1, TenantID: "tenant-a", Phone: "5531998765432", Body: "confirmado"},
		{ID: 2, TenantID: "tenant-b", Phone: "5531998765431", Body: "enviado"},
	}}
	sender := &fakeSender{}

	w := NewOutboxWorker(store, sender, time.Second, 20)
	w.drain(context.Background())

	assert.Equal(t, []int64{1, 2}, store.sent)
	assert.Empty(t, store.failed)
	assert.Equal(t, []string{"tenant-a:confirmado", "tenant-b:enviado"}, sender.sent)
}

func TestOutboxWorkerDefersWhenSessionDown(t *testing.T) {
	store := &fakeOutbox{pending: []model.OutboxMessage{
		{ID: 1, TenantID: "tenant-a", Phone: "5531998765432", Body: "confirmado"},
		{ID: 2, TenantID: "tenant-b", Phone: "5531998765431", Body: "enviado"},
	}}
	sender := &fakeSender{errs: map[string]error{
		"tenant-a": service.ErrSessionNotFound,
		"tenant-b": &service.NotReadyError{TenantID: "tenant-b", Status: model.StatusReconnecting},
	}}

	w := NewOutboxWorker(store, sender, time.Second, 20)
	w.drain(context.Background())

	// Down sessions come back; the rows wait without burning attempts.
	assert.Empty(t, store.sent)
	assert.Empty(t, store.failed)
}

func TestOutboxWorkerBumpsAttemptsOnSendFailure(t *testing.T) {
	store := &fakeOutbox{pending: []model.OutboxMessage{
		{ID: 7, TenantID: "tenant-a", Phone: "5531998765432", Body: "confirmado", Attempts: 2},
	}}
	sender := &fakeSender{errs: map[string]error{
		"tenant-a": errors.New("websocket write failed"),
	}}

	w := NewOutboxWorker(store, sender, time.Second, 20)
	w.drain(context.Background())

	assert.Empty(t, store.sent)
	assert.Equal(t, []int64{7}, store.failed)
}
