package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientWants(t *testing.T) {
	admin := &Client{TenantID: ""}
	tenantA := &Client{TenantID: "tenant-a"}

	eventA := WsEvent{Event: EventSessionStatus, Data: SessionStatusData{TenantID: "tenant-a"}}
	eventB := WsEvent{Event: EventQRGenerated, Data: QRGeneratedData{TenantID: "tenant-b"}}
	msgA := WsEvent{Event: EventMessageReceived, Data: MessageData{TenantID: "tenant-a"}}

	assert.True(t, admin.wants(eventA), "admin stream sees everything")
	assert.True(t, admin.wants(eventB))

	assert.True(t, tenantA.wants(eventA))
	assert.True(t, tenantA.wants(msgA))
	assert.False(t, tenantA.wants(eventB), "tenant streams are isolated")
}

func TestHubBroadcastFiltering(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := &Client{hub: hub, TenantID: "tenant-a", send: make(chan WsEvent, 4)}
	b := &Client{hub: hub, TenantID: "tenant-b", send: make(chan WsEvent, 4)}
	hub.Register(a)
	hub.Register(b)

	hub.Publish(WsEvent{Event: EventSessionStatus, Data: SessionStatusData{TenantID: "tenant-a", Status: "ready"}})

	select {
	case evt := <-a.send:
		assert.Equal(t, EventSessionStatus, evt.Event)
		assert.False(t, evt.Timestamp.IsZero(), "publish stamps the event")
	case <-time.After(time.Second):
		t.Fatal("tenant-a client never received its event")
	}

	select {
	case evt := <-b.send:
		t.Fatalf("tenant-b received foreign event %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := &Client{hub: hub, send: make(chan WsEvent, 1)}
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, open := <-c.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub() // Run never started, broadcast buffer will fill

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(WsEvent{Event: EventSessionStatus})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}
