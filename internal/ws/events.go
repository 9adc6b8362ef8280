package ws

import "time"

// Event names pushed to dashboard clients.
const (
	EventQRGenerated     = "qr.generated"
	EventSessionStatus   = "session.status_changed"
	EventMessageReceived = "message.received"
)

// WsEvent is the envelope for every realtime event.
type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// QRGeneratedData is pushed whenever a new QR challenge is issued.
type QRGeneratedData struct {
	TenantID  string    `json:"tenant_id"`
	Code      string    `json:"code"`
	Attempt   int       `json:"attempt"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStatusData is pushed on every lifecycle transition.
type SessionStatusData struct {
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
	JID      string `json:"jid,omitempty"`
	Attempts int    `json:"attempts"`
}

// MessageData is pushed for relayed inbound messages.
type MessageData struct {
	TenantID  string    `json:"tenant_id"`
	Phone     string    `json:"phone"`
	Body      string    `json:"body"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// RealtimePublisher is what services hold instead of the concrete Hub.
type RealtimePublisher interface {
	Publish(event WsEvent)
}
