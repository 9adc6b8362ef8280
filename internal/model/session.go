package model

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
)

// SessionStatus is the lifecycle state of one tenant's WhatsApp connection.
type SessionStatus string

const (
	StatusUninitialized SessionStatus = "uninitialized"
	StatusConnecting    SessionStatus = "connecting"
	StatusQRPending     SessionStatus = "qr_pending"
	StatusReady         SessionStatus = "ready"
	StatusReconnecting  SessionStatus = "reconnecting"
	StatusBlocked       SessionStatus = "blocked"
	StatusAuthFailure   SessionStatus = "auth_failure"
	StatusDisconnected  SessionStatus = "disconnected"
)

// Socket is the subset of the whatsmeow client the lifecycle code needs for
// teardown decisions. *whatsmeow.Client satisfies it; tests substitute fakes.
type Socket interface {
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	IsConnected() bool
}

// Session is the live (or pending) WhatsApp connection state for one tenant.
// All mutable fields are guarded by an internal mutex; socket event callbacks
// are the only writers for a given tenant.
type Session struct {
	TenantID string

	mu             sync.Mutex
	client         *whatsmeow.Client
	socket         Socket
	jid            string
	status         SessionStatus
	qrCode         string
	qrImage        []byte
	qrAttempts     int
	attempts       int
	lastActivityAt time.Time

	reconnectTimer *time.Timer
	cancelQR       context.CancelFunc
}

// NewSession returns a session in the uninitialized state.
func NewSession(tenantID string) *Session {
	return &Session{
		TenantID: tenantID,
		status:   StatusUninitialized,
	}
}

// Bind attaches a transport to the session, replacing any previous one. The
// session object survives reconnect attempts; only the socket is swapped.
// client is the concrete handle for sending and QR pairing, socket the same
// object behind the teardown interface (split so tests can fake it).
func (s *Session) Bind(client *whatsmeow.Client, socket Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.socket = socket
}

// WAClient returns the concrete transport handle, nil for unbound sessions.
func (s *Session) WAClient() *whatsmeow.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Transport returns the bound socket. Event handlers compare this against the
// socket that emitted an event to drop events from superseded sockets.
func (s *Session) Transport() Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) SetStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Session) JID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jid
}

func (s *Session) SetJID(jid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jid = jid
}

// SetQR stores the current QR challenge and moves the session to qr_pending.
// The QR attempt counter is separate from the reconnect attempt counter.
func (s *Session) SetQR(code string, image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusQRPending
	s.qrCode = code
	s.qrImage = image
	s.qrAttempts++
}

// QR returns the pending QR payload. ok is false unless the session is in
// qr_pending.
func (s *Session) QR() (code string, image []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusQRPending {
		return "", nil, false
	}
	return s.qrCode, s.qrImage, true
}

func (s *Session) QRAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qrAttempts
}

// MarkReady transitions to ready: QR state is cleared and the reconnect
// attempt counter resets.
func (s *Session) MarkReady(jid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusReady
	s.jid = jid
	s.qrCode = ""
	s.qrImage = nil
	s.attempts = 0
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) IncAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

// Touch records successful inbound or outbound traffic.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// SetReconnectTimer replaces any pending reconnect timer. The previous timer,
// if still armed, is stopped first so two retries never race for one tenant.
func (s *Session) SetReconnectTimer(t *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = t
}

// StopReconnectTimer cancels a pending scheduled reconnect, if any.
func (s *Session) StopReconnectTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// SetCancelQR stores the cancel function of an in-flight QR pairing loop.
func (s *Session) SetCancelQR(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelQR != nil {
		s.cancelQR()
	}
	s.cancelQR = cancel
}

// CancelQR aborts an in-flight QR pairing loop, if any.
func (s *Session) CancelQR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelQR != nil {
		s.cancelQR()
		s.cancelQR = nil
	}
}
