package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"zapbridge/config"
	"zapbridge/internal/helper"
	"zapbridge/internal/model"
	"zapbridge/internal/ws"
)

// TenantStore is the tenant integration config the manager reads and the
// device pairing state it writes back.
type TenantStore interface {
	ActiveIntegration(ctx context.Context, tenantID string) (*model.Integration, error)
	SaveDeviceJID(ctx context.Context, tenantID, jid string) error
	ClearDeviceJID(ctx context.Context, tenantID string) error
	ActiveIntegrations(ctx context.Context) ([]model.Integration, error)
}

// ProviderWhatsmeow marks socket-style integrations. Only these tenants get
// in-process sessions; REST-proxy tenants are handled upstream.
const ProviderWhatsmeow = "whatsmeow"

// Manager owns the session registry and drives every lifecycle transition.
// All transitions happen on transport event callbacks, which whatsmeow
// serializes per client; the registry and session mutexes only protect
// against cross-tenant reads (status endpoints, metrics).
type Manager struct {
	wa     config.WhatsAppConfig
	policy PolicyConfig

	registry  *Registry
	tenants   TenantStore
	relay     *Relay
	interp    *Interpreter
	hub       ws.RealtimePublisher
	container *sqlstore.Container
	waLogger  waLog.Logger

	// blocks is the process-wide rate-limit counter. It is global on
	// purpose: blocks are an IP-level condition, not a tenant-level one.
	blocks atomic.Int64
}

// Deps wires a Manager. Container and WALogger may be nil in tests that only
// exercise the policy/teardown paths with fake sockets.
type Deps struct {
	WhatsApp  config.WhatsAppConfig
	Policy    config.PolicyConfig
	Tenants   TenantStore
	Relay     *Relay
	Catalog   CatalogStore
	Hub       ws.RealtimePublisher
	Container *sqlstore.Container
	WALogger  waLog.Logger
}

func NewManager(d Deps) *Manager {
	if d.WhatsApp.BrowserName != "" {
		store.DeviceProps.Os = proto.String(d.WhatsApp.BrowserName)
	}
	return &Manager{
		wa: d.WhatsApp,
		policy: PolicyConfig{
			MaxAttempts:        d.Policy.MaxAttempts,
			RetryBase:          d.Policy.RetryBase,
			BlockBase:          d.Policy.BlockBase,
			BlockCapMultiplier: d.Policy.BlockCapMultiplier,
		},
		registry:  NewRegistry(),
		tenants:   d.Tenants,
		relay:     d.Relay,
		interp:    NewInterpreter(d.Catalog),
		hub:       d.Hub,
		container: d.Container,
		waLogger:  d.WALogger,
	}
}

// Registry exposes the session map for handlers and metrics.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// EnsureSession returns the tenant's ready session, or (re)establishes one.
// The returned session may still be connecting or waiting for a QR scan.
// Fails with ErrNoIntegration when the tenant has no active integration row;
// the session map is left untouched in that case.
func (m *Manager) EnsureSession(ctx context.Context, tenantID string) (*model.Session, error) {
	if sess, ok := m.registry.Get(tenantID); ok {
		// A manual or scheduled connect supersedes any pending retry timer
		// so two reconnect attempts never compete.
		sess.StopReconnectTimer()
		if sess.Status() == model.StatusReady {
			return sess, nil
		}
	}

	integ, err := m.tenants.ActiveIntegration(ctx, tenantID)
	if err != nil {
		if errors.Is(err, model.ErrIntegrationNotFound) {
			return nil, ErrNoIntegration
		}
		return nil, fmt.Errorf("load integration for %s: %w", tenantID, err)
	}
	if integ.Provider != ProviderWhatsmeow {
		return nil, ErrWrongProvider
	}

	device, err := m.deviceFor(ctx, integ)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, m.waLogger)
	client.EnableAutoReconnect = false // reconnects go through the policy

	// Reuse the existing session object so the attempt counter survives
	// reconnects; only fresh tenants get a new one.
	sess, existed := m.registry.Get(tenantID)
	if existed {
		sess.CancelQR()
		if old := sess.Transport(); old != nil {
			old.Disconnect()
		}
	} else {
		sess = model.NewSession(tenantID)
	}

	sess.Bind(client, client)
	sess.SetStatus(model.StatusConnecting)
	client.AddEventHandler(m.eventHandler(sess, client))

	if !existed {
		m.registry.Put(sess, m.teardown)
	}

	if client.Store.ID == nil {
		m.startQRPairing(sess, client)
	} else if err := client.Connect(); err != nil {
		sess.SetStatus(model.StatusDisconnected)
		m.publishStatus(sess)
		updateSessionGauge(m.registry)
		return nil, fmt.Errorf("connect tenant %s: %w", tenantID, err)
	}

	m.publishStatus(sess)
	updateSessionGauge(m.registry)
	return sess, nil
}

// ConnectAll re-establishes sessions for every previously paired tenant.
// Called once at startup when auto-connect is enabled.
func (m *Manager) ConnectAll(ctx context.Context) {
	integs, err := m.tenants.ActiveIntegrations(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list integrations for auto-connect")
		return
	}

	connected := 0
	for _, in := range integs {
		if !in.DeviceJID.Valid || in.DeviceJID.String == "" {
			continue // never paired, needs a manual QR flow
		}
		if _, err := m.EnsureSession(ctx, in.TenantID); err != nil {
			log.Warn().Err(err).Str("tenant", in.TenantID).Msg("auto-connect failed")
			continue
		}
		connected++
	}
	log.Info().Int("tenants", connected).Msg("auto-connect finished")
}

// SendMessage delivers one text message for a ready session. On success the
// message is appended to the log and the session's activity timestamp moves.
func (m *Manager) SendMessage(ctx context.Context, tenantID, phone, text string) error {
	sess, ok := m.registry.Get(tenantID)
	if !ok {
		return ErrSessionNotFound
	}
	if st := sess.Status(); st != model.StatusReady {
		return &NotReadyError{TenantID: tenantID, Status: st}
	}

	jid, err := helper.FormatPhoneNumber(phone)
	if err != nil {
		return fmt.Errorf("format phone: %w", err)
	}

	client := sess.WAClient()
	if client == nil {
		return &NotReadyError{TenantID: tenantID, Status: sess.Status()}
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send to %s: %w", jid.User, err)
	}

	sess.Touch()
	m.relay.RecordOutbound(tenantID, jid.User, text)
	messagesTotal.WithLabelValues(model.DirectionOut).Inc()
	return nil
}

// Disconnect tears the session down and wipes its credentials. The registry
// entry is removed before the socket is closed so the resulting transport
// events are dropped as stale.
func (m *Manager) Disconnect(ctx context.Context, tenantID string) error {
	sess, ok := m.registry.Delete(tenantID)
	if !ok {
		return ErrSessionNotFound
	}

	sess.StopReconnectTimer()
	sess.CancelQR()
	sess.SetStatus(model.StatusDisconnected)

	if sock := sess.Transport(); sock != nil {
		if err := sock.Logout(ctx); err != nil {
			log.Warn().Err(err).Str("tenant", tenantID).Msg("logout failed during disconnect")
		}
		sock.Disconnect()
	}

	m.wipeCredentials(ctx, sess)
	m.publishStatus(sess)
	updateSessionGauge(m.registry)

	log.Info().Str("tenant", tenantID).Msg("session disconnected and credentials cleared")
	return nil
}

// Session returns the tenant's session for status inspection.
func (m *Manager) Session(tenantID string) (*model.Session, error) {
	sess, ok := m.registry.Get(tenantID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Sessions snapshots every live session.
func (m *Manager) Sessions() []*model.Session {
	snap := m.registry.Snapshot()
	out := make([]*model.Session, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	return out
}

// deviceFor binds the tenant to its stored device credentials, or creates a
// fresh device for first-time pairing.
func (m *Manager) deviceFor(ctx context.Context, integ *model.Integration) (*store.Device, error) {
	if integ.DeviceJID.Valid && integ.DeviceJID.String != "" {
		jid, err := types.ParseJID(integ.DeviceJID.String)
		if err == nil {
			device, err := m.container.GetDevice(ctx, jid)
			if err != nil {
				return nil, fmt.Errorf("load device for %s: %w", integ.TenantID, err)
			}
			if device != nil {
				return device, nil
			}
		}
		// Stored JID is stale; fall through to a fresh pairing.
		log.Warn().Str("tenant", integ.TenantID).Str("jid", integ.DeviceJID.String).
			Msg("stored device not found, starting fresh pairing")
	}
	return m.container.NewDevice(), nil
}

// startQRPairing drives the QR challenge loop for an unpaired device. Runs in
// its own goroutine; the loop ends on scan success, timeout, or cancellation.
func (m *Manager) startQRPairing(sess *model.Session, client *whatsmeow.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), m.wa.QRTimeout)
	sess.SetCancelQR(cancel)

	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("tenant", sess.TenantID).Msg("failed to get QR channel")
		sess.SetStatus(model.StatusDisconnected)
		m.publishStatus(sess)
		return
	}

	go func() {
		defer cancel()

		if err := client.Connect(); err != nil {
			log.Error().Err(err).Str("tenant", sess.TenantID).Msg("connect for QR pairing failed")
			sess.SetStatus(model.StatusDisconnected)
			m.publishStatus(sess)
			return
		}

		for item := range qrChan {
			switch {
			case item.Event == "code":
				png, err := helper.RenderQR(item.Code)
				if err != nil {
					log.Error().Err(err).Str("tenant", sess.TenantID).Msg("QR render failed")
					png = nil
				}
				sess.SetQR(item.Code, png)
				m.publishStatus(sess)
				if m.hub == nil {
					continue
				}
				m.hub.Publish(ws.WsEvent{
					Event: ws.EventQRGenerated,
					Data: ws.QRGeneratedData{
						TenantID:  sess.TenantID,
						Code:      item.Code,
						Attempt:   sess.QRAttempts(),
						ExpiresAt: time.Now().Add(60 * time.Second),
					},
				})

			case item.Event == "success":
				// The Connected event finishes the transition to ready.
				return

			case item.Event == "timeout" || strings.HasPrefix(item.Event, "err-"):
				log.Warn().Str("tenant", sess.TenantID).Str("event", item.Event).Msg("QR pairing ended")
				sess.SetStatus(model.StatusDisconnected)
				m.publishStatus(sess)
				updateSessionGauge(m.registry)
				return
			}
		}
	}()
}

// eventHandler adapts transport events for one bound socket. Events from a
// socket that has since been superseded are dropped.
func (m *Manager) eventHandler(sess *model.Session, client *whatsmeow.Client) func(evt interface{}) {
	return func(evt interface{}) {
		if !m.current(sess, client) {
			return
		}

		switch v := evt.(type) {
		case *events.Connected:
			m.onOpen(sess, client)
		case *events.Message:
			m.onMessage(sess, v)
		case *events.LoggedOut:
			m.onClose(sess, client, ReasonLoggedOut)
		case *events.TemporaryBan:
			log.Warn().Str("tenant", sess.TenantID).Stringer("ban", v.Code).Msg("temporary ban")
			m.onClose(sess, client, ReasonBlocked)
		case *events.StreamReplaced:
			m.onClose(sess, client, ReasonStreamReplaced)
		case *events.Disconnected:
			m.onClose(sess, client, ReasonConnectionLost)
		}
	}
}

// current reports whether sess is still the registered session for its tenant
// and client is still its bound transport.
func (m *Manager) current(sess *model.Session, client model.Socket) bool {
	cur, ok := m.registry.Get(sess.TenantID)
	if !ok || cur != sess {
		return false
	}
	return sess.Transport() == client
}

func (m *Manager) onOpen(sess *model.Session, client *whatsmeow.Client) {
	jid := ""
	if client.Store.ID != nil {
		jid = client.Store.ID.String()
	}
	sess.MarkReady(jid)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.tenants.SaveDeviceJID(ctx, sess.TenantID, jid); err != nil {
		log.Error().Err(err).Str("tenant", sess.TenantID).Msg("failed to persist device jid")
	}
	if err := client.SendPresence(ctx, types.PresenceAvailable); err != nil {
		log.Warn().Err(err).Str("tenant", sess.TenantID).Msg("failed to send presence")
	}

	go m.heartbeat(sess, client)

	m.publishStatus(sess)
	updateSessionGauge(m.registry)
	log.Info().Str("tenant", sess.TenantID).Str("jid", jid).Msg("session ready")
}

// heartbeat keeps the phone-side presence fresh while the session is ready.
func (m *Manager) heartbeat(sess *model.Session, client *whatsmeow.Client) {
	ticker := time.NewTicker(m.wa.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !m.current(sess, client) || sess.Status() != model.StatusReady {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.SendPresence(ctx, types.PresenceAvailable)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("tenant", sess.TenantID).Msg("heartbeat presence failed")
		}
	}
}

func (m *Manager) onMessage(sess *model.Session, v *events.Message) {
	if v.Info.IsFromMe || v.Info.Chat.Server != types.DefaultUserServer {
		return
	}

	text := v.Message.GetConversation()
	if text == "" {
		text = v.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}

	phone := v.Info.Sender.User
	sess.Touch()
	m.relay.RecordInbound(sess.TenantID, phone, text, v.Info.Timestamp)
	messagesTotal.WithLabelValues(model.DirectionIn).Inc()

	if m.hub != nil {
		m.hub.Publish(ws.WsEvent{
			Event: ws.EventMessageReceived,
			Data: ws.MessageData{
				TenantID:  sess.TenantID,
				Phone:     phone,
				Body:      text,
				Direction: model.DirectionIn,
				Timestamp: v.Info.Timestamp,
			},
		})
	}

	// Command replies run off the event path so a slow catalog lookup never
	// stalls event delivery.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		reply, ok := m.interp.Reply(ctx, sess.TenantID, phone, text)
		if !ok {
			return
		}
		if err := m.SendMessage(ctx, sess.TenantID, phone, reply); err != nil {
			log.Error().Err(err).Str("tenant", sess.TenantID).Msg("command reply failed")
		}
	}()
}

// onClose runs the reconnection policy for a dropped transport and applies
// its verdict.
func (m *Manager) onClose(sess *model.Session, client model.Socket, reason CloseReason) {
	if !m.current(sess, client) {
		return
	}
	// Terminal states never re-enter the policy off late transport events.
	if st := sess.Status(); st == model.StatusBlocked || st == model.StatusAuthFailure {
		return
	}

	blocks := int(m.blocks.Load())
	if reason == ReasonBlocked {
		blocks = int(m.blocks.Add(1))
		globalBlocks.Inc()
	}

	act := Decide(reason, sess.Attempts(), blocks, m.policy)
	m.apply(sess, reason, act)
}

func (m *Manager) apply(sess *model.Session, reason CloseReason, act Action) {
	sess.SetStatus(act.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch {
	case act.Status == model.StatusAuthFailure:
		// Remove from the registry first so the teardown's transport events
		// are dropped, then wipe credentials exactly once.
		if cur, ok := m.registry.Get(sess.TenantID); ok && cur == sess {
			m.registry.Delete(sess.TenantID)
		}
		m.wipeCredentials(ctx, sess)
		if sock := sess.Transport(); sock != nil {
			sock.Disconnect()
		}
		log.Warn().Str("tenant", sess.TenantID).Msg("authentication expired, credentials purged")

	case act.TearDownAll:
		// A rate-limit block is an IP-level condition: suspend every session
		// in the process so reconnect storms don't amplify the block.
		m.suspendAll()
		m.wipeCredentials(ctx, sess)
		m.scheduleReconnect(sess, act.RetryAfter)
		log.Warn().Str("tenant", sess.TenantID).Dur("retry_after", act.RetryAfter).
			Int64("block_count", m.blocks.Load()).Msg("rate-limit block, all sessions suspended")

	case act.Status == model.StatusReconnecting:
		attempt := sess.IncAttempts()
		reconnectAttempts.Inc()
		m.scheduleReconnect(sess, act.RetryAfter)
		log.Info().Str("tenant", sess.TenantID).Int("attempt", attempt).
			Int("reason", int(reason)).Dur("retry_after", act.RetryAfter).Msg("reconnect scheduled")

	default:
		log.Warn().Str("tenant", sess.TenantID).Int("reason", int(reason)).
			Msg("session disconnected, automatic retries exhausted")
	}

	m.publishStatus(sess)
	updateSessionGauge(m.registry)
}

// suspendAll tears down every session's socket over a snapshot of the map.
func (m *Manager) suspendAll() {
	for _, s := range m.registry.Snapshot() {
		s.StopReconnectTimer()
		s.CancelQR()
		s.SetStatus(model.StatusBlocked)
		if sock := s.Transport(); sock != nil {
			sock.Disconnect()
		}
		m.publishStatus(s)
	}
}

// scheduleReconnect arms a cancellable timer that re-runs EnsureSession. Any
// previously armed timer for the session is replaced.
func (m *Manager) scheduleReconnect(sess *model.Session, after time.Duration) {
	if after <= 0 {
		return
	}
	timer := time.AfterFunc(after, func() {
		if _, err := m.EnsureSession(context.Background(), sess.TenantID); err != nil {
			log.Error().Err(err).Str("tenant", sess.TenantID).Msg("scheduled reconnect failed")
		}
	})
	sess.SetReconnectTimer(timer)
}

// teardown fully dismantles a superseded session.
func (m *Manager) teardown(old *model.Session) {
	old.StopReconnectTimer()
	old.CancelQR()
	if sock := old.Transport(); sock != nil {
		sock.Disconnect()
	}
}

// wipeCredentials deletes the persisted device credentials and the stored
// pairing, never partially: both stores are attempted even if one fails.
func (m *Manager) wipeCredentials(ctx context.Context, sess *model.Session) {
	if client := sess.WAClient(); client != nil && client.Store != nil && m.container != nil {
		if err := m.container.DeleteDevice(ctx, client.Store); err != nil {
			log.Error().Err(err).Str("tenant", sess.TenantID).Msg("failed to delete device store")
		}
	}
	if err := m.tenants.ClearDeviceJID(ctx, sess.TenantID); err != nil {
		log.Error().Err(err).Str("tenant", sess.TenantID).Msg("failed to clear stored pairing")
	}
}

func (m *Manager) publishStatus(sess *model.Session) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(ws.WsEvent{
		Event: ws.EventSessionStatus,
		Data: ws.SessionStatusData{
			TenantID: sess.TenantID,
			Status:   string(sess.Status()),
			JID:      sess.JID(),
			Attempts: sess.Attempts(),
		},
	})
}
