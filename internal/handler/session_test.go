package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapbridge/config"
	"zapbridge/internal/model"
	"zapbridge/internal/service"
)

type stubTenants struct{}

func (stubTenants) ActiveIntegration(context.Context, string) (*model.Integration, error) {
	return nil, model.ErrIntegrationNotFound
}
func (stubTenants) SaveDeviceJID(context.Context, string, string) error { return nil }
func (stubTenants) ClearDeviceJID(context.Context, string) error        { return nil }
func (stubTenants) ActiveIntegrations(context.Context) ([]model.Integration, error) {
	return nil, nil
}

type stubMessages struct{}

func (stubMessages) InsertMessage(context.Context, *model.Message) error { return nil }

type stubCatalog struct{}

func (stubCatalog) ProductByCode(context.Context, string, string) (*model.Product, error) {
	return nil, model.ErrProductNotFound
}
func (stubCatalog) OpenCart(context.Context, string, string) (*model.CartSummary, error) {
	return &model.CartSummary{}, nil
}

type stubSocket struct{}

func (stubSocket) Connect() error               { return nil }
func (stubSocket) Disconnect()                  {}
func (stubSocket) Logout(context.Context) error { return nil }
func (stubSocket) IsConnected() bool            { return true }

func newTestHandler() (*SessionHandler, *service.Manager) {
	mgr := service.NewManager(service.Deps{
		WhatsApp: config.WhatsAppConfig{QRTimeout: time.Minute, HeartbeatInterval: time.Hour},
		Policy: config.PolicyConfig{
			MaxAttempts:        3,
			RetryBase:          time.Hour,
			BlockBase:          time.Hour,
			BlockCapMultiplier: 6,
		},
		Tenants: stubTenants{},
		Relay:   service.NewRelay(stubMessages{}, 8),
		Catalog: stubCatalog{},
	})
	return NewSessionHandler(mgr), mgr
}

func installReadySession(mgr *service.Manager, tenantID string) *model.Session {
	sess := model.NewSession(tenantID)
	sess.Bind(nil, stubSocket{})
	sess.MarkReady(tenantID + "@s.whatsapp.net")
	mgr.Registry().Put(sess, nil)
	return sess
}

func doRequest(handlerFn echo.HandlerFunc, method, path, tenantID, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if tenantID != "" {
		c.SetParamNames("tenantId")
		c.SetParamValues(tenantID)
	}
	_ = handlerFn(c)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestConnectNoIntegration(t *testing.T) {
	h, _ := newTestHandler()

	rec := doRequest(h.Connect, http.MethodPost, "/connect/tenant-a", "tenant-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "NO_INTEGRATION", errBody["code"])
}

func TestStatusNotFound(t *testing.T) {
	h, _ := newTestHandler()

	rec := doRequest(h.Status, http.MethodGet, "/status/tenant-a", "tenant-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusReady(t *testing.T) {
	h, mgr := newTestHandler()
	installReadySession(mgr, "tenant-a")

	rec := doRequest(h.Status, http.MethodGet, "/status/tenant-a", "tenant-a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "ready", data["status"])
	assert.Equal(t, "tenant-a@s.whatsapp.net", data["jid"])
}

func TestQRNotPending(t *testing.T) {
	h, mgr := newTestHandler()
	installReadySession(mgr, "tenant-a")

	rec := doRequest(h.QR, http.MethodGet, "/qr/tenant-a", "tenant-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeEnvelope(t, rec)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "QR_NOT_PENDING", errBody["code"])
}

func TestQRPendingJSON(t *testing.T) {
	h, mgr := newTestHandler()
	sess := model.NewSession("tenant-a")
	sess.Bind(nil, stubSocket{})
	sess.SetQR("2@challenge", []byte{0x89, 0x50})
	mgr.Registry().Put(sess, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/qr/tenant-a?format=json", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("tenantId")
	c.SetParamValues("tenant-a")
	require.NoError(t, h.QR(c))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "2@challenge", data["code"])
	assert.Equal(t, float64(1), data["attempt"])
}

func TestQRPendingPNG(t *testing.T) {
	h, mgr := newTestHandler()
	sess := model.NewSession("tenant-a")
	sess.Bind(nil, stubSocket{})
	sess.SetQR("2@challenge", []byte{0x89, 0x50, 0x4e, 0x47})
	mgr.Registry().Put(sess, nil)

	rec := doRequest(h.QR, http.MethodGet, "/qr/tenant-a", "tenant-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, rec.Body.Bytes())
}

func TestSendNotReady(t *testing.T) {
	h, mgr := newTestHandler()
	sess := installReadySession(mgr, "tenant-a")
	sess.SetStatus(model.StatusReconnecting)

	rec := doRequest(h.Send, http.MethodPost, "/send/tenant-a", "tenant-a",
		`{"phone":"5531998765432","message":"oi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	body := decodeEnvelope(t, rec)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "NOT_READY", errBody["code"])
	assert.Contains(t, errBody["detail"], "reconnecting")
}

func TestSendValidation(t *testing.T) {
	h, _ := newTestHandler()

	rec := doRequest(h.Send, http.MethodPost, "/send/tenant-a", "tenant-a", `{"phone":"5531998765432"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendSessionNotFound(t *testing.T) {
	h, _ := newTestHandler()

	rec := doRequest(h.Send, http.MethodPost, "/send/tenant-a", "tenant-a",
		`{"phone":"5531998765432","message":"oi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisconnectNotFound(t *testing.T) {
	h, _ := newTestHandler()

	rec := doRequest(h.Disconnect, http.MethodPost, "/disconnect/tenant-a", "tenant-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessions(t *testing.T) {
	h, mgr := newTestHandler()
	installReadySession(mgr, "tenant-a")
	installReadySession(mgr, "tenant-b")

	rec := doRequest(h.List, http.MethodGet, "/sessions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])
}
