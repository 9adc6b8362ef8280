package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"zapbridge/internal/model"
	"zapbridge/internal/service"
)

// SessionHandler is the HTTP control surface over the session manager.
type SessionHandler struct {
	manager *service.Manager
}

func NewSessionHandler(manager *service.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

type sessionResp struct {
	TenantID       string `json:"tenantId"`
	Status         string `json:"status"`
	JID            string `json:"jid,omitempty"`
	Attempts       int    `json:"attempts"`
	QRAttempts     int    `json:"qrAttempts"`
	LastActivityAt string `json:"lastActivityAt,omitempty"`
}

func toSessionResp(s *model.Session) sessionResp {
	resp := sessionResp{
		TenantID:   s.TenantID,
		Status:     string(s.Status()),
		JID:        s.JID(),
		Attempts:   s.Attempts(),
		QRAttempts: s.QRAttempts(),
	}
	if at := s.LastActivityAt(); !at.IsZero() {
		resp.LastActivityAt = at.Format(time.RFC3339)
	}
	return resp
}

// POST /connect/:tenantId
func (h *SessionHandler) Connect(c echo.Context) error {
	tenantID := c.Param("tenantId")

	sess, err := h.manager.EnsureSession(c.Request().Context(), tenantID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoIntegration):
			return ErrorResponse(c, http.StatusNotFound, "Tenant has no active WhatsApp integration", "NO_INTEGRATION", "")
		case errors.Is(err, service.ErrWrongProvider):
			return ErrorResponse(c, http.StatusBadRequest, "Tenant integration is not socket-based", "WRONG_PROVIDER", "")
		default:
			return ErrorResponse(c, http.StatusBadGateway, "Failed to establish session", "CONNECT_FAILED", err.Error())
		}
	}

	return SuccessResponse(c, http.StatusOK, "Session ensured", toSessionResp(sess))
}

// GET /status/:tenantId
func (h *SessionHandler) Status(c echo.Context) error {
	tenantID := c.Param("tenantId")

	sess, err := h.manager.Session(tenantID)
	if err != nil {
		return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "Call POST /connect first")
	}

	return SuccessResponse(c, http.StatusOK, "Status retrieved", toSessionResp(sess))
}

// GET /qr/:tenantId
//
// Returns the QR image as PNG, or the raw pairing code with ?format=json.
// 404 unless the session is waiting for a scan.
func (h *SessionHandler) QR(c echo.Context) error {
	tenantID := c.Param("tenantId")

	sess, err := h.manager.Session(tenantID)
	if err != nil {
		return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "Call POST /connect first")
	}

	code, image, ok := sess.QR()
	if !ok {
		return ErrorResponse(c, http.StatusNotFound, "No QR challenge pending", "QR_NOT_PENDING",
			"Current status: "+string(sess.Status()))
	}

	if c.QueryParam("format") == "json" {
		return SuccessResponse(c, http.StatusOK, "QR code retrieved", map[string]interface{}{
			"tenantId": tenantID,
			"code":     code,
			"attempt":  sess.QRAttempts(),
		})
	}
	if image == nil {
		return ErrorResponse(c, http.StatusInternalServerError, "QR image unavailable", "QR_RENDER_FAILED", "")
	}
	return c.Blob(http.StatusOK, "image/png", image)
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// POST /send/:tenantId
func (h *SessionHandler) Send(c echo.Context) error {
	tenantID := c.Param("tenantId")

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	if req.Phone == "" || req.Message == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Fields 'phone' and 'message' are required", "VALIDATION_ERROR", "")
	}

	err := h.manager.SendMessage(c.Request().Context(), tenantID, req.Phone, req.Message)
	if err != nil {
		var notReady *service.NotReadyError
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "Call POST /connect first")
		case errors.As(err, &notReady):
			return ErrorResponse(c, http.StatusConflict, "Session is not ready", "NOT_READY",
				"Current status: "+string(notReady.Status))
		default:
			return ErrorResponse(c, http.StatusBadGateway, "Failed to send message", "SEND_FAILED", err.Error())
		}
	}

	return SuccessResponse(c, http.StatusOK, "Message sent", map[string]interface{}{
		"tenantId": tenantID,
		"phone":    req.Phone,
	})
}

// POST /disconnect/:tenantId
func (h *SessionHandler) Disconnect(c echo.Context) error {
	tenantID := c.Param("tenantId")

	if err := h.manager.Disconnect(c.Request().Context(), tenantID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return ErrorResponse(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND", "")
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to disconnect", "DISCONNECT_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Session disconnected, credentials cleared", map[string]interface{}{
		"tenantId": tenantID,
	})
}

// GET /sessions
func (h *SessionHandler) List(c echo.Context) error {
	sessions := h.manager.Sessions()
	out := make([]sessionResp, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResp(s))
	}
	return SuccessResponse(c, http.StatusOK, "Sessions retrieved", map[string]interface{}{
		"total":    len(out),
		"sessions": out,
	})
}
