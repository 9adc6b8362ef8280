package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"zapbridge/internal/helper"
)

// OrderStore is the slice of the model layer the webhook path touches.
type OrderStore interface {
	MarkOrdersPaid(ctx context.Context, tenantID string, orderIDs []int64) (int64, error)
	BuyerPhoneForOrders(ctx context.Context, tenantID string, orderIDs []int64) (string, error)
	EnqueueOutbox(ctx context.Context, tenantID, phone, body string) error
}

// WebhookHandler receives payment gateway callbacks. The gateways echo our
// external_reference string back verbatim; that string is the only link
// between a payment and the tenant/orders it settles.
type WebhookHandler struct {
	store   OrderStore
	secrets map[string]string
}

func NewWebhookHandler(store OrderStore, secrets map[string]string) *WebhookHandler {
	return &WebhookHandler{store: store, secrets: secrets}
}

// paymentEvent is the subset of the gateway payload we care about. The three
// supported gateways disagree on field names, so both spellings are accepted.
type paymentEvent struct {
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Reference         string `json:"reference"`
	Data              struct {
		Status            string `json:"status"`
		ExternalReference string `json:"external_reference"`
	} `json:"data"`
}

func (e *paymentEvent) externalReference() string {
	if e.ExternalReference != "" {
		return e.ExternalReference
	}
	if e.Data.ExternalReference != "" {
		return e.Data.ExternalReference
	}
	return e.Reference
}

func (e *paymentEvent) status() string {
	if e.Status != "" {
		return e.Status
	}
	return e.Data.Status
}

var paidStatuses = map[string]bool{
	"approved": true,
	"paid":     true,
	"captured": true,
}

// Payment handles POST /webhooks/payment/:provider.
//
// Gateways retry on non-2xx, so anything we cannot act on (unknown status,
// unparseable reference) is acknowledged with 200 rather than retried
// forever. Only a bad signature is rejected.
func (h *WebhookHandler) Payment(c echo.Context) error {
	provider := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Failed to read body", "BAD_REQUEST", "")
	}

	if secret := h.secrets[provider]; secret != "" {
		if !verifySignature(secret, body, c.Request().Header.Get("X-Signature")) {
			log.Warn().Str("provider", provider).Msg("webhook signature mismatch")
			return ErrorResponse(c, http.StatusUnauthorized, "Invalid signature", "INVALID_SIGNATURE", "")
		}
	}

	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("unparseable webhook payload")
		return SuccessResponse(c, http.StatusOK, "Ignored", nil)
	}

	if !paidStatuses[strings.ToLower(event.status())] {
		return SuccessResponse(c, http.StatusOK, "Ignored", map[string]string{"status": event.status()})
	}

	ref := event.externalReference()
	tenantID := helper.ParseTenantID(ref)
	orderIDs := helper.ParseOrderIDs(ref)
	if tenantID == "" || len(orderIDs) == 0 {
		log.Warn().Str("provider", provider).Str("reference", ref).Msg("webhook reference did not resolve")
		return SuccessResponse(c, http.StatusOK, "Ignored", nil)
	}

	ctx := c.Request().Context()
	updated, err := h.store.MarkOrdersPaid(ctx, tenantID, orderIDs)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("failed to mark orders paid")
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to process payment", "PAYMENT_UPDATE_FAILED", "")
	}

	// Retried webhooks update zero rows; skip the duplicate confirmation.
	if updated > 0 {
		h.queueConfirmation(c, tenantID, orderIDs)
	}

	log.Info().Str("provider", provider).Str("tenant", tenantID).
		Ints64("orders", orderIDs).Int64("updated", updated).
		Msg("payment webhook processed")

	return SuccessResponse(c, http.StatusOK, "Payment processed", map[string]interface{}{
		"tenantId":      tenantID,
		"ordersUpdated": updated,
	})
}

func (h *WebhookHandler) queueConfirmation(c echo.Context, tenantID string, orderIDs []int64) {
	ctx := c.Request().Context()

	phone, err := h.store.BuyerPhoneForOrders(ctx, tenantID, orderIDs)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("buyer phone lookup failed")
		return
	}
	if phone == "" {
		log.Warn().Str("tenant", tenantID).Ints64("orders", orderIDs).
			Msg("orders do not resolve to a single buyer, skipping confirmation")
		return
	}

	msg := fmt.Sprintf("Pagamento confirmado! Recebemos o pagamento de %d pedido(s). Obrigado pela compra!", len(orderIDs))
	if err := h.store.EnqueueOutbox(ctx, tenantID, phone, msg); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("failed to enqueue confirmation")
	}
}

func verifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}
