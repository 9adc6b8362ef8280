package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"zapbridge/internal/model"
)

// MessageHandler serves the per-tenant message log.
type MessageHandler struct {
	store *model.Store
}

func NewMessageHandler(store *model.Store) *MessageHandler {
	return &MessageHandler{store: store}
}

type messageResp struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	Body      string `json:"body"`
	Direction string `json:"direction"`
	CreatedAt string `json:"createdAt"`
}

// GET /messages/:tenantId?limit=N
func (h *MessageHandler) List(c echo.Context) error {
	tenantID := c.Param("tenantId")

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid limit", "VALIDATION_ERROR", "limit must be an integer")
		}
		limit = n
	}

	messages, err := h.store.ListMessages(c.Request().Context(), tenantID, limit)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to list messages", "LIST_FAILED", "")
	}

	out := make([]messageResp, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResp{
			ID:        m.ID,
			Phone:     m.Phone,
			Body:      m.Body,
			Direction: m.Direction,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}

	return SuccessResponse(c, http.StatusOK, "Messages retrieved", map[string]interface{}{
		"tenantId": tenantID,
		"total":    len(out),
		"messages": out,
	})
}
