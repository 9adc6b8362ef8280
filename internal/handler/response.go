package handler

import "github.com/labstack/echo/v4"

// SuccessResponse is the uniform success envelope for the control surface.
func SuccessResponse(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// ErrorResponse is the uniform error envelope. code is a machine-readable
// error code; detail is optional human-readable context. Stack traces never
// reach the caller.
func ErrorResponse(c echo.Context, status int, message, code, detail string) error {
	errBody := map[string]string{"code": code}
	if detail != "" {
		errBody["detail"] = detail
	}
	return c.JSON(status, map[string]interface{}{
		"success": false,
		"message": message,
		"error":   errBody,
	})
}
