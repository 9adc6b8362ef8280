package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"zapbridge/internal/service"
)

// JWTAuth validates the bearer token and stores the caller's claims on the
// request context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorized(c, "UNAUTHORIZED", "Authentication required")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				return unauthorized(c, "INVALID_AUTH_HEADER", "Invalid authorization header format")
			}

			claims, err := service.ValidateToken(secret, parts[1])
			if err != nil {
				return unauthorized(c, "INVALID_TOKEN", "Invalid or expired token")
			}

			c.Set("claims", claims)
			return next(c)
		}
	}
}

// RequireTenantAccess restricts :tenantId routes to admins or the tenant's
// own token.
func RequireTenantAccess() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get("claims").(*service.Claims)
			if !ok {
				return unauthorized(c, "UNAUTHORIZED", "Authentication required")
			}
			if claims.Role == "admin" {
				return next(c)
			}
			if tenantID := c.Param("tenantId"); tenantID != "" && tenantID == claims.TenantID {
				return next(c)
			}
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"success": false,
				"message": "You do not have access to this tenant",
				"error":   map[string]string{"code": "FORBIDDEN"},
			})
		}
	}
}

func unauthorized(c echo.Context, code, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"success": false,
		"message": message,
		"error":   map[string]string{"code": code},
	})
}
