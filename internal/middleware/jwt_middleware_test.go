package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapbridge/internal/service"
)

const testSecret = "test-secret"

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func runJWT(t *testing.T, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = JWTAuth(testSecret)(okHandler)(c)
	return rec
}

func TestJWTAuthMissingHeader(t *testing.T) {
	rec := runJWT(t, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuthMalformedHeader(t *testing.T) {
	for _, header := range []string{"Basic abc", "Bearer", "just-a-token"} {
		rec := runJWT(t, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestJWTAuthInvalidToken(t *testing.T) {
	rec := runJWT(t, "Bearer not.a.valid.token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuthValidToken(t *testing.T) {
	token, err := service.GenerateToken(testSecret, "user-1", "tenant-a", "tenant", time.Hour)
	require.NoError(t, err)

	rec := runJWT(t, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func runTenantAccess(t *testing.T, claims *service.Claims, paramTenant string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/status/"+paramTenant, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if paramTenant != "" {
		c.SetParamNames("tenantId")
		c.SetParamValues(paramTenant)
	}
	if claims != nil {
		c.Set("claims", claims)
	}
	_ = RequireTenantAccess()(okHandler)(c)
	return rec
}

func TestRequireTenantAccess(t *testing.T) {
	tests := []struct {
		name     string
		claims   *service.Claims
		tenantID string
		wantCode int
	}{
		{"admin reaches any tenant", &service.Claims{Role: "admin"}, "tenant-a", http.StatusOK},
		{"own tenant allowed", &service.Claims{Role: "tenant", TenantID: "tenant-a"}, "tenant-a", http.StatusOK},
		{"other tenant forbidden", &service.Claims{Role: "tenant", TenantID: "tenant-b"}, "tenant-a", http.StatusForbidden},
		{"tenant without param forbidden", &service.Claims{Role: "tenant", TenantID: "tenant-a"}, "", http.StatusForbidden},
		{"no claims rejected", nil, "tenant-a", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := runTenantAccess(t, tt.claims, tt.tenantID)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
