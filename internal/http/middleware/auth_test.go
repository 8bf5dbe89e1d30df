package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"foodhub/internal/http/middleware"
	"foodhub/internal/infra"
	"foodhub/internal/logger"
	"foodhub/internal/types"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.Token
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.Token, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(logger.Nop()), middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": middleware.CallerUID(c), "role": middleware.CallerRole(c)})
	})
	r.GET("/admin", middleware.RequireRoles(types.RoleAdmin, types.RoleSuperAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	return r
}

func do(r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	if w := do(r, "/test", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	if w := do(r, "/test", "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	if w := do(r, "/test", "Bearer invalidtoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.Token{
		UID:    "partner123",
		Claims: map[string]interface{}{"role": "DELIVERY_PARTNER"},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := do(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "partner123") {
		t.Errorf("expected uid partner123 in body, got %s", body)
	}
	if !strings.Contains(body, "DELIVERY_PARTNER") {
		t.Errorf("expected role DELIVERY_PARTNER in body, got %s", body)
	}
}

func TestAuth_ValidToken_NoRoleClaim(t *testing.T) {
	token := &infra.Token{UID: "customer456", Claims: map[string]interface{}{}}
	r := newTestRouter(&stubVerifier{token: token})
	w := do(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "customer456") {
		t.Errorf("expected uid customer456 in body")
	}
}

func TestRequireRoles(t *testing.T) {
	admin := newTestRouter(&stubVerifier{token: &infra.Token{UID: "a1", Claims: map[string]interface{}{"role": "ADMIN"}}})
	if w := do(admin, "/admin", "Bearer t"); w.Code != http.StatusNoContent {
		t.Errorf("admin: expected 204, got %d", w.Code)
	}
	vendor := newTestRouter(&stubVerifier{token: &infra.Token{UID: "v1", Claims: map[string]interface{}{"role": "VENDOR"}}})
	if w := do(vendor, "/admin", "Bearer t"); w.Code != http.StatusForbidden {
		t.Errorf("vendor: expected 403, got %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "u1"}})
	if w := do(r, "/panic", "Bearer t"); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestLogging_ServerErrorCarriesCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(middleware.Logging(logger.NewWithWriter(&buf, "debug")))
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
		c.Status(http.StatusInternalServerError)
	})
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	line := buf.String()
	if !strings.Contains(line, `"level":"ERROR"`) || !strings.Contains(line, "db down") {
		t.Fatalf("expected error log with cause, got %q", line)
	}

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	if strings.Contains(buf.String(), `"error"`) {
		t.Errorf("unexpected error field: %q", buf.String())
	}
}
