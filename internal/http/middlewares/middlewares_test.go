package middlewares

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/barterhub/internal/actorctx"
	"github.com/geocoder89/barterhub/internal/auth"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	verifyFn func(token string) (*auth.Claims, error)
}

func (f fakeVerifier) VerifySessionToken(token string) (*auth.Claims, error) {
	return f.verifyFn(token)
}

func acceptToken(want string) fakeVerifier {
	return fakeVerifier{verifyFn: func(token string) (*auth.Claims, error) {
		if token != want {
			return nil, auth.ErrInvalidToken
		}
		return &auth.Claims{UserID: "user-1", Role: "user", JTI: "jti-1"}, nil
	}}
}

func protectedRouter(m *AuthMiddleware) *gin.Engine {
	r := gin.New()
	r.GET("/me", m.RequireAuth(), func(c *gin.Context) {
		id, _ := UserIDFromContext(c)
		if ctxID, _ := actorctx.UserIDFrom(c.Request.Context()); ctxID != id {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id)
	})
	r.GET("/admin", m.RequireAuth(), m.RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	denylist := auth.NewMemoryDenylist()
	m := NewAuthMiddleware(acceptToken("good"), denylist, "token")
	r := protectedRouter(m)

	tests := []struct {
		name     string
		cookie   string
		bearer   string
		wantCode int
		wantErr  string
	}{
		{name: "missing", wantCode: http.StatusUnauthorized, wantErr: `"unauthorized"`},
		{name: "cookie", cookie: "good", wantCode: http.StatusOK},
		{name: "bearer fallback", bearer: "good", wantCode: http.StatusOK},
		{name: "bad cookie", cookie: "forged", wantCode: http.StatusUnauthorized, wantErr: `"invalid_token"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantErr != "" && !strings.Contains(rec.Body.String(), tt.wantErr) {
				t.Fatalf("expected error code %s in %s", tt.wantErr, rec.Body.String())
			}
			if tt.wantCode == http.StatusOK && rec.Body.String() != "user-1" {
				t.Fatalf("expected user id in context, got %q", rec.Body.String())
			}
		})
	}
}

func TestRequireAuth_RevokedSession(t *testing.T) {
	denylist := auth.NewMemoryDenylist()
	_ = denylist.Revoke(context.Background(), "jti-1", time.Hour)

	r := protectedRouter(NewAuthMiddleware(acceptToken("good"), denylist, "token"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "good"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "invalid_token") {
		t.Fatalf("expected 401 invalid_token, got %d %s", rec.Code, rec.Body.String())
	}
}

type brokenDenylist struct{}

func (brokenDenylist) Revoke(context.Context, string, time.Duration) error { return nil }
func (brokenDenylist) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRequireAuth_DenylistUnavailable(t *testing.T) {
	r := protectedRouter(NewAuthMiddleware(acceptToken("good"), brokenDenylist{}, "token"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "good"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when revocation cannot be checked, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := protectedRouter(NewAuthMiddleware(acceptToken("good"), nil, "token"))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "good"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	r := gin.New()
	r.GET("/x", rl.RateLimiterMiddleware(KeyByIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}

func TestRequireJSON(t *testing.T) {
	r := gin.New()
	r.Use(RequireJSON())
	r.PUT("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("bodyless write should pass, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/x", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}

	// chunked: length unknown
	req = httptest.NewRequest(http.MethodPut, "/x", io.NopCloser(strings.NewReader("")))
	if req.ContentLength != -1 {
		t.Fatalf("expected unknown length, got %d", req.ContentLength)
	}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("chunked write without Content-Type should pass, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/x", io.NopCloser(strings.NewReader("hello")))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("chunked non-JSON body should be refused, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(NewOrigins([]string{"http://localhost:5173/"}).CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("credentials must be allowed for the SPA origin")
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unknown origin must not be echoed")
	}
}

func TestRateLimiter_WindowReopens(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.take("ip:1.2.3.4"); !ok {
		t.Fatalf("first request should pass")
	}
	ok, wait := rl.take("ip:1.2.3.4")
	if ok || wait != time.Minute {
		t.Fatalf("expected block with a minute to wait, got %v %v", ok, wait)
	}
	if ok, _ := rl.take("ip:5.6.7.8"); !ok {
		t.Fatalf("other clients keep their own budget")
	}

	now = now.Add(time.Minute)
	if ok, _ := rl.take("ip:1.2.3.4"); !ok {
		t.Fatalf("a new window should open")
	}
}

func TestRequireRole_AnyOf(t *testing.T) {
	m := NewAuthMiddleware(acceptToken("good"), nil, "token")
	r := gin.New()
	r.GET("/x", m.RequireAuth(), m.RequireRole("admin", "user"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "good"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("user role is in the allowed set, got %d", rec.Code)
	}
}

func TestLimitBody(t *testing.T) {
	r := gin.New()
	r.POST("/x", LimitBody(8), func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("small")))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("far too large")))
	if rec.Code != http.StatusRequestEntityTooLarge || !strings.Contains(rec.Body.String(), "payload_too_large") {
		t.Fatalf("declared length over the cap should be refused up front, got %d %s", rec.Code, rec.Body.String())
	}

	// unknown length is only caught while reading
	req := httptest.NewRequest(http.MethodPost, "/x", io.NopCloser(strings.NewReader("far too large")))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from the body reader, got %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(true))
	r.GET("/items", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/uploads/:name", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items", nil))
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS when enabled")
	}
	if rec.Header().Get("Content-Security-Policy") != apiCSP {
		t.Fatalf("unexpected CSP %q", rec.Header().Get("Content-Security-Policy"))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/a.png", nil))
	if rec.Header().Get("Cross-Origin-Resource-Policy") != "cross-origin" {
		t.Fatalf("uploads must be embeddable cross-origin")
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, actorctx.RequestIDFrom(c.Request.Context()))
	})

	tests := []struct {
		in   string
		keep bool
	}{
		{"abc-123", true},
		{"", false},
		{"has space", false},
		{strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tt.in != "" {
			req.Header.Set("X-Request-Id", tt.in)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		got := rec.Header().Get("X-Request-Id")
		if got == "" || got != rec.Body.String() {
			t.Fatalf("%q: header %q and context %q should match", tt.in, got, rec.Body.String())
		}
		if (got == tt.in) != tt.keep {
			t.Fatalf("%q: keep=%v but got %q", tt.in, tt.keep, got)
		}
	}
}
