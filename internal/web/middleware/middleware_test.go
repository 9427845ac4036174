package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon/portal-ledger/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, claims OperatorClaims, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func validClaims(name string) OperatorClaims {
	return OperatorClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			Issuer:    "portal",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

// echoActor writes the resolved actor as the body.
var echoActor = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(ActorFrom(r.Context())))
})

func TestIdentity(t *testing.T) {
	cfg := &config.AuthConfig{JWTSecret: testSecret, JWTIssuer: "portal"}

	noName := validClaims("")
	expired := validClaims("ana")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	otherIssuer := validClaims("ana")
	otherIssuer.Issuer = "elsewhere"

	tests := []struct {
		name       string
		auth       string
		operator   string
		wantStatus int
		wantActor  string
	}{
		{"name claim", "Bearer " + signToken(t, validClaims("Ana Souza"), testSecret), "", http.StatusOK, "Ana Souza"},
		{"token wins over header", "Bearer " + signToken(t, validClaims("ana"), testSecret), "mallory", http.StatusOK, "ana"},
		{"subject fallback", "Bearer " + signToken(t, noName, testSecret), "", http.StatusOK, "op-1"},
		{"header only", "", "  joao  ", http.StatusOK, "joao"},
		{"nobody", "", "", http.StatusOK, ""},
		{"wrong secret", "Bearer " + signToken(t, validClaims("ana"), "another-secret-another-secret-xx"), "", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, expired, testSecret), "", http.StatusUnauthorized, ""},
		{"wrong issuer", "Bearer " + signToken(t, otherIssuer, testSecret), "", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-token", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/revenue/imports", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.operator != "" {
				req.Header.Set(OperatorHeader, tt.operator)
			}
			rec := httptest.NewRecorder()

			Identity(cfg)(echoActor).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantActor, rec.Body.String())
			}
		})
	}
}

func TestIdentity_RequireToken(t *testing.T) {
	cfg := &config.AuthConfig{JWTSecret: testSecret, RequireToken: true}
	h := Identity(cfg)(echoActor)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/revenue/batches/b1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_MISSING_TOKEN")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCleanActor(t *testing.T) {
	assert.Equal(t, "ana", cleanActor(" a\x00n\ta "))
	assert.Len(t, []rune(cleanActor(strings.Repeat("é", 500))), maxActorLength)
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name string
		cfg  config.SecurityConfig
		key  string
		want int
	}{
		{"disabled", config.SecurityConfig{RequireAPIKey: false}, "", http.StatusNoContent},
		{"missing key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, "", http.StatusUnauthorized},
		{"wrong key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, "k2", http.StatusForbidden},
		{"second key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}, "k2", http.StatusNoContent},
		{"no keys configured", config.SecurityConfig{RequireAPIKey: true}, "k1", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(&tt.cfg)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestTrustedRealIP(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ClientIP(r)))
	})
	h := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.1", "not-a-cidr"})(echo)

	tests := []struct {
		name   string
		remote string
		header string
		value  string
		want   string
	}{
		{"trusted proxy real ip", "10.1.2.3:5555", "X-Real-IP", "203.0.113.9", "203.0.113.9"},
		{"trusted proxy forwarded chain", "192.168.1.1:80", "X-Forwarded-For", "203.0.113.9, 10.1.2.3", "203.0.113.9"},
		{"trusted proxy bad header", "10.1.2.3:5555", "X-Real-IP", "evil", "10.1.2.3"},
		{"untrusted client", "198.51.100.4:1234", "X-Real-IP", "203.0.113.9", "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set(tt.header, tt.value)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_Handler(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:1000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.RemoteAddr = "198.51.100.4:2000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
