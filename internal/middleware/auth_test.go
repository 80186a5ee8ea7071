package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/audit_layer/internal/app/domain/identity"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

var testSecret = []byte("test-secret")

func generateTestToken(t *testing.T, secret []byte, userID string, expired bool) string {
	t.Helper()
	claims := &Claims{
		UserID:        userID,
		WalletAddress: "NdtB8RXRmJ7Nhw1FPTm7E6HoDZGnDw37nf",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "sess-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func captureSession(got *identity.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = SessionFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logger.NewNop(), []string{"/healthz"})
	var got identity.Session
	rec := httptest.NewRecorder()
	m.Handler(captureSession(&got)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.Authenticated() {
		t.Error("skip path should be anonymous")
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logger.NewNop(), nil)
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + generateTestToken(t, testSecret, "u1", true)},
		{"wrong secret", "Bearer " + generateTestToken(t, []byte("other"), "u1", false)},
		{"missing user", "Bearer " + generateTestToken(t, testSecret, "", false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/points", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			called := false
			m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(rec, req)
			if called {
				t.Fatal("next handler should not run")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAuthMiddleware_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{UserID: "u1"})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	m := NewAuthMiddleware(testSecret, logger.NewNop(), nil)
	if _, err := m.validateToken(signed); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestAuthMiddleware_ValidTokenBuildsSession(t *testing.T) {
	m := NewAuthMiddleware(testSecret, logger.NewNop(), nil)
	req := httptest.NewRequest(http.MethodGet, "/points", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", false))

	var got identity.Session
	rec := httptest.NewRecorder()
	m.Handler(captureSession(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.UserID != "user-123" || got.ID != "sess-1" {
		t.Errorf("session = %+v", got)
	}
	if got.WalletAddress == "" || got.IssuedAt.IsZero() {
		t.Errorf("session missing wallet or issue time: %+v", got)
	}
}

func TestRequireSession(t *testing.T) {
	h := RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithSession(req.Context(), identity.Session{UserID: "u1"}))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}
