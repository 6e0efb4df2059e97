// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, user lookup and failure logging

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mission-control/internal/store"
)

type mockUserStore struct {
	users map[string]*store.User
}

func (m *mockUserStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

// recordingHandler captures log records for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler           { return h }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) reasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "reason" {
				out = append(out, a.Value.String())
			}
			return true
		})
	}
	return out
}

func newTestMiddleware(t *testing.T) (func(http.Handler) http.Handler, *JWTVerifier, *recordingHandler) {
	t.Helper()
	verifier, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	users := &mockUserStore{users: map[string]*store.User{
		"user-1": {ID: "user-1", OrganizationID: "org-1", Email: "ops@acme.test", IsSuperAdmin: true},
	}}
	logs := &recordingHandler{}
	return HTTPAuthMiddleware(users, verifier, slog.New(logs)), verifier, logs
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	mw, verifier, _ := newTestMiddleware(t)
	token, err := verifier.Generate("user-1", time.Hour)
	require.NoError(t, err)

	var got *AuthContext
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/gateways/gw/main-agent", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, ActorUser, got.ActorType)
	assert.True(t, got.IsSuperAdmin)
	assert.False(t, got.IsSystem())
}

func TestHTTPAuthMiddleware_Failures(t *testing.T) {
	tests := []struct {
		name   string
		header func(v *JWTVerifier) string
		reason string
	}{
		{
			name:   "missing header",
			header: func(*JWTVerifier) string { return "" },
			reason: "token_extraction_failed",
		},
		{
			name:   "wrong scheme",
			header: func(*JWTVerifier) string { return "Basic abc" },
			reason: "token_extraction_failed",
		},
		{
			name:   "invalid token",
			header: func(*JWTVerifier) string { return "Bearer nope" },
			reason: "token_verification_failed",
		},
		{
			name: "unknown user",
			header: func(v *JWTVerifier) string {
				token, _ := v.Generate("ghost", time.Hour)
				return "Bearer " + token
			},
			reason: "user_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, verifier, logs := newTestMiddleware(t)
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
			if h := tt.header(verifier); h != "" {
				req.Header.Set("Authorization", h)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, logs.reasons(), tt.reason)
		})
	}
}

func TestHTTPAuthMiddleware_NilLogger(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	mw := HTTPAuthMiddleware(&mockUserStore{}, verifier, nil)

	rec := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
