// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the acting user to context

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/mission-control/internal/store"
)

// UserStore is the subset of store.Store the middleware needs.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// logHTTPAuthFailure logs an HTTP authentication failure with structured context.
func logHTTPAuthFailure(logger *slog.Logger, r *http.Request, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	base := []any{"reason", reason, "remote_addr", r.RemoteAddr, "path", r.URL.Path}
	logger.Warn("http auth failure", append(base, attrs...)...)
}

func writeAuthError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"detail":"` + msg + `"}`))
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// It looks up the user and adds an AuthContext scoped to the user's organization.
// The optional logger records failures for security monitoring.
func HTTPAuthMiddleware(users UserStore, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logHTTPAuthFailure(logger, r, "token_extraction_failed", "detail", errMsg)
				writeAuthError(w, errMsg, http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logHTTPAuthFailure(logger, r, "token_verification_failed", "error", err)
				writeAuthError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				logHTTPAuthFailure(logger, r, "user_not_found", "user_id", userID)
				writeAuthError(w, "user not found", http.StatusUnauthorized)
				return
			}

			authCtx := &AuthContext{
				UserID:         user.ID,
				OrganizationID: user.OrganizationID,
				ActorType:      ActorUser,
				IsSuperAdmin:   user.IsSuperAdmin,
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
