package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ConclaveHQ/conclave/internal/logger"
)

// Middleware creates HTTP middleware for Bearer token authentication.
// The collaboration protocol authenticates inside the framed transport
// instead.
func Middleware(store *Store) func(http.Handler) http.Handler {
	return bearerMiddleware(store, false)
}

// AdminMiddleware is Middleware restricted to admin-scoped tokens.
// Valid tokens with any other scope get 403.
func AdminMiddleware(store *Store) func(http.Handler) http.Handler {
	return bearerMiddleware(store, true)
}

func bearerMiddleware(store *Store, adminOnly bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			if !strings.HasPrefix(header, "Bearer ") {
				jsonError(w, "Authentication required (Bearer token)", http.StatusUnauthorized)
				return
			}

			tokenID := strings.TrimPrefix(header, "Bearer ")
			token, err := store.ValidateToken(tokenID)
			if err != nil {
				logger.Info("Token validation failed: %v", err)
				jsonError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if adminOnly && !IsAdminScope(token.Scope) {
				logger.Info("Admin access denied for token %s (scope: %s)", maskToken(tokenID), token.Scope)
				jsonError(w, "Admin scope required", http.StatusForbidden)
				return
			}

			logger.Info("Authenticated with token: %s (scope: %s)", maskToken(tokenID), token.Scope)
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware creates HTTP middleware limiting requests per
// Bearer token (falling back to remote address for anonymous paths).
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if key == "" {
				key = r.RemoteAddr
			}
			if !limiter.Allow(key) {
				jsonError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    -32001,
			"message": message,
		},
		"id": nil,
	})
}

func maskToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..." + tokenID[len(tokenID)-4:]
}
