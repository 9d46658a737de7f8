package auth

import (
	"context"
	"net/http"
	"strings"
)

// VerifiedUserID is a user id recovered from a token that passed
// signature verification. Service methods that act on the caller take
// this type, never a raw string from a request body.
type VerifiedUserID string

type userIDKey struct{}

// UserIDFromContext returns the verified caller id set by Middleware.
func UserIDFromContext(ctx context.Context) (VerifiedUserID, bool) {
	id, ok := ctx.Value(userIDKey{}).(VerifiedUserID)
	return id, ok
}

// Middleware rejects requests without a valid bearer token and stores
// the verified caller id on the request context.
func Middleware(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			userID, err := tm.Verify(parts[1])
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, VerifiedUserID(userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
