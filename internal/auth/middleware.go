package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ContextKey is a custom type for context keys.
type ContextKey string

// UserContextKey is the key for storing user claims in context.
const UserContextKey ContextKey = "user"

// Middleware creates an HTTP middleware enforcing JWT authentication.
// Tokens come from the Authorization header, or from a ?token= query
// parameter for WebSocket clients that can't set headers.
func Middleware(authenticator *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authenticator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, err := extractToken(r)
			if err != nil {
				http.Error(w, `{"error": "missing or malformed credentials"}`, http.StatusUnauthorized)
				return
			}

			claims, err := authenticator.ValidateToken(tokenString)
			if err != nil {
				if errors.Is(err, ErrExpiredToken) {
					http.Error(w, `{"error": "token has expired"}`, http.StatusUnauthorized)
				} else {
					http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", ErrInvalidToken
		}
		return parts[1], nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", ErrInvalidToken
}

// UserFromContext retrieves user claims from the request context.
func UserFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}
