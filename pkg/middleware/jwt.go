package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"subgate/pkg/jwt"
)

type contextKey string

// UserIDKey holds the authenticated user id (int64) in the request context.
const UserIDKey contextKey = "user_id"

// JWTAuth requires an "Authorization: Bearer <token>" header signed with secret.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			userID, err := jwt.ParseToken(secret, strings.TrimSpace(raw))
			if err != nil {
				log.Debug().Err(err).Str("component", "auth").Str("path", r.URL.Path).Msg("rejected token")
				WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the id stored by JWTAuth.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserIDKey).(int64)
	return id, ok
}
