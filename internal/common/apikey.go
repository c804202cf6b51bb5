package common

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type actorKey struct{}

// WithActor stores the acting identity on the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor extracts the acting identity from the context, if present.
func Actor(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorKey{}).(string)
	return v, ok && v != ""
}

// RequireAPIKey gates admin endpoints behind a static key supplied via the
// X-Api-Key header. An empty configured key disables the gate (local dev).
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	key = strings.TrimSpace(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), "dev")))
				return
			}
			provided := strings.TrimSpace(r.Header.Get("X-Api-Key"))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				JSONError(w, http.StatusForbidden, "FORBIDDEN", "invalid api key", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), "admin")))
		})
	}
}
