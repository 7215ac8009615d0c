package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/chathub/internal/domain"
	"github.com/Strob0t/chathub/internal/domain/chat"
)

type identityCtxKey struct{}

// AnonymousIdentity is injected for every request when auth is disabled.
var AnonymousIdentity = chat.Identity{UserID: "anonymous", Name: "anonymous"}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// TokenVerifier is the authorization collaborator: it turns a bearer token
// into a trusted identity or rejects it.
type TokenVerifier interface {
	ValidateAccessToken(ctx context.Context, token string) (chat.Identity, error)
}

// Auth returns middleware that authenticates every non-public request and
// stores the identity in the request context. Tokens are read from the
// Authorization: Bearer header or, since browsers cannot set headers on a
// WebSocket handshake, from the access_token query parameter.
func Auth(verifier TokenVerifier, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), AnonymousIdentity)))
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}

			id, err := verifier.ValidateAccessToken(r.Context(), token)
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthorized) {
					slog.ErrorContext(r.Context(), "token verification failed", "error", err)
				}
				writeUnauthorized(w, strings.TrimPrefix(err.Error(), domain.ErrUnauthorized.Error()+": "))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || token == "" {
			return "", errors.New("invalid authorization header")
		}
		return token, nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", errors.New("authorization required")
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// WithIdentity returns ctx carrying the authenticated identity.
func WithIdentity(ctx context.Context, id chat.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the authenticated identity from the request
// context.
func IdentityFromContext(ctx context.Context) (chat.Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(chat.Identity)
	return id, ok && !id.IsZero()
}
