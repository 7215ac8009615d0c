package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/chathub/internal/config"
	"github.com/Strob0t/chathub/internal/domain"
	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/port/cache"
)

// tokenClaims are the claims of a chathub access token. The subject is the
// user id.
type tokenClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies HS256 access tokens.
type AuthService struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	cacheTTL time.Duration
	cache    cache.Cache[chat.Identity] // optional
	now      func() time.Time
}

// NewAuthService creates an AuthService from cfg. c caches verified tokens
// and may be nil.
func NewAuthService(cfg *config.Auth, c cache.Cache[chat.Identity]) *AuthService {
	return &AuthService{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		tokenTTL: cfg.TokenTTL,
		cacheTTL: cfg.CacheTTL,
		cache:    c,
		now:      time.Now,
	}
}

// IssueToken signs an access token for id, valid for the configured TTL.
func (s *AuthService) IssueToken(id chat.Identity) (string, time.Time, error) {
	if id.IsZero() {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := tokenClaims{
		Name: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

// ValidateAccessToken verifies tokenStr and returns the identity it carries.
// Every failure wraps domain.ErrUnauthorized.
func (s *AuthService) ValidateAccessToken(ctx context.Context, tokenStr string) (chat.Identity, error) {
	if tokenStr == "" {
		return chat.Identity{}, fmt.Errorf("%w: token is required", domain.ErrUnauthorized)
	}

	key := cacheKey(tokenStr)
	if s.cache != nil {
		id, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			// An unavailable cache is a miss; the token is verified below.
			slog.DebugContext(ctx, "token cache get", "error", err)
		case ok:
			return id, nil
		}
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.Identity{}, fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
		}
		return chat.Identity{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return chat.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	id := chat.Identity{UserID: claims.Subject, Name: claims.Name}
	if s.cache != nil {
		ttl := min(claims.ExpiresAt.Sub(s.now()), s.cacheTTL)
		if err := s.cache.Set(ctx, key, id, ttl); err != nil {
			slog.DebugContext(ctx, "token cache set", "error", err)
		}
	}
	return id, nil
}

// cacheKey hashes the token; raw bearer tokens are never stored.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
