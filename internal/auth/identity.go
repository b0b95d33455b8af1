// Package auth turns bearer tokens into the caller identity used by the API.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// Claims carried by an access token. The subject is the user id.
type Claims struct {
	Name string      `json:"name,omitempty"`
	Role models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Resolver validates HS256 bearer tokens.
//
// With no secret configured the API runs in single-user mode: every request
// without a token is the default user, with admin rights. With a secret, a
// missing token still maps to the default user (role user) when one is set,
// otherwise the request is unauthorized.
type Resolver struct {
	secret      []byte
	defaultUser string
	now         func() time.Time
}

// NewResolver creates a resolver
func NewResolver(secret, defaultUserID string) *Resolver {
	return &Resolver{
		secret:      []byte(secret),
		defaultUser: strings.TrimSpace(defaultUserID),
		now:         time.Now,
	}
}

// Resolve maps an Authorization header value to an identity
func (r *Resolver) Resolve(header string) (models.Identity, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return r.fallback()
	}
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return models.Identity{}, errors.NewUnauthorizedError("authorization header must be a bearer token")
	}
	if len(r.secret) == 0 {
		return models.Identity{}, errors.NewUnauthorizedError("token authentication is not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw[7:]), claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(r.now))
	if err != nil || !token.Valid {
		return models.Identity{}, errors.NewUnauthorizedError("invalid token")
	}
	if claims.Subject == "" {
		return models.Identity{}, errors.NewUnauthorizedError("token has no subject")
	}

	role := claims.Role
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	return models.Identity{ID: claims.Subject, Name: claims.Name, Role: role}, nil
}

func (r *Resolver) fallback() (models.Identity, error) {
	if r.defaultUser == "" {
		return models.Identity{}, errors.NewUnauthorizedError("bearer token required")
	}
	role := models.RoleUser
	if len(r.secret) == 0 {
		role = models.RoleAdmin
	}
	return models.Identity{ID: r.defaultUser, Role: role}, nil
}

// Issue signs a token for id, valid for ttl
func (r *Resolver) Issue(id models.Identity, ttl time.Duration) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.NewUnauthorizedError("token authentication is not configured")
	}
	now := r.now()
	claims := Claims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

type contextKey struct{}

// WithIdentity stores the caller in ctx
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the caller stored by WithIdentity
func FromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(models.Identity)
	return id, ok
}
