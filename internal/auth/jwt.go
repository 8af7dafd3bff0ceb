package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

// Principal kinds.
const (
	KindDispatcher = "dispatcher"
	KindManager    = "manager"
	KindAdmin      = "admin"
)

// Principal represents the authenticated caller from JWT.
type Principal struct {
	Name string // dispatcher login; also the session key
	Kind string // "dispatcher" | "manager" | "admin"
}

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// ParseFromMD extracts and validates a Bearer JWT from gRPC metadata and returns a Principal.
func ParseFromMD(ctx context.Context, secret string) (*Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, errors.New("missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return nil, errors.New("missing authorization")
	}
	parts := strings.SplitN(vals[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("invalid authorization header")
	}
	return parseJWT(strings.TrimSpace(parts[1]), secret)
}

type claims struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// parseJWT validates and extracts claims from a JWT token.
func parseJWT(tokenStr string, secret string) (*Principal, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}
	c, _ := tok.Claims.(*claims)
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return nil, errors.New("invalid claims")
	}
	kind := strings.ToLower(strings.TrimSpace(c.Kind))
	switch kind {
	case KindDispatcher, KindManager, KindAdmin:
	default:
		return nil, errors.New("invalid claims: unknown kind")
	}
	return &Principal{Name: strings.TrimSpace(c.Name), Kind: kind}, nil
}

// IssueToken signs an HS256 token for name and kind. A zero ttl never expires.
func IssueToken(secret, name, kind string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	c := claims{Name: name, Kind: strings.ToLower(kind)}
	if ttl > 0 {
		now := time.Now()
		c.IssuedAt = jwt.NewNumericDate(now)
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
