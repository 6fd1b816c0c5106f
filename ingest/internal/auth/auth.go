// Package auth verifies operator bearer tokens on the resolution surface.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/telhawk-systems/ledgersafe/common/httputil"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey string

const operatorKey contextKey = "operator"

// Claims is the operator token payload. The subject names the operator and
// is recorded as the audit actor.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Operator is the authenticated caller.
type Operator struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the operator holds role.
func (o *Operator) HasRole(role string) bool {
	return slices.Contains(o.Roles, role)
}

// Config controls token verification.
type Config struct {
	Enabled bool
	Secret  string
	Issuer  string
	// Role, when set, must appear in the token's roles.
	Role   string
	Leeway time.Duration
	TTL    time.Duration
}

// Verifier checks HS256 operator tokens.
type Verifier struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Enabled && cfg.Secret == "" {
		return nil, fmt.Errorf("auth enabled without a signing secret")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Verifier{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}, nil
}

// Enabled reports whether requests must carry a token.
func (v *Verifier) Enabled() bool {
	return v != nil && v.cfg.Enabled
}

// Issue signs a token for subject. Used by the CLI and tests.
func (v *Verifier) Issue(subject string, roles ...string) (string, error) {
	now := v.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.cfg.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses and validates a raw token.
func (v *Verifier) Verify(raw string) (*Operator, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return &Operator{Subject: claims.Subject, Roles: claims.Roles}, nil
}

func bearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Require rejects requests without a valid operator token. When auth is
// disabled it passes requests through untouched.
func (v *Verifier) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() {
			next(w, r)
			return
		}

		raw, err := bearer(r)
		if err != nil {
			httputil.WriteJSONAPIUnauthorizedError(w, err.Error())
			return
		}
		op, err := v.Verify(raw)
		if err != nil {
			httputil.WriteJSONAPIUnauthorizedError(w, "Invalid or expired token")
			return
		}
		if v.cfg.Role != "" && !op.HasRole(v.cfg.Role) {
			httputil.WriteJSONAPIForbiddenError(w, fmt.Sprintf("role %q required", v.cfg.Role))
			return
		}

		next(w, r.WithContext(WithOperator(r.Context(), op)))
	}
}

// WithOperator stores op in ctx.
func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

// OperatorFromContext returns the authenticated operator, if any.
func OperatorFromContext(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(operatorKey).(*Operator)
	return op, ok && op != nil
}

// Actor returns the token subject when present, else fallback.
func Actor(ctx context.Context, fallback string) string {
	if op, ok := OperatorFromContext(ctx); ok {
		return op.Subject
	}
	return fallback
}
