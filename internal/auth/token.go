package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 30 * time.Minute

// Claims is the verified claim set carried by an access credential.
type Claims struct {
	UserID      int64    `json:"user_id"`
	Role        *string  `json:"role"`
	ProjectID   *int64   `json:"project_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Email returns the subject identity.
func (c *Claims) Email() string { return c.Subject }

// Credential is a signed, time-limited proof of identity and permission set.
// It is never persisted; validity is signature plus expiry.
type Credential struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer signs and verifies access credentials with HS256. All
// parameters are fixed at construction; there is no global mutable state.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(ti *TokenIssuer) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			ti.issuer = issuer
		}
	}
}

// WithTokenTTL sets the credential lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(ti *TokenIssuer) {
		if ttl > 0 {
			ti.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Test use.
func WithClock(fn func() time.Time) TokenOption {
	return func(ti *TokenIssuer) {
		if fn != nil {
			ti.now = fn
		}
	}
}

// NewTokenIssuer constructs an issuer for the given signing secret.
func NewTokenIssuer(secret string, opts ...TokenOption) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	ti := &TokenIssuer{
		secret: []byte(secret),
		issuer: "gatehouse",
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ti)
	}
	return ti, nil
}

// TTL reports the configured credential lifetime.
func (ti *TokenIssuer) TTL() time.Duration { return ti.ttl }

// Issue signs a credential for an active user. The permission list is the
// user's effective set, already aggregated across roles; Issue deduplicates
// defensively but imposes no order guarantee beyond determinism.
func (ti *TokenIssuer) Issue(user User, permissions []string) (Credential, error) {
	if !user.Active() {
		return Credential{}, ErrInactiveAccount
	}
	now := ti.now().UTC()
	exp := now.Add(ti.ttl)
	claims := Claims{
		UserID:      user.ID,
		Role:        user.PrimaryRole(),
		ProjectID:   user.ProjectID,
		Permissions: dedupePermissions(permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return Credential{}, fmt.Errorf("sign token: %w", err)
	}
	return Credential{Token: signed, TokenType: "bearer", ExpiresAt: exp}, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (ti *TokenIssuer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return ti.secret, nil
	}, jwt.WithIssuer(ti.issuer), jwt.WithTimeFunc(ti.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	claims.Permissions = dedupePermissions(claims.Permissions)
	return claims, nil
}

func dedupePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
