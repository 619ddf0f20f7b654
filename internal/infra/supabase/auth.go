package supabase

import (
	"fmt"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
)

// claims are the parts of a Supabase access token the core reads.
type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks Supabase access tokens locally with the project's
// JWT secret.
type TokenVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewTokenVerifier creates a verifier for HS256 tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), leeway: 30 * time.Second}
}

var _ port.TokenVerifier = (*TokenVerifier)(nil)

// Verify validates the token and returns its principal.
func (v *TokenVerifier) Verify(token string) (*domain.Principal, error) {
	if len(v.secret) == 0 {
		return nil, &domain.ErrUnauthorized{Message: "token verification not configured"}
	}

	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: fmt.Sprintf("invalid token: %v", err)}
	}
	if !parsed.Valid || c.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}

	p := &domain.Principal{ID: c.Subject, Email: c.Email}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	return p, nil
}

// SignToken issues a token the verifier accepts. Used by local tooling and tests.
func SignToken(secret string, p domain.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  jwt.ClaimStrings{"authenticated"},
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
