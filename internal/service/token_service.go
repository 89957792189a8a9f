package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zivenyang/auth-api/internal/models"
	appErrors "github.com/zivenyang/auth-api/pkg/errors"
)

// TokenConfig defines signing parameters for access tokens.
type TokenConfig struct {
	Secret         string
	Algorithm      string
	AccessTokenTTL time.Duration
}

// TokenService issues and decodes signed bearer tokens. Decode verifies the
// signature only; expiry and revocation are checked by the authenticator so
// that logout can still read tokens on the edge of their lifetime.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService validates the signing configuration and builds a codec.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token service: signing secret is required")
	}

	var method jwt.SigningMethod
	switch strings.ToUpper(cfg.Algorithm) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("token service: unsupported signing algorithm %q", cfg.Algorithm)
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &TokenService{
		secret: []byte(cfg.Secret),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Lifetime returns the configured default token lifetime.
func (s *TokenService) Lifetime() time.Duration {
	return s.ttl
}

// Issue signs a token for the subject using the default lifetime.
func (s *TokenService) Issue(subject string) (string, error) {
	return s.IssueWithLifetime(subject, s.ttl)
}

// IssueWithLifetime signs a token for the subject expiring after the given
// lifetime. The lifetime is applied as provided, so a negative value produces
// an already-expired token.
func (s *TokenService) IssueWithLifetime(subject string, lifetime time.Duration) (string, error) {
	issuedAt := s.now().UTC()
	claims := &models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", appErrors.Internal(err, "failed to sign token")
	}
	return signed, nil
}

// Decode verifies the signature and returns the claims. Expired tokens decode
// successfully; malformed or tampered tokens, and tokens missing a subject or
// expiry, do not.
func (s *TokenService) Decode(raw string) (*models.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &models.AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != s.method {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTokenMalformed.Code, appErrors.ErrTokenMalformed.Status, appErrors.ErrTokenMalformed.Message)
	}

	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrTokenMalformed, "invalid token claims")
	}
	if claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrTokenMalformed, "token missing subject")
	}
	if claims.ExpiresAt == nil {
		return nil, appErrors.Clone(appErrors.ErrTokenMalformed, "token missing expiry")
	}

	return claims, nil
}
