package classifier

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Credentials produce the bearer token sent with each classification request.
type Credentials interface {
	Token(now time.Time) (string, error)
}

// StaticKey is a fixed API key.
type StaticKey string

// Token returns the key unchanged.
func (k StaticKey) Token(time.Time) (string, error) {
	if k == "" {
		return "", errors.New("classifier: API key is empty")
	}
	return string(k), nil
}

// defaultTokenTTL bounds the lifetime of minted service tokens.
const defaultTokenTTL = 5 * time.Minute

// ServiceClaims are the claims of a minted service token.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Model string `json:"model,omitempty"`
}

// JWTSigner mints short-lived HS256 service tokens from a shared secret.
type JWTSigner struct {
	secret   []byte
	issuer   string
	audience string
	model    string
	ttl      time.Duration
}

// NewJWTSigner returns a signer for the given shared secret. ttl <= 0 uses five minutes.
func NewJWTSigner(secret, issuer, audience, model string, ttl time.Duration) *JWTSigner {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &JWTSigner{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		model:    model,
		ttl:      ttl,
	}
}

// Token mints a token valid from now for the signer's ttl. Each token carries a fresh jti.
func (s *JWTSigner) Token(now time.Time) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("classifier: JWT secret is empty")
	}
	now = now.UTC()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.issuer,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Model: s.model,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
