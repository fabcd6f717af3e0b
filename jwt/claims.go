package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoExpiry is returned by Remaining when the token carries no exp claim.
var ErrNoExpiry = errors.New("token has no expiry")

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	SID      string `json:"sid"`
	OrgID    string `json:"org_id,omitempty"`
	Template string `json:"tpl,omitempty"`
	jwt.RegisteredClaims
}

// ParseUnverified decodes token claims without checking the signature.
func ParseUnverified(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, jwt.ErrTokenMalformed
	}
	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Remaining returns how long the token stays valid at now. Expired tokens
// return a non-positive duration.
func (c *SessionClaims) Remaining(now time.Time) (time.Duration, error) {
	if c == nil || c.ExpiresAt == nil {
		return 0, ErrNoExpiry
	}
	return c.ExpiresAt.Time.Sub(now), nil
}

// BoundTTL returns min(ttl, remaining validity of token). Tokens that do not
// parse or carry no expiry leave ttl unchanged.
func BoundTTL(token string, ttl time.Duration, now time.Time) time.Duration {
	claims, err := ParseUnverified(token)
	if err != nil {
		return ttl
	}
	remaining, err := claims.Remaining(now)
	if err != nil {
		return ttl
	}
	if remaining < 0 {
		return 0
	}
	if remaining < ttl {
		return remaining
	}
	return ttl
}

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Key    []byte
	TTL    time.Duration
	Issuer string
	Leeway time.Duration
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	config IssuerConfig
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Key) < 32 {
		return nil, errors.New("hs256 requires a key of at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Issuer{config: cfg}, nil
}

// Issue signs a token for sessionID/userID issued at now.
func (i *Issuer) Issue(sessionID, userID, orgID, template string, now time.Time) (string, error) {
	claims := SessionClaims{
		SID:      sessionID,
		OrgID:    orgID,
		Template: template,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.Key)
}

// Verify checks signature, algorithm, issuer and expiry at now.
func (i *Issuer) Verify(token string, now time.Time) (*SessionClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.config.Key, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
