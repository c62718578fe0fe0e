// Package identity verifies bearer tokens issued by the external identity
// collaborator. Authentication is a precondition for wallet operations, not
// part of the ledger itself.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/careerforge/coinwallet/pkg/ttlcache"
)

var (
	ErrInvalidConfig = errors.New("invalid identity config")
	ErrInvalidToken  = errors.New("invalid token")
)

// Config carries the verification parameters shared with the identity issuer.
type Config struct {
	SigningKey []byte
	Issuer     string
}

// Verifier checks HMAC-signed bearer tokens and caches positive results in a
// bounded TTL cache so hot users do not re-verify on every request.
type Verifier struct {
	signingKey []byte
	issuer     string
	cache      *ttlcache.Cache[string]
}

const (
	verificationCacheCapacity = 1024
	verificationCacheTTL      = 5 * time.Minute
)

// New wires a Verifier.
func New(cfg Config) (*Verifier, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is empty", ErrInvalidConfig)
	}
	cache, err := ttlcache.New[string](verificationCacheCapacity, verificationCacheTTL)
	if err != nil {
		return nil, err
	}
	return &Verifier{signingKey: cfg.SigningKey, issuer: cfg.Issuer, cache: cache}, nil
}

// Verify returns the subject user id carried by a valid token.
func (verifier *Verifier) Verify(token string) (string, error) {
	if subject, ok := verifier.cache.Get(token); ok {
		return subject, nil
	}
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if verifier.issuer != "" {
		options = append(options, jwt.WithIssuer(verifier.issuer))
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return verifier.signingKey, nil
	}, options...)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	verifier.cache.Set(token, claims.Subject)
	return claims.Subject, nil
}
