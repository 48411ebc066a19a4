package device

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	tokenIssuer = "stallcode"
	// TokenTTL keeps a browser's identity for about a year of inactivity;
	// the cookie is refreshed on every visit.
	TokenTTL = 365 * 24 * time.Hour
)

// TokenService signs device IDs into JWTs so a browser cannot pick
// someone else's identity by editing its cookie.
//
// KEY DERIVATION:
// The configured secret is stretched with HKDF-SHA256 into a 32-byte
// signing key bound to this purpose ("device-cookie"), so the same secret
// can later be reused for other keys without cross-use.
type TokenService struct {
	key []byte
}

// NewTokenService derives the signing key from secret.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("device: secret must be at least 16 characters")
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(tokenIssuer), []byte("device-cookie"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("device: deriving key: %w", err)
	}
	return &TokenService{key: key}, nil
}

// Sign wraps deviceID in an HS256 token valid for ttl.
func (s *TokenService) Sign(deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := jwt.RegisteredClaims{
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    tokenIssuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("device: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry and returns the device ID.
func (s *TokenService) Verify(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &c,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("device: token expired")
		}
		return "", fmt.Errorf("device: invalid token: %w", err)
	}
	if !token.Valid || !ValidID(c.Subject) {
		return "", errors.New("device: invalid token subject")
	}
	return c.Subject, nil
}
