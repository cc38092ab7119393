package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, issuer or
// shape checks.
var ErrInvalidToken = errors.New("invalid session token")

const issuer = "smartclin"

// MinSecretLength is the shortest signing secret accepted outside dev mode.
const MinSecretLength = 32

// Claims is the verified content of a signed session token.
type Claims struct {
	Token      string // raw session token, looked up in the credential store
	IdentityID string
	IssuedAt   time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

// Signer wraps raw session tokens in HS256 JWTs so tampered values are
// rejected before the credential store is consulted. Expiry lives on the
// stored session, not in the JWT.
type Signer struct {
	secret []byte
	parser *jwt.Parser
}

// NewSigner returns a Signer for the given secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("session signing secret is empty")
	}
	return &Signer{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithIssuedAt(),
		),
	}, nil
}

// Sign produces the signed form of a raw session token.
func (s *Signer) Sign(token, identityID string, issuedAt time.Time) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       token,
			Subject:  identityID,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks a signed session token and returns its claims.
func (s *Signer) Verify(signed string) (*Claims, error) {
	claims := &tokenClaims{}
	token, err := s.parser.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	out := &Claims{Token: claims.ID, IdentityID: claims.Subject}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// NewToken returns a fresh random session token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
