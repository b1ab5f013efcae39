package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "pos-checkout"

// Claims is the payload of a session token.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies short-lived HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service signing with secret.
func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for the staff member and returns it with its expiry.
func (t *Tokens) Issue(s Staff) (string, time.Time, error) {
	if len(t.secret) == 0 {
		return "", time.Time{}, errors.New("token secret is not configured")
	}
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Role: s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// Verify parses a token and returns the actor it was issued for.
func (t *Tokens) Verify(raw string) (Actor, error) {
	if len(t.secret) == 0 {
		return Actor{}, ErrUnauthorized
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Actor{}, ErrUnauthorized
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Actor{}, ErrUnauthorized
	}
	return Actor{ID: claims.Subject, Role: claims.Role}, nil
}
