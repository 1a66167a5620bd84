package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every registry token.
const Issuer = "registry"

// Claims defines JWT payload. The subject carries the caller identity.
type Claims struct {
	jwtlib.RegisteredClaims
}

// Identity returns the subject claim.
func (c *Claims) Identity() string {
	return c.Subject
}

// GenerateToken issues a signed JWT for identity with provided secret and ttl.
func GenerateToken(identity, secret string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt: empty signing secret")
	}
	now := time.Now()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   identity,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expires),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(Issuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, jwtlib.ErrTokenInvalidSubject
	}
	return claims, nil
}
