package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrMissingSecret = errors.New("jwt secret is required")

type Claims struct {
	UserID      int64  `json:"user_id"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
	jwtlib.RegisteredClaims
}

// Codec signs and verifies HS256 tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewCodec(secret []byte, issuer string) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	return &Codec{secret: secret, issuer: issuer, now: time.Now}, nil
}

func (c *Codec) Sign(payload Claims, ttl time.Duration) (string, error) {
	now := c.now()
	payload.RegisteredClaims = jwtlib.RegisteredClaims{
		Issuer:    c.issuer,
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwtlib.NewNumericDate(now),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, payload)
	return token.SignedString(c.secret)
}

// Verify returns nil for any token that is malformed, expired or signed
// with a different key.
func (c *Codec) Verify(tokenString string) *Claims {
	claims, err := ParseToken(tokenString, c.secret, jwtlib.WithTimeFunc(c.now), jwtlib.WithIssuer(c.issuer))
	if err != nil {
		return nil
	}
	return claims
}

func ParseToken(tokenString string, secret []byte, opts ...jwtlib.ParserOption) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenString, &Claims{}, func(token *jwtlib.Token) (interface{}, error) {
		if token.Method.Alg() != jwtlib.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
