package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenCodec signs and validates the JWTs presented at connection time.
// Issuance flows (register/login) live outside this core; generation is kept
// here so tests and tooling can mint valid tokens.
type TokenCodec struct {
	key      []byte
	issuer   string
	duration time.Duration
}

func NewTokenCodec(secret, issuer string, duration time.Duration) *TokenCodec {
	return &TokenCodec{key: []byte(secret), issuer: issuer, duration: duration}
}

// GenerateToken creates a signed JWT for a specific user.
func (c *TokenCodec) GenerateToken(userID string) (string, error) {
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(c.duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    c.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.key)
}

// ValidateToken parses and validates the signature and expiration of a JWT
// string, returning the embedded claims.
func (c *TokenCodec) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
