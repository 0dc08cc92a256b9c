package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInspector reads claims out of the bearer token the client holds.
// The signature is the server's business; the client only needs to know
// who the token names and whether it is worth dialing with.
type TokenInspector struct{}

func NewTokenInspector() *TokenInspector {
	return &TokenInspector{}
}

// Subject returns the username the token was issued for.
func (t *TokenInspector) Subject(tokenStr string) (string, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// ExpiresWithin reports whether the token expires inside the given
// window. Tokens without an exp claim are treated as non-expiring.
func (t *TokenInspector) ExpiresWithin(tokenStr string, window time.Duration) (bool, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return false, err
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return false, nil
	}
	deadline := time.Unix(int64(exp), 0)
	return time.Now().Add(window).After(deadline), nil
}

func (t *TokenInspector) parse(tokenStr string) (jwt.MapClaims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	return claims, nil
}
