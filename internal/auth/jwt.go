package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the session JWT claims.
type Claims struct {
	EaseeToken string `json:"easee_token"`
	jwt.RegisteredClaims
}

// IssueSession signs a session for username that carries the Easee access token.
func IssueSession(username, easeeToken string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrEmptySecret
	}
	if username == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		EaseeToken: easeeToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseSession validates a session JWT and returns claims.
func ParseSession(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrEmptyToken
	}
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if claims.EaseeToken == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
