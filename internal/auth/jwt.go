package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"smartattend/internal/attendance"
)

// Token is a signed access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Claims is the JWT payload: an already-resolved user id and role.
type Claims struct {
	Role attendance.Role `json:"role"`
	Name string          `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 access token for subject.
func Issue(subject string, role attendance.Role, name, issuer, key string, ttl time.Duration, now time.Time) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("subject required")
	}
	if role.String() == "" {
		return Token{}, errors.New("role required")
	}
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" || claims.Role.String() == "" {
		return Claims{}, errors.New("token lacks subject or role")
	}
	return *claims, nil
}
