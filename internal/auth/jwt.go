package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

const issuer = "eventmarket"

// Claims carries the actor a bearer token authenticates as.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts validated claims into the actor services run as.
func (c *Claims) Actor() (models.Actor, error) {
	id, err := utils.ParseSixID(c.UserID)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid user id in token: %w", err)
	}
	role, err := models.ParseRole(c.Role)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid role in token: %w", err)
	}
	return models.Actor{ID: id, Role: role}, nil
}

// GenerateJWT issues a signed token for actor.
func GenerateJWT(actor models.Actor, secretKey string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: actor.ID.String(),
		Role:   string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// ValidateJWT verifies a token string and returns the actor it carries.
func ValidateJWT(tokenString string, secretKey string) (models.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return models.Actor{}, fmt.Errorf("failed to parse JWT: %w", err)
	}
	if !token.Valid {
		return models.Actor{}, errors.New("invalid JWT")
	}
	return claims.Actor()
}
