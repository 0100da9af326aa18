package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"eventmarket/server/internal/auth"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
)

// ContextKeyActor holds the authenticated models.Actor in the gin context.
const ContextKeyActor = "actor"

var errMissingHeader = errors.New("authorization header required")

// ActorFromHeader validates a "Bearer <token>" Authorization header.
func ActorFromHeader(header, jwtSecret string) (models.Actor, error) {
	if header == "" {
		return models.Actor{}, errMissingHeader
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return models.Actor{}, errors.New("authorization header format must be Bearer {token}")
	}
	actor, err := auth.ValidateJWT(parts[1], jwtSecret)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid or expired token: %w", err)
	}
	return actor, nil
}

// setActor makes the actor visible to gin handlers and to services via the request context.
func setActor(c *gin.Context, actor models.Actor) {
	c.Set(ContextKeyActor, actor)
	c.Request = c.Request.WithContext(services.WithActor(c.Request.Context(), actor))
}

// AuthMiddleware rejects requests without a valid token.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := ActorFromHeader(c.GetHeader("Authorization"), jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		setActor(c, actor)
		c.Next()
	}
}

// OptionalAuthMiddleware attaches the actor when a valid token is present and
// proceeds as a guest otherwise.
func OptionalAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor, err := ActorFromHeader(c.GetHeader("Authorization"), jwtSecret); err == nil {
			setActor(c, actor)
		}
		c.Next()
	}
}

// RoleMiddleware only admits actors whose role can issue quotes and listings.
// It assumes AuthMiddleware ran first.
func RoleMiddleware(allowed ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		for _, r := range allowed {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("role %s not allowed", actor.Role)})
	}
}

// CurrentActor returns the actor set by the auth middlewares.
func CurrentActor(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(ContextKeyActor)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
