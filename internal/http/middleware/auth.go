// README: Bearer-token auth middleware; the verified caller is stored on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"foodhub/internal/auth"
	"foodhub/internal/infra"
	"foodhub/internal/types"
)

const actorKey = "foodhub.actor"

// Auth rejects requests without a valid "Authorization: Bearer" token.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorKey, auth.ActorFromToken(tok))
		c.Next()
	}
}

// RequireRoles must run after Auth.
func RequireRoles(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Actor(c).Role.In(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed"})
			return
		}
		c.Next()
	}
}

// Actor returns the authenticated caller, or the zero Actor outside Auth.
func Actor(c *gin.Context) types.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(types.Actor); ok {
			return a
		}
	}
	return types.Actor{}
}

func CallerUID(c *gin.Context) types.ID { return Actor(c).ID }

func CallerRole(c *gin.Context) types.Role { return Actor(c).Role }
