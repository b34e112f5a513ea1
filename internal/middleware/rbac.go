package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/insumed-ar/ventas-api/internal/models"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
	"github.com/insumed-ar/ventas-api/pkg/response"
)

// RequireRoles restricts a route to callers holding one of the given
// roles. Fine grained ownership checks live in the service layer, this
// gate only keeps whole route groups such as reporting admin only.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
