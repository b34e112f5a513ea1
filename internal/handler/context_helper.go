package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/insumed-ar/ventas-api/internal/middleware"
	"github.com/insumed-ar/ventas-api/internal/models"
)

// claimsFromContext returns the JWT claims the auth middleware stored, or
// nil when the request was not authenticated.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
