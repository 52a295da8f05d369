package middlewares

import (
	"bitbucket.org/kontrabaz/amobazon_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CorrelationMiddleware tags every request with a correlation id, taken
// from the x-correlation-id header when the caller already has one.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader("x-correlation-id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Writer.Header().Set("x-correlation-id", correlationId)
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
