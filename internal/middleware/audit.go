package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-api/internal/service"
)

// RequestMeta copies the caller's address and user agent into the request context
// so services can attach them to audit entries.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestMeta(c.Request.Context(), service.RequestMeta{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
