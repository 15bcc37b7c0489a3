package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"health-coach-go/pkg/log"
)

// RequestLogger 在请求结束后记录一行访问日志。流式响应体不做缓存。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestId", RequestIDFrom(c),
		}
		if claims, ok := ClaimsFrom(c); ok {
			fields = append(fields, "userId", claims.UserID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		log.Infow("HTTP Request Log", fields...)
	}
}
