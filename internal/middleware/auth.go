package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"health-coach-go/pkg/log"
	"health-coach-go/pkg/token"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 Bearer token，验证通过后把 claims 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			AbortWithError(c, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Debugw("token 校验失败", "requestId", RequestIDFrom(c), "error", err)
			AbortWithError(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}
