// Package middleware 提供了处理 HTTP 请求的中间件：请求 ID、守卫链、认证与访问日志。
package middleware

import (
	"github.com/gin-gonic/gin"

	"health-coach-go/pkg/ratelimit"
	"health-coach-go/pkg/token"
)

// 存入 gin.Context 的键。
const (
	ContextKeyRequestID = "requestId"
	ContextKeyClaims    = "claims"
	ContextKeyRateLimit = "rateLimit"
)

// HeaderRequestID 是请求 ID 的响应头。
const HeaderRequestID = "X-Request-ID"

// RequestIDFrom 返回当前请求的 ID。
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// ClaimsFrom 返回 AuthMiddleware 解析出的 claims。
func ClaimsFrom(c *gin.Context) (*token.CustomClaims, bool) {
	v, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.CustomClaims)
	return claims, ok
}

// RateLimitFrom 返回限流结果，限流中间件未运行时 ok 为 false。
func RateLimitFrom(c *gin.Context) (ratelimit.Result, bool) {
	v, ok := c.Get(ContextKeyRateLimit)
	if !ok {
		return ratelimit.Result{}, false
	}
	res, ok := v.(ratelimit.Result)
	return res, ok
}

// ErrorBody 是所有错误响应的统一格式。
type ErrorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// AbortWithError 以统一格式中止请求。
func AbortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Code: status, Message: message, RequestID: RequestIDFrom(c)})
}
