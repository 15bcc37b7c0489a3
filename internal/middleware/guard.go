package middleware

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"health-coach-go/internal/observability"
	"health-coach-go/internal/service"
	"health-coach-go/pkg/log"
	"health-coach-go/pkg/ratelimit"
)

// RequireJSON 拒绝 Content-Type 不是 application/json 的请求（400）。
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || mediaType != "application/json" {
			AbortWithError(c, http.StatusBadRequest, "content type must be application/json")
			return
		}
		c.Next()
	}
}

// BodyLimit 拒绝声明长度超过 maxBytes 的请求（413），并限制实际读取的字节数。
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			AbortWithError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxBytes))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// IsBodyTooLarge 判断读取请求体的错误是否因为超出 BodyLimit。
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// RateLimitKey 按身份生成限流键，无身份时退化为客户端地址。
func RateLimitKey(c *gin.Context) string {
	if claims, ok := ClaimsFrom(c); ok && claims.UserID != 0 {
		return "user:" + strconv.FormatUint(uint64(claims.UserID), 10)
	}
	return "ip:" + c.ClientIP()
}

// SetRateLimitHeaders 写入 X-RateLimit-* 响应头。
func SetRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// RateLimit 固定窗口限流。超限返回 429 并带 Retry-After；存储不可用时放行。
func RateLimit(limiter *ratelimit.Limiter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Consume(c.Request.Context(), RateLimitKey(c))
		if err != nil {
			log.Warnw("限流存储不可用，放行请求", "requestId", RequestIDFrom(c), "error", err)
			c.Next()
			return
		}
		c.Set(ContextKeyRateLimit, res)
		SetRateLimitHeaders(c, res)
		if !res.Success {
			metrics.IncRateLimited()
			c.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
			AbortWithError(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// Entitlement 要求有效订阅（402）。skip 为 true 时直接放行。
func Entitlement(entitlements service.EntitlementService, skip bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skip {
			c.Next()
			return
		}
		claims, ok := ClaimsFrom(c)
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, "unauthenticated")
			return
		}
		err := entitlements.Check(c.Request.Context(), claims.UserID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrNotEntitled):
			AbortWithError(c, http.StatusPaymentRequired, "an active subscription is required")
		default:
			log.Errorw("订阅查询失败", "requestId", RequestIDFrom(c), "userId", claims.UserID, "error", err)
			AbortWithError(c, http.StatusInternalServerError, "internal error")
		}
	}
}

// Guard 按固定顺序组装守卫链：content-type、body 上限、认证、限流、订阅。
// 请求 ID 中间件应在全局注册，位于守卫链之前。
func Guard(auth gin.HandlerFunc, maxBodyBytes int64, limiter *ratelimit.Limiter, entitlements service.EntitlementService, skipEntitlement bool, metrics *observability.Metrics) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		RequireJSON(),
		BodyLimit(maxBodyBytes),
		auth,
		RateLimit(limiter, metrics),
		Entitlement(entitlements, skipEntitlement),
	}
}
