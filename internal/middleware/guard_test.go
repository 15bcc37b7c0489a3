package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-coach-go/internal/service"
	"health-coach-go/pkg/ratelimit"
	"health-coach-go/pkg/token"
)

const testSecret = "test-secret"

type fakeEntitlements struct {
	err   error
	calls int
}

func (f *fakeEntitlements) Check(context.Context, uint) error {
	f.calls++
	return f.err
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration) (ratelimit.Counter, error) {
	return ratelimit.Counter{}, errors.New("redis down")
}

func newGuardedRouter(t *testing.T, limit int, ent service.EntitlementService, skip bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := ratelimit.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	limiter := ratelimit.NewLimiter(store, limit, time.Minute)

	r := gin.New()
	r.Use(RequestID())
	handlers := Guard(AuthMiddleware(token.NewJWTManager(testSecret)), 64, limiter, ent, skip, nil)
	handlers = append(handlers, func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if IsBodyTooLarge(err) {
			AbortWithError(c, http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.String(http.StatusOK, string(body))
	})
	r.POST("/chat", handlers...)
	return r
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := token.NewJWTManager(testSecret).GenerateToken(userID, "u", "USER", time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func doPost(r http.Handler, body, contentType, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestGuard_Success(t *testing.T) {
	r := newGuardedRouter(t, 5, &fakeEntitlements{}, false)
	w := doPost(r, `{"a":1}`, "application/json; charset=utf-8", bearer(t, 7))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestGuard_WrongContentType(t *testing.T) {
	r := newGuardedRouter(t, 5, &fakeEntitlements{}, false)
	w := doPost(r, `hi`, "text/plain", bearer(t, 7))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, http.StatusBadRequest, body.Code)
	assert.Equal(t, w.Header().Get(HeaderRequestID), body.RequestID)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestGuard_PayloadTooLarge(t *testing.T) {
	r := newGuardedRouter(t, 5, &fakeEntitlements{}, false)
	w := doPost(r, `{"a":"`+strings.Repeat("x", 100)+`"}`, "application/json", bearer(t, 7))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGuard_MissingOrBadToken(t *testing.T) {
	r := newGuardedRouter(t, 5, &fakeEntitlements{}, false)

	assert.Equal(t, http.StatusUnauthorized, doPost(r, `{}`, "application/json", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doPost(r, `{}`, "application/json", "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, doPost(r, `{}`, "application/json", "Token abc").Code)
}

func TestGuard_RateLimitRejectsNPlusOne(t *testing.T) {
	r := newGuardedRouter(t, 2, &fakeEntitlements{}, false)
	auth := bearer(t, 7)

	assert.Equal(t, http.StatusOK, doPost(r, `{}`, "application/json", auth).Code)
	assert.Equal(t, http.StatusOK, doPost(r, `{}`, "application/json", auth).Code)
	w := doPost(r, `{}`, "application/json", auth)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// 其他用户不受影响
	assert.Equal(t, http.StatusOK, doPost(r, `{}`, "application/json", bearer(t, 8)).Code)
}

func TestGuard_Entitlement(t *testing.T) {
	ent := &fakeEntitlements{err: service.ErrNotEntitled}
	r := newGuardedRouter(t, 5, ent, false)
	w := doPost(r, `{}`, "application/json", bearer(t, 7))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))

	skipped := &fakeEntitlements{err: service.ErrNotEntitled}
	r = newGuardedRouter(t, 5, skipped, true)
	assert.Equal(t, http.StatusOK, doPost(r, `{}`, "application/json", bearer(t, 7)).Code)
	assert.Equal(t, 0, skipped.calls)
}

func TestRateLimit_StoreFailureFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RateLimit(ratelimit.NewLimiter(brokenStore{}, 1, time.Minute), nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRequestID_ReusesValidUpstreamID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-1234")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-1234", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "bad id\n")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Body.String(), 36)
}
