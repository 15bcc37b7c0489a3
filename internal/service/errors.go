// Package service 包含了应用的业务逻辑层：校验、分类、上下文组装、模型路由、持久化与埋点。
package service

import (
	"errors"
	"fmt"
)

// ValidationError 表示请求体不合法，对应 400，不应重试。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNotEntitled 表示用户没有有效订阅，对应 402。
var ErrNotEntitled = errors.New("subscription required")

// ErrBlockedRoute 表示被安全分类拦截的请求不能进入模型路由。
var ErrBlockedRoute = errors.New("blocked classification cannot be routed")
