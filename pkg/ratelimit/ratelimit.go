// Package ratelimit 实现按身份计数的固定窗口限流。
// 计数存储抽象为 Store 接口：单实例部署使用内存实现，多实例部署使用 Redis 实现。
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Counter 是某个 key 在当前窗口内的计数快照。
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Store 原子地递增计数。窗口过期后的第一次递增会重置计数并开启新窗口。
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)
}

// Result 是一次限流判定的结果，用于写入响应头。
type Result struct {
	Success    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds 向上取整到整秒，最小为 1。
func (r Result) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter 在 Store 之上实现 "每窗口最多 N 次" 的判定。
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter 创建限流器。limit 为每个窗口允许的最大请求数。
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, now: time.Now}
}

// Limit 返回每窗口上限。
func (l *Limiter) Limit() int { return l.limit }

// Consume 为 key 消耗一次配额。超过上限时 Success=false，并给出距离窗口重置的等待时间。
func (l *Limiter) Consume(ctx context.Context, key string) (Result, error) {
	c, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store increment: %w", err)
	}

	res := Result{
		Limit:   l.limit,
		ResetAt: c.ResetAt,
	}
	if c.Count > int64(l.limit) {
		res.Success = false
		res.Remaining = 0
		res.RetryAfter = c.ResetAt.Sub(l.now())
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
		return res, nil
	}
	res.Success = true
	res.Remaining = l.limit - int(c.Count)
	return res, nil
}
