package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryStore 是进程内的计数存储，只适用于单实例部署。
// 过期条目由后台 ticker 清理；条目数超过 maxKeys 时在写入路径上同步清理一次。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	maxKeys int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// MemoryOption 配置 MemoryStore。
type MemoryOption func(*MemoryStore)

// WithClock 注入时钟，测试中用于推进时间。
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithMaxKeys 设置触发同步清理的条目数阈值。
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxKeys = n }
}

// NewMemoryStore 创建内存存储。sweepInterval > 0 时启动后台清理协程，需调用 Close 释放。
func NewMemoryStore(sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		maxKeys: 10000,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Counter, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		if !ok && s.maxKeys > 0 && len(s.entries) >= s.maxKeys {
			s.sweepLocked(now)
		}
		e = &memoryEntry{resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return Counter{Count: e.count, ResetAt: e.resetAt}, nil
}

// Len 返回当前条目数。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep 清理所有已过期的条目。
func (s *MemoryStore) Sweep() {
	now := s.now()
	s.mu.Lock()
	s.sweepLocked(now)
	s.mu.Unlock()
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Close 停止后台清理协程，可重复调用。
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
