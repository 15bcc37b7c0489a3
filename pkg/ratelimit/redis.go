package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrScript 原子地递增计数，并在窗口首个请求时设置过期时间。
// 返回 {count, pttl}。
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore 使用 Redis 保存计数，多个实例共享同一份配额。
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore 创建 Redis 存储，prefix 会加在每个 key 前面。
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return Counter{}, fmt.Errorf("redis incr script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Counter{}, fmt.Errorf("unexpected redis script result: %v", res)
	}
	count, ok1 := vals[0].(int64)
	ttl, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return Counter{}, fmt.Errorf("unexpected redis script result types: %T, %T", vals[0], vals[1])
	}
	return Counter{
		Count:   count,
		ResetAt: s.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}
