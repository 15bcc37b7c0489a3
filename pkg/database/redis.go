package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"health-coach-go/internal/config"
	"health-coach-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接，供多实例共享限流计数。
func InitRedis(cfg config.RedisConfig) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}
	log.Info("Redis client connected successfully")
}
