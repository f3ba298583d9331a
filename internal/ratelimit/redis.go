package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 限流器的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Prefix    string
	PerMinute int
}

// RedisLimiter 使用 Redis 固定窗口计数实现跨实例共享的限流。
type RedisLimiter struct {
	client    *redis.Client
	prefix    string
	perMinute int
}

// NewRedisLimiter 创建 Redis 限流器并验证连通性。
func NewRedisLimiter(ctx context.Context, cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("Redis 地址不能为空")
	}
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "promethean:ratelimit"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return &RedisLimiter{
		client:    client,
		prefix:    prefix,
		perMinute: perMinute,
	}, nil
}

// Allow 在当前一分钟窗口内为 key 计数,超过配额则拒绝。
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / 60
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, window)

	pipe := r.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("更新限流计数失败: %w", err)
	}

	return count.Val() <= int64(r.perMinute), nil
}

// Close 释放 Redis 连接。
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
