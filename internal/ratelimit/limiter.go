package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter 判断某个调用方在当前时刻是否还允许发起请求。
// key 通常是 API Key 的散列或客户端 IP。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// 每经过这么多次 Allow 调用顺带清理一次闲置的桶,避免常驻后台协程。
const evictEvery = 512

// MapLimiter 为每个 key 维护一个令牌桶,闲置的桶在后续调用中顺带清理。
type MapLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	hits     uint64
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMapLimiter 创建内存限流器。perMinute 是每分钟允许的请求数,
// burst 是瞬时突发上限。
func NewMapLimiter(perMinute, burst int) *MapLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &MapLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 实现 Limiter 接口。
func (m *MapLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	m.hits++
	if m.hits%evictEvery == 0 {
		cutoff := now.Add(-m.idleTTL)
		for k, v := range m.limiters {
			if v.lastSeen.Before(cutoff) {
				delete(m.limiters, k)
			}
		}
	}

	return allowed, nil
}

var _ Limiter = (*MapLimiter)(nil)
