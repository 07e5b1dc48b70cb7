// Package ratelimit 限流器：Redis GCRA 实现与单机固定窗口实现
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimiter 限流接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result 限流判定结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter 基于 redis_rate 的分布式限流
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建分布式限流器
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 判定是否放行
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

// sweepInterval 清理过期窗口的最小间隔
const sweepInterval = time.Minute

// MemoryRateLimiter 单机固定窗口限流，窗口内最多放行 Burst 次
type MemoryRateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	swept   time.Time
	windows map[string]*window
}

type window struct {
	start  time.Time
	period time.Duration
	count  int
}

// NewMemoryRateLimiter 创建单机限流器
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{now: time.Now, windows: make(map[string]*window)}
}

// Allow 判定是否放行
func (m *MemoryRateLimiter) Allow(_ context.Context, key string, limit Limit) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.swept) >= sweepInterval {
		m.sweep(now)
	}
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= limit.Period {
		w = &window{start: now, period: limit.Period}
		m.windows[key] = w
	}
	reset := limit.Period - now.Sub(w.start)
	if w.count >= limit.Burst {
		return &Result{Allowed: false, Remaining: 0, ResetAfter: reset, RetryAfter: reset}, nil
	}
	w.count++
	return &Result{Allowed: true, Remaining: limit.Burst - w.count, ResetAfter: reset, RetryAfter: -1}, nil
}

// sweep 删除已过期的窗口
func (m *MemoryRateLimiter) sweep(now time.Time) {
	for key, w := range m.windows {
		if now.Sub(w.start) >= w.period {
			delete(m.windows, key)
		}
	}
	m.swept = now
}
