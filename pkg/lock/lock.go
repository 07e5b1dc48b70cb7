// Package lock 按键加锁：单机互斥锁与 Redis 分布式锁
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/unionfinance/pkg/cache"
)

// Locker 同时锁定一组键，返回释放函数。键按字典序获取，避免死锁
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// LocalLocker 进程内按键互斥
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 创建单机锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Acquire 依次获取键锁，ctx 取消时释放已持有的锁
func (l *LocalLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}
	for _, k := range keys {
		if err := l.lock(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	return release, nil
}

func (l *LocalLocker) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *LocalLocker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		return
	}
	<-kl.ch
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// RedisLocker 基于 SETNX 的分布式锁，获取失败时按间隔重试直到 ctx 结束
type RedisLocker struct {
	cache  *cache.RedisCache
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker 创建分布式锁
func NewRedisLocker(c *cache.RedisCache, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{cache: c, prefix: prefix, ttl: ttl, retry: 50 * time.Millisecond}
}

// Acquire 依次获取键锁
func (r *RedisLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = normalize(keys)
	type held struct{ key, token string }
	acquired := make([]held, 0, len(keys))
	release := func() {
		// 释放不受调用方 ctx 取消影响
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = r.cache.Unlock(rctx, acquired[i].key, acquired[i].token)
		}
	}

	for _, k := range keys {
		key := r.prefix + k
		token, err := r.lockWithRetry(ctx, key)
		if err != nil {
			release()
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		acquired = append(acquired, held{key: key, token: token})
	}
	return release, nil
}

func (r *RedisLocker) lockWithRetry(ctx context.Context, key string) (string, error) {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		token, err := r.cache.Lock(ctx, key, r.ttl)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, cache.ErrLockNotAcquired) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
