// Package infrastructure 罢工基金告警去重
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/unionfinance/internal/strikefund/domain"
	"github.com/wyfcoding/unionfinance/pkg/cache"
)

const alertKeyTTL = 48 * time.Hour

// RedisAlertStore 以 SETNX 去重，首次记录的告警再交给 history 落库
type RedisAlertStore struct {
	cache   *cache.RedisCache
	history domain.AlertStore
}

// NewRedisAlertStore history 可为空
func NewRedisAlertStore(c *cache.RedisCache, history domain.AlertStore) *RedisAlertStore {
	return &RedisAlertStore{cache: c, history: history}
}

// AlertKey 基金与日期的去重键
func AlertKey(fundID string, day time.Time) string {
	return fmt.Sprintf("strikefund:alert:%s:%s", fundID, day.UTC().Format(time.DateOnly))
}

func (s *RedisAlertStore) Record(ctx context.Context, alert *domain.FundAlert) (bool, error) {
	ok, err := s.cache.SetNX(ctx, AlertKey(alert.FundID, alert.AlertDate), string(alert.Level), alertKeyTTL)
	if err != nil {
		return false, fmt.Errorf("failed to dedupe alert for fund %s: %w", alert.FundID, err)
	}
	if !ok {
		return false, nil
	}
	if s.history == nil {
		return true, nil
	}
	created, err := s.history.Record(ctx, alert)
	if err != nil {
		// 释放去重键，下一轮可以重试
		_ = s.cache.Delete(context.WithoutCancel(ctx), AlertKey(alert.FundID, alert.AlertDate))
		return false, err
	}
	return created, nil
}
