package domain

import (
	"context"
	"time"
)

// FundRepository 基金仓储
type FundRepository interface {
	Save(ctx context.Context, fund *StrikeFund) error
	GetByFundID(ctx context.Context, fundID string) (*StrikeFund, error)
	// GetForUpdate 事务内加行锁读取
	GetForUpdate(ctx context.Context, fundID string) (*StrikeFund, error)
	ListActive(ctx context.Context) ([]*StrikeFund, error)
}

// FlowRepository 日流量仓储
type FlowRepository interface {
	// Upsert 按基金和日期覆盖
	Upsert(ctx context.Context, flow *DailyFlow) error
	Get(ctx context.Context, fundID string, day time.Time) (*DailyFlow, error)
	// ListRange 闭区间 [start, end]，按日期升序
	ListRange(ctx context.Context, fundID string, start, end time.Time) ([]*DailyFlow, error)
	// FirstDate 最早记录日期，没有记录时返回 nil
	FirstDate(ctx context.Context, fundID string) (*time.Time, error)
}

// AlertStore 记录告警，同一基金同一天重复记录返回 false
type AlertStore interface {
	Record(ctx context.Context, alert *FundAlert) (bool, error)
}
