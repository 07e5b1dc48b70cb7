// Package memory 罢工基金内存仓储
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/unionfinance/internal/strikefund/domain"
)

// FundRepository 内存基金仓储
type FundRepository struct {
	mu    sync.RWMutex
	funds map[string]domain.StrikeFund
}

func NewFundRepository() *FundRepository {
	return &FundRepository{funds: make(map[string]domain.StrikeFund)}
}

func (r *FundRepository) Save(_ context.Context, fund *domain.StrikeFund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if fund.CreatedAt.IsZero() {
		fund.CreatedAt = now
	}
	fund.UpdatedAt = now
	r.funds[fund.FundID] = *fund
	return nil
}

func (r *FundRepository) GetByFundID(_ context.Context, fundID string) (*domain.StrikeFund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funds[fundID]
	if !ok {
		return nil, domain.ErrFundNotFound
	}
	return &f, nil
}

// GetForUpdate 内存实现不加锁，并发由调用方的 Locker 保证
func (r *FundRepository) GetForUpdate(ctx context.Context, fundID string) (*domain.StrikeFund, error) {
	return r.GetByFundID(ctx, fundID)
}

func (r *FundRepository) ListActive(_ context.Context) ([]*domain.StrikeFund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.StrikeFund, 0, len(r.funds))
	for _, f := range r.funds {
		if f.IsActive {
			f := f
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FundID < out[j].FundID })
	return out, nil
}

type flowKey struct {
	fundID string
	day    time.Time
}

// FlowRepository 内存日流量仓储
type FlowRepository struct {
	mu    sync.RWMutex
	flows map[flowKey]domain.DailyFlow
}

func NewFlowRepository() *FlowRepository {
	return &FlowRepository{flows: make(map[flowKey]domain.DailyFlow)}
}

func (r *FlowRepository) Upsert(_ context.Context, flow *domain.DailyFlow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := flowKey{flow.FundID, flow.FlowDate.UTC()}
	now := time.Now().UTC()
	if prev, ok := r.flows[key]; ok {
		flow.CreatedAt = prev.CreatedAt
	} else {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = now
	r.flows[key] = *flow
	return nil
}

func (r *FlowRepository) Get(_ context.Context, fundID string, day time.Time) (*domain.DailyFlow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[flowKey{fundID, day.UTC()}]
	if !ok {
		return nil, domain.ErrFlowNotFound
	}
	return &f, nil
}

func (r *FlowRepository) ListRange(_ context.Context, fundID string, start, end time.Time) ([]*domain.DailyFlow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.DailyFlow, 0)
	for k, f := range r.flows {
		if k.fundID != fundID || k.day.Before(start) || k.day.After(end) {
			continue
		}
		f := f
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowDate.Before(out[j].FlowDate) })
	return out, nil
}

func (r *FlowRepository) FirstDate(_ context.Context, fundID string) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var first *time.Time
	for k := range r.flows {
		if k.fundID != fundID {
			continue
		}
		if first == nil || k.day.Before(*first) {
			d := k.day
			first = &d
		}
	}
	return first, nil
}

// AlertStore 内存告警去重
type AlertStore struct {
	mu     sync.Mutex
	alerts map[flowKey]domain.FundAlert
}

func NewAlertStore() *AlertStore {
	return &AlertStore{alerts: make(map[flowKey]domain.FundAlert)}
}

func (s *AlertStore) Record(_ context.Context, alert *domain.FundAlert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := flowKey{alert.FundID, alert.AlertDate.UTC()}
	if _, ok := s.alerts[key]; ok {
		return false, nil
	}
	alert.CreatedAt = time.Now().UTC()
	s.alerts[key] = *alert
	return true, nil
}

// Alerts 已记录告警
func (s *AlertStore) Alerts() []domain.FundAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FundAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AlertDate.Equal(out[j].AlertDate) {
			return out[i].AlertDate.Before(out[j].AlertDate)
		}
		return out[i].FundID < out[j].FundID
	})
	return out
}
