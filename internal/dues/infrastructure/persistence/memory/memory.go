// Package memory 会费仓储的内存实现
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
)

// RuleRepository 内存规则仓储，driver=memory 与测试使用
type RuleRepository struct {
	mu    sync.RWMutex
	rules map[string]domain.DuesRule
}

// NewRuleRepository 创建内存规则仓储
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{rules: make(map[string]domain.DuesRule)}
}

func (r *RuleRepository) Save(_ context.Context, rule *domain.DuesRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	rule.UpdatedAt = time.Now().UTC()
	r.rules[rule.RuleID] = *rule
	return nil
}

func (r *RuleRepository) GetByRuleID(_ context.Context, ruleID string) (*domain.DuesRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[ruleID]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return &rule, nil
}

func (r *RuleRepository) ListByCode(_ context.Context, ruleCode string) ([]*domain.DuesRule, error) {
	return r.list(func(d *domain.DuesRule) bool { return d.RuleCode == ruleCode }), nil
}

func (r *RuleRepository) ListByOrganization(_ context.Context, organizationID string) ([]*domain.DuesRule, error) {
	return r.list(func(d *domain.DuesRule) bool { return d.OrganizationID == organizationID }), nil
}

func (r *RuleRepository) list(keep func(*domain.DuesRule) bool) []*domain.DuesRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.DuesRule, 0)
	for _, rule := range r.rules {
		rule := rule
		if keep(&rule) {
			out = append(out, &rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveFrom.Equal(out[j].EffectiveFrom) {
			return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// AssignmentRepository 内存绑定仓储
type AssignmentRepository struct {
	mu     sync.RWMutex
	nextID uint
	items  []domain.MemberDuesAssignment
}

// NewAssignmentRepository 创建内存绑定仓储
func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{}
}

func (r *AssignmentRepository) Save(_ context.Context, a *domain.MemberDuesAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == 0 {
		r.nextID++
		a.ID = r.nextID
		a.CreatedAt = time.Now().UTC()
		r.items = append(r.items, *a)
		return nil
	}
	for i := range r.items {
		if r.items[i].ID == a.ID {
			r.items[i] = *a
			return nil
		}
	}
	r.items = append(r.items, *a)
	return nil
}

func (r *AssignmentRepository) GetActiveByMember(_ context.Context, memberID string) (*domain.MemberDuesAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.items) - 1; i >= 0; i-- {
		if a := r.items[i]; a.MemberID == memberID && a.IsActive {
			return &a, nil
		}
	}
	return nil, domain.ErrAssignmentNotFound
}

// TransactionRepository 内存账单仓储
type TransactionRepository struct {
	mu    sync.RWMutex
	items map[string]domain.DuesTransaction
}

// NewTransactionRepository 创建内存账单仓储
func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{items: make(map[string]domain.DuesTransaction)}
}

func (r *TransactionRepository) SaveBatch(_ context.Context, txns []*domain.DuesTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range txns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		r.items[t.TransactionID] = *t
	}
	return nil
}

func (r *TransactionRepository) Update(_ context.Context, txn *domain.DuesTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[txn.TransactionID]; !ok {
		return domain.ErrTransactionNotFound
	}
	txn.UpdatedAt = time.Now().UTC()
	r.items[txn.TransactionID] = *txn
	return nil
}

func (r *TransactionRepository) GetByTransactionID(_ context.Context, transactionID string) (*domain.DuesTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[transactionID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &t, nil
}

// GetForUpdate 内存实现不加锁，由调用方的事务锁保证互斥
func (r *TransactionRepository) GetForUpdate(_ context.Context, transactionIDs []string) ([]*domain.DuesTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.DuesTransaction, 0, len(transactionIDs))
	for _, id := range transactionIDs {
		if t, ok := r.items[id]; ok {
			out = append(out, &t)
		}
	}
	return out, nil
}

func (r *TransactionRepository) ListForEmployer(_ context.Context, employerID string, start, end time.Time) ([]*domain.DuesTransaction, error) {
	return r.list(func(t *domain.DuesTransaction) bool {
		return t.EmployerID == employerID && t.Status != domain.TransactionCancelled && t.Overlaps(start, end)
	}), nil
}

func (r *TransactionRepository) ListByRemittance(_ context.Context, remittanceID string) ([]*domain.DuesTransaction, error) {
	return r.list(func(t *domain.DuesTransaction) bool { return t.RemittanceID == remittanceID }), nil
}

func (r *TransactionRepository) ExistsForPeriod(_ context.Context, memberID string, start, end time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.items {
		if t.MemberID == memberID && t.PeriodStart.Equal(start) && t.PeriodEnd.Equal(end) && t.Status != domain.TransactionCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (r *TransactionRepository) list(keep func(*domain.DuesTransaction) bool) []*domain.DuesTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.DuesTransaction, 0)
	for _, t := range r.items {
		t := t
		if keep(&t) {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}
