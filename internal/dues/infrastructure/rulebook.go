package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
)

// RuleBook 按会员绑定加载规则版本，编译结果按 RuleCode 缓存
type RuleBook struct {
	rules       domain.RuleRepository
	assignments domain.AssignmentRepository
	ttl         time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]ruleBookEntry
}

type ruleBookEntry struct {
	compiled []*domain.CompiledRule
	loadedAt time.Time
}

// NewRuleBook 创建规则簿，ttl<=0 时不缓存
func NewRuleBook(rules domain.RuleRepository, assignments domain.AssignmentRepository, ttl time.Duration) *RuleBook {
	return &RuleBook{
		rules:       rules,
		assignments: assignments,
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]ruleBookEntry),
	}
}

// RulesForMember 返回会员有效绑定对应的所有规则版本，无绑定时返回空
func (b *RuleBook) RulesForMember(ctx context.Context, memberID string) ([]*domain.CompiledRule, error) {
	assignment, err := b.assignments.GetActiveByMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, domain.ErrAssignmentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load assignment for member %s: %w", memberID, err)
	}
	return b.RulesForCode(ctx, assignment.RuleCode)
}

// RulesForCode 返回编译后的规则版本
func (b *RuleBook) RulesForCode(ctx context.Context, ruleCode string) ([]*domain.CompiledRule, error) {
	if compiled, ok := b.cached(ruleCode); ok {
		return compiled, nil
	}

	rules, err := b.rules.ListByCode(ctx, ruleCode)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", ruleCode, err)
	}
	compiled := make([]*domain.CompiledRule, 0, len(rules))
	for _, r := range rules {
		c, err := domain.Compile(r)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}

	if b.ttl > 0 {
		b.mu.Lock()
		b.entries[ruleCode] = ruleBookEntry{compiled: compiled, loadedAt: b.now()}
		b.mu.Unlock()
	}
	return compiled, nil
}

func (b *RuleBook) cached(ruleCode string) ([]*domain.CompiledRule, bool) {
	if b.ttl <= 0 {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[ruleCode]
	if !ok || b.now().Sub(e.loadedAt) >= b.ttl {
		return nil, false
	}
	return e.compiled, true
}

// Invalidate 规则变更后清除缓存
func (b *RuleBook) Invalidate(ruleCode string) {
	b.mu.Lock()
	delete(b.entries, ruleCode)
	b.mu.Unlock()
}
