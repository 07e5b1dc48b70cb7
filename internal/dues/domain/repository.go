package domain

import (
	"context"
	"time"
)

// RuleRepository 规则仓储
type RuleRepository interface {
	Save(ctx context.Context, rule *DuesRule) error
	GetByRuleID(ctx context.Context, ruleID string) (*DuesRule, error)
	ListByCode(ctx context.Context, ruleCode string) ([]*DuesRule, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*DuesRule, error)
}

// AssignmentRepository 会员规则绑定仓储，调用方保证每个会员至多一条有效绑定
type AssignmentRepository interface {
	Save(ctx context.Context, a *MemberDuesAssignment) error
	GetActiveByMember(ctx context.Context, memberID string) (*MemberDuesAssignment, error)
}

// TransactionRepository 会费账单仓储
type TransactionRepository interface {
	SaveBatch(ctx context.Context, txns []*DuesTransaction) error
	Update(ctx context.Context, txn *DuesTransaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*DuesTransaction, error)
	// GetForUpdate 在事务中加行锁读取
	GetForUpdate(ctx context.Context, transactionIDs []string) ([]*DuesTransaction, error)
	// ListForEmployer 查询雇主在区间内有账期重叠的账单
	ListForEmployer(ctx context.Context, employerID string, start, end time.Time) ([]*DuesTransaction, error)
	ListByRemittance(ctx context.Context, remittanceID string) ([]*DuesTransaction, error)
	ExistsForPeriod(ctx context.Context, memberID string, start, end time.Time) (bool, error)
}

// RuleSource 按会员提供已编译的规则版本
type RuleSource interface {
	RulesForMember(ctx context.Context, memberID string) ([]*CompiledRule, error)
}
