// Package persistence 会费仓储的 gorm 实现，支持 mysql 与 postgres
package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/pkg/db"
)

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository 创建规则仓储
func NewRuleRepository(gdb *gorm.DB) domain.RuleRepository {
	return &ruleRepository{db: gdb}
}

func (r *ruleRepository) Save(ctx context.Context, rule *domain.DuesRule) error {
	return db.Conn(ctx, r.db).Save(rule).Error
}

func (r *ruleRepository) GetByRuleID(ctx context.Context, ruleID string) (*domain.DuesRule, error) {
	var rule domain.DuesRule
	err := db.Conn(ctx, r.db).Where("rule_id = ?", ruleID).First(&rule).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) ListByCode(ctx context.Context, ruleCode string) ([]*domain.DuesRule, error) {
	var rules []*domain.DuesRule
	err := db.Conn(ctx, r.db).
		Where("rule_code = ?", ruleCode).
		Order("effective_from ASC, rule_id ASC").
		Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*domain.DuesRule, error) {
	var rules []*domain.DuesRule
	err := db.Conn(ctx, r.db).
		Where("organization_id = ?", organizationID).
		Order("effective_from ASC, rule_id ASC").
		Find(&rules).Error
	return rules, err
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository 创建会员绑定仓储
func NewAssignmentRepository(gdb *gorm.DB) domain.AssignmentRepository {
	return &assignmentRepository{db: gdb}
}

func (r *assignmentRepository) Save(ctx context.Context, a *domain.MemberDuesAssignment) error {
	return db.Conn(ctx, r.db).Save(a).Error
}

func (r *assignmentRepository) GetActiveByMember(ctx context.Context, memberID string) (*domain.MemberDuesAssignment, error) {
	var a domain.MemberDuesAssignment
	err := db.Conn(ctx, r.db).
		Where("member_id = ? AND is_active = ?", memberID, true).
		Order("id DESC").
		First(&a).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建会费账单仓储
func NewTransactionRepository(gdb *gorm.DB) domain.TransactionRepository {
	return &transactionRepository{db: gdb}
}

func (r *transactionRepository) SaveBatch(ctx context.Context, txns []*domain.DuesTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	return db.Conn(ctx, r.db).CreateInBatches(txns, 500).Error
}

func (r *transactionRepository) Update(ctx context.Context, txn *domain.DuesTransaction) error {
	return db.Conn(ctx, r.db).Save(txn).Error
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.DuesTransaction, error) {
	var t domain.DuesTransaction
	err := db.Conn(ctx, r.db).Where("transaction_id = ?", transactionID).First(&t).Error
	if db.IsNotFound(err) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) GetForUpdate(ctx context.Context, transactionIDs []string) ([]*domain.DuesTransaction, error) {
	if len(transactionIDs) == 0 {
		return nil, nil
	}
	var txns []*domain.DuesTransaction
	err := db.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id IN ?", transactionIDs).
		Order("transaction_id ASC").
		Find(&txns).Error
	return txns, err
}

func (r *transactionRepository) ListForEmployer(ctx context.Context, employerID string, start, end time.Time) ([]*domain.DuesTransaction, error) {
	var txns []*domain.DuesTransaction
	err := db.Conn(ctx, r.db).
		Where("employer_id = ? AND status <> ?", employerID, domain.TransactionCancelled).
		Where("period_start <= ? AND period_end >= ?", end, start).
		Order("transaction_id ASC").
		Find(&txns).Error
	return txns, err
}

func (r *transactionRepository) ListByRemittance(ctx context.Context, remittanceID string) ([]*domain.DuesTransaction, error) {
	var txns []*domain.DuesTransaction
	err := db.Conn(ctx, r.db).
		Where("remittance_id = ?", remittanceID).
		Order("transaction_id ASC").
		Find(&txns).Error
	return txns, err
}

func (r *transactionRepository) ExistsForPeriod(ctx context.Context, memberID string, start, end time.Time) (bool, error) {
	var count int64
	err := db.Conn(ctx, r.db).
		Model(&domain.DuesTransaction{}).
		Where("member_id = ? AND period_start = ? AND period_end = ? AND status <> ?", memberID, start, end, domain.TransactionCancelled).
		Count(&count).Error
	return count > 0, err
}

// AutoMigrate 迁移会费相关表
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&domain.DuesRule{}, &domain.MemberDuesAssignment{}, &domain.DuesTransaction{})
}
