package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionStatus 会费账单状态
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionPaid      TransactionStatus = "paid"
	TransactionCancelled TransactionStatus = "cancelled"
)

// DuesTransaction 应收会费记录，由计算结果生成，由对账标记为已付
type DuesTransaction struct {
	gorm.Model
	TransactionID  string              `gorm:"column:transaction_id;type:varchar(32);uniqueIndex;not null" json:"transaction_id"`
	MemberID       string              `gorm:"column:member_id;type:varchar(32);index:idx_member_period;not null" json:"member_id"`
	OrganizationID string              `gorm:"column:organization_id;type:varchar(32);index;not null" json:"organization_id"`
	EmployerID     string              `gorm:"column:employer_id;type:varchar(32);index" json:"employer_id"`
	RuleID         string              `gorm:"column:rule_id;type:varchar(32)" json:"rule_id"`
	PeriodStart    time.Time           `gorm:"column:period_start;index:idx_member_period;not null" json:"period_start"`
	PeriodEnd      time.Time           `gorm:"column:period_end;not null" json:"period_end"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`
	Status         TransactionStatus   `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	PaidDate       *time.Time          `gorm:"column:paid_date" json:"paid_date,omitempty"`
	PaidAmount     decimal.NullDecimal `gorm:"column:paid_amount;type:decimal(20,4)" json:"paid_amount"`
	RemittanceID   string              `gorm:"column:remittance_id;type:varchar(32);index" json:"remittance_id,omitempty"`
}

// TableName 表名
func (DuesTransaction) TableName() string { return "dues_transactions" }

// PaidBy 是否已被指定汇款支付
func (t *DuesTransaction) PaidBy(remittanceID string) bool {
	return t.Status == TransactionPaid && t.RemittanceID == remittanceID
}

// MarkPaid 标记已付。已由同一汇款支付时保持原付款日期
func (t *DuesTransaction) MarkPaid(remittanceID string, paidDate time.Time, amount decimal.Decimal) bool {
	if t.PaidBy(remittanceID) {
		return false
	}
	t.Status = TransactionPaid
	t.RemittanceID = remittanceID
	d := paidDate
	t.PaidDate = &d
	t.PaidAmount = decimal.NewNullDecimal(amount)
	return true
}

// Revert 撤销指定汇款的付款
func (t *DuesTransaction) Revert(remittanceID string) bool {
	if !t.PaidBy(remittanceID) {
		return false
	}
	t.Status = TransactionPending
	t.RemittanceID = ""
	t.PaidDate = nil
	t.PaidAmount = decimal.NullDecimal{}
	return true
}

// Overlaps 账期是否与 [start, end] 相交
func (t *DuesTransaction) Overlaps(start, end time.Time) bool {
	return !t.PeriodStart.After(end) && !start.After(t.PeriodEnd)
}
