// Package domain 雇主汇款与对账领域模型
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconciliationStatus 汇款对账状态
type ReconciliationStatus string

const (
	StatusPending          ReconciliationStatus = "pending"
	StatusReconciled       ReconciliationStatus = "reconciled"
	StatusVarianceDetected ReconciliationStatus = "variance_detected"
	StatusNeedsReview      ReconciliationStatus = "needs_review"
	StatusCompleted        ReconciliationStatus = "completed"
)

// EmployerRemittance 雇主提交的批量汇款
type EmployerRemittance struct {
	gorm.Model
	RemittanceID              string               `gorm:"column:remittance_id;type:varchar(32);uniqueIndex;not null" json:"remittance_id"`
	EmployerID                string               `gorm:"column:employer_id;type:varchar(32);index;not null" json:"employer_id"`
	OrganizationID            string               `gorm:"column:organization_id;type:varchar(32);index" json:"organization_id"`
	TotalAmount               decimal.Decimal      `gorm:"column:total_amount;type:decimal(20,4);not null" json:"total_amount"`
	MemberCount               int                  `gorm:"column:member_count" json:"member_count"`
	RemittancePeriodStart     time.Time            `gorm:"column:remittance_period_start;not null" json:"remittance_period_start"`
	RemittancePeriodEnd       time.Time            `gorm:"column:remittance_period_end;not null" json:"remittance_period_end"`
	RemittanceDate            time.Time            `gorm:"column:remittance_date;not null" json:"remittance_date"`
	ReconciliationStatus      ReconciliationStatus `gorm:"column:reconciliation_status;type:varchar(20);index;not null" json:"reconciliation_status"`
	VarianceAmount            decimal.Decimal      `gorm:"column:variance_amount;type:decimal(20,4)" json:"variance_amount"`
	MatchedCount              int                  `gorm:"column:matched_count" json:"matched_count"`
	UnmatchedRecordCount      int                  `gorm:"column:unmatched_record_count" json:"unmatched_record_count"`
	UnmatchedTransactionCount int                  `gorm:"column:unmatched_transaction_count" json:"unmatched_transaction_count"`
	ReconciledAt              *time.Time           `gorm:"column:reconciled_at" json:"reconciled_at,omitempty"`

	Records []RemittanceRecord `gorm:"foreignKey:RemittanceID;references:RemittanceID" json:"records"`
}

// RemittanceRecord 汇款明细行，MemberID 为空时只能按账期匹配
type RemittanceRecord struct {
	gorm.Model
	RemittanceID string          `gorm:"column:remittance_id;type:varchar(32);index;not null" json:"remittance_id"`
	LineNumber   int             `gorm:"column:line_number;not null" json:"line_number"`
	MemberID     string          `gorm:"column:member_id;type:varchar(32);index" json:"member_id,omitempty"`
	PeriodStart  *time.Time      `gorm:"column:period_start" json:"period_start,omitempty"`
	PeriodEnd    *time.Time      `gorm:"column:period_end" json:"period_end,omitempty"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(20,4);not null" json:"amount"`

	// 最近一次对账结果
	MatchedTransactionID string              `gorm:"column:matched_transaction_id;type:varchar(32)" json:"matched_transaction_id,omitempty"`
	LineVariance         decimal.NullDecimal `gorm:"column:line_variance;type:decimal(20,4)" json:"line_variance"`
	MatchMethod          MatchMethod         `gorm:"column:match_method;type:varchar(16)" json:"match_method,omitempty"`
}

func (EmployerRemittance) TableName() string { return "employer_remittances" }
func (RemittanceRecord) TableName() string   { return "remittance_records" }

// RecordLine 上传文件或请求中的一行
type RecordLine struct {
	MemberID    string          `json:"member_id"`
	PeriodStart *time.Time      `json:"period_start"`
	PeriodEnd   *time.Time      `json:"period_end"`
	Amount      decimal.Decimal `json:"amount"`
}

// ErrInvalidRemittance 汇款内容不合法
var ErrInvalidRemittance = errors.New("invalid remittance")

// NewRemittance 创建待对账汇款，明细行号从 1 开始
func NewRemittance(id, employerID, organizationID string, declared decimal.Decimal, memberCount int,
	periodStart, periodEnd, remittanceDate time.Time, lines []RecordLine) (*EmployerRemittance, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidRemittance, fmt.Sprintf(format, args...))
	}
	if employerID == "" {
		return nil, invalid("employer_id is required")
	}
	if periodEnd.Before(periodStart) {
		return nil, invalid("period end %s is before start %s", periodEnd.Format(time.DateOnly), periodStart.Format(time.DateOnly))
	}
	if declared.IsNegative() {
		return nil, invalid("total amount must not be negative")
	}
	if len(lines) == 0 {
		return nil, invalid("at least one record is required")
	}
	if remittanceDate.IsZero() {
		remittanceDate = time.Now().UTC()
	}

	rem := &EmployerRemittance{
		RemittanceID:          id,
		EmployerID:            employerID,
		OrganizationID:        organizationID,
		TotalAmount:           declared,
		MemberCount:           memberCount,
		RemittancePeriodStart: periodStart.UTC(),
		RemittancePeriodEnd:   periodEnd.UTC(),
		RemittanceDate:        remittanceDate.UTC(),
		ReconciliationStatus:  StatusPending,
		VarianceAmount:        decimal.Zero,
		Records:               make([]RemittanceRecord, 0, len(lines)),
	}
	for i, l := range lines {
		if l.Amount.IsNegative() {
			return nil, invalid("line %d: amount must not be negative", i+1)
		}
		if (l.PeriodStart == nil) != (l.PeriodEnd == nil) {
			return nil, invalid("line %d: period_start and period_end must be given together", i+1)
		}
		if l.PeriodStart != nil && l.PeriodEnd.Before(*l.PeriodStart) {
			return nil, invalid("line %d: period end is before start", i+1)
		}
		rem.Records = append(rem.Records, RemittanceRecord{
			RemittanceID: id,
			LineNumber:   i + 1,
			MemberID:     l.MemberID,
			PeriodStart:  utcPtr(l.PeriodStart),
			PeriodEnd:    utcPtr(l.PeriodEnd),
			Amount:       l.Amount,
		})
	}
	return rem, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Period 明细行账期，未给出时使用汇款账期
func (r *RemittanceRecord) Period(rem *EmployerRemittance) (time.Time, time.Time) {
	if r.PeriodStart != nil && r.PeriodEnd != nil {
		return *r.PeriodStart, *r.PeriodEnd
	}
	return rem.RemittancePeriodStart, rem.RemittancePeriodEnd
}

// CanReconcile 已对平或已完结的汇款不能再次对账
func (r *EmployerRemittance) CanReconcile() error {
	switch r.ReconciliationStatus {
	case StatusReconciled, StatusCompleted:
		return &AlreadyReconciledError{RemittanceID: r.RemittanceID, Status: r.ReconciliationStatus}
	}
	return nil
}

// ResetResults 清除上次对账的结果
func (r *EmployerRemittance) ResetResults() {
	r.ReconciliationStatus = StatusPending
	r.VarianceAmount = decimal.Zero
	r.MatchedCount = 0
	r.UnmatchedRecordCount = 0
	r.UnmatchedTransactionCount = 0
	r.ReconciledAt = nil
	for i := range r.Records {
		r.Records[i].MatchedTransactionID = ""
		r.Records[i].LineVariance = decimal.NullDecimal{}
		r.Records[i].MatchMethod = ""
	}
}

// Complete 对平后由操作员确认完结
func (r *EmployerRemittance) Complete() error {
	if r.ReconciliationStatus != StatusReconciled {
		return fmt.Errorf("%w: remittance %s is %s", ErrNotReconciled, r.RemittanceID, r.ReconciliationStatus)
	}
	r.ReconciliationStatus = StatusCompleted
	return nil
}
