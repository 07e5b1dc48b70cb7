package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BreakdownLine 计算明细行
type BreakdownLine struct {
	Component   string          `json:"component"`
	Description string          `json:"description"`
	Basis       decimal.Decimal `json:"basis"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// CalculationResult 单个会员的计算结果，返回后不再修改
type CalculationResult struct {
	MemberID    string          `json:"member_id"`
	RuleID      string          `json:"rule_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Breakdown   []BreakdownLine `json:"breakdown"`
	Errors      []Message       `json:"errors"`
}

// CalculationInput 计算请求
type CalculationInput struct {
	MemberID           string               `json:"member_id" binding:"required"`
	OrganizationID     string               `json:"organization_id"`
	BillingPeriodStart time.Time            `json:"billing_period_start"`
	BillingPeriodEnd   time.Time            `json:"billing_period_end" binding:"required"`
	Facts              MemberFinancialFacts `json:"facts"`
}

// FailedCalculation 失败的会员及原因
type FailedCalculation struct {
	MemberID string    `json:"member_id"`
	Errors   []Message `json:"errors"`
}

// BatchSummary 批量汇总
type BatchSummary struct {
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

// BatchResult 批量计算结果，len(Successful)+len(Failed) == TotalProcessed
type BatchResult struct {
	TotalProcessed int                 `json:"total_processed"`
	Successful     []CalculationResult `json:"successful"`
	Failed         []FailedCalculation `json:"failed"`
	Summary        BatchSummary        `json:"summary"`
}
