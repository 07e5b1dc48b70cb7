package application

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
)

// RuleRequest 创建或预览规则的请求
type RuleRequest struct {
	RuleCode         string                  `json:"rule_code" binding:"required"`
	OrganizationID   string                  `json:"organization_id" binding:"required"`
	Name             string                  `json:"name"`
	CalculationType  domain.CalculationType  `json:"calculation_type" binding:"required"`
	PercentageRate   decimal.NullDecimal     `json:"percentage_rate"`
	BaseField        string                  `json:"base_field"`
	FlatAmount       decimal.NullDecimal     `json:"flat_amount"`
	HourlyRate       decimal.NullDecimal     `json:"hourly_rate"`
	HoursPerPeriod   decimal.NullDecimal     `json:"hours_per_period"`
	Tiers            []domain.Tier           `json:"tiers"`
	CustomFormula    string                  `json:"custom_formula"`
	BillingFrequency domain.BillingFrequency `json:"billing_frequency" binding:"required"`
	EffectiveFrom    time.Time               `json:"effective_from" binding:"required"`
	EffectiveTo      *time.Time              `json:"effective_to"`
}

// PreviewRequest 用样例事实试算未保存的规则
type PreviewRequest struct {
	Rule     RuleRequest                 `json:"rule"`
	MemberID string                      `json:"member_id"`
	Facts    domain.MemberFinancialFacts `json:"facts"`
}

// AssignRequest 为会员绑定规则
type AssignRequest struct {
	MemberID       string `json:"member_id" binding:"required"`
	OrganizationID string `json:"organization_id" binding:"required"`
	EmployerID     string `json:"employer_id"`
	RuleCode       string `json:"rule_code" binding:"required"`
}

// BatchRequest 批量计算请求
type BatchRequest struct {
	Inputs []domain.CalculationInput `json:"inputs" binding:"required,dive"`
}

// BillingCycleRequest 出账请求，Members 为该账期的会员事实
type BillingCycleRequest struct {
	OrganizationID string          `json:"organization_id" binding:"required"`
	PeriodStart    time.Time       `json:"period_start" binding:"required"`
	PeriodEnd      time.Time       `json:"period_end" binding:"required"`
	Members        []BillingMember `json:"members" binding:"required,dive"`
}

// BillingMember 出账会员
type BillingMember struct {
	MemberID string                      `json:"member_id" binding:"required"`
	Facts    domain.MemberFinancialFacts `json:"facts"`
}

// BillingCycleResult 出账结果
type BillingCycleResult struct {
	Batch        *domain.BatchResult       `json:"batch"`
	Created      []*domain.DuesTransaction `json:"created"`
	SkippedCount int                       `json:"skipped_count"`
}
