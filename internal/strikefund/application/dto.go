package application

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/unionfinance/internal/strikefund/domain"
)

// CreateFundRequest 创建基金
type CreateFundRequest struct {
	OrganizationID string          `json:"organization_id" binding:"required"`
	Name           string          `json:"name" binding:"required"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// FlowRequest 记录一日流量，同一天重复提交覆盖原值
type FlowRequest struct {
	FlowDate      time.Time       `json:"flow_date" binding:"required"`
	Donations     decimal.Decimal `json:"donations"`
	Disbursements decimal.Decimal `json:"disbursements"`
}

// FundStatusView 基金当前状态，取现实情景
type FundStatusView struct {
	FundID         string            `json:"fund_id"`
	Name           string            `json:"name"`
	CurrentBalance decimal.Decimal   `json:"current_balance"`
	Status         domain.FundStatus `json:"status"`
	Confidence     domain.Confidence `json:"confidence"`
	DailyBurnRate  decimal.Decimal   `json:"daily_burn_rate"`
	DaysRemaining  *int              `json:"days_remaining"`
	DepletionDate  *time.Time        `json:"depletion_date,omitempty"`
	AsOf           time.Time         `json:"as_of"`
}

// AlertRunResult 一轮自动告警
type AlertRunResult struct {
	FundsChecked int `json:"funds_checked"`
	AlertsRaised int `json:"alerts_raised"`
}
