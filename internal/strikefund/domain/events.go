package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRaisedEvent 新告警，发布到告警主题
type AlertRaisedEvent struct {
	FundID         string          `json:"fund_id"`
	OrganizationID string          `json:"organization_id"`
	Level          AlertLevel      `json:"level"`
	DaysRemaining  int             `json:"days_remaining"`
	DepletionDate  *time.Time      `json:"depletion_date,omitempty"`
	DailyBurnRate  decimal.Decimal `json:"daily_burn_rate"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	AlertDate      time.Time       `json:"alert_date"`
}
