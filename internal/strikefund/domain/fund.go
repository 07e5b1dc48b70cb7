// Package domain 罢工基金与消耗预测领域模型
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrFundNotFound = errors.New("strike fund not found")
	ErrFlowNotFound = errors.New("daily flow not found")
	ErrInvalidFlow  = errors.New("invalid daily flow")
)

// StrikeFund 罢工基金
type StrikeFund struct {
	gorm.Model
	FundID         string          `gorm:"column:fund_id;type:varchar(32);uniqueIndex;not null" json:"fund_id"`
	OrganizationID string          `gorm:"column:organization_id;type:varchar(32);index;not null" json:"organization_id"`
	Name           string          `gorm:"column:name;type:varchar(128);not null" json:"name"`
	CurrentBalance decimal.Decimal `gorm:"column:current_balance;type:decimal(20,4);not null" json:"current_balance"`
	IsActive       bool            `gorm:"column:is_active;index;not null;default:true" json:"is_active"`
}

func (StrikeFund) TableName() string { return "strike_funds" }

// ApplyFlowChange 记入一日净流量的变化
func (f *StrikeFund) ApplyFlowChange(delta decimal.Decimal) {
	f.CurrentBalance = f.CurrentBalance.Add(delta)
}

// DailyFlow 基金一日的捐款与支出
type DailyFlow struct {
	gorm.Model
	FundID        string          `gorm:"column:fund_id;type:varchar(32);uniqueIndex:idx_fund_day;not null" json:"fund_id"`
	FlowDate      time.Time       `gorm:"column:flow_date;type:date;uniqueIndex:idx_fund_day;not null" json:"flow_date"`
	Donations     decimal.Decimal `gorm:"column:donations;type:decimal(20,4);not null" json:"donations"`
	Disbursements decimal.Decimal `gorm:"column:disbursements;type:decimal(20,4);not null" json:"disbursements"`
}

func (DailyFlow) TableName() string { return "strike_fund_daily_flows" }

// NetFlow 捐款减支出
func (d *DailyFlow) NetFlow() decimal.Decimal {
	return d.Donations.Sub(d.Disbursements)
}

// NewDailyFlow 校验并按 UTC 日期归一
func NewDailyFlow(fundID string, day time.Time, donations, disbursements decimal.Decimal) (*DailyFlow, error) {
	if day.IsZero() {
		return nil, fmt.Errorf("%w: flow_date is required", ErrInvalidFlow)
	}
	if donations.IsNegative() || disbursements.IsNegative() {
		return nil, fmt.Errorf("%w: donations and disbursements must not be negative", ErrInvalidFlow)
	}
	return &DailyFlow{
		FundID:        fundID,
		FlowDate:      truncateDay(day),
		Donations:     donations,
		Disbursements: disbursements,
	}, nil
}

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// FundAlert 基金余额告警，每个基金每天至多一条
type FundAlert struct {
	gorm.Model
	FundID        string     `gorm:"column:fund_id;type:varchar(32);uniqueIndex:idx_fund_alert_day;not null" json:"fund_id"`
	AlertDate     time.Time  `gorm:"column:alert_date;type:date;uniqueIndex:idx_fund_alert_day;not null" json:"alert_date"`
	Level         AlertLevel `gorm:"column:level;type:varchar(16);not null" json:"level"`
	DaysRemaining int        `gorm:"column:days_remaining" json:"days_remaining"`
	Message       string     `gorm:"column:message;type:varchar(255)" json:"message"`
}

func (FundAlert) TableName() string { return "strike_fund_alerts" }

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
