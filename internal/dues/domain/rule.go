// Package domain 会费计算领域模型
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CalculationType 计算方式
type CalculationType string

const (
	CalculationPercentage CalculationType = "percentage"
	CalculationFlatRate   CalculationType = "flat_rate"
	CalculationHourly     CalculationType = "hourly"
	CalculationTiered     CalculationType = "tiered"
	CalculationFormula    CalculationType = "formula"
)

// BillingFrequency 计费周期
type BillingFrequency string

const (
	BillingWeekly    BillingFrequency = "weekly"
	BillingBiweekly  BillingFrequency = "biweekly"
	BillingMonthly   BillingFrequency = "monthly"
	BillingQuarterly BillingFrequency = "quarterly"
	BillingAnnually  BillingFrequency = "annually"
)

// Valid 是否为已知周期
func (f BillingFrequency) Valid() bool {
	switch f {
	case BillingWeekly, BillingBiweekly, BillingMonthly, BillingQuarterly, BillingAnnually:
		return true
	}
	return false
}

// DuesRule 会费规则。同一 RuleCode 下可以有多个按生效期区分的版本
type DuesRule struct {
	gorm.Model
	RuleID           string              `gorm:"column:rule_id;type:varchar(32);uniqueIndex;not null" json:"rule_id"`
	RuleCode         string              `gorm:"column:rule_code;type:varchar(64);index;not null" json:"rule_code"`
	OrganizationID   string              `gorm:"column:organization_id;type:varchar(32);index;not null" json:"organization_id"`
	Name             string              `gorm:"column:name;type:varchar(128)" json:"name"`
	CalculationType  CalculationType     `gorm:"column:calculation_type;type:varchar(16);not null" json:"calculation_type"`
	PercentageRate   decimal.NullDecimal `gorm:"column:percentage_rate;type:decimal(12,8)" json:"percentage_rate"`
	BaseField        string              `gorm:"column:base_field;type:varchar(32)" json:"base_field,omitempty"`
	FlatAmount       decimal.NullDecimal `gorm:"column:flat_amount;type:decimal(20,4)" json:"flat_amount"`
	HourlyRate       decimal.NullDecimal `gorm:"column:hourly_rate;type:decimal(20,4)" json:"hourly_rate"`
	HoursPerPeriod   decimal.NullDecimal `gorm:"column:hours_per_period;type:decimal(10,2)" json:"hours_per_period"`
	TierStructure    datatypes.JSON      `gorm:"column:tier_structure;type:json" json:"tier_structure,omitempty"`
	CustomFormula    string              `gorm:"column:custom_formula;type:text" json:"custom_formula,omitempty"`
	BillingFrequency BillingFrequency    `gorm:"column:billing_frequency;type:varchar(16);not null" json:"billing_frequency"`
	EffectiveFrom    time.Time           `gorm:"column:effective_from;not null" json:"effective_from"`
	EffectiveTo      *time.Time          `gorm:"column:effective_to" json:"effective_to,omitempty"`
	IsActive         bool                `gorm:"column:is_active" json:"is_active"`
}

// TableName 表名
func (DuesRule) TableName() string { return "dues_rules" }

// Tier 阶梯区间，Max 为空表示无上限
type Tier struct {
	Min  decimal.Decimal     `json:"min"`
	Max  decimal.NullDecimal `json:"max"`
	Rate decimal.Decimal     `json:"rate"`
}

// MemberDuesAssignment 会员与规则的绑定关系
type MemberDuesAssignment struct {
	gorm.Model
	MemberID       string `gorm:"column:member_id;type:varchar(32);index;not null" json:"member_id"`
	OrganizationID string `gorm:"column:organization_id;type:varchar(32);index;not null" json:"organization_id"`
	EmployerID     string `gorm:"column:employer_id;type:varchar(32);index" json:"employer_id"`
	RuleCode       string `gorm:"column:rule_code;type:varchar(64);not null" json:"rule_code"`
	IsActive       bool   `gorm:"column:is_active" json:"is_active"`
}

// TableName 表名
func (MemberDuesAssignment) TableName() string { return "member_dues_assignments" }
