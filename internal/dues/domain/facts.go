package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FactName 会员财务事实名称
type FactName string

const (
	FactGrossWages  FactName = "gross_wages"
	FactBaseSalary  FactName = "base_salary"
	FactHourlyRate  FactName = "hourly_rate"
	FactHoursWorked FactName = "hours_worked"
)

// 规则数据中可能出现的驼峰写法
var factAliases = map[string]FactName{
	"gross_wages":  FactGrossWages,
	"grossWages":   FactGrossWages,
	"base_salary":  FactBaseSalary,
	"baseSalary":   FactBaseSalary,
	"hourly_rate":  FactHourlyRate,
	"hourlyRate":   FactHourlyRate,
	"hours_worked": FactHoursWorked,
	"hoursWorked":  FactHoursWorked,
}

// ParseFactName 解析事实名称
func ParseFactName(s string) (FactName, bool) {
	name, ok := factAliases[strings.TrimSpace(s)]
	return name, ok
}

// MemberFinancialFacts 会员在一个账期内的财务事实，缺失字段 Valid=false
type MemberFinancialFacts struct {
	GrossWages  decimal.NullDecimal `json:"gross_wages"`
	BaseSalary  decimal.NullDecimal `json:"base_salary"`
	HourlyRate  decimal.NullDecimal `json:"hourly_rate"`
	HoursWorked decimal.NullDecimal `json:"hours_worked"`
}

// Lookup 按名称取值
func (f MemberFinancialFacts) Lookup(name FactName) (decimal.Decimal, bool) {
	var v decimal.NullDecimal
	switch name {
	case FactGrossWages:
		v = f.GrossWages
	case FactBaseSalary:
		v = f.BaseSalary
	case FactHourlyRate:
		v = f.HourlyRate
	case FactHoursWorked:
		v = f.HoursWorked
	}
	return v.Decimal, v.Valid
}

// Validate 所有已提供的事实必须非负
func (f MemberFinancialFacts) Validate() error {
	for _, name := range []FactName{FactGrossWages, FactBaseSalary, FactHourlyRate, FactHoursWorked} {
		if v, ok := f.Lookup(name); ok && v.IsNegative() {
			return &InvalidFactError{Fact: name, Value: v}
		}
	}
	return nil
}
