package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// calculation 每种计算方式一个实现，由 Compile 构造
type calculation interface {
	calculationType() CalculationType
	lines(facts MemberFinancialFacts) ([]BreakdownLine, error)
}

// CompiledRule 已校验并解析的规则，可并发使用
type CompiledRule struct {
	rule DuesRule
	calc calculation
}

// 各计算方式的必填与可选字段
var strategyFields = map[CalculationType]struct{ required, optional []string }{
	CalculationPercentage: {required: []string{"percentage_rate", "base_field"}},
	CalculationFlatRate:   {required: []string{"flat_amount"}},
	CalculationHourly:     {required: []string{"hourly_rate"}, optional: []string{"hours_per_period"}},
	CalculationTiered:     {required: []string{"tier_structure", "base_field"}},
	CalculationFormula:    {required: []string{"custom_formula"}},
}

// Compile 校验规则并转换为内部表示。配置错误返回 *ConfigurationError，
// 不安全或不合法的公式返回 *FormulaEvaluationError
func Compile(rule *DuesRule) (*CompiledRule, error) {
	if rule == nil {
		return nil, &ConfigurationError{Reason: "rule is nil"}
	}
	bad := func(field, reason string) error {
		return &ConfigurationError{RuleID: rule.RuleID, Field: field, Reason: reason}
	}

	if rule.RuleID == "" {
		return nil, bad("rule_id", "is required")
	}
	if !rule.BillingFrequency.Valid() {
		return nil, bad("billing_frequency", fmt.Sprintf("unsupported value %q", rule.BillingFrequency))
	}
	if rule.EffectiveFrom.IsZero() {
		return nil, bad("effective_from", "is required")
	}
	if rule.EffectiveTo != nil && !rule.EffectiveTo.After(rule.EffectiveFrom) {
		return nil, bad("effective_to", "must be after effective_from")
	}

	fields, ok := strategyFields[rule.CalculationType]
	if !ok {
		return nil, bad("calculation_type", fmt.Sprintf("unsupported value %q", rule.CalculationType))
	}
	present := presentFields(rule)
	allowed := make(map[string]bool, len(fields.required)+len(fields.optional))
	for _, f := range fields.required {
		allowed[f] = true
		if !present[f] {
			return nil, bad(f, fmt.Sprintf("is required for %s rules", rule.CalculationType))
		}
	}
	for _, f := range fields.optional {
		allowed[f] = true
	}
	for _, f := range strategyFieldOrder {
		if present[f] && !allowed[f] {
			return nil, bad(f, fmt.Sprintf("is not used by %s rules", rule.CalculationType))
		}
	}

	calc, err := buildCalculation(rule, bad)
	if err != nil {
		return nil, err
	}
	return &CompiledRule{rule: *rule, calc: calc}, nil
}

var strategyFieldOrder = []string{
	"percentage_rate", "base_field", "flat_amount", "hourly_rate",
	"hours_per_period", "tier_structure", "custom_formula",
}

func presentFields(rule *DuesRule) map[string]bool {
	raw := strings.TrimSpace(string(rule.TierStructure))
	return map[string]bool{
		"percentage_rate":  rule.PercentageRate.Valid,
		"base_field":       strings.TrimSpace(rule.BaseField) != "",
		"flat_amount":      rule.FlatAmount.Valid,
		"hourly_rate":      rule.HourlyRate.Valid,
		"hours_per_period": rule.HoursPerPeriod.Valid,
		"tier_structure":   raw != "" && raw != "null",
		"custom_formula":   strings.TrimSpace(rule.CustomFormula) != "",
	}
}

func buildCalculation(rule *DuesRule, bad func(field, reason string) error) (calculation, error) {
	switch rule.CalculationType {
	case CalculationPercentage:
		base, ok := ParseFactName(rule.BaseField)
		if !ok {
			return nil, bad("base_field", fmt.Sprintf("unknown fact %q", rule.BaseField))
		}
		rate := rule.PercentageRate.Decimal
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, bad("percentage_rate", "must be between 0 and 1")
		}
		return percentageCalc{ruleID: rule.RuleID, base: base, rate: rate}, nil

	case CalculationFlatRate:
		if rule.FlatAmount.Decimal.IsNegative() {
			return nil, bad("flat_amount", "must not be negative")
		}
		return flatRateCalc{amount: rule.FlatAmount.Decimal}, nil

	case CalculationHourly:
		if rule.HourlyRate.Decimal.IsNegative() {
			return nil, bad("hourly_rate", "must not be negative")
		}
		if rule.HoursPerPeriod.Valid && !rule.HoursPerPeriod.Decimal.IsPositive() {
			return nil, bad("hours_per_period", "must be positive")
		}
		return hourlyCalc{ruleID: rule.RuleID, rate: rule.HourlyRate.Decimal, cap: rule.HoursPerPeriod}, nil

	case CalculationTiered:
		base, ok := ParseFactName(rule.BaseField)
		if !ok {
			return nil, bad("base_field", fmt.Sprintf("unknown fact %q", rule.BaseField))
		}
		tiers, err := ParseTiers(rule.TierStructure)
		if err != nil {
			return nil, bad("tier_structure", err.Error())
		}
		return tieredCalc{ruleID: rule.RuleID, base: base, tiers: tiers}, nil

	case CalculationFormula:
		root, err := compileFormula(rule.RuleID, rule.CustomFormula)
		if err != nil {
			return nil, err
		}
		return formulaCalc{ruleID: rule.RuleID, source: rule.CustomFormula, root: root}, nil
	}
	return nil, bad("calculation_type", fmt.Sprintf("unsupported value %q", rule.CalculationType))
}

// ParseTiers 解析并校验阶梯：从 0 开始、首尾相接、区间非空，只有最后一档可以无上限
func ParseTiers(raw []byte) ([]Tier, error) {
	var tiers []Tier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, fmt.Errorf("malformed tier list: %w", err)
	}
	if len(tiers) == 0 {
		return nil, errors.New("at least one tier is required")
	}
	for i, t := range tiers {
		if t.Rate.IsNegative() {
			return nil, fmt.Errorf("tier %d: rate must not be negative", i+1)
		}
		if i == 0 && !t.Min.IsZero() {
			return nil, fmt.Errorf("tier 1: must start at 0, got %s", t.Min.String())
		}
		if i > 0 {
			prev := tiers[i-1]
			if !prev.Max.Valid {
				return nil, fmt.Errorf("tier %d: only the last tier may be open-ended", i)
			}
			switch cmp := t.Min.Cmp(prev.Max.Decimal); {
			case cmp > 0:
				return nil, fmt.Errorf("tier %d: gap between %s and %s", i+1, prev.Max.Decimal.String(), t.Min.String())
			case cmp < 0:
				return nil, fmt.Errorf("tier %d: overlaps previous tier at %s", i+1, t.Min.String())
			}
		}
		if t.Max.Valid && !t.Max.Decimal.GreaterThan(t.Min) {
			return nil, fmt.Errorf("tier %d: max must be greater than min", i+1)
		}
	}
	return tiers, nil
}

// Rule 返回规则副本
func (r *CompiledRule) Rule() DuesRule { return r.rule }

// RuleID 规则 ID
func (r *CompiledRule) RuleID() string { return r.rule.RuleID }

// Type 计算方式
func (r *CompiledRule) Type() CalculationType { return r.calc.calculationType() }

// Covers 规则有效且 at 落在 [EffectiveFrom, EffectiveTo) 内
func (r *CompiledRule) Covers(at time.Time) bool {
	if !r.rule.IsActive || at.Before(r.rule.EffectiveFrom) {
		return false
	}
	return r.rule.EffectiveTo == nil || at.Before(*r.rule.EffectiveTo)
}

// SelectRule 选出覆盖 at 的规则版本，多个版本同时覆盖时取生效最晚的
func SelectRule(rules []*CompiledRule, at time.Time) *CompiledRule {
	var best *CompiledRule
	for _, r := range rules {
		if r == nil || !r.Covers(at) {
			continue
		}
		if best == nil || r.rule.EffectiveFrom.After(best.rule.EffectiveFrom) ||
			(r.rule.EffectiveFrom.Equal(best.rule.EffectiveFrom) && r.rule.RuleID > best.rule.RuleID) {
			best = r
		}
	}
	return best
}
