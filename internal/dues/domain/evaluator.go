package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces 金额保留位数
const CurrencyPlaces int32 = 2

type percentageCalc struct {
	ruleID string
	base   FactName
	rate   decimal.Decimal
}

func (percentageCalc) calculationType() CalculationType { return CalculationPercentage }

func (c percentageCalc) lines(facts MemberFinancialFacts) ([]BreakdownLine, error) {
	base, ok := facts.Lookup(c.base)
	if !ok {
		return nil, &MissingFactError{RuleID: c.ruleID, Fact: c.base}
	}
	return []BreakdownLine{{
		Component:   "percentage",
		Description: fmt.Sprintf("%s x %s", c.base, c.rate.String()),
		Basis:       base,
		Rate:        c.rate,
		Amount:      base.Mul(c.rate),
	}}, nil
}

type flatRateCalc struct {
	amount decimal.Decimal
}

func (flatRateCalc) calculationType() CalculationType { return CalculationFlatRate }

func (c flatRateCalc) lines(MemberFinancialFacts) ([]BreakdownLine, error) {
	return []BreakdownLine{{
		Component:   "flat_rate",
		Description: "flat dues amount",
		Basis:       decimal.NewFromInt(1),
		Rate:        c.amount,
		Amount:      c.amount,
	}}, nil
}

type hourlyCalc struct {
	ruleID string
	rate   decimal.Decimal
	cap    decimal.NullDecimal
}

func (hourlyCalc) calculationType() CalculationType { return CalculationHourly }

func (c hourlyCalc) lines(facts MemberFinancialFacts) ([]BreakdownLine, error) {
	hours, ok := facts.Lookup(FactHoursWorked)
	if !ok {
		return nil, &MissingFactError{RuleID: c.ruleID, Fact: FactHoursWorked}
	}
	desc := fmt.Sprintf("%s hours x %s", hours.String(), c.rate.String())
	if c.cap.Valid && hours.GreaterThan(c.cap.Decimal) {
		desc = fmt.Sprintf("%s hours (capped from %s) x %s", c.cap.Decimal.String(), hours.String(), c.rate.String())
		hours = c.cap.Decimal
	}
	return []BreakdownLine{{
		Component:   "hourly",
		Description: desc,
		Basis:       hours,
		Rate:        c.rate,
		Amount:      hours.Mul(c.rate),
	}}, nil
}

type tieredCalc struct {
	ruleID string
	base   FactName
	tiers  []Tier
}

func (tieredCalc) calculationType() CalculationType { return CalculationTiered }

func (c tieredCalc) lines(facts MemberFinancialFacts) ([]BreakdownLine, error) {
	value, ok := facts.Lookup(c.base)
	if !ok {
		return nil, &MissingFactError{RuleID: c.ruleID, Fact: c.base}
	}
	var out []BreakdownLine
	for i, t := range c.tiers {
		if !value.GreaterThan(t.Min) {
			break
		}
		upper := value
		if t.Max.Valid && t.Max.Decimal.LessThan(value) {
			upper = t.Max.Decimal
		}
		portion := upper.Sub(t.Min)
		out = append(out, BreakdownLine{
			Component:   fmt.Sprintf("tier_%d", i+1),
			Description: tierLabel(t),
			Basis:       portion,
			Rate:        t.Rate,
			Amount:      portion.Mul(t.Rate),
		})
	}
	if len(out) == 0 {
		first := c.tiers[0]
		out = append(out, BreakdownLine{
			Component:   "tier_1",
			Description: tierLabel(first),
			Basis:       decimal.Zero,
			Rate:        first.Rate,
			Amount:      decimal.Zero,
		})
	}
	return out, nil
}

func tierLabel(t Tier) string {
	if !t.Max.Valid {
		return fmt.Sprintf("above %s @ %s", t.Min.String(), t.Rate.String())
	}
	return fmt.Sprintf("%s - %s @ %s", t.Min.String(), t.Max.Decimal.String(), t.Rate.String())
}

type formulaCalc struct {
	ruleID string
	source string
	root   formulaNode
}

func (formulaCalc) calculationType() CalculationType { return CalculationFormula }

func (c formulaCalc) lines(facts MemberFinancialFacts) ([]BreakdownLine, error) {
	v, err := c.root.eval(facts)
	if err != nil {
		var ee *evalError
		if errors.As(err, &ee) && ee.missing != "" {
			return nil, &MissingFactError{RuleID: c.ruleID, Fact: ee.missing}
		}
		return nil, &FormulaEvaluationError{RuleID: c.ruleID, Formula: c.source, Reason: err.Error()}
	}
	if v.IsNegative() {
		return nil, &FormulaEvaluationError{RuleID: c.ruleID, Formula: c.source, Reason: "result is negative"}
	}
	return []BreakdownLine{{
		Component:   "formula",
		Description: c.source,
		Basis:       v,
		Rate:        decimal.NewFromInt(1),
		Amount:      v,
	}}, nil
}

// Evaluate 计算单个会员的会费，纯函数
func (r *CompiledRule) Evaluate(memberID string, facts MemberFinancialFacts) (CalculationResult, error) {
	if err := facts.Validate(); err != nil {
		return CalculationResult{}, err
	}
	raw, err := r.calc.lines(facts)
	if err != nil {
		return CalculationResult{}, err
	}
	total, lines := settle(raw)
	return CalculationResult{
		MemberID:    memberID,
		RuleID:      r.rule.RuleID,
		TotalAmount: total,
		Breakdown:   lines,
		Errors:      []Message{},
	}, nil
}

// settle 总额按银行家舍入到分，明细逐行舍入后把尾差并入金额最大的一行，保证明细之和等于总额
func settle(raw []BreakdownLine) (decimal.Decimal, []BreakdownLine) {
	sum := decimal.Zero
	for _, l := range raw {
		sum = sum.Add(l.Amount)
	}
	total := sum.RoundBank(CurrencyPlaces)

	lines := make([]BreakdownLine, len(raw))
	rounded := decimal.Zero
	largest := 0
	for i, l := range raw {
		l.Amount = l.Amount.RoundBank(CurrencyPlaces)
		lines[i] = l
		rounded = rounded.Add(l.Amount)
		if !l.Amount.LessThan(lines[largest].Amount) {
			largest = i
		}
	}
	if residual := total.Sub(rounded); !residual.IsZero() {
		lines[largest].Amount = lines[largest].Amount.Add(residual)
	}
	return total, lines
}
