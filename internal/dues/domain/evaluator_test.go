package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func baseRule(id string, typ CalculationType) DuesRule {
	return DuesRule{
		RuleID:           id,
		RuleCode:         "CODE-" + id,
		OrganizationID:   "org-1",
		CalculationType:  typ,
		BillingFrequency: BillingMonthly,
		EffectiveFrom:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:         true,
	}
}

func mustCompile(t *testing.T, r DuesRule) *CompiledRule {
	t.Helper()
	c, err := Compile(&r)
	if err != nil {
		t.Fatalf("Compile(%s) failed: %v", r.RuleID, err)
	}
	return c
}

func breakdownSum(res CalculationResult) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range res.Breakdown {
		sum = sum.Add(l.Amount)
	}
	return sum
}

func TestEvaluate(t *testing.T) {
	percentage := baseRule("pct", CalculationPercentage)
	percentage.PercentageRate = nd("0.02")
	percentage.BaseField = "grossWages"

	flat := baseRule("flat", CalculationFlatRate)
	flat.FlatAmount = nd("45.50")

	hourly := baseRule("hourly", CalculationHourly)
	hourly.HourlyRate = nd("0.75")
	hourly.HoursPerPeriod = nd("160")

	hourlyUncapped := baseRule("hourly-open", CalculationHourly)
	hourlyUncapped.HourlyRate = nd("0.75")

	tiered := baseRule("tiered", CalculationTiered)
	tiered.BaseField = "gross_wages"
	tiered.TierStructure = datatypes.JSON(`[{"min":0,"max":1000,"rate":0.01},{"min":1000,"max":null,"rate":0.02}]`)

	formula := baseRule("formula", CalculationFormula)
	formula.CustomFormula = "(gross_wages - 200) * 0.015 + hours_worked * 0.1"

	tests := []struct {
		name  string
		rule  DuesRule
		facts MemberFinancialFacts
		want  string
		lines int
	}{
		{"percentage of gross wages", percentage, MemberFinancialFacts{GrossWages: nd("5000")}, "100.00", 1},
		{"flat rate ignores facts", flat, MemberFinancialFacts{}, "45.50", 1},
		{"hourly within cap", hourly, MemberFinancialFacts{HoursWorked: nd("120")}, "90.00", 1},
		{"hourly capped", hourly, MemberFinancialFacts{HoursWorked: nd("200")}, "120.00", 1},
		{"hourly without cap bills all hours", hourlyUncapped, MemberFinancialFacts{HoursWorked: nd("200")}, "150.00", 1},
		{"tiered marginal brackets", tiered, MemberFinancialFacts{GrossWages: nd("1500")}, "20.00", 2},
		{"tiered zero base", tiered, MemberFinancialFacts{GrossWages: nd("0")}, "0.00", 1},
		{"formula", formula, MemberFinancialFacts{GrossWages: nd("1200"), HoursWorked: nd("40")}, "19.00", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := mustCompile(t, tt.rule).Evaluate("m-1", tt.facts)
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if got := res.TotalAmount.StringFixed(2); got != tt.want {
				t.Errorf("TotalAmount = %s, want %s", got, tt.want)
			}
			if len(res.Breakdown) != tt.lines {
				t.Errorf("len(Breakdown) = %d, want %d", len(res.Breakdown), tt.lines)
			}
			if !breakdownSum(res).Equal(res.TotalAmount) {
				t.Errorf("breakdown sums to %s, total is %s", breakdownSum(res), res.TotalAmount)
			}
			if res.MemberID != "m-1" || res.RuleID != tt.rule.RuleID {
				t.Errorf("result identifies %s/%s", res.MemberID, res.RuleID)
			}
			if len(res.Errors) != 0 {
				t.Errorf("Errors = %v, want empty", res.Errors)
			}
		})
	}
}

func TestEvaluateTierTopEqualsFullBands(t *testing.T) {
	rule := baseRule("tiers", CalculationTiered)
	rule.BaseField = "gross_wages"
	rule.TierStructure = datatypes.JSON(`[
		{"min":0,"max":500,"rate":0.01},
		{"min":500,"max":2000,"rate":0.015},
		{"min":2000,"max":5000,"rate":0.02},
		{"min":5000,"rate":0.03}
	]`)
	compiled := mustCompile(t, rule)

	tops := []string{"500", "2000", "5000"}
	fullBands := []string{"5.00", "22.50", "60.00"}
	cumulative := decimal.Zero
	for k, top := range tops {
		cumulative = cumulative.Add(dec(fullBands[k]))
		res, err := compiled.Evaluate("m", MemberFinancialFacts{GrossWages: nd(top)})
		if err != nil {
			t.Fatalf("Evaluate(%s): %v", top, err)
		}
		if !res.TotalAmount.Equal(cumulative) {
			t.Errorf("top of tier %d (%s): got %s, want %s", k+1, top, res.TotalAmount, cumulative)
		}
		topRate := compiled.calc.(tieredCalc).tiers[k].Rate
		if flat := dec(top).Mul(topRate).RoundBank(2); k > 0 && flat.Equal(res.TotalAmount) {
			t.Errorf("top of tier %d billed at the top rate for the whole value", k+1)
		}
	}
}

func TestEvaluateBoundedLastTierStopsBilling(t *testing.T) {
	rule := baseRule("bounded", CalculationTiered)
	rule.BaseField = "base_salary"
	rule.TierStructure = datatypes.JSON(`[{"min":0,"max":1000,"rate":0.01},{"min":1000,"max":3000,"rate":0.02}]`)

	res, err := mustCompile(t, rule).Evaluate("m", MemberFinancialFacts{BaseSalary: nd("10000")})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalAmount.StringFixed(2); got != "50.00" {
		t.Errorf("TotalAmount = %s, want 50.00", got)
	}
}

func TestEvaluateBankersRounding(t *testing.T) {
	rule := baseRule("round", CalculationPercentage)
	rule.PercentageRate = nd("0.02")
	rule.BaseField = "gross_wages"
	compiled := mustCompile(t, rule)

	cases := map[string]string{
		"1000.25": "20.00", // 20.005 -> 偶数
		"1000.75": "20.02", // 20.015 -> 偶数
		"1000.30": "20.01",
	}
	for wages, want := range cases {
		res, err := compiled.Evaluate("m", MemberFinancialFacts{GrossWages: nd(wages)})
		if err != nil {
			t.Fatal(err)
		}
		if got := res.TotalAmount.StringFixed(2); got != want {
			t.Errorf("wages %s: got %s, want %s", wages, got, want)
		}
	}
}

func TestEvaluateBreakdownAbsorbsRoundingResidual(t *testing.T) {
	rule := baseRule("residual", CalculationTiered)
	rule.BaseField = "gross_wages"
	rule.TierStructure = datatypes.JSON(`[
		{"min":0,"max":100,"rate":0.01005},
		{"min":100,"max":200,"rate":0.01005},
		{"min":200,"rate":0.01005}
	]`)

	res, err := mustCompile(t, rule).Evaluate("m", MemberFinancialFacts{GrossWages: nd("300")})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalAmount.StringFixed(2); got != "3.02" {
		t.Fatalf("TotalAmount = %s, want 3.02", got)
	}
	if !breakdownSum(res).Equal(res.TotalAmount) {
		t.Fatalf("breakdown sums to %s, total is %s", breakdownSum(res), res.TotalAmount)
	}
}

func TestEvaluateFailures(t *testing.T) {
	percentage := baseRule("pct", CalculationPercentage)
	percentage.PercentageRate = nd("0.02")
	percentage.BaseField = "gross_wages"

	hourly := baseRule("hourly", CalculationHourly)
	hourly.HourlyRate = nd("1")

	divide := baseRule("div", CalculationFormula)
	divide.CustomFormula = "gross_wages / hours_worked"

	negative := baseRule("neg", CalculationFormula)
	negative.CustomFormula = "hours_worked - gross_wages"

	missingInFormula := baseRule("missing", CalculationFormula)
	missingInFormula.CustomFormula = "base_salary * 0.01"

	tests := []struct {
		name  string
		rule  DuesRule
		facts MemberFinancialFacts
		code  string
	}{
		{"percentage base missing", percentage, MemberFinancialFacts{BaseSalary: nd("100")}, CodeMissingFact},
		{"hourly hours missing", hourly, MemberFinancialFacts{}, CodeMissingFact},
		{"negative fact", percentage, MemberFinancialFacts{GrossWages: nd("-1")}, CodeInvalidFact},
		{"division by zero", divide, MemberFinancialFacts{GrossWages: nd("10"), HoursWorked: nd("0")}, CodeFormulaEvaluation},
		{"negative formula result", negative, MemberFinancialFacts{GrossWages: nd("10"), HoursWorked: nd("1")}, CodeFormulaEvaluation},
		{"formula fact missing", missingInFormula, MemberFinancialFacts{}, CodeMissingFact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustCompile(t, tt.rule).Evaluate("m", tt.facts)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := CodeOf(err); got != tt.code {
				t.Errorf("CodeOf = %s, want %s (%v)", got, tt.code, err)
			}
		})
	}

	_, err := mustCompile(t, percentage).Evaluate("m", MemberFinancialFacts{})
	var missing *MissingFactError
	if !errors.As(err, &missing) || missing.Fact != FactGrossWages {
		t.Errorf("expected MissingFactError for gross_wages, got %v", err)
	}
}

func TestSelectRule(t *testing.T) {
	older := baseRule("v1", CalculationFlatRate)
	older.FlatAmount = nd("10")
	end := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	older.EffectiveTo = &end

	newer := baseRule("v2", CalculationFlatRate)
	newer.FlatAmount = nd("12")
	newer.EffectiveFrom = end

	inactive := baseRule("v3", CalculationFlatRate)
	inactive.FlatAmount = nd("99")
	inactive.EffectiveFrom = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	inactive.IsActive = false

	rules := []*CompiledRule{mustCompile(t, older), mustCompile(t, newer), mustCompile(t, inactive)}

	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), "v1"},
		{end, "v2"},
		{time.Date(2024, 10, 31, 0, 0, 0, 0, time.UTC), "v2"},
		{time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), ""},
	}
	for _, c := range cases {
		got := SelectRule(rules, c.at)
		id := ""
		if got != nil {
			id = got.RuleID()
		}
		if id != c.want {
			t.Errorf("SelectRule(%s) = %q, want %q", c.at.Format(time.DateOnly), id, c.want)
		}
	}
}
