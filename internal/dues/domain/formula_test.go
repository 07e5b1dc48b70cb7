package domain

import (
	"testing"
)

func TestFormulaRejectsUnsafeInput(t *testing.T) {
	inputs := []string{
		"",
		"gross_wages > 100 ? 1 : 2",
		"len(\"abc\")",
		"gross_wages.Value * 2",
		"now()",
		"gross_wages ** 2",
		"gross_wages % 3",
		"\"10\" + gross_wages",
		"bonus * 0.02",
		"[1, 2, 3]",
		"let x = 1; x",
		"!gross_wages",
		"gross_wages == 1",
		"gross_wages *",
	}
	for _, in := range inputs {
		r := baseRule("f", CalculationFormula)
		r.CustomFormula = in
		_, err := Compile(&r)
		if in == "" {
			if !IsConfigurationError(err) {
				t.Errorf("Compile(%q) = %v, want configuration error", in, err)
			}
			continue
		}
		if CodeOf(err) != CodeFormulaEvaluation {
			t.Errorf("Compile(%q) = %v, want formula evaluation error", in, err)
		}
	}
}

func TestFormulaArithmetic(t *testing.T) {
	facts := MemberFinancialFacts{
		GrossWages:  nd("2500"),
		BaseSalary:  nd("2000"),
		HourlyRate:  nd("18.5"),
		HoursWorked: nd("40"),
	}
	tests := []struct {
		formula string
		want    string
	}{
		{"gross_wages * 0.02", "50.00"},
		{"grossWages * 0.02", "50.00"},
		{"(gross_wages - base_salary) / 4", "125.00"},
		{"-(base_salary - gross_wages) * 0.1", "50.00"},
		{"hourly_rate * hours_worked * 0.01", "7.40"},
		{"10 / 3", "3.33"},
		{"1 + 2 * 3", "7.00"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			r := baseRule("f", CalculationFormula)
			r.CustomFormula = tt.formula
			res, err := mustCompile(t, r).Evaluate("m", facts)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got := res.TotalAmount.StringFixed(2); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
