package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var asOf = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flows 生成 asOf 前连续 n 天的流量
func flows(n int, donations, disbursements string) []*DailyFlow {
	out := make([]*DailyFlow, 0, n)
	for i := n; i >= 1; i-- {
		f, _ := NewDailyFlow("F1", asOf.AddDate(0, 0, -i), dec(donations), dec(disbursements))
		out = append(out, f)
	}
	return out
}

func firstOf(fs []*DailyFlow) *time.Time {
	if len(fs) == 0 {
		return nil
	}
	d := fs[0].FlowDate
	return &d
}

func forecast(balance string, fs []*DailyFlow, days int) *BurnRateForecast {
	fund := &StrikeFund{FundID: "F1", CurrentBalance: dec(balance), IsActive: true}
	h := BuildHistory(fs, firstOf(fs), asOf, DefaultParams().WindowDays)
	return Forecast(fund, h, DefaultParams(), asOf, days)
}

func TestForecastConstantBurn(t *testing.T) {
	f := forecast("3000", flows(30, "0", "100"), 90)

	if !f.DailyBurnRate.Equal(dec("100")) {
		t.Fatalf("DailyBurnRate = %s, want 100", f.DailyBurnRate)
	}
	if f.Status != StatusWarning || f.Confidence != ConfidenceHigh {
		t.Errorf("status %s confidence %s, want warning/high", f.Status, f.Confidence)
	}
	want := map[Scenario]struct {
		days  int
		level AlertLevel
	}{
		ScenarioOptimistic:  {40, AlertWarning},
		ScenarioRealistic:   {30, AlertWarning},
		ScenarioPessimistic: {24, AlertCritical},
	}
	for name, w := range want {
		sc, ok := f.Scenario(name)
		if !ok {
			t.Fatalf("missing scenario %s", name)
		}
		if sc.DaysRemaining == nil || *sc.DaysRemaining != w.days {
			t.Errorf("%s DaysRemaining = %v, want %d", name, sc.DaysRemaining, w.days)
			continue
		}
		if len(sc.Alerts) != 1 || sc.Alerts[0].Level != w.level {
			t.Errorf("%s alerts = %+v, want one %s", name, sc.Alerts, w.level)
		}
		if want := asOf.AddDate(0, 0, w.days); sc.DepletionDate == nil || !sc.DepletionDate.Equal(want) {
			t.Errorf("%s DepletionDate = %v, want %s", name, sc.DepletionDate, want)
		}
		if len(sc.ProjectedBalance) != 90 {
			t.Errorf("%s projected %d points, want 90", name, len(sc.ProjectedBalance))
		}
	}
	realistic, _ := f.Scenario(ScenarioRealistic)
	if got := realistic.ProjectedBalance[9].Balance; !got.Equal(dec("2000")) {
		t.Errorf("balance on day 10 = %s, want 2000", got)
	}
}

func TestForecastGrowingFund(t *testing.T) {
	f := forecast("500", flows(30, "100", "0"), 60)
	if f.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", f.Status)
	}
	for _, sc := range f.Scenarios {
		if sc.DaysRemaining != nil || len(sc.Alerts) != 0 {
			t.Errorf("%s should not deplete: %v %+v", sc.Scenario, sc.DaysRemaining, sc.Alerts)
		}
	}
	opt, _ := f.Scenario(ScenarioOptimistic)
	if !opt.DailyNetFlow.Equal(dec("125")) {
		t.Errorf("optimistic net flow = %s, want 125", opt.DailyNetFlow)
	}
}

func TestForecastInsufficientHistory(t *testing.T) {
	for _, n := range []int{0, 1, 13} {
		f := forecast("1000", flows(n, "0", "500"), 30)
		if f.Status != StatusUnknown || f.Confidence != ConfidenceNone {
			t.Errorf("n=%d: status %s confidence %s, want unknown/none", n, f.Status, f.Confidence)
		}
		if len(f.Scenarios) != 0 || !f.DailyBurnRate.IsZero() {
			t.Errorf("n=%d: expected no projection, got %+v", n, f.Scenarios)
		}
	}
}

func TestForecastGapsLowerConfidence(t *testing.T) {
	all := flows(30, "0", "100")
	// 保留首日，去掉 10 天
	kept := append([]*DailyFlow{all[0]}, all[11:]...)
	f := forecast("100000", kept, 30)

	if f.WindowDays != 30 || f.MissingDays != 10 || f.HistoryDays != 20 {
		t.Fatalf("window %d missing %d history %d", f.WindowDays, f.MissingDays, f.HistoryDays)
	}
	if f.Confidence != ConfidenceLow {
		t.Errorf("confidence = %s, want low", f.Confidence)
	}
	// 缺失日按零计：2000 / 30
	if want := dec("66.6667"); !f.DailyBurnRate.Equal(want) {
		t.Errorf("DailyBurnRate = %s, want %s", f.DailyBurnRate, want)
	}
}

func TestBuildHistoryClipsToWindow(t *testing.T) {
	fs := flows(120, "0", "10")
	h := BuildHistory(fs, firstOf(fs), asOf, 90)
	if len(h.Days) != 90 || h.Recorded != 90 || h.Missing != 0 {
		t.Fatalf("days %d recorded %d missing %d", len(h.Days), h.Recorded, h.Missing)
	}
	if !h.End.Equal(asOf.AddDate(0, 0, -1)) || !h.Start.Equal(asOf.AddDate(0, 0, -90)) {
		t.Errorf("window %s..%s", h.Start, h.End)
	}
}

func TestForecastNonPositiveBalance(t *testing.T) {
	f := forecast("0", flows(20, "100", "0"), 10)
	sc, _ := f.Scenario(ScenarioRealistic)
	if sc.DaysRemaining == nil || *sc.DaysRemaining != 0 {
		t.Fatalf("DaysRemaining = %v, want 0", sc.DaysRemaining)
	}
	if f.Status != StatusCritical {
		t.Errorf("status = %s, want critical", f.Status)
	}
}

func TestForecastSubCentBalanceNotDepletedEarly(t *testing.T) {
	f := forecast("10.004", flows(30, "0", "1"), 30)
	sc, _ := f.Scenario(ScenarioRealistic)
	if sc.DaysRemaining == nil || *sc.DaysRemaining != 11 {
		t.Fatalf("DaysRemaining = %v, want 11", sc.DaysRemaining)
	}
	// 第 10 天精确余额 0.004，输出取整为 0.00
	if got := sc.ProjectedBalance[9].Balance; !got.Equal(dec("0")) {
		t.Errorf("day 10 balance = %s, want 0.00", got)
	}
}

func TestForecastMonotonicInBurn(t *testing.T) {
	prev := -1
	for _, spend := range []string{"20", "35", "50", "80", "120", "400"} {
		f := forecast("5000", flows(30, "0", spend), 365)
		sc, _ := f.Scenario(ScenarioRealistic)
		if sc.DaysRemaining == nil {
			t.Fatalf("spend %s: expected depletion within horizon", spend)
		}
		if prev >= 0 && *sc.DaysRemaining > prev {
			t.Errorf("spend %s: DaysRemaining %d increased from %d", spend, *sc.DaysRemaining, prev)
		}
		prev = *sc.DaysRemaining
	}
}

func TestScenarioBurn(t *testing.T) {
	tests := []struct {
		burn, m, want string
	}{
		{"100", "0.75", "75"},
		{"100", "1.25", "125"},
		{"-100", "0.75", "-125"},
		{"-100", "1.25", "-75"},
		{"0", "1.25", "0"},
	}
	for _, tt := range tests {
		if got := ScenarioBurn(dec(tt.burn), dec(tt.m)); !got.Equal(dec(tt.want)) {
			t.Errorf("ScenarioBurn(%s, %s) = %s, want %s", tt.burn, tt.m, got, tt.want)
		}
	}
}

func TestNewDailyFlowValidation(t *testing.T) {
	if _, err := NewDailyFlow("F1", time.Time{}, dec("1"), dec("1")); err == nil {
		t.Error("expected error for zero date")
	}
	if _, err := NewDailyFlow("F1", asOf, dec("-1"), dec("0")); err == nil {
		t.Error("expected error for negative donations")
	}
	f, err := NewDailyFlow("F1", time.Date(2024, 6, 1, 18, 30, 0, 0, time.FixedZone("X", 3600)), dec("10"), dec("4"))
	if err != nil {
		t.Fatal(err)
	}
	if !f.FlowDate.Equal(asOf) || !f.NetFlow().Equal(dec("6")) {
		t.Errorf("unexpected flow %+v", f)
	}
}
