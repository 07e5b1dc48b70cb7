package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Scenario 预测情景
type Scenario string

const (
	ScenarioOptimistic  Scenario = "optimistic"
	ScenarioRealistic   Scenario = "realistic"
	ScenarioPessimistic Scenario = "pessimistic"
)

// FundStatus 基金健康状态，取现实情景
type FundStatus string

const (
	StatusHealthy  FundStatus = "healthy"
	StatusWarning  FundStatus = "warning"
	StatusCritical FundStatus = "critical"
	StatusUnknown  FundStatus = "unknown"
)

// Confidence 预测可信度
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
	ConfidenceNone Confidence = "none"
)

// Params 预测参数
type Params struct {
	WindowDays            int
	MinHistoryDays        int
	OptimisticMultiplier  decimal.Decimal
	PessimisticMultiplier decimal.Decimal
	// SeasonalityThreshold 桶均值偏离整体均值的标准差倍数
	SeasonalityThreshold float64
	GapRatioThreshold    float64
	CriticalDays         int
	WarningDays          int
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		WindowDays:            90,
		MinHistoryDays:        14,
		OptimisticMultiplier:  decimal.RequireFromString("0.75"),
		PessimisticMultiplier: decimal.RequireFromString("1.25"),
		SeasonalityThreshold:  1.5,
		GapRatioThreshold:     0.2,
		CriticalDays:          30,
		WarningDays:           60,
	}
}

// MinSeasonalSamples 每个桶至少的样本数
const MinSeasonalSamples = 2

// BalancePoint 第 Day 天末的预计余额
type BalancePoint struct {
	Day     int             `json:"day"`
	Date    time.Time       `json:"date"`
	Balance decimal.Decimal `json:"balance"`
}

// ThresholdAlert 剩余天数低于阈值
type ThresholdAlert struct {
	Level         AlertLevel `json:"level"`
	ThresholdDays int        `json:"threshold_days"`
	DaysRemaining int        `json:"days_remaining"`
	Message       string     `json:"message"`
}

// ForecastScenario 单个情景的预测，每次调用重新生成
type ForecastScenario struct {
	Scenario      Scenario        `json:"scenario"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	DailyBurnRate decimal.Decimal `json:"daily_burn_rate"`
	DailyNetFlow  decimal.Decimal `json:"daily_net_flow"`
	// DaysRemaining 为空表示预测期内不会耗尽
	DaysRemaining    *int             `json:"days_remaining"`
	DepletionDate    *time.Time       `json:"depletion_date,omitempty"`
	ProjectedBalance []BalancePoint   `json:"projected_balance"`
	Alerts           []ThresholdAlert `json:"alerts"`
}

// BurnRateForecast 基金消耗预测
type BurnRateForecast struct {
	FundID           string             `json:"fund_id"`
	AsOf             time.Time          `json:"as_of"`
	ForecastDays     int                `json:"forecast_days"`
	CurrentBalance   decimal.Decimal    `json:"current_balance"`
	DailyBurnRate    decimal.Decimal    `json:"daily_burn_rate"`
	Status           FundStatus         `json:"status"`
	Confidence       Confidence         `json:"confidence"`
	HistoryDays      int                `json:"history_days"`
	WindowDays       int                `json:"window_days"`
	MissingDays      int                `json:"missing_days"`
	GapRatio         float64            `json:"gap_ratio"`
	Scenarios        []ForecastScenario `json:"scenarios"`
	SeasonalPatterns []SeasonalPattern  `json:"seasonal_patterns"`
}

// Scenario 按名称取情景
func (f *BurnRateForecast) Scenario(s Scenario) (ForecastScenario, bool) {
	for _, sc := range f.Scenarios {
		if sc.Scenario == s {
			return sc, true
		}
	}
	return ForecastScenario{}, false
}

// History 回溯窗口内的逐日净流量，缺失日为零
type History struct {
	Start    time.Time
	End      time.Time
	Days     []time.Time
	Net      []decimal.Decimal
	Recorded int
	Missing  int
}

// GapRatio 缺失天数占窗口的比例
func (h History) GapRatio() float64 {
	if len(h.Days) == 0 {
		return 0
	}
	return float64(h.Missing) / float64(len(h.Days))
}

// BuildHistory 窗口为 asOf 之前的 windowDays 个完整日，起点不早于基金首个记录日
func BuildHistory(flows []*DailyFlow, firstRecorded *time.Time, asOf time.Time, windowDays int) History {
	end := truncateDay(asOf).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(windowDays - 1))
	h := History{Start: start, End: end}
	if firstRecorded == nil {
		return h
	}
	if first := truncateDay(*firstRecorded); first.After(start) {
		start = first
		h.Start = first
	}
	if start.After(end) {
		return h
	}

	byDay := make(map[time.Time]decimal.Decimal, len(flows))
	for _, f := range flows {
		d := truncateDay(f.FlowDate)
		if d.Before(start) || d.After(end) {
			continue
		}
		byDay[d] = byDay[d].Add(f.NetFlow())
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		net, ok := byDay[d]
		if ok {
			h.Recorded++
		} else {
			h.Missing++
			net = decimal.Zero
		}
		h.Days = append(h.Days, d)
		h.Net = append(h.Net, net)
	}
	return h
}

// DailyBurn 窗口日均净流量取反，正数表示余额在减少
func (h History) DailyBurn() decimal.Decimal {
	if len(h.Net) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, n := range h.Net {
		sum = sum.Add(n)
	}
	return sum.Div(decimal.NewFromInt(int64(len(h.Net)))).Neg().Round(4)
}

// ScenarioBurn 按乘数放大或缩小消耗，m<1 总是更乐观
func ScenarioBurn(burn, multiplier decimal.Decimal) decimal.Decimal {
	return burn.Add(burn.Abs().Mul(multiplier.Sub(decimal.NewFromInt(1))))
}

// Forecast 生成三种情景的预测。历史不足时返回 unknown，不做推算
func Forecast(fund *StrikeFund, h History, p Params, asOf time.Time, forecastDays int) *BurnRateForecast {
	out := &BurnRateForecast{
		FundID:           fund.FundID,
		AsOf:             truncateDay(asOf),
		ForecastDays:     forecastDays,
		CurrentBalance:   fund.CurrentBalance,
		DailyBurnRate:    decimal.Zero,
		HistoryDays:      h.Recorded,
		WindowDays:       len(h.Days),
		MissingDays:      h.Missing,
		GapRatio:         h.GapRatio(),
		Scenarios:        []ForecastScenario{},
		SeasonalPatterns: []SeasonalPattern{},
	}
	if h.Recorded < p.MinHistoryDays {
		out.Status = StatusUnknown
		out.Confidence = ConfidenceNone
		return out
	}

	burn := h.DailyBurn()
	out.DailyBurnRate = burn
	for _, sc := range []struct {
		name Scenario
		m    decimal.Decimal
	}{
		{ScenarioOptimistic, p.OptimisticMultiplier},
		{ScenarioRealistic, decimal.NewFromInt(1)},
		{ScenarioPessimistic, p.PessimisticMultiplier},
	} {
		out.Scenarios = append(out.Scenarios, project(sc.name, sc.m, fund.CurrentBalance, ScenarioBurn(burn, sc.m), out.AsOf, forecastDays, p))
	}

	realistic, _ := out.Scenario(ScenarioRealistic)
	out.Status = Classify(realistic.DaysRemaining, p)
	out.Confidence = ConfidenceHigh
	if out.GapRatio > p.GapRatioThreshold {
		out.Confidence = ConfidenceLow
	}
	out.SeasonalPatterns = DetectSeasonalPatterns(h.Days, h.Net, p.SeasonalityThreshold, MinSeasonalSamples)
	return out
}

// Classify 剩余天数对应的状态
func Classify(daysRemaining *int, p Params) FundStatus {
	switch {
	case daysRemaining == nil:
		return StatusHealthy
	case *daysRemaining < p.CriticalDays:
		return StatusCritical
	case *daysRemaining < p.WarningDays:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func project(name Scenario, m, balance, burn decimal.Decimal, asOf time.Time, days int, p Params) ForecastScenario {
	sc := ForecastScenario{
		Scenario:         name,
		Multiplier:       m,
		DailyBurnRate:    burn,
		DailyNetFlow:     burn.Neg(),
		ProjectedBalance: make([]BalancePoint, 0, days),
		Alerts:           []ThresholdAlert{},
	}
	if !balance.IsPositive() {
		zero := 0
		sc.DaysRemaining = &zero
	}
	for t := 1; t <= days; t++ {
		// 按精确值判断耗尽，只对输出点取整
		b := balance.Sub(burn.Mul(decimal.NewFromInt(int64(t))))
		sc.ProjectedBalance = append(sc.ProjectedBalance, BalancePoint{Day: t, Date: asOf.AddDate(0, 0, t), Balance: b.Round(2)})
		if sc.DaysRemaining == nil && !b.IsPositive() {
			d := t
			sc.DaysRemaining = &d
		}
	}
	if sc.DaysRemaining == nil {
		return sc
	}

	depletion := asOf.AddDate(0, 0, *sc.DaysRemaining)
	sc.DepletionDate = &depletion
	switch {
	case *sc.DaysRemaining < p.CriticalDays:
		sc.Alerts = append(sc.Alerts, thresholdAlert(AlertCritical, p.CriticalDays, *sc.DaysRemaining, name))
	case *sc.DaysRemaining < p.WarningDays:
		sc.Alerts = append(sc.Alerts, thresholdAlert(AlertWarning, p.WarningDays, *sc.DaysRemaining, name))
	}
	return sc
}

func thresholdAlert(level AlertLevel, threshold, days int, name Scenario) ThresholdAlert {
	return ThresholdAlert{
		Level:         level,
		ThresholdDays: threshold,
		DaysRemaining: days,
		Message:       fmt.Sprintf("%s scenario depletes the fund in %d days (threshold %d)", name, days, threshold),
	}
}
