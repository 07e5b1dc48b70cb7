package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// PatternKind 分桶方式
type PatternKind string

const (
	PatternWeekday     PatternKind = "weekday"
	PatternWeekOfMonth PatternKind = "week_of_month"
)

// SeasonalPattern 偏离整体均值的分桶，只用于解释，不修正现实情景
type SeasonalPattern struct {
	Kind        PatternKind `json:"kind"`
	Bucket      string      `json:"bucket"`
	Samples     int         `json:"samples"`
	Mean        float64     `json:"mean"`
	OverallMean float64     `json:"overall_mean"`
	// Deviation 以总体标准差为单位，带符号
	Deviation float64 `json:"deviation"`
}

// WeekOfMonth 当月第几周，1 号至 7 号为第 1 周
func WeekOfMonth(t time.Time) int {
	return (t.Day()-1)/7 + 1
}

// DetectSeasonalPatterns 按星期和月内周分桶，|桶均值 − 整体均值| > k·σ 时标记
func DetectSeasonalPatterns(days []time.Time, net []decimal.Decimal, k float64, minSamples int) []SeasonalPattern {
	patterns := []SeasonalPattern{}
	if len(days) != len(net) || len(net) < 2 {
		return patterns
	}
	values := make(stats.Float64Data, len(net))
	for i, n := range net {
		values[i] = n.InexactFloat64()
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return patterns
	}
	sigma, err := stats.StandardDeviationPopulation(values)
	if err != nil || sigma == 0 {
		return patterns
	}

	weekday := make([]stats.Float64Data, 7)
	week := make([]stats.Float64Data, 6)
	for i, d := range days {
		weekday[d.Weekday()] = append(weekday[d.Weekday()], values[i])
		week[WeekOfMonth(d)] = append(week[WeekOfMonth(d)], values[i])
	}

	check := func(kind PatternKind, bucket string, samples stats.Float64Data) {
		if len(samples) < minSamples {
			return
		}
		m, err := stats.Mean(samples)
		if err != nil {
			return
		}
		if math.Abs(m-mean) > k*sigma {
			patterns = append(patterns, SeasonalPattern{
				Kind:        kind,
				Bucket:      bucket,
				Samples:     len(samples),
				Mean:        round(m),
				OverallMean: round(mean),
				Deviation:   round((m - mean) / sigma),
			})
		}
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		check(PatternWeekday, wd.String(), weekday[wd])
	}
	for w := 1; w < len(week); w++ {
		check(PatternWeekOfMonth, fmt.Sprintf("week_%d", w), week[w])
	}
	return patterns
}

func round(v float64) float64 {
	r, _ := stats.Round(v, 4)
	return r
}
