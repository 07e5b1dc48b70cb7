package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDetectSeasonalPatternsWeekday(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	var (
		days []time.Time
		net  []decimal.Decimal
	)
	for i := 0; i < 56; i++ {
		d := start.AddDate(0, 0, i)
		v := dec("-100")
		if d.Weekday() == time.Monday {
			v = dec("-1000")
		}
		days = append(days, d)
		net = append(net, v)
	}

	got := DetectSeasonalPatterns(days, net, 1.5, MinSeasonalSamples)
	if len(got) != 1 {
		t.Fatalf("patterns = %+v, want only Monday", got)
	}
	p := got[0]
	if p.Kind != PatternWeekday || p.Bucket != "Monday" || p.Samples != 8 || p.Mean != -1000 {
		t.Errorf("unexpected pattern %+v", p)
	}
	if p.Deviation >= 0 {
		t.Errorf("deviation %v should be negative", p.Deviation)
	}
}

func TestDetectSeasonalPatternsNone(t *testing.T) {
	tests := []struct {
		name string
		n    int
		v    string
	}{
		{"uniform", 30, "-50"},
		{"single sample", 1, "-50"},
		{"empty", 0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				days []time.Time
				net  []decimal.Decimal
			)
			for i := 0; i < tt.n; i++ {
				days = append(days, asOf.AddDate(0, 0, -i))
				net = append(net, dec(tt.v))
			}
			if got := DetectSeasonalPatterns(days, net, 1.5, MinSeasonalSamples); len(got) != 0 {
				t.Errorf("unexpected patterns %+v", got)
			}
		})
	}
}

func TestWeekOfMonth(t *testing.T) {
	for day, want := range map[int]int{1: 1, 7: 1, 8: 2, 21: 3, 28: 4, 29: 5, 31: 5} {
		if got := WeekOfMonth(time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)); got != want {
			t.Errorf("WeekOfMonth(%d) = %d, want %d", day, got, want)
		}
	}
}
