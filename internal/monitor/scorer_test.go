package monitor

import (
	"math"
	"testing"

	"github.com/rewired-gh/marketwise/internal/models"
)

func change(id string, w models.Window, before, after float64) models.Change {
	return models.Change{
		Platform: models.Manifold,
		MarketID: models.MarketKey{BaseID: id},
		Window:   w,
		Before:   before,
		After:    after,
	}
}

func TestSignificance_WindowWeighting(t *testing.T) {
	// 3pt in an hour outranks 5pt in a day: 0.03*6 > 0.05*2.
	hour := Significance(0.5, 0.47, models.Hour)
	day := Significance(0.5, 0.45, models.Day)
	if hour <= day {
		t.Errorf("hour significance %v should exceed day significance %v", hour, day)
	}

	for _, delta := range []float64{0.01, 0.2, 0.5} {
		h := Significance(0.2, 0.2+delta, models.Hour)
		d := Significance(0.2, 0.2+delta, models.Day)
		w := Significance(0.2, 0.2+delta, models.Week)
		if !(h > d && d > w) {
			t.Errorf("delta %v: want hour > day > week, got %v %v %v", delta, h, d, w)
		}
	}

	if got := Significance(0.8, 0.5, models.Week); math.Abs(got-0.3) > 1e-12 {
		t.Errorf("decrease significance = %v, want 0.3", got)
	}
}

func TestSignificance_Monotonic(t *testing.T) {
	for _, w := range models.Windows {
		prev := -1.0
		for i := 0; i <= 10; i++ {
			got := Significance(0.5, 0.5-float64(i)*0.05, w)
			if got <= prev {
				t.Errorf("%s: significance %v at step %d not above %v", w, got, i, prev)
			}
			prev = got
		}
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name   string
		before float64
		after  float64
		want   bool
	}{
		{"exactly at floor", 0.5, 0.7, true},
		{"large decrease", 0.9, 0.1, true},
		{"just below floor", 0.5, 0.69, false},
		{"tiny move", 0.5, 0.51, false},
		{"before out of range", -0.3, 0.5, false},
		{"after out of range", 0.5, 1.3, false},
		{"NaN", math.NaN(), 0.9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, w := range models.Windows {
				c := change("m", w, tt.before, tt.after)
				if got := Eligible(&c); got != tt.want {
					t.Errorf("Eligible(%v -> %v, %v) = %v, want %v", tt.before, tt.after, w, got, tt.want)
				}
			}
		})
	}
}

func TestBest(t *testing.T) {
	var b Best
	if b.Change() != nil {
		t.Fatal("empty Best should have no change")
	}

	b.Consider(change("small", models.Hour, 0.5, 0.55))
	b.Consider(change("day", models.Day, 0.2, 0.7))   // 0.5*2 = 1.0
	b.Consider(change("hour", models.Hour, 0.4, 0.65)) // 0.25*6 = 1.5
	b.Consider(change("week", models.Week, 0.0, 1.0))  // 1.0*1 = 1.0

	got := b.Change()
	if got == nil || got.MarketID.BaseID != "hour" {
		t.Fatalf("best = %+v, want hour", got)
	}
	if math.Abs(b.Significance()-1.5) > 1e-9 {
		t.Errorf("significance = %v, want 1.5", b.Significance())
	}
	if b.Eligible != 3 || b.BelowFloor != 1 || b.Seen() != 4 {
		t.Errorf("counts eligible=%d below=%d seen=%d", b.Eligible, b.BelowFloor, b.Seen())
	}
}

func TestBest_TieKeepsFirst(t *testing.T) {
	var b Best
	b.Consider(change("first", models.Hour, 0.2, 0.5))
	b.Consider(change("second", models.Hour, 0.2, 0.5))
	if got := b.Change(); got.MarketID.BaseID != "first" {
		t.Errorf("tie resolved to %q, want first", got.MarketID.BaseID)
	}
}

func TestBest_FloorCheckedBeforeRanking(t *testing.T) {
	var b Best
	// Highly weighted but below floor; must not shadow the eligible week move.
	b.Consider(change("hour", models.Hour, 0.5, 0.69))
	b.Consider(change("week", models.Week, 0.5, 0.75))
	if got := b.Change(); got == nil || got.MarketID.BaseID != "week" {
		t.Errorf("best = %+v, want week", got)
	}
}
