package monitor

import (
	"math"

	"github.com/rewired-gh/marketwise/internal/models"
)

const (
	// MinDelta is the smallest absolute probability move ever announced.
	MinDelta = 0.20

	epsilon = 1e-9
)

// Weight scales a window's delta so faster moves rank higher.
func Weight(w models.Window) float64 {
	switch w {
	case models.Hour:
		return 6
	case models.Day:
		return 2
	case models.Week:
		return 1
	}
	return 0
}

// Significance is |after-before| scaled by the window weight.
func Significance(before, after float64, w models.Window) float64 {
	return math.Abs(after-before) * Weight(w)
}

// Eligible reports whether c moved by at least MinDelta between two valid
// probabilities.
func Eligible(c *models.Change) bool {
	if !models.ValidProbability(c.Before) || !models.ValidProbability(c.After) {
		return false
	}
	return math.Abs(c.Delta())+epsilon >= MinDelta
}

// Best tracks the most significant eligible change seen so far.
type Best struct {
	change       *models.Change
	significance float64

	Eligible   int
	BelowFloor int
}

// Consider offers c to the running best. Ineligible changes are counted and
// ignored; an eligible change replaces the best only when strictly more
// significant, so the first of equally significant changes is kept.
func (b *Best) Consider(c models.Change) {
	if !Eligible(&c) {
		b.BelowFloor++
		return
	}
	b.Eligible++
	sig := Significance(c.Before, c.After, c.Window)
	if b.change == nil || sig > b.significance {
		b.change = &c
		b.significance = sig
	}
}

// Change returns the best eligible change, or nil if none was offered.
func (b *Best) Change() *models.Change {
	return b.change
}

// Significance returns the best change's significance, 0 when there is none.
func (b *Best) Significance() float64 {
	return b.significance
}

// Seen reports how many changes were offered in total.
func (b *Best) Seen() int {
	return b.Eligible + b.BelowFloor
}
