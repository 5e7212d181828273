package models

import (
	"fmt"
	"time"
)

// Window is the lookback period a change is measured over.
type Window int

const (
	Hour Window = iota
	Day
	Week
)

// Windows lists every lookback window, shortest first.
var Windows = []Window{Hour, Day, Week}

// Span returns the nominal lookback duration.
func (w Window) Span() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	}
	return 0
}

func (w Window) String() string {
	switch w {
	case Hour:
		return "hour"
	case Day:
		return "day"
	case Week:
		return "week"
	}
	return fmt.Sprintf("window(%d)", int(w))
}

// Phrase is the window as used in announcement text.
func (w Window) Phrase() string {
	switch w {
	case Hour:
		return "an hour"
	case Day:
		return "a day"
	case Week:
		return "a week"
	}
	return w.String()
}

// Change is a candidate probability move between two observations of the
// same market. It is derived on demand and never persisted.
type Change struct {
	Platform Platform
	MarketID MarketKey
	Window   Window
	Before   float64
	After    float64
	BeforeAt time.Time
	AfterAt  time.Time
	Title    string
	URL      string
}

// Delta is the signed probability move.
func (c *Change) Delta() float64 {
	return c.After - c.Before
}

// PublicationKey is the publication log identifier for the changed market.
func (c *Change) PublicationKey() string {
	return PublicationKey(c.Platform, c.MarketID)
}

// Message renders the announcement text, e.g. "+30.0% in an hour: Title\nURL".
func (c *Change) Message() string {
	return fmt.Sprintf("%+.1f%% in %s: %s\n%s", 100*c.Delta(), c.Window.Phrase(), c.Title, c.URL)
}
