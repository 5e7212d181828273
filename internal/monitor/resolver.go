// Package monitor detects significant probability moves and decides whether
// they may be announced.
package monitor

import (
	"fmt"
	"time"

	"github.com/rewired-gh/marketwise/internal/logger"
	"github.com/rewired-gh/marketwise/internal/models"
)

// MaxWidening caps how far the hour band may stretch into the past, keeping it
// clear of the day band.
const MaxWidening = 20 * time.Hour

// ObservationReader is the read side of the observation store.
type ObservationReader interface {
	LastObservedAt() (time.Time, bool, error)
	ActivePairs(since time.Time) ([]models.Observation, error)
	ClosestTo(platform models.Platform, id models.MarketKey, target time.Time, bandLow, bandHigh time.Duration) (*models.Observation, error)
	Metadata(platform models.Platform, id models.MarketKey) (*models.MarketMetadata, error)
}

// Band is the search interval for a window, relative to latest-Span:
// [target-Low, target+High].
type Band struct {
	Window models.Window
	Low    time.Duration
	High   time.Duration
}

// DefaultBands matches 45-69 minutes, 22-28 hours and 6-8 days before the
// latest observation.
func DefaultBands() []Band {
	return []Band{
		{Window: models.Hour, Low: 9 * time.Minute, High: 15 * time.Minute},
		{Window: models.Day, Low: 4 * time.Hour, High: 2 * time.Hour},
		{Window: models.Week, Low: 24 * time.Hour, High: 24 * time.Hour},
	}
}

// Match is a tracked market with the observations found in each window.
type Match struct {
	Latest models.Observation
	Title  string
	URL    string
	Past   map[models.Window]models.Observation
}

// Changes builds one change per matched window, shortest window first.
func (m *Match) Changes() []models.Change {
	changes := make([]models.Change, 0, len(m.Past))
	for _, w := range models.Windows {
		past, ok := m.Past[w]
		if !ok {
			continue
		}
		changes = append(changes, models.Change{
			Platform: m.Latest.Platform,
			MarketID: m.Latest.MarketID,
			Window:   w,
			Before:   past.Probability,
			After:    m.Latest.Probability,
			BeforeAt: past.ObservedAt,
			AfterAt:  m.Latest.ObservedAt,
			Title:    m.Title,
			URL:      m.URL,
		})
	}
	return changes
}

// Resolver pairs each recently observed market with its past observations.
type Resolver struct {
	store     ObservationReader
	freshness time.Duration
	bands     []Band
	now       func() time.Time
}

// NewResolver creates a Resolver using DefaultBands. A market is tracked when
// its latest observation is within freshness of the newest one in the store.
func NewResolver(store ObservationReader, freshness time.Duration) *Resolver {
	return &Resolver{
		store:     store,
		freshness: freshness,
		bands:     DefaultBands(),
		now:       time.Now,
	}
}

// Resolve returns every tracked market with at least one window match.
// widening extends the older edge of the hour band, clamped to
// [0, MaxWidening].
func (r *Resolver) Resolve(widening time.Duration) ([]Match, error) {
	widening = min(max(widening, 0), MaxWidening)

	ref, ok, err := r.store.LastObservedAt()
	if err != nil {
		return nil, err
	}
	if !ok {
		ref = r.now()
	}

	pairs, err := r.store.ActivePairs(ref.Add(-r.freshness))
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, latest := range pairs {
		m, err := r.resolvePair(latest, widening)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s %s: %w", latest.Platform, latest.MarketID, err)
		}
		if m == nil {
			continue
		}
		matches = append(matches, *m)
	}
	logger.Debug("Resolved %d of %d tracked markets (hour band widened by %v)", len(matches), len(pairs), widening)
	return matches, nil
}

func (r *Resolver) resolvePair(latest models.Observation, widening time.Duration) (*Match, error) {
	past := make(map[models.Window]models.Observation, len(r.bands))
	for _, b := range r.bands {
		low := b.Low
		if b.Window == models.Hour {
			low += widening
		}
		target := latest.ObservedAt.Add(-b.Window.Span())
		o, err := r.store.ClosestTo(latest.Platform, latest.MarketID, target, low, b.High)
		if err != nil {
			return nil, err
		}
		if o == nil || !o.ObservedAt.Before(latest.ObservedAt) {
			continue
		}
		past[b.Window] = *o
	}
	if len(past) == 0 {
		return nil, nil
	}

	m := &Match{Latest: latest, Past: past}
	meta, err := r.store.Metadata(latest.Platform, latest.MarketID)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		m.Title, m.URL = meta.Title, meta.URL
	}
	return m, nil
}
