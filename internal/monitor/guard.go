package monitor

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/marketwise/internal/models"
)

const (
	// DefaultHistorySize is how many recent publications are checked for
	// duplicates.
	DefaultHistorySize = 30
	// DefaultEarlyTolerance lets a publication fire slightly before the
	// silence window ends, absorbing scheduler jitter.
	DefaultEarlyTolerance = 10 * time.Minute
)

// PublicationLog is the append-only record of announcements.
type PublicationLog interface {
	AddPublication(rec *models.PublicationRecord) error
	LastPublication() (*models.PublicationRecord, error)
	RecentPublications(n int) ([]models.PublicationRecord, error)
}

// Verdict is the guard's decision for a candidate change.
type Verdict int

const (
	Undecided Verdict = iota
	Publish
	AlreadyAnnounced
	StillSilent
)

func (v Verdict) String() string {
	switch v {
	case Undecided:
		return "undecided"
	case Publish:
		return "publish"
	case AlreadyAnnounced:
		return "already announced"
	case StillSilent:
		return "still silent"
	}
	return "unknown"
}

// Guard decides whether a change may be announced. It keeps no state of its
// own; everything it knows comes from the publication log.
type Guard struct {
	log            PublicationLog
	historySize    int
	earlyTolerance time.Duration
	now            func() time.Time
}

// NewGuard creates a Guard over log. Non-positive historySize falls back to
// DefaultHistorySize.
func NewGuard(log PublicationLog, historySize int, earlyTolerance time.Duration) *Guard {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Guard{
		log:            log,
		historySize:    historySize,
		earlyTolerance: earlyTolerance,
		now:            time.Now,
	}
}

// SetClock replaces the time source used for silence checks and records.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// RecentlyPublished reports whether key, or a sub-answer of it, appears among
// the most recent publications.
func (g *Guard) RecentlyPublished(key string) (bool, error) {
	recs, err := g.log.RecentPublications(g.historySize)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.MarketKey == key || strings.HasPrefix(r.MarketKey, key+" ") {
			return true, nil
		}
	}
	return false, nil
}

// TimeSinceLastPublication returns the elapsed time since the last
// announcement, or the maximum duration if nothing was ever announced.
func (g *Guard) TimeSinceLastPublication() (time.Duration, error) {
	last, err := g.log.LastPublication()
	if err != nil {
		return 0, err
	}
	if last == nil {
		return time.Duration(math.MaxInt64), nil
	}
	return g.now().Sub(last.AnnouncedAt), nil
}

// Evaluate checks c against the publication log.
func (g *Guard) Evaluate(c *models.Change, minSilence time.Duration) (Verdict, error) {
	seen, err := g.RecentlyPublished(c.PublicationKey())
	if err != nil {
		return 0, err
	}
	if seen {
		return AlreadyAnnounced, nil
	}
	elapsed, err := g.TimeSinceLastPublication()
	if err != nil {
		return 0, err
	}
	if elapsed < minSilence-g.earlyTolerance {
		return StillSilent, nil
	}
	return Publish, nil
}

// ShouldPublish is Evaluate reduced to a yes/no answer.
func (g *Guard) ShouldPublish(c *models.Change, minSilence time.Duration) (bool, error) {
	v, err := g.Evaluate(c, minSilence)
	return v == Publish, err
}

// Record logs an announcement of c made now.
func (g *Guard) Record(c *models.Change, message string) (*models.PublicationRecord, error) {
	rec := &models.PublicationRecord{
		ID:          uuid.New().String(),
		AnnouncedAt: g.now(),
		MarketKey:   c.PublicationKey(),
		Message:     message,
	}
	if err := g.log.AddPublication(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
