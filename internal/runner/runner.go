// Package runner executes one sampling-and-publishing cycle: ingest listings,
// pick the most significant change, announce it if the guard allows, and
// sweep expired observations.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/marketwise/internal/logger"
	"github.com/rewired-gh/marketwise/internal/metrics"
	"github.com/rewired-gh/marketwise/internal/models"
	"github.com/rewired-gh/marketwise/internal/monitor"
	"github.com/rewired-gh/marketwise/internal/platforms"
	"github.com/rewired-gh/marketwise/internal/storage"
)

// Suppression reasons.
const (
	ReasonNoCandidate      = "no candidate"
	ReasonBelowFloor       = "below floor"
	ReasonAlreadyAnnounced = "already announced"
	ReasonStillSilent      = "still silent"
	ReasonAnnounceFailed   = "announce failed"
	ReasonDryRun           = "dry run"
)

// Announcer publishes announcement text.
type Announcer interface {
	Announce(ctx context.Context, text string) error
}

// Options tunes a Runner.
type Options struct {
	MinSilence     time.Duration
	Retention      time.Duration
	Freshness      time.Duration
	HistorySize    int
	EarlyTolerance time.Duration
	NoFetch        bool // skip ingestion
	NoPublish      bool // decide but never announce or record
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MinSilence:     4 * time.Hour,
		Retention:      240 * time.Hour,
		Freshness:      15 * time.Minute,
		HistorySize:    monitor.DefaultHistorySize,
		EarlyTolerance: monitor.DefaultEarlyTolerance,
	}
}

// Report summarizes a run.
type Report struct {
	RunID        string
	StartedAt    time.Time
	Dormancy     time.Duration
	Ingested     int
	Rejected     int
	FetchErrors  int
	Tracked      int
	Candidates   int
	BelowFloor   int
	Best         *models.Change
	Significance float64
	Verdict      monitor.Verdict // Undecided unless Best is non-nil
	Suppression  string
	Published    bool
	Retired      int64
}

// Runner wires sources, store and announcers together.
type Runner struct {
	store      *storage.Storage
	sources    []platforms.Source
	announcers []Announcer
	opts       Options
	now        func() time.Time
}

// New creates a Runner.
func New(store *storage.Storage, sources []platforms.Source, announcers []Announcer, opts Options) *Runner {
	return &Runner{
		store:      store,
		sources:    sources,
		announcers: announcers,
		opts:       opts,
		now:        time.Now,
	}
}

// Run executes one full cycle. Fetch, ingestion and retention problems are
// logged and absorbed; only store failures while deciding are returned.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: uuid.New().String()[:8], StartedAt: r.now()}
	logger.Info("Starting run %s", rep.RunID)

	dormancy, err := r.dormancy(rep.StartedAt)
	if err != nil {
		logger.Warn("Failed to measure dormancy: %v", err)
	}
	rep.Dormancy = dormancy

	if r.opts.NoFetch {
		logger.Info("Fetching disabled, skipping ingestion")
	} else {
		r.Ingest(ctx, rep)
	}

	decideErr := r.Decide(ctx, rep)

	if n, err := r.Retire(); err != nil {
		logger.Warn("Retention sweep failed: %v", err)
	} else {
		rep.Retired = n
	}

	if count, err := r.store.CountObservations(); err == nil {
		metrics.StoredObservations.Set(float64(count))
	}
	metrics.LastRunTimestamp.Set(float64(r.now().Unix()))
	metrics.RunDuration.Observe(r.now().Sub(rep.StartedAt).Seconds())

	if decideErr != nil {
		return rep, fmt.Errorf("run %s: %w", rep.RunID, decideErr)
	}
	logger.Info("Run %s completed in %v: ingested=%d rejected=%d tracked=%d candidates=%d published=%v",
		rep.RunID, r.now().Sub(rep.StartedAt), rep.Ingested, rep.Rejected, rep.Tracked, rep.Candidates, rep.Published)
	return rep, nil
}

func (r *Runner) dormancy(now time.Time) (time.Duration, error) {
	last, ok, err := r.store.LastObservedAt()
	if err != nil || !ok {
		return 0, err
	}
	return now.Sub(last), nil
}

// Ingest fetches every source and stores the valid listings in a single
// transaction, all stamped with the run's start time.
func (r *Runner) Ingest(ctx context.Context, rep *Report) {
	var fetched []models.Listing
	for _, src := range r.sources {
		p := src.Platform()
		listings, err := src.Fetch(ctx)
		if err != nil {
			rep.FetchErrors++
			metrics.FetchErrors.WithLabelValues(p.String()).Inc()
			logger.Warn("Fetch from %s failed: %v", p, err)
			continue
		}
		logger.Debug("Fetched %d listings from %s", len(listings), p)
		fetched = append(fetched, listings...)
	}

	err := r.store.WithTx(func(tx *storage.Storage) error {
		for _, l := range fetched {
			p := l.Platform.String()
			if !models.ValidProbability(l.Probability) {
				rep.Rejected++
				metrics.ObservationsRejected.WithLabelValues(p, "out of range").Inc()
				logger.Debug("Ignoring %s %q: probability %v out of range", p, l.Title, l.Probability)
				continue
			}
			if _, _, err := tx.Append(l.Observation(rep.StartedAt), l.Metadata()); err != nil {
				rep.Rejected++
				metrics.ObservationsRejected.WithLabelValues(p, "store").Inc()
				logger.Warn("Failed to store %s %s: %v", p, l.MarketID, err)
				continue
			}
			rep.Ingested++
			metrics.ObservationsIngested.WithLabelValues(p).Inc()
		}
		return nil
	})
	if err != nil {
		logger.Error("Ingestion transaction failed: %v", err)
	}
	logger.Info("Ingested %d observations (%d rejected, %d fetch errors)", rep.Ingested, rep.Rejected, rep.FetchErrors)
}

// Decide picks the most significant eligible change and publishes it when the
// guard allows. The publication is recorded only after a successful announce.
func (r *Runner) Decide(ctx context.Context, rep *Report) error {
	widening := rep.Dormancy - time.Hour

	return r.store.WithTx(func(tx *storage.Storage) error {
		matches, err := monitor.NewResolver(tx, r.opts.Freshness).Resolve(widening)
		if err != nil {
			return fmt.Errorf("failed to resolve windows: %w", err)
		}
		rep.Tracked = len(matches)

		var best monitor.Best
		for i := range matches {
			for _, c := range matches[i].Changes() {
				best.Consider(c)
				metrics.Candidates.WithLabelValues(c.Window.String(), fmt.Sprint(monitor.Eligible(&c))).Inc()
			}
		}
		rep.Candidates = best.Seen()
		rep.BelowFloor = best.BelowFloor

		c := best.Change()
		if c == nil {
			if best.BelowFloor > 0 {
				return r.suppress(rep, ReasonBelowFloor)
			}
			return r.suppress(rep, ReasonNoCandidate)
		}
		rep.Best = c
		rep.Significance = best.Significance()
		metrics.BestSignificance.Set(rep.Significance)

		msg := c.Message()
		logger.Info("Most noteworthy change: %s", msg)

		guard := monitor.NewGuard(tx, r.opts.HistorySize, r.opts.EarlyTolerance)
		guard.SetClock(r.now)
		verdict, err := guard.Evaluate(c, r.opts.MinSilence)
		if err != nil {
			return fmt.Errorf("failed to evaluate publication: %w", err)
		}
		rep.Verdict = verdict
		switch verdict {
		case monitor.AlreadyAnnounced:
			return r.suppress(rep, ReasonAlreadyAnnounced)
		case monitor.StillSilent:
			if since, err := guard.TimeSinceLastPublication(); err == nil {
				logger.Info("Last publication was only %v ago", since.Round(time.Minute))
			}
			return r.suppress(rep, ReasonStillSilent)
		}

		if r.opts.NoPublish || len(r.announcers) == 0 {
			return r.suppress(rep, ReasonDryRun)
		}

		if err := r.announce(ctx, msg); err != nil {
			logger.Error("Announcement failed: %v", err)
			return r.suppress(rep, ReasonAnnounceFailed)
		}
		if _, err := guard.Record(c, msg); err != nil {
			return fmt.Errorf("failed to record publication: %w", err)
		}
		rep.Published = true
		metrics.Publications.Inc()
		logger.Info("Published change for %s", c.PublicationKey())
		return nil
	})
}

// announce sends msg through every announcer and succeeds if at least one
// delivered it, so a partial failure is not retried into a duplicate.
func (r *Runner) announce(ctx context.Context, msg string) error {
	var errs []error
	for _, a := range r.announcers {
		if err := a.Announce(ctx, msg); err != nil {
			metrics.AnnounceErrors.Inc()
			errs = append(errs, err)
		}
	}
	if len(errs) == len(r.announcers) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warn("Announcer failed: %v", err)
	}
	return nil
}

func (r *Runner) suppress(rep *Report, reason string) error {
	rep.Suppression = reason
	metrics.Suppressions.WithLabelValues(reason).Inc()
	logger.Info("No publication this run: %s", reason)
	return nil
}

// Retire deletes observations older than the retention horizon.
func (r *Runner) Retire() (int64, error) {
	n, err := r.store.RetireOlderThan(r.now().Add(-r.opts.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ObservationsRetired.Add(float64(n))
		logger.Debug("Retired %d observations older than %v", n, r.opts.Retention)
	}
	return n, nil
}
