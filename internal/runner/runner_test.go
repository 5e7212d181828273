package runner

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/marketwise/internal/models"
	"github.com/rewired-gh/marketwise/internal/monitor"
	"github.com/rewired-gh/marketwise/internal/platforms"
	"github.com/rewired-gh/marketwise/internal/storage"
)

type fakeSource struct {
	platform models.Platform
	listings []models.Listing
	err      error
}

func (f *fakeSource) Platform() models.Platform { return f.platform }

func (f *fakeSource) Fetch(context.Context) ([]models.Listing, error) {
	return f.listings, f.err
}

type fakeAnnouncer struct {
	texts []string
	err   error
}

func (f *fakeAnnouncer) Announce(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func listing(platform models.Platform, id string, p float64) models.Listing {
	return models.Listing{
		Platform:    platform,
		MarketID:    models.ParseMarketKey(id),
		Probability: p,
		Title:       "Question " + id,
		URL:         "https://example.com/" + id,
		UpdatedAt:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type harness struct {
	store     *storage.Storage
	source    *fakeSource
	announcer *fakeAnnouncer
	runner    *Runner
	clock     time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	s, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		store:     s,
		source:    &fakeSource{platform: models.Manifold},
		announcer: &fakeAnnouncer{},
		clock:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.runner = New(s, []platforms.Source{h.source}, []Announcer{h.announcer}, opts)
	h.runner.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) run(t *testing.T) *Report {
	t.Helper()
	rep, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return rep
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MinSilence = 0
	return opts
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t, testOptions())

	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.50)}
	rep := h.run(t)
	if rep.Ingested != 1 || rep.Best != nil || rep.Suppression != ReasonNoCandidate {
		t.Fatalf("first run: %+v", rep)
	}

	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.80)}
	rep = h.run(t)
	if rep.Best == nil {
		t.Fatalf("expected a candidate, got %+v", rep)
	}
	if rep.Best.Window != models.Hour {
		t.Errorf("window = %v, want hour", rep.Best.Window)
	}
	if math.Abs(rep.Best.Delta()-0.30) > 1e-9 {
		t.Errorf("delta = %v, want 0.30", rep.Best.Delta())
	}
	if rep.Verdict != monitor.Publish || !rep.Published {
		t.Fatalf("expected publication, got %+v", rep)
	}
	if len(h.announcer.texts) != 1 || h.announcer.texts[0] != "+30.0% in an hour: Question m1\nhttps://example.com/m1" {
		t.Errorf("unexpected announcements: %q", h.announcer.texts)
	}

	last, err := h.store.LastPublication()
	if err != nil || last == nil || last.MarketKey != "Manifold m1" {
		t.Fatalf("publication not recorded: %+v, %v", last, err)
	}

	// No new data and no elapsed silence: the same change is suppressed.
	h.runner.opts.NoFetch = true
	h.clock = h.clock.Add(time.Minute)
	rep = h.run(t)
	if rep.Published || rep.Verdict != monitor.AlreadyAnnounced || rep.Suppression != ReasonAlreadyAnnounced {
		t.Errorf("second run: %+v", rep)
	}
	if len(h.announcer.texts) != 1 {
		t.Errorf("announced again: %q", h.announcer.texts)
	}
}

func TestRun_BelowFloor(t *testing.T) {
	h := newHarness(t, testOptions())

	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.50)}
	h.run(t)
	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.60)}
	rep := h.run(t)

	if rep.Best != nil || rep.Suppression != ReasonBelowFloor || rep.BelowFloor != 1 {
		t.Errorf("expected below-floor suppression, got %+v", rep)
	}
	if rep.Verdict != monitor.Undecided {
		t.Errorf("verdict = %v, want undecided without a candidate", rep.Verdict)
	}
}

func TestRun_AnnounceFailureIsNotRecorded(t *testing.T) {
	h := newHarness(t, testOptions())
	h.announcer.err = errors.New("network down")

	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.20)}
	h.run(t)
	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.70)}
	rep := h.run(t)

	if rep.Published || rep.Suppression != ReasonAnnounceFailed {
		t.Fatalf("expected failed announcement, got %+v", rep)
	}
	if last, _ := h.store.LastPublication(); last != nil {
		t.Fatalf("failed announcement was recorded: %+v", last)
	}

	// The next run retries the same change.
	h.announcer.err = nil
	h.runner.opts.NoFetch = true
	h.clock = h.clock.Add(time.Minute)
	rep = h.run(t)
	if !rep.Published {
		t.Errorf("retry should publish, got %+v", rep)
	}
}

func TestRun_PartialAnnounceFailureStillRecords(t *testing.T) {
	h := newHarness(t, testOptions())
	broken := &fakeAnnouncer{err: errors.New("telegram down")}
	h.runner.announcers = []Announcer{broken, h.announcer}

	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.20)}
	h.run(t)
	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.70)}
	rep := h.run(t)

	if !rep.Published || len(h.announcer.texts) != 1 {
		t.Errorf("expected publication through the working announcer, got %+v", rep)
	}
}

func TestRun_StillSilent(t *testing.T) {
	opts := testOptions()
	opts.MinSilence = 4 * time.Hour
	h := newHarness(t, opts)

	h.source.listings = []models.Listing{
		listing(models.Manifold, "m1", 0.20),
		listing(models.Manifold, "m2", 0.50),
	}
	h.run(t)

	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{
		listing(models.Manifold, "m1", 0.70),
		listing(models.Manifold, "m2", 0.50),
	}
	if rep := h.run(t); !rep.Published {
		t.Fatalf("first change should publish: %+v", rep)
	}

	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{
		listing(models.Manifold, "m1", 0.70),
		listing(models.Manifold, "m2", 0.95),
	}
	rep := h.run(t)
	if rep.Best == nil || rep.Best.MarketID.BaseID != "m2" {
		t.Fatalf("expected m2 as best, got %+v", rep.Best)
	}
	if rep.Published || rep.Verdict != monitor.StillSilent {
		t.Errorf("expected silence suppression, got %+v", rep)
	}
}

func TestRun_HourBeatsLargerDayMove(t *testing.T) {
	h := newHarness(t, testOptions())

	// "slow" moves 0.40 over a day, "fast" moves 0.25 over an hour.
	h.source.listings = []models.Listing{listing(models.Manifold, "slow", 0.10)}
	h.run(t)

	h.clock = h.clock.Add(23 * time.Hour)
	h.source.listings = []models.Listing{listing(models.Manifold, "fast", 0.30)}
	h.run(t)

	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{
		listing(models.Manifold, "slow", 0.50),
		listing(models.Manifold, "fast", 0.55),
	}
	rep := h.run(t)
	if rep.Best == nil || rep.Best.MarketID.BaseID != "fast" || rep.Best.Window != models.Hour {
		t.Errorf("expected fast hour move, got %+v", rep.Best)
	}
}

func TestRun_SourceFailureIsolated(t *testing.T) {
	h := newHarness(t, testOptions())
	failing := &fakeSource{platform: models.Metaculus, err: errors.New("502")}
	h.runner.sources = []platforms.Source{failing, h.source}

	h.source.listings = []models.Listing{
		listing(models.Manifold, "ok", 0.5),
		listing(models.Manifold, "bad", 1.5),
		listing(models.Manifold, "nan", math.NaN()),
	}
	rep := h.run(t)

	if rep.FetchErrors != 1 || rep.Ingested != 1 || rep.Rejected != 2 {
		t.Errorf("unexpected counts: %+v", rep)
	}
	if n, _ := h.store.CountObservations(); n != 1 {
		t.Errorf("stored %d observations, want 1", n)
	}
}

func TestRun_StoreFailureIsolated(t *testing.T) {
	h := newHarness(t, testOptions())

	// The second "dup" collides with the first on (platform, id, observed_at).
	h.source.listings = []models.Listing{
		listing(models.Manifold, "dup", 0.4),
		listing(models.Manifold, "dup", 0.6),
		listing(models.Manifold, "after", 0.5),
	}
	rep := h.run(t)

	if rep.Ingested != 2 || rep.Rejected != 1 {
		t.Errorf("unexpected counts: %+v", rep)
	}
	if n, _ := h.store.CountObservations(); n != 2 {
		t.Errorf("stored %d observations, want 2", n)
	}
	for _, id := range []string{"dup", "after"} {
		got, err := h.store.Latest(models.Manifold, models.MarketKey{BaseID: id})
		if err != nil || got == nil {
			t.Errorf("%s not committed: %+v, %v", id, got, err)
		}
	}
	if got, _ := h.store.Latest(models.Manifold, models.MarketKey{BaseID: "dup"}); got != nil && got.Probability != 0.4 {
		t.Errorf("dup probability = %v, want first value 0.4", got.Probability)
	}
}

func TestRun_ObservationsUseRunTime(t *testing.T) {
	h := newHarness(t, testOptions())
	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.5)}
	h.run(t)

	got, err := h.store.Latest(models.Manifold, models.MarketKey{BaseID: "m1"})
	if err != nil || got == nil {
		t.Fatalf("Latest: %+v, %v", got, err)
	}
	if !got.ObservedAt.Equal(h.clock) {
		t.Errorf("ObservedAt = %v, want run time %v", got.ObservedAt, h.clock)
	}
	meta, err := h.store.Metadata(models.Manifold, models.MarketKey{BaseID: "m1"})
	if err != nil || meta == nil {
		t.Fatalf("Metadata: %+v, %v", meta, err)
	}
	if meta.LastActivity.Year() != 2020 {
		t.Errorf("LastActivity = %v, want source timestamp", meta.LastActivity)
	}
}

func TestRun_DormancyWidensHourBand(t *testing.T) {
	h := newHarness(t, testOptions())

	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.2)}
	h.run(t)

	// Nothing ran for five hours; the previous sample still counts as "an hour ago".
	h.clock = h.clock.Add(5 * time.Hour)
	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.7)}
	rep := h.run(t)
	if rep.Dormancy != 5*time.Hour {
		t.Errorf("dormancy = %v, want 5h", rep.Dormancy)
	}
	if rep.Best == nil || rep.Best.Window != models.Hour {
		t.Errorf("expected widened hour match, got %+v", rep.Best)
	}
}

func TestRun_DryRun(t *testing.T) {
	opts := testOptions()
	opts.NoPublish = true
	h := newHarness(t, opts)

	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.2)}
	h.run(t)
	h.clock = h.clock.Add(time.Hour)
	h.source.listings = []models.Listing{listing(models.Manifold, "m1", 0.7)}
	rep := h.run(t)

	if rep.Best == nil || rep.Published || rep.Suppression != ReasonDryRun {
		t.Errorf("unexpected report: %+v", rep)
	}
	if len(h.announcer.texts) != 0 {
		t.Errorf("dry run announced: %q", h.announcer.texts)
	}
	if last, _ := h.store.LastPublication(); last != nil {
		t.Errorf("dry run recorded a publication")
	}
}

func TestRun_RetentionSweep(t *testing.T) {
	h := newHarness(t, testOptions())
	old := models.Observation{
		Platform:    models.Manifold,
		MarketID:    models.MarketKey{BaseID: "old"},
		Probability: 0.5,
		ObservedAt:  h.clock.Add(-300 * time.Hour),
	}
	if _, _, err := h.store.Append(old, models.MarketMetadata{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	h.runner.opts.NoFetch = true
	rep := h.run(t)
	if rep.Retired != 1 {
		t.Errorf("retired %d, want 1", rep.Retired)
	}
}
