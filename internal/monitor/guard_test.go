package monitor

import (
	"testing"
	"time"

	"github.com/rewired-gh/marketwise/internal/models"
)

func newTestGuard(t *testing.T, now time.Time) *Guard {
	t.Helper()
	g := NewGuard(newTestStorage(t), DefaultHistorySize, DefaultEarlyTolerance)
	g.now = func() time.Time { return now }
	return g
}

func TestGuard_EmptyLog(t *testing.T) {
	g := newTestGuard(t, time.Now())

	elapsed, err := g.TimeSinceLastPublication()
	if err != nil {
		t.Fatalf("TimeSinceLastPublication: %v", err)
	}
	if elapsed < 1000*24*time.Hour {
		t.Errorf("empty log should report unbounded silence, got %v", elapsed)
	}

	c := change("m", models.Hour, 0.5, 0.8)
	ok, err := g.ShouldPublish(&c, 24*time.Hour)
	if err != nil {
		t.Fatalf("ShouldPublish: %v", err)
	}
	if !ok {
		t.Error("first publication should be allowed")
	}
}

func TestGuard_DedupAfterRecord(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, t0)

	c := change("abc", models.Hour, 0.5, 0.8)
	rec, err := g.Record(&c, c.Message())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.MarketKey != "Manifold abc" || rec.ID == "" {
		t.Errorf("unexpected record: %+v", rec)
	}

	seen, err := g.RecentlyPublished("Manifold abc")
	if err != nil || !seen {
		t.Fatalf("RecentlyPublished = %v, %v", seen, err)
	}

	// Much later, so silence is not the reason for suppression.
	g.now = func() time.Time { return t0.Add(48 * time.Hour) }

	sub := c
	sub.MarketID = models.MarketKey{BaseID: "abc", SubAnswer: "2"}
	for _, cand := range []models.Change{c, sub} {
		v, err := g.Evaluate(&cand, time.Hour)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if v != AlreadyAnnounced {
			t.Errorf("Evaluate(%s) = %v, want already announced", cand.MarketID, v)
		}
	}

	other := change("abcd", models.Hour, 0.5, 0.8)
	if v, _ := g.Evaluate(&other, time.Hour); v != Publish {
		t.Errorf("distinct market with shared prefix got %v, want publish", v)
	}
}

func TestGuard_PrefixMatchesSubAnswerRecords(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, t0)
	if err := g.log.AddPublication(&models.PublicationRecord{
		ID: "legacy", AnnouncedAt: t0, MarketKey: "Manifold abc 3",
	}); err != nil {
		t.Fatalf("AddPublication: %v", err)
	}
	if seen, _ := g.RecentlyPublished("Manifold abc"); !seen {
		t.Error("sub-answer record should match its base key")
	}
	if seen, _ := g.RecentlyPublished("Manifold ab"); seen {
		t.Error("partial id must not match")
	}
}

func TestGuard_HistoryWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, t0)
	g.historySize = 3

	first := change("first", models.Hour, 0.5, 0.8)
	if _, err := g.Record(&first, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	for i, id := range []string{"b", "c", "d"} {
		g.now = func() time.Time { return t0.Add(time.Duration(i+1) * time.Minute) }
		c := change(id, models.Hour, 0.5, 0.8)
		if _, err := g.Record(&c, ""); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	seen, err := g.RecentlyPublished(first.PublicationKey())
	if err != nil {
		t.Fatalf("RecentlyPublished: %v", err)
	}
	if seen {
		t.Error("record beyond history size should have aged out")
	}
}

func TestGuard_SilenceWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(t, t0)

	prev := change("prev", models.Hour, 0.5, 0.8)
	if _, err := g.Record(&prev, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}

	c := change("next", models.Day, 0.1, 0.6)
	tests := []struct {
		name    string
		elapsed time.Duration
		want    Verdict
	}{
		{"just published", time.Minute, StillSilent},
		{"well inside window", 3 * time.Hour, StillSilent},
		{"within early tolerance", 4*time.Hour - 5*time.Minute, Publish},
		{"window elapsed", 5 * time.Hour, Publish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.now = func() time.Time { return t0.Add(tt.elapsed) }
			v, err := g.Evaluate(&c, 4*time.Hour)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if v != tt.want {
				t.Errorf("Evaluate after %v = %v, want %v", tt.elapsed, v, tt.want)
			}
		})
	}
}

func TestVerdict_ZeroValueIsUndecided(t *testing.T) {
	var v Verdict
	if v != Undecided || v.String() != "undecided" {
		t.Errorf("zero verdict = %v (%d), want undecided", v, v)
	}
	for _, v := range []Verdict{Publish, AlreadyAnnounced, StillSilent} {
		if v == Undecided {
			t.Errorf("%v must differ from the zero value", v)
		}
	}
}
