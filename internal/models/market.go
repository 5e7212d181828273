// Package models defines the core domain entities: platforms, market keys,
// probability observations, candidate changes, and publication records.
package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Platform identifies a forecasting or trading venue.
type Platform string

const (
	Manifold   Platform = "Manifold"
	Metaculus  Platform = "Metaculus"
	Polymarket Platform = "Polymarket"
)

// Known reports whether p is one of the supported platforms.
func (p Platform) Known() bool {
	switch p {
	case Manifold, Metaculus, Polymarket:
		return true
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}

// MarketKey identifies a market within a platform. Multi-outcome markets are
// tracked per answer, with SubAnswer naming the answer; binary markets leave
// it empty.
type MarketKey struct {
	BaseID    string
	SubAnswer string
}

// ParseMarketKey is the inverse of MarketKey.String. The first space separates
// the base id from the sub-answer.
func ParseMarketKey(s string) MarketKey {
	base, sub, _ := strings.Cut(s, " ")
	return MarketKey{BaseID: base, SubAnswer: sub}
}

// String returns the stored form: "<base>" or "<base> <sub>".
func (k MarketKey) String() string {
	if k.SubAnswer == "" {
		return k.BaseID
	}
	return k.BaseID + " " + k.SubAnswer
}

// PublicationKey is the identifier recorded in the publication log. Only the
// base id participates, so every answer of a multi-outcome market shares it.
func PublicationKey(p Platform, k MarketKey) string {
	return p.String() + " " + k.BaseID
}

// ValidProbability reports whether p is a finite value in [0, 1].
func ValidProbability(p float64) bool {
	return !math.IsNaN(p) && p >= 0.0 && p <= 1.0
}

// Observation is one timestamped probability reading for a market.
// Identified by (Platform, MarketID, ObservedAt); never updated once stored.
type Observation struct {
	Platform    Platform  `json:"platform"`
	MarketID    MarketKey `json:"market_id"`
	Probability float64   `json:"probability"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Validate checks observation field constraints.
func (o *Observation) Validate() error {
	if !o.Platform.Known() {
		return errors.New("platform must be one of Manifold, Metaculus, Polymarket")
	}
	if o.MarketID.BaseID == "" {
		return errors.New("market ID must not be empty")
	}
	if !ValidProbability(o.Probability) {
		return errors.New("probability must be between 0.0 and 1.0")
	}
	if o.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	return nil
}

// MarketMetadata is the latest display information for a market.
type MarketMetadata struct {
	Platform     Platform  `json:"platform"`
	MarketID     MarketKey `json:"market_id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	LastActivity time.Time `json:"last_activity"`
}

// Listing is a normalized record produced by a platform adapter. Probability
// is expected in [0, 1] but adapters pass through whatever the source reports.
// UpdatedAt is the platform's own last-activity timestamp.
type Listing struct {
	Platform    Platform
	MarketID    MarketKey
	Probability float64
	Title       string
	URL         string
	UpdatedAt   time.Time
}

// Observation converts the listing into an observation taken at t.
func (l Listing) Observation(t time.Time) Observation {
	return Observation{
		Platform:    l.Platform,
		MarketID:    l.MarketID,
		Probability: l.Probability,
		ObservedAt:  t,
	}
}

// Metadata extracts the display fields of the listing.
func (l Listing) Metadata() MarketMetadata {
	return MarketMetadata{
		Platform:     l.Platform,
		MarketID:     l.MarketID,
		Title:        l.Title,
		URL:          l.URL,
		LastActivity: l.UpdatedAt,
	}
}
