package platforms

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/marketwise/internal/logger"
	"github.com/rewired-gh/marketwise/internal/models"
)

// ManifoldConfig configures the Manifold adapter.
type ManifoldConfig struct {
	BaseURL    string
	Limit      int
	Referral   string // appended to market URLs as ?r=<code> when set
	MinBettors int
	MinVolume  float64
}

// Manifold fetches recently updated markets from the Manifold API.
type Manifold struct {
	http *httpClient
	cfg  ManifoldConfig
}

type manifoldMarket struct {
	ID                string    `json:"id"`
	Question          string    `json:"question"`
	URL               string    `json:"url"`
	OutcomeType       string    `json:"outcomeType"`
	Probability       *float64  `json:"probability"`
	UniqueBettorCount int       `json:"uniqueBettorCount"`
	Volume            flexFloat `json:"volume"`
	LastBetTime       int64     `json:"lastBetTime"`
	LastUpdatedTime   int64     `json:"lastUpdatedTime"`
}

type manifoldAnswer struct {
	Text        string   `json:"text"`
	Index       *int     `json:"index"`
	Number      *int     `json:"number"`
	Probability *float64 `json:"probability"`
}

type manifoldDetail struct {
	Answers []manifoldAnswer `json:"answers"`
}

// NewManifold creates a Manifold adapter.
func NewManifold(cfg ManifoldConfig, client ClientConfig) *Manifold {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Manifold{http: newHTTPClient(client), cfg: cfg}
}

func (m *Manifold) Platform() models.Platform { return models.Manifold }

// Fetch returns binary markets as-is and expands multiple-choice and
// free-response markets into one listing per answer.
func (m *Manifold) Fetch(ctx context.Context) ([]models.Listing, error) {
	u := fmt.Sprintf("%s/search-markets?limit=%d&sort=last-updated&term=", m.cfg.BaseURL, m.cfg.Limit)

	var markets []manifoldMarket
	if err := m.http.getJSON(ctx, u, &markets); err != nil {
		return nil, fmt.Errorf("failed to fetch Manifold markets: %w", err)
	}

	var listings []models.Listing
	for _, mk := range markets {
		if mk.UniqueBettorCount < m.cfg.MinBettors || float64(mk.Volume) < m.cfg.MinVolume {
			continue
		}
		updated := mk.LastBetTime
		if updated == 0 {
			updated = mk.LastUpdatedTime
		}
		base := models.Listing{
			Platform:  models.Manifold,
			MarketID:  models.MarketKey{BaseID: mk.ID},
			Title:     mk.Question,
			URL:       m.marketURL(mk.URL),
			UpdatedAt: time.UnixMilli(updated).UTC(),
		}

		switch mk.OutcomeType {
		case "BINARY":
			base.Probability = probOrInvalid(mk.Probability)
			listings = append(listings, base)
		case "MULTIPLE_CHOICE", "FREE_RESPONSE":
			answers, err := m.answers(ctx, mk.ID)
			if err != nil {
				logger.Warn("Skipping Manifold market %s: %v", mk.ID, err)
				continue
			}
			for _, a := range answers {
				l := base
				l.MarketID.SubAnswer = strconv.Itoa(answerNumber(a))
				l.Title = mk.Question + " " + a.Text
				l.Probability = probOrInvalid(a.Probability)
				listings = append(listings, l)
			}
		default:
			logger.Debug("Unhandled Manifold outcome type %s for %s", mk.OutcomeType, mk.ID)
		}
	}
	return listings, nil
}

func (m *Manifold) answers(ctx context.Context, id string) ([]manifoldAnswer, error) {
	var d manifoldDetail
	u := fmt.Sprintf("%s/market?id=%s", m.cfg.BaseURL, url.QueryEscape(id))
	if err := m.http.getJSON(ctx, u, &d); err != nil {
		return nil, fmt.Errorf("failed to fetch answers: %w", err)
	}
	return d.Answers, nil
}

func (m *Manifold) marketURL(raw string) string {
	if m.cfg.Referral == "" {
		return raw
	}
	return raw + "?r=" + url.QueryEscape(m.cfg.Referral)
}

// answerNumber prefers the answer's index, then its number; -1 when neither
// is present.
func answerNumber(a manifoldAnswer) int {
	switch {
	case a.Index != nil:
		return *a.Index
	case a.Number != nil:
		return *a.Number
	}
	logger.Warn("Manifold answer %q has neither index nor number", a.Text)
	return -1
}

// probOrInvalid maps a missing probability to an out-of-range value so the
// listing is discarded at ingestion.
func probOrInvalid(p *float64) float64 {
	if p == nil {
		return -1
	}
	return *p
}
