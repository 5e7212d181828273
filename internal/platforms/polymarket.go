package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/marketwise/internal/logger"
	"github.com/rewired-gh/marketwise/internal/models"
)

// PolymarketConfig configures the Polymarket adapter.
type PolymarketConfig struct {
	GammaAPIURL   string
	EventURL      string // public page prefix; the slug is appended
	Limit         int
	MinLiquidity  float64
	MinVolume24hr float64
}

// Polymarket fetches recently updated markets from the Gamma API.
type Polymarket struct {
	http *httpClient
	cfg  PolymarketConfig
}

// PolymarketMarket is a market as returned by the Gamma API.
type PolymarketMarket struct {
	Question      string    `json:"question"`
	Slug          string    `json:"slug"`
	OutcomePrices string    `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	Volume24hr    flexFloat `json:"volume24hr"`
	Liquidity     flexFloat `json:"liquidity"` // sometimes a string
	UpdatedAt     string    `json:"updatedAt"`
}

// NewPolymarket creates a Polymarket adapter.
func NewPolymarket(cfg PolymarketConfig, client ClientConfig) *Polymarket {
	cfg.GammaAPIURL = strings.TrimRight(cfg.GammaAPIURL, "/")
	if !strings.HasSuffix(cfg.EventURL, "/") {
		cfg.EventURL += "/"
	}
	return &Polymarket{http: newHTTPClient(client), cfg: cfg}
}

func (p *Polymarket) Platform() models.Platform { return models.Polymarket }

// Fetch returns liquid, recently traded markets priced by their first outcome.
func (p *Polymarket) Fetch(ctx context.Context) ([]models.Listing, error) {
	u, err := url.Parse(p.cfg.GammaAPIURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(p.cfg.Limit))
	q.Set("order", "updatedAt")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	var markets []PolymarketMarket
	if err := p.http.getJSON(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("failed to fetch Polymarket markets: %w", err)
	}

	listings := make([]models.Listing, 0, len(markets))
	for _, m := range markets {
		l, err := p.parseMarket(m)
		if err != nil {
			logger.Debug("Polymarket drop %s: %v", m.Slug, err)
			continue
		}
		if l != nil {
			listings = append(listings, *l)
		}
	}
	return listings, nil
}

// parseMarket returns nil for markets below the liquidity or volume bar.
func (p *Polymarket) parseMarket(m PolymarketMarket) (*models.Listing, error) {
	if float64(m.Liquidity) < p.cfg.MinLiquidity || float64(m.Volume24hr) < p.cfg.MinVolume24hr {
		return nil, nil
	}
	if m.Slug == "" || m.Question == "" {
		return nil, fmt.Errorf("missing slug or question")
	}
	prob, err := firstOutcomePrice(m.OutcomePrices)
	if err != nil {
		return nil, err
	}
	updated, err := time.Parse(time.RFC3339, m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updatedAt: %w", err)
	}
	return &models.Listing{
		Platform:    models.Polymarket,
		MarketID:    models.MarketKey{BaseID: m.Slug},
		Probability: prob,
		Title:       m.Question,
		URL:         p.cfg.EventURL + m.Slug,
		UpdatedAt:   updated.UTC(),
	}, nil
}

func firstOutcomePrice(raw string) (float64, error) {
	var prices []string
	if err := json.Unmarshal([]byte(raw), &prices); err != nil {
		return 0, fmt.Errorf("failed to parse outcome prices: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no outcome prices")
	}
	price, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse outcome price: %w", err)
	}
	return price, nil
}
