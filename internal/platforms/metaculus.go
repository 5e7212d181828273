package platforms

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/marketwise/internal/logger"
	"github.com/rewired-gh/marketwise/internal/models"
)

// MetaculusConfig configures the Metaculus adapter.
type MetaculusConfig struct {
	BaseURL        string
	Limit          int
	MinForecasters int
}

// Metaculus fetches the most active open binary questions.
type Metaculus struct {
	http *httpClient
	cfg  MetaculusConfig
}

type metaculusQuestion struct {
	ID                  int64  `json:"id"`
	Title               string `json:"title"`
	URL                 string `json:"url"`
	NumberOfForecasters int    `json:"number_of_forecasters"`
	LastActivityTime    string `json:"last_activity_time"`
	CommunityPrediction struct {
		Full struct {
			Q2 *float64 `json:"q2"`
		} `json:"full"`
	} `json:"community_prediction"`
}

type metaculusPage struct {
	Results []metaculusQuestion `json:"results"`
}

// NewMetaculus creates a Metaculus adapter.
func NewMetaculus(cfg MetaculusConfig, client ClientConfig) *Metaculus {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Metaculus{http: newHTTPClient(client), cfg: cfg}
}

func (m *Metaculus) Platform() models.Platform { return models.Metaculus }

// Fetch reads the community median of each sufficiently forecast question.
func (m *Metaculus) Fetch(ctx context.Context) ([]models.Listing, error) {
	u := fmt.Sprintf("%s/questions/?forecast_type=binary&type=forecast&limit=%d&order_by=-activity&status=open",
		m.cfg.BaseURL, m.cfg.Limit)

	var page metaculusPage
	if err := m.http.getJSON(ctx, u, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch Metaculus questions: %w", err)
	}

	listings := make([]models.Listing, 0, len(page.Results))
	for _, q := range page.Results {
		if q.NumberOfForecasters < m.cfg.MinForecasters {
			continue
		}
		updated, err := time.Parse(time.RFC3339, q.LastActivityTime)
		if err != nil {
			logger.Debug("Metaculus question %d has bad last_activity_time %q", q.ID, q.LastActivityTime)
			continue
		}
		listings = append(listings, models.Listing{
			Platform:    models.Metaculus,
			MarketID:    models.MarketKey{BaseID: strconv.FormatInt(q.ID, 10)},
			Probability: probOrInvalid(q.CommunityPrediction.Full.Q2),
			Title:       q.Title,
			URL:         strings.ReplaceAll(q.URL, "api2/", ""),
			UpdatedAt:   updated.UTC(),
		})
	}
	return listings, nil
}
