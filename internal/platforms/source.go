// Package platforms fetches market listings from prediction-market and
// forecasting platforms.
package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/marketwise/internal/models"
	"golang.org/x/time/rate"
)

// Source is a platform adapter. Fetch returns the platform's currently active
// markets; probabilities are passed through unvalidated.
type Source interface {
	Platform() models.Platform
	Fetch(ctx context.Context) ([]models.Listing, error)
}

// ClientConfig holds the HTTP behaviour shared by all adapters.
type ClientConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryDelayBase  time.Duration
	RequestInterval time.Duration // minimum spacing between requests; 0 disables pacing
}

// DefaultClientConfig returns the settings used when none are configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryDelayBase:  time.Second,
		RequestInterval: 250 * time.Millisecond,
	}
}

type httpClient struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     ClientConfig
}

func newHTTPClient(cfg ClientConfig) *httpClient {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	return &httpClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
	}
}

// getJSON fetches url and decodes the JSON body into v.
func (c *httpClient) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.doRequest(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs a GET with retries on network errors and 5xx responses.
func (c *httpClient) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.cfg.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.cfg.RetryDelayBase):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// flexFloat decodes a JSON number, a numeric string, or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}
	*f = flexFloat(v)
	return nil
}
