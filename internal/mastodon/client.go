// Package mastodon posts announcements as Mastodon statuses.
package mastodon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/marketwise/internal/logger"
)

// Config configures the Mastodon client.
type Config struct {
	Endpoint    string // API base, e.g. https://mastodon.social/api/v1
	AccessToken string
	Visibility  string
	Language    string
	Timeout     time.Duration
}

// Client posts statuses to a Mastodon instance.
type Client struct {
	statusesURL string
	token       string
	visibility  string
	language    string
	httpClient  *http.Client
}

// NewClient creates a Mastodon client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("endpoint and access token are required")
	}
	if cfg.Visibility == "" {
		cfg.Visibility = "public"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Client{
		statusesURL: strings.TrimRight(cfg.Endpoint, "/") + "/statuses",
		token:       cfg.AccessToken,
		visibility:  cfg.Visibility,
		language:    cfg.Language,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Announce posts text as a new status. Any non-2xx response is an error.
func (c *Client) Announce(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("status", text)
	form.Set("visibility", c.visibility)
	form.Set("language", c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statusesURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mastodon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	logger.Debug("Posted Mastodon status (%d chars)", len(text))
	return nil
}
