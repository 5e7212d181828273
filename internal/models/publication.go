package models

import (
	"errors"
	"time"
)

// PublicationRecord is an entry in the append-only publication log, written
// exactly when an announcement was sent.
type PublicationRecord struct {
	ID          string    `json:"id"`
	AnnouncedAt time.Time `json:"announced_at"`
	MarketKey   string    `json:"market_key"`
	Message     string    `json:"message"`
}

// Validate checks publication record field constraints.
func (r *PublicationRecord) Validate() error {
	if r.ID == "" {
		return errors.New("publication ID must not be empty")
	}
	if r.MarketKey == "" {
		return errors.New("market key must not be empty")
	}
	if r.AnnouncedAt.IsZero() {
		return errors.New("announced at must be set")
	}
	return nil
}
