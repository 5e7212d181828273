// Package storage provides SQLite-backed persistence for probability
// observations, market details, and the publication log.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/marketwise/internal/models"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Storage wraps a SQLite database for all persistence operations.
// A Storage handed out by WithTx runs every statement inside that transaction.
type Storage struct {
	db *sql.DB
	q  querier
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/marketwise/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "marketwise", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; one connection keeps :memory: databases intact
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, q: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			observed_at INTEGER NOT NULL,
			platform    TEXT NOT NULL,
			market_id   TEXT NOT NULL,
			prob        REAL NOT NULL CHECK (prob >= 0.0 AND prob <= 1.0),
			PRIMARY KEY (platform, market_id, observed_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON observations(observed_at)`,
		`CREATE TABLE IF NOT EXISTS details (
			platform      TEXT NOT NULL,
			market_id     TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			url           TEXT NOT NULL DEFAULT '',
			last_activity INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (platform, market_id)
		)`,
		`CREATE TABLE IF NOT EXISTS publication_log (
			id           TEXT PRIMARY KEY,
			announced_at INTEGER NOT NULL,
			market_key   TEXT NOT NULL,
			message      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_publication_log_announced_at ON publication_log(announced_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.q.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise. Calling WithTx on a transaction-scoped Storage
// reuses the open transaction.
func (s *Storage) WithTx(fn func(tx *Storage) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&Storage{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Append stores a new observation and upserts the market's details. It returns
// the probability that was most recent for the market before this insert;
// hadPrev is false for a market's first observation.
func (s *Storage) Append(obs models.Observation, meta models.MarketMetadata) (prev float64, hadPrev bool, err error) {
	if err := obs.Validate(); err != nil {
		return 0, false, fmt.Errorf("invalid observation: %w", err)
	}
	platform, id := obs.Platform.String(), obs.MarketID.String()

	err = s.q.QueryRow(`
		SELECT prob FROM observations
		WHERE platform = ? AND market_id = ?
		ORDER BY observed_at DESC LIMIT 1`, platform, id).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		prev, hadPrev = 0, false
	case err != nil:
		return 0, false, fmt.Errorf("failed to read previous probability: %w", err)
	default:
		hadPrev = true
	}

	if _, err := s.q.Exec(`
		INSERT INTO observations (observed_at, platform, market_id, prob)
		VALUES (?,?,?,?)`,
		toNano(obs.ObservedAt), platform, id, obs.Probability,
	); err != nil {
		return 0, false, fmt.Errorf("failed to insert observation: %w", err)
	}

	if _, err := s.q.Exec(`
		INSERT INTO details (platform, market_id, title, url, last_activity)
		VALUES (?,?,?,?,?)
		ON CONFLICT(platform, market_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			last_activity = excluded.last_activity`,
		platform, id, meta.Title, meta.URL, toNano(meta.LastActivity),
	); err != nil {
		return 0, false, fmt.Errorf("failed to upsert details: %w", err)
	}

	return prev, hadPrev, nil
}

// Latest returns the newest observation for a market, or nil if none exists.
func (s *Storage) Latest(platform models.Platform, id models.MarketKey) (*models.Observation, error) {
	row := s.q.QueryRow(`
		SELECT observed_at, prob FROM observations
		WHERE platform = ? AND market_id = ?
		ORDER BY observed_at DESC LIMIT 1`, platform.String(), id.String())
	return scanObservation(row.Scan, platform, id)
}

// ClosestTo returns the observation whose timestamp lies in
// [target-bandLow, target+bandHigh] and is closest to target, or nil when no
// observation falls in the band. Equidistant rows resolve to the older one.
func (s *Storage) ClosestTo(platform models.Platform, id models.MarketKey, target time.Time, bandLow, bandHigh time.Duration) (*models.Observation, error) {
	t := toNano(target)
	row := s.q.QueryRow(`
		SELECT observed_at, prob FROM observations
		WHERE platform = ? AND market_id = ? AND observed_at BETWEEN ? AND ?
		ORDER BY ABS(observed_at - ?) ASC, observed_at ASC LIMIT 1`,
		platform.String(), id.String(),
		toNano(target.Add(-bandLow)), toNano(target.Add(bandHigh)), t,
	)
	return scanObservation(row.Scan, platform, id)
}

// LastObservedAt returns the timestamp of the most recent observation in the
// store; ok is false when the store holds no observations.
func (s *Storage) LastObservedAt() (t time.Time, ok bool, err error) {
	var n sql.NullInt64
	if err := s.q.QueryRow(`SELECT MAX(observed_at) FROM observations`).Scan(&n); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last observation: %w", err)
	}
	if !n.Valid {
		return time.Time{}, false, nil
	}
	return fromNano(n.Int64), true, nil
}

// ActivePairs returns the latest observation of every market whose newest
// observation is at or after since, ordered by platform and market id.
func (s *Storage) ActivePairs(since time.Time) ([]models.Observation, error) {
	// SQLite takes bare columns from the row that supplied MAX().
	rows, err := s.q.Query(`
		SELECT platform, market_id, MAX(observed_at), prob
		FROM observations
		GROUP BY platform, market_id
		HAVING MAX(observed_at) >= ?
		ORDER BY platform, market_id`, toNano(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query active markets: %w", err)
	}
	defer rows.Close()

	var latest []models.Observation
	for rows.Next() {
		var platform, id string
		var observedAt int64
		var o models.Observation
		if err := rows.Scan(&platform, &id, &observedAt, &o.Probability); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Platform = models.Platform(platform)
		o.MarketID = models.ParseMarketKey(id)
		o.ObservedAt = fromNano(observedAt)
		latest = append(latest, o)
	}
	return latest, rows.Err()
}

// CountObservations returns the number of stored observations.
func (s *Storage) CountObservations() (int, error) {
	var n int
	if err := s.q.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return n, nil
}

// Metadata returns the stored details for a market, or nil if none exist.
func (s *Storage) Metadata(platform models.Platform, id models.MarketKey) (*models.MarketMetadata, error) {
	var m models.MarketMetadata
	var lastActivity int64
	err := s.q.QueryRow(`
		SELECT title, url, last_activity FROM details
		WHERE platform = ? AND market_id = ?`, platform.String(), id.String(),
	).Scan(&m.Title, &m.URL, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get details: %w", err)
	}
	m.Platform = platform
	m.MarketID = id
	m.LastActivity = fromNano(lastActivity)
	return &m, nil
}

// RetireOlderThan deletes observations strictly older than cutoff, along with
// details of markets left without observations. Returns the number of
// observations removed.
func (s *Storage) RetireOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.q.Exec(`DELETE FROM observations WHERE observed_at < ?`, toNano(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to retire observations: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.q.Exec(`
		DELETE FROM details WHERE NOT EXISTS (
			SELECT 1 FROM observations o
			WHERE o.platform = details.platform AND o.market_id = details.market_id
		)`); err != nil {
		return n, fmt.Errorf("failed to retire details: %w", err)
	}
	return n, nil
}

// AddPublication appends a record to the publication log.
func (s *Storage) AddPublication(rec *models.PublicationRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid publication: %w", err)
	}
	_, err := s.q.Exec(`
		INSERT INTO publication_log (id, announced_at, market_key, message)
		VALUES (?,?,?,?)`,
		rec.ID, toNano(rec.AnnouncedAt), rec.MarketKey, rec.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert publication: %w", err)
	}
	return nil
}

// LastPublication returns the most recent publication record, or nil if the
// log is empty.
func (s *Storage) LastPublication() (*models.PublicationRecord, error) {
	recs, err := s.RecentPublications(1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// RecentPublications returns up to n publication records, most recent first.
func (s *Storage) RecentPublications(n int) ([]models.PublicationRecord, error) {
	rows, err := s.q.Query(`
		SELECT id, announced_at, market_key, message FROM publication_log
		ORDER BY announced_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query publications: %w", err)
	}
	defer rows.Close()

	var recs []models.PublicationRecord
	for rows.Next() {
		var r models.PublicationRecord
		var announcedAt int64
		if err := rows.Scan(&r.ID, &announcedAt, &r.MarketKey, &r.Message); err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		r.AnnouncedAt = fromNano(announcedAt)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func scanObservation(scan func(...any) error, platform models.Platform, id models.MarketKey) (*models.Observation, error) {
	var observedAt int64
	o := models.Observation{Platform: platform, MarketID: id}
	err := scan(&observedAt, &o.Probability)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}
	o.ObservedAt = fromNano(observedAt)
	return &o, nil
}

// toNano encodes t as Unix nanoseconds; the zero time is stored as 0.
func toNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
