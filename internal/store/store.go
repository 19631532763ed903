// Package store persists the publication ledger and the feed
// transport cache in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// CacheEntry is the per-feed transport cache: HTTP validators plus a
// hash of the last successfully parsed body.
type CacheEntry struct {
	ETag         string
	LastModified string
	ContentHash  string
	LastChecked  time.Time
}

// Publication is one ledger row.
type Publication struct {
	FeedID      string
	ExternalID  string
	PublisherID string
	PublishedAt time.Time
	Outcome     string
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsPublished reports whether a successful send is already recorded
// for the (feed, item, publisher) triple.
func (s *Store) IsPublished(ctx context.Context, feedID, externalID, publisherID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store is not initialized")
	}

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM publications
		WHERE feed_id = ? AND external_id = ? AND publisher_id = ?
	`, feedID, externalID, publisherID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query publication: %w", err)
	}
	return true, nil
}

// Record writes a successful send to the ledger. The insert ignores
// conflicts, so replaying a cycle never duplicates or rewrites a row.
func (s *Store) Record(ctx context.Context, p Publication) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if p.FeedID == "" || p.ExternalID == "" || p.PublisherID == "" {
		return errors.New("feed_id, external_id, and publisher_id are required")
	}
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publications (feed_id, external_id, publisher_id, published_at, outcome)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(feed_id, external_id, publisher_id) DO NOTHING
	`, p.FeedID, p.ExternalID, p.PublisherID, formatTime(p.PublishedAt), p.Outcome)
	if err != nil {
		return fmt.Errorf("record publication: %w", err)
	}
	return nil
}

// RecordFailure bumps the failure counter for a send attempt. Failures
// are observability only; they never make an item ineligible.
func (s *Store) RecordFailure(ctx context.Context, feedID, externalID, publisherID, reason string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO send_failures (feed_id, external_id, publisher_id, failures, last_error, last_failed)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(feed_id, external_id, publisher_id) DO UPDATE SET
			failures = failures + 1,
			last_error = excluded.last_error,
			last_failed = excluded.last_failed
	`, feedID, externalID, publisherID, reason, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// PublicationCount returns the number of ledger rows for a feed.
func (s *Store) PublicationCount(ctx context.Context, feedID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM publications WHERE feed_id = ?", feedID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count publications: %w", err)
	}
	return n, nil
}

// PruneBefore deletes ledger rows older than cutoff. The ledger grows
// unbounded by default; nothing in the scheduler calls this.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM publications WHERE published_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune publications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune publications: %w", err)
	}
	return n, nil
}

// GetCache returns the transport cache entry for a feed. A feed never
// fetched before gets a zero entry.
func (s *Store) GetCache(ctx context.Context, feedID string) (CacheEntry, error) {
	if s == nil || s.db == nil {
		return CacheEntry{}, errors.New("store is not initialized")
	}

	var (
		entry   CacheEntry
		checked sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT etag, last_modified, content_hash, last_checked
		FROM feed_cache WHERE feed_id = ?
	`, feedID).Scan(&entry.ETag, &entry.LastModified, &entry.ContentHash, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, nil
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("query feed cache: %w", err)
	}
	if checked.Valid {
		if t, err := time.Parse(time.RFC3339Nano, checked.String); err == nil {
			entry.LastChecked = t
		}
	}
	return entry, nil
}

// PutCache upserts the transport cache entry for a feed. Validators
// and hash change together with a successful fetch+parse, never before.
func (s *Store) PutCache(ctx context.Context, feedID string, entry CacheEntry) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if feedID == "" {
		return errors.New("feed_id is required")
	}

	var checked any
	if !entry.LastChecked.IsZero() {
		checked = formatTime(entry.LastChecked)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_cache (feed_id, etag, last_modified, content_hash, last_checked)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(feed_id) DO UPDATE SET
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			content_hash = excluded.content_hash,
			last_checked = excluded.last_checked
	`, feedID, entry.ETag, entry.LastModified, entry.ContentHash, checked)
	if err != nil {
		return fmt.Errorf("put feed cache: %w", err)
	}
	return nil
}

// TouchCache updates only the last-checked timestamp, used on 304 and
// unchanged-hash outcomes where validators must stay as they are.
func (s *Store) TouchCache(ctx context.Context, feedID string, t time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_cache (feed_id, last_checked) VALUES (?, ?)
		ON CONFLICT(feed_id) DO UPDATE SET last_checked = excluded.last_checked
	`, feedID, formatTime(t))
	if err != nil {
		return fmt.Errorf("touch feed cache: %w", err)
	}
	return nil
}

// DeleteCache removes the cache entry for a feed, used when a feed is
// dropped from configuration.
func (s *Store) DeleteCache(ctx context.Context, feedID string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM feed_cache WHERE feed_id = ?", feedID); err != nil {
		return fmt.Errorf("delete feed cache: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
