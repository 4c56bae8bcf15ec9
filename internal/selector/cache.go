// Package selector implements the self-healing selector resolution engine:
// a persistent locator cache plus an ordered fallback chain of resolution
// strategies (direct, cached, text, semantic).
package selector

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// cacheSchema holds the last verified locator per (site, logical name).
// Rows are replaced whole; there is no partial update path.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS selector_cache (
	site TEXT NOT NULL,
	logical_name TEXT NOT NULL,
	selector TEXT NOT NULL,
	strategy TEXT NOT NULL,
	confidence REAL NOT NULL,
	depth INTEGER NOT NULL DEFAULT 0,
	hits INTEGER NOT NULL DEFAULT 0,
	last_verified_at INTEGER NOT NULL,
	PRIMARY KEY (site, logical_name)
);
`

// Candidate is a concrete, engine-executable locator produced by one
// resolution attempt. Never mutated after creation.
type Candidate struct {
	Selector   string  `json:"selector"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	// Depth is the DOM depth of the matched node when known; used as a
	// tie-break anchor on later resolutions.
	Depth int `json:"-"`
}

// Cache is the persistent selector cache. It is the only writer of its
// store; expiry is checked lazily at read time, so idle processes degrade
// to cache misses rather than stale hits.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// OpenCache opens (creating if needed) a SQLite-backed cache at path.
// ttl bounds how long an entry is trusted since its last verification.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("selector cache: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("selector cache: open %s: %w", path, err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("selector cache: init schema: %w", err)
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached candidate for (site, logicalName), or nil when
// the entry is missing or older than the TTL. Absence is never an error:
// callers fall through to the next strategy.
func (c *Cache) Get(site, logicalName string) (*Candidate, error) {
	row := c.db.QueryRow(
		`SELECT selector, strategy, confidence, depth, last_verified_at
		 FROM selector_cache WHERE site = ? AND logical_name = ?`,
		site, logicalName)

	var cand Candidate
	var verifiedAt int64
	err := row.Scan(&cand.Selector, &cand.Strategy, &cand.Confidence, &cand.Depth, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selector cache: get: %w", err)
	}

	if c.now().Sub(time.Unix(verifiedAt, 0)) > c.ttl {
		return nil, nil
	}

	// Hit accounting is best-effort; a lost increment is harmless.
	_, _ = c.db.Exec(
		`UPDATE selector_cache SET hits = hits + 1 WHERE site = ? AND logical_name = ?`,
		site, logicalName)

	return &cand, nil
}

// Put stores the candidate for (site, logicalName), replacing any previous
// entry whole. Concurrent writers resolve last-write-wins: a newer
// successful resolution is by definition more current.
func (c *Cache) Put(site, logicalName string, cand Candidate) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO selector_cache
		 (site, logical_name, selector, strategy, confidence, depth, hits, last_verified_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		site, logicalName, cand.Selector, cand.Strategy, cand.Confidence, cand.Depth,
		c.now().Unix())
	if err != nil {
		return fmt.Errorf("selector cache: put: %w", err)
	}
	return nil
}

// Invalidate removes the entry for (site, logicalName), if any.
func (c *Cache) Invalidate(site, logicalName string) error {
	_, err := c.db.Exec(
		`DELETE FROM selector_cache WHERE site = ? AND logical_name = ?`,
		site, logicalName)
	if err != nil {
		return fmt.Errorf("selector cache: invalidate: %w", err)
	}
	return nil
}
