package musicbrainz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/franz/media-organizer/internal/util"
)

// RecordingLookup resolves a recording MBID.
type RecordingLookup interface {
	LookupRecording(ctx context.Context, mbid string) (*Recording, error)
}

// Cache provides database-backed caching for MusicBrainz lookups
type Cache struct {
	db     *sql.DB
	client RecordingLookup
	ttl    time.Duration
}

// NewCache creates a new cache instance. Entries older than ttl are
// refetched; ttl <= 0 keeps entries forever.
func NewCache(db *sql.DB, client RecordingLookup, ttl time.Duration) *Cache {
	return &Cache{
		db:     db,
		client: client,
		ttl:    ttl,
	}
}

// EnsureSchema creates the cache table if it doesn't exist
func (c *Cache) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS musicbrainz_cache (
		mbid TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL,
		cached_at DATETIME NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_mb_cached_at ON musicbrainz_cache(cached_at);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create musicbrainz_cache table: %w", err)
	}
	return nil
}

// Lookup returns the recording for mbid, from the cache when fresh and
// from the API otherwise.
func (c *Cache) Lookup(ctx context.Context, mbid string) (*Recording, error) {
	if mbid == "" {
		return nil, fmt.Errorf("MBID cannot be empty")
	}

	cached, err := c.getFromCache(ctx, mbid)
	if err != nil {
		util.DebugLog("MusicBrainz cache read failed for %s: %v", mbid, err)
	} else if cached != nil {
		util.DebugLog("MusicBrainz cache hit: %s -> '%s'", mbid, cached.Title)
		c.incrementHitCount(ctx, mbid)
		return cached, nil
	}

	util.DebugLog("MusicBrainz cache miss: %s, querying API", mbid)
	rec, err := c.client.LookupRecording(ctx, mbid)
	if err != nil {
		return nil, err
	}

	if err := c.storeInCache(ctx, mbid, rec); err != nil {
		// Caching is best-effort
		util.WarnLog("Failed to cache MusicBrainz result: %v", err)
	}
	return rec, nil
}

func (c *Cache) getFromCache(ctx context.Context, mbid string) (*Recording, error) {
	var payload string
	var cachedAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT payload_json, cached_at FROM musicbrainz_cache WHERE mbid = ?`, mbid,
	).Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	if c.ttl > 0 && time.Since(cachedAt) > c.ttl {
		return nil, nil
	}

	var rec Recording
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse cached recording: %w", err)
	}
	return &rec, nil
}

func (c *Cache) storeInCache(ctx context.Context, mbid string, rec *Recording) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO musicbrainz_cache (mbid, payload_json, cached_at, hit_count)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(mbid) DO UPDATE SET payload_json = excluded.payload_json, cached_at = excluded.cached_at
	`, mbid, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

func (c *Cache) incrementHitCount(ctx context.Context, mbid string) {
	_, err := c.db.ExecContext(ctx, `UPDATE musicbrainz_cache SET hit_count = hit_count + 1 WHERE mbid = ?`, mbid)
	if err != nil {
		util.DebugLog("Failed to increment hit count: %v", err)
	}
}

// GetStats returns cache statistics
func (c *Cache) GetStats(ctx context.Context) (entries int, totalHits int64, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM musicbrainz_cache`,
	).Scan(&entries, &totalHits)
	return
}

// ClearOldEntries removes cache entries older than the specified duration
func (c *Cache) ClearOldEntries(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := c.db.ExecContext(ctx, "DELETE FROM musicbrainz_cache WHERE cached_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
