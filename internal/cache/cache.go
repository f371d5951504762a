// Package cache provides the partitioned response cache backing the
// request interception layer.
//
// Entries live in two logical partitions per deployment version: a static
// partition for immutable build assets (authoritative once cached) and a
// dynamic partition for API and document responses (allowed to be stale).
// Partition names carry the version so activating a new deployment can
// identify and drop every partition from prior versions.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/taduranmiggy/loveyou/internal/store"
)

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("cache miss")

// Strategy tags recorded on entries for observability.
const (
	StrategyCacheFirst   = "cache-first"
	StrategyNetworkFirst = "network-first"
	StrategySWR          = "stale-while-revalidate"
)

// StaticPartition returns the versioned static partition name.
func StaticPartition(version int) string {
	return fmt.Sprintf("static-v%d", version)
}

// DynamicPartition returns the versioned dynamic partition name.
func DynamicPartition(version int) string {
	return fmt.Sprintf("dynamic-v%d", version)
}

// Entry is one cached response.
type Entry struct {
	Partition string
	Key       string
	Status    int
	Headers   http.Header
	Body      []byte
	Strategy  string
	StoredAt  time.Time
}

// Config holds configuration for the cache.
type Config struct {
	// MaxBytes caps the total body bytes across all partitions.
	// Zero means no cap.
	MaxBytes int64

	// Retention is the eviction window: when a write hits the cap,
	// entries older than this are dropped and the write retried once.
	Retention time.Duration

	// Logger for cache activity. Nil means a stderr default.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxBytes:  64 << 20,
		Retention: 7 * 24 * time.Hour,
		Logger:    log.New(os.Stderr, "[cache] ", log.LstdFlags),
	}
}

// Cache is the persistent partition store. It shares the local store's
// SQLite connection so cached responses live in the same database file
// as everything else the device holds.
type Cache struct {
	conn   *sql.DB
	config *Config

	now func() time.Time
}

// New creates the cache over conn, creating its table if needed.
func New(conn *sql.DB, config *Config) (*Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}

	c := &Cache{conn: conn, config: config, now: time.Now}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		partition TEXT NOT NULL,
		key TEXT NOT NULL,
		status INTEGER NOT NULL,
		headers TEXT NOT NULL,
		body BLOB NOT NULL,
		strategy TEXT NOT NULL,
		stored_at TEXT NOT NULL,
		PRIMARY KEY (partition, key)
	);
	CREATE INDEX IF NOT EXISTS idx_cache_stored ON cache_entries(stored_at);
	`
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return c, nil
}

// Get returns the entry for (partition, key), or ErrMiss.
func (c *Cache) Get(ctx context.Context, partition, key string) (*Entry, error) {
	row := c.conn.QueryRowContext(ctx, `
		SELECT status, headers, body, strategy, stored_at
		FROM cache_entries WHERE partition = ? AND key = ?`, partition, key)

	entry := &Entry{Partition: partition, Key: key}
	var headersJSON, storedAt string
	err := row.Scan(&entry.Status, &headersJSON, &entry.Body, &entry.Strategy, &storedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if err := json.Unmarshal([]byte(headersJSON), &entry.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode cached headers: %w", err)
	}
	entry.StoredAt, _ = time.Parse(time.RFC3339, storedAt)
	return entry, nil
}

// Put stores an entry, replacing any previous one for the same key.
//
// When the configured byte cap would be exceeded, one eviction pass drops
// entries older than the retention window and the write is retried exactly
// once; a second failure surfaces as ErrQuotaExceeded rather than being
// swallowed.
func (c *Cache) Put(ctx context.Context, entry *Entry) error {
	if entry.Partition == "" || entry.Key == "" {
		return fmt.Errorf("%w: partition and key are required", store.ErrInvalidInput)
	}

	if err := c.put(ctx, entry); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrQuotaExceeded) {
		return err
	}

	evicted, err := c.evictOlderThan(ctx, c.now().Add(-c.config.Retention))
	if err != nil {
		return fmt.Errorf("eviction pass failed: %w", err)
	}
	c.config.Logger.Printf("Quota hit; evicted %d stale entr(ies), retrying write", evicted)

	if err := c.put(ctx, entry); err != nil {
		return fmt.Errorf("write failed after eviction: %w", err)
	}
	return nil
}

func (c *Cache) put(ctx context.Context, entry *Entry) error {
	if c.config.MaxBytes > 0 {
		var used int64
		err := c.conn.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(LENGTH(body)), 0) FROM cache_entries WHERE NOT (partition = ? AND key = ?)",
			entry.Partition, entry.Key).Scan(&used)
		if err != nil {
			return fmt.Errorf("failed to measure cache size: %w", err)
		}
		if used+int64(len(entry.Body)) > c.config.MaxBytes {
			return fmt.Errorf("cache at %d bytes: %w", used, store.ErrQuotaExceeded)
		}
	}

	headersJSON, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}

	_, err = c.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries
			(partition, key, status, headers, body, strategy, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Partition, entry.Key, entry.Status, string(headersJSON),
		entry.Body, entry.Strategy, storedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// DropOther deletes every entry whose partition is not in keep. Called at
// activation time so prior-version partitions disappear before the new
// deployment starts serving.
func (c *Cache) DropOther(ctx context.Context, keep ...string) (int64, error) {
	if len(keep) == 0 {
		return 0, fmt.Errorf("%w: at least one partition to keep is required", store.ErrInvalidInput)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	args := make([]interface{}, len(keep))
	for i, p := range keep {
		args[i] = p
	}

	res, err := c.conn.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE partition NOT IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to drop stale partitions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.config.Logger.Printf("Dropped %d entr(ies) from prior-version partitions", n)
	}
	return n, nil
}

// Len returns the number of entries in a partition.
func (c *Cache) Len(ctx context.Context, partition string) (int, error) {
	var n int
	err := c.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_entries WHERE partition = ?", partition).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count partition: %w", err)
	}
	return n, nil
}

func (c *Cache) evictOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.conn.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE stored_at < ?", cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
