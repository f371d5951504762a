package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// LocalStore is the on-device persistent backend, an embedded SQLite
// database opened in WAL mode. It carries the durable sync queue in
// addition to the shared Store contract: queued mutations must survive a
// process restart, so the journal lives here regardless of which backend
// is active for reads and writes.
type LocalStore struct {
	dbStore
	path string
}

var _ Store = (*LocalStore)(nil)

// OpenLocal opens (or creates) the local database at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	local, err := store.OpenLocal(filepath.Join(dataDir, "loveyou.db"))
//	if err != nil {
//	    return err
//	}
//	defer local.Close()
func OpenLocal(path string) (*LocalStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	s := &LocalStore{
		dbStore: dbStore{
			conn:   conn,
			mapErr: func(err error) error { return err },
			now:    time.Now,
		},
		path: path,
	}

	// WAL keeps readers unblocked during queue drains.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.initQueueSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *LocalStore) Path() string {
	return s.path
}

// QueueItem is a persisted pending mutation. Seq preserves insertion
// order; the queue drains strictly by ascending Seq.
type QueueItem struct {
	Seq        int64
	ID         string
	Action     string
	Payload    []byte
	RetryCount int
	CreatedAt  time.Time
}

func (s *LocalStore) initQueueSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		action TEXT NOT NULL,
		payload BLOB NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return nil
}

// QueueAppend persists a new pending mutation and returns its queue
// position. The write is committed before returning, so a crash after
// enqueue never loses the item.
func (s *LocalStore) QueueAppend(ctx context.Context, id, action string, payload []byte, createdAt time.Time) (int64, error) {
	if id == "" || action == "" {
		return 0, fmt.Errorf("%w: id and action are required", ErrInvalidInput)
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (id, action, payload, retry_count, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		id, action, payload, createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue position: %w", err)
	}
	return seq, nil
}

// QueueList returns all pending items in insertion order.
func (s *LocalStore) QueueList(ctx context.Context) ([]QueueItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, id, action, payload, retry_count, created_at
		FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		var createdAt string
		if err := rows.Scan(&item.Seq, &item.ID, &item.Action, &item.Payload, &item.RetryCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return items, nil
}

// QueueSetRetry updates an item's retry counter in place, leaving its
// queue position unchanged.
func (s *LocalStore) QueueSetRetry(ctx context.Context, id string, retryCount int) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE sync_queue SET retry_count = ? WHERE id = ?", retryCount, id)
	if err != nil {
		return fmt.Errorf("failed to update retry count: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	return nil
}

// QueueRemove deletes an item after confirmed success or dead-lettering.
// Removing an absent item is not an error (idempotent).
func (s *LocalStore) QueueRemove(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}
	return nil
}

// QueueLen returns the number of pending items.
func (s *LocalStore) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}
