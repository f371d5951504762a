package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// RemoteStore is the durable server-side backend, a libSQL database
// reached over the network. It satisfies the same Store contract as
// LocalStore; transport failures surface as ErrUnavailable so the queue
// manager can classify them as retryable.
type RemoteStore struct {
	dbStore
	url string
}

var _ Store = (*RemoteStore)(nil)

// OpenRemote connects to the remote database.
//
// url is a libsql:// URL; authToken may be empty for unauthenticated
// deployments. The connection is verified with a ping before returning,
// so an unreachable remote fails fast with ErrUnavailable.
//
// Example:
//
//	remote, err := store.OpenRemote("libsql://loveyou.turso.io", token)
//	if errors.Is(err, store.ErrUnavailable) {
//	    // fall back to the local store
//	}
func OpenRemote(url, authToken string) (*RemoteStore, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: remote url is required", ErrInvalidInput)
	}

	connStr := url
	if authToken != "" {
		connStr = fmt.Sprintf("%s?authToken=%s", url, authToken)
	}

	conn, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", mapConnErr(err))
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach remote database: %w", mapConnErr(err))
	}

	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &RemoteStore{
		dbStore: dbStore{
			conn:   conn,
			mapErr: mapConnErr,
			now:    time.Now,
		},
		url: url,
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// URL returns the remote endpoint this store was opened against.
func (s *RemoteStore) URL() string {
	return s.url
}
