// Package backup exports and restores a user's data as a single JSON
// snapshot.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/taduranmiggy/loveyou/internal/model"
	"github.com/taduranmiggy/loveyou/internal/store"
)

// FormatVersion is bumped when the snapshot layout changes
// incompatibly.
const FormatVersion = 1

// Snapshot is the serialized backup document. Nil sections mean the
// section was absent from the backup and is left untouched on restore.
type Snapshot struct {
	Version      int                 `json:"version"`
	CreatedAt    time.Time           `json:"created_at"`
	User         *model.UserProfile  `json:"user,omitempty"`
	IntakeEvents []model.IntakeEvent `json:"intake_events,omitempty"`
	Settings     map[string]string   `json:"settings,omitempty"`
}

// Create reads the signed-in user's data into a snapshot. The source is
// never modified.
func Create(ctx context.Context, s store.Store) (*Snapshot, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	events, err := s.IntakeHistory(ctx, user.ID, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load intake history: %w", err)
	}

	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return &Snapshot{
		Version:      FormatVersion,
		CreatedAt:    time.Now().UTC(),
		User:         user,
		IntakeEvents: events,
		Settings:     settings,
	}, nil
}

// Write serializes a snapshot as indented JSON.
func Write(w io.Writer, snap *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Read parses and validates a snapshot.
func Read(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d (want %d)",
			store.ErrInvalidInput, snap.Version, FormatVersion)
	}
	return &snap, nil
}

// Restore applies a snapshot to the store. Each section present in the
// snapshot fully replaces its corresponding data; absent sections are
// left as they are. Restoring the same snapshot twice leaves the store
// in the same state as restoring it once.
func Restore(ctx context.Context, s store.Store, snap *Snapshot) error {
	if snap.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", store.ErrInvalidInput, snap.Version)
	}

	if snap.User != nil {
		if err := snap.User.Validate(); err != nil {
			return fmt.Errorf("invalid user in snapshot: %w", err)
		}
		if err := s.PutUser(ctx, snap.User); err != nil {
			return fmt.Errorf("failed to restore user: %w", err)
		}
	}

	if snap.IntakeEvents != nil {
		userID := ""
		if snap.User != nil {
			userID = snap.User.ID
		} else {
			user, err := s.CurrentUser(ctx)
			if err != nil {
				return fmt.Errorf("snapshot has events but no user: %w", err)
			}
			userID = user.ID
		}
		if err := s.ReplaceIntakeEvents(ctx, userID, snap.IntakeEvents); err != nil {
			return fmt.Errorf("failed to restore intake history: %w", err)
		}
	}

	if snap.Settings != nil {
		if err := s.ReplaceSettings(ctx, snap.Settings); err != nil {
			return fmt.Errorf("failed to restore settings: %w", err)
		}
	}

	return nil
}
