// Package store provides the dual-backend storage abstraction.
//
// A single Store interface is implemented by two interchangeable backends:
// a remote durable store (libSQL over the network) and a local persistent
// store (embedded SQLite). Callers are handed exactly one of them at
// composition time and cannot tell them apart: both expose identical
// create/read/update semantics for users, intake events, the regimen
// catalog, and the motivational-message catalog.
package store

import (
	"context"
	"time"

	"github.com/taduranmiggy/loveyou/internal/model"
)

// Store is the contract shared by the remote and local backends.
//
// Every operation returns an explicit error instead of panicking across the
// boundary; callers distinguish failure reasons with errors.Is against the
// sentinel errors in this package.
type Store interface {
	// CreateUser registers a new user. Registration with an email that is
	// already present fails with ErrAlreadyExists; this holds on both
	// backends. The new user becomes the current session.
	CreateUser(ctx context.Context, email, password, displayName string) (*model.UserProfile, error)

	// AuthenticateUser verifies credentials and establishes the session.
	// Unknown emails and wrong passwords both fail with ErrNotFound.
	AuthenticateUser(ctx context.Context, email, password string) (*model.UserProfile, error)

	// CurrentUser returns the profile of the active session, or
	// ErrNotAuthenticated when no session exists.
	CurrentUser(ctx context.Context) (*model.UserProfile, error)

	// UpdateUser mutates the profile of an existing user. The user must
	// exist (ErrNotFound otherwise) and a session must be active.
	UpdateUser(ctx context.Context, profile *model.UserProfile) error

	// Logout clears the current session. Calling it without a session is
	// not an error.
	Logout(ctx context.Context) error

	// UpsertIntakeEvent records whether the dose for (userID, date) was
	// taken. Exactly one event exists per key; a later write replaces the
	// earlier one (last-write-wins, no merge). The operation is
	// idempotent: repeating it with identical arguments leaves the stored
	// row unchanged, including its timestamps.
	UpsertIntakeEvent(ctx context.Context, userID, date string, taken bool, note string) (*model.IntakeEvent, error)

	// IntakeHistory returns the events for userID with from <= date <= to,
	// ordered by date ascending. Empty bounds are open-ended.
	IntakeHistory(ctx context.Context, userID, from, to string) ([]model.IntakeEvent, error)

	// ReplaceIntakeEvents overwrites the full intake-event collection for
	// userID with the given events. Used by restore; never merges.
	ReplaceIntakeEvents(ctx context.Context, userID string, events []model.IntakeEvent) error

	// PutUser inserts or fully replaces a profile by ID, preserving any
	// stored credentials. Used by restore and seed-style flows.
	PutUser(ctx context.Context, profile *model.UserProfile) error

	// ListRegimens returns the regimen catalog.
	ListRegimens(ctx context.Context) ([]model.Regimen, error)

	// GetRegimen returns a single catalog entry, or ErrNotFound.
	GetRegimen(ctx context.Context, id string) (*model.Regimen, error)

	// PutRegimen inserts a catalog entry if absent. Regimens are immutable
	// once present, so reseeding is a no-op for existing IDs.
	PutRegimen(ctx context.Context, regimen *model.Regimen) error

	// ListMessages returns motivational messages, optionally filtered by
	// category (empty category means all).
	ListMessages(ctx context.Context, category string) ([]model.Message, error)

	// PutMessage inserts a message catalog entry if absent.
	PutMessage(ctx context.Context, msg *model.Message) error

	// Settings returns all settings as a key/value map.
	Settings(ctx context.Context) (map[string]string, error)

	// SetSetting stores a single setting.
	SetSetting(ctx context.Context, key, value string) error

	// ReplaceSettings overwrites the whole settings collection.
	ReplaceSettings(ctx context.Context, settings map[string]string) error

	// LastSync returns the timestamp of the last successful mutation, as
	// held by this backend (server-held on the remote store, local clock
	// on the local store). Zero time when no mutation has succeeded yet.
	LastSync(ctx context.Context) (time.Time, error)

	// Close releases the underlying database connection.
	Close() error
}
