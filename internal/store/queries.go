package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taduranmiggy/loveyou/internal/model"
)

// Namespaced meta keys shared by both backends.
const (
	metaSessionUser = "session.current_user"
	metaLastSync    = "sync.last_success"
)

// dbStore implements the Store contract over a database/sql connection.
// Both backends embed it; they differ only in how the connection is opened
// and how transport errors are classified.
type dbStore struct {
	conn *sql.DB

	// mapErr classifies driver errors (transport failures on the remote
	// backend). Never nil.
	mapErr func(error) error

	// now supplies timestamps; swapped in tests for determinism.
	now func() time.Time
}

// initSchema creates the tables if they don't exist. Idempotent; safe to
// call on every open.
func (s *dbStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		regimen_id TEXT NOT NULL DEFAULT '',
		cycle_start TEXT NOT NULL DEFAULT '',
		password_salt TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS intake_events (
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		taken INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, date)
	);

	CREATE TABLE IF NOT EXISTS regimens (
		id TEXT PRIMARY KEY,
		active_days INTEGER NOT NULL,
		break_days INTEGER NOT NULL,
		placebo_days INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_intake_user_date ON intake_events(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", s.mapErr(err))
	}
	return nil
}

// CreateUser implements Store.CreateUser.
func (s *dbStore) CreateUser(ctx context.Context, email, password, displayName string) (*model.UserProfile, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	profile := &model.UserProfile{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	salt, hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
	INSERT INTO users (id, email, display_name, regimen_id, cycle_start,
		password_salt, password_hash, created_at, updated_at)
	VALUES (?, ?, ?, '', '', ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		profile.ID, profile.Email, profile.DisplayName,
		salt, hash,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user with email %s: %w", email, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create user: %w", s.mapErr(err))
	}

	if err := s.setMeta(ctx, metaSessionUser, profile.ID); err != nil {
		return nil, err
	}
	if err := s.touchLastSync(ctx); err != nil {
		return nil, err
	}
	return profile, nil
}

// AuthenticateUser implements Store.AuthenticateUser.
func (s *dbStore) AuthenticateUser(ctx context.Context, email, password string) (*model.UserProfile, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, email, display_name, regimen_id, cycle_start,
		       password_salt, password_hash, created_at, updated_at
		FROM users WHERE email = ?`, email)

	var profile model.UserProfile
	var salt, hash, createdAt, updatedAt string
	err := row.Scan(&profile.ID, &profile.Email, &profile.DisplayName,
		&profile.RegimenID, &profile.CycleStart, &salt, &hash, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", s.mapErr(err))
	}

	if !verifyPassword(password, salt, hash) {
		// Wrong password is indistinguishable from unknown email.
		return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
	}

	parseTimestamps(&profile, createdAt, updatedAt)

	if err := s.setMeta(ctx, metaSessionUser, profile.ID); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CurrentUser implements Store.CurrentUser.
func (s *dbStore) CurrentUser(ctx context.Context) (*model.UserProfile, error) {
	userID, err := s.getMeta(ctx, metaSessionUser)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.getUserByID(ctx, userID)
}

// UpdateUser implements Store.UpdateUser.
func (s *dbStore) UpdateUser(ctx context.Context, profile *model.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is nil", ErrInvalidInput)
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.CurrentUser(ctx); err != nil {
		return err
	}

	now := s.now().UTC()
	res, err := s.conn.ExecContext(ctx, `
		UPDATE users SET email = ?, display_name = ?, regimen_id = ?,
			cycle_start = ?, updated_at = ?
		WHERE id = ?`,
		profile.Email, profile.DisplayName, profile.RegimenID,
		profile.CycleStart, now.Format(time.RFC3339), profile.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", s.mapErr(err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", profile.ID, ErrNotFound)
	}
	return s.touchLastSync(ctx)
}

// Logout implements Store.Logout.
func (s *dbStore) Logout(ctx context.Context) error {
	return s.setMeta(ctx, metaSessionUser, "")
}

// UpsertIntakeEvent implements Store.UpsertIntakeEvent.
//
// The conflict clause only fires when taken or note actually change, so a
// repeated call with identical arguments leaves the row byte-identical,
// updated_at included. This is what makes the operation idempotent.
func (s *dbStore) UpsertIntakeEvent(ctx context.Context, userID, date string, taken bool, note string) (*model.IntakeEvent, error) {
	event := &model.IntakeEvent{
		UserID: userID,
		Date:   date,
		Taken:  taken,
		Note:   note,
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	query := `
	INSERT INTO intake_events (user_id, date, taken, note, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, date) DO UPDATE SET
		taken = excluded.taken,
		note = excluded.note,
		updated_at = excluded.updated_at
	WHERE intake_events.taken != excluded.taken
	   OR intake_events.note != excluded.note
	`
	if _, err := s.conn.ExecContext(ctx, query, userID, date, boolToInt(taken), note, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert intake event: %w", s.mapErr(err))
	}
	if err := s.touchLastSync(ctx); err != nil {
		return nil, err
	}

	// Read back the stored row so callers see the persisted timestamps.
	row := s.conn.QueryRowContext(ctx, `
		SELECT taken, note, created_at, updated_at
		FROM intake_events WHERE user_id = ? AND date = ?`, userID, date)
	var takenInt int
	var createdAt, updatedAt string
	if err := row.Scan(&takenInt, &event.Note, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to read back intake event: %w", s.mapErr(err))
	}
	event.Taken = takenInt != 0
	event.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	event.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return event, nil
}

// IntakeHistory implements Store.IntakeHistory.
func (s *dbStore) IntakeHistory(ctx context.Context, userID, from, to string) ([]model.IntakeEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	query := `
	SELECT user_id, date, taken, note, created_at, updated_at
	FROM intake_events WHERE user_id = ?`
	args := []interface{}{userID}
	if from != "" {
		query += " AND date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND date <= ?"
		args = append(args, to)
	}
	query += " ORDER BY date ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query intake history: %w", s.mapErr(err))
	}
	defer rows.Close()

	var events []model.IntakeEvent
	for rows.Next() {
		var e model.IntakeEvent
		var takenInt int
		var createdAt, updatedAt string
		if err := rows.Scan(&e.UserID, &e.Date, &takenInt, &e.Note, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intake event: %w", err)
		}
		e.Taken = takenInt != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intake events: %w", s.mapErr(err))
	}
	return events, nil
}

// ReplaceIntakeEvents implements Store.ReplaceIntakeEvents.
func (s *dbStore) ReplaceIntakeEvents(ctx context.Context, userID string, events []model.IntakeEvent) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return fmt.Errorf("%w: event %d: %v", ErrInvalidInput, i, err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", s.mapErr(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM intake_events WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear intake events: %w", s.mapErr(err))
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO intake_events (user_id, date, taken, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", s.mapErr(err))
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx, userID, e.Date, boolToInt(e.Taken), e.Note,
			e.CreatedAt.UTC().Format(time.RFC3339), e.UpdatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert intake event %s: %w", e.Date, s.mapErr(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", s.mapErr(err))
	}
	return s.touchLastSync(ctx)
}

// PutUser implements Store.PutUser. Credentials of an existing row are
// preserved; only profile fields are replaced.
func (s *dbStore) PutUser(ctx context.Context, profile *model.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is nil", ErrInvalidInput)
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := `
	INSERT INTO users (id, email, display_name, regimen_id, cycle_start,
		password_salt, password_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, '', '', ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		display_name = excluded.display_name,
		regimen_id = excluded.regimen_id,
		cycle_start = excluded.cycle_start,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		profile.ID, profile.Email, profile.DisplayName, profile.RegimenID,
		profile.CycleStart, createdAt.Format(time.RFC3339), updatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user with email %s: %w", profile.Email, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to put user: %w", s.mapErr(err))
	}
	return s.touchLastSync(ctx)
}

// ListRegimens implements Store.ListRegimens.
func (s *dbStore) ListRegimens(ctx context.Context) ([]model.Regimen, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, active_days, break_days, placebo_days, description
		FROM regimens ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list regimens: %w", s.mapErr(err))
	}
	defer rows.Close()

	var regimens []model.Regimen
	for rows.Next() {
		var r model.Regimen
		if err := rows.Scan(&r.ID, &r.ActiveDays, &r.BreakDays, &r.PlaceboDays, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan regimen: %w", err)
		}
		regimens = append(regimens, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating regimens: %w", s.mapErr(err))
	}
	return regimens, nil
}

// GetRegimen implements Store.GetRegimen.
func (s *dbStore) GetRegimen(ctx context.Context, id string) (*model.Regimen, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, active_days, break_days, placebo_days, description
		FROM regimens WHERE id = ?`, id)

	var r model.Regimen
	err := row.Scan(&r.ID, &r.ActiveDays, &r.BreakDays, &r.PlaceboDays, &r.Description)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("regimen %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get regimen: %w", s.mapErr(err))
	}
	return &r, nil
}

// PutRegimen implements Store.PutRegimen.
func (s *dbStore) PutRegimen(ctx context.Context, regimen *model.Regimen) error {
	if regimen == nil {
		return fmt.Errorf("%w: regimen is nil", ErrInvalidInput)
	}
	if err := regimen.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// Regimens are immutable once referenced; existing rows stay as-is.
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO regimens (id, active_days, break_days, placebo_days, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		regimen.ID, regimen.ActiveDays, regimen.BreakDays, regimen.PlaceboDays, regimen.Description)
	if err != nil {
		return fmt.Errorf("failed to put regimen: %w", s.mapErr(err))
	}
	return nil
}

// ListMessages implements Store.ListMessages.
func (s *dbStore) ListMessages(ctx context.Context, category string) ([]model.Message, error) {
	query := "SELECT id, category, text FROM messages"
	var args []interface{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY id ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", s.mapErr(err))
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Category, &m.Text); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", s.mapErr(err))
	}
	return msgs, nil
}

// PutMessage implements Store.PutMessage.
func (s *dbStore) PutMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidInput)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO messages (id, category, text) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.Category, msg.Text)
	if err != nil {
		return fmt.Errorf("failed to put message: %w", s.mapErr(err))
	}
	return nil
}

// Settings implements Store.Settings.
func (s *dbStore) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", s.mapErr(err))
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", s.mapErr(err))
	}
	return settings, nil
}

// SetSetting implements Store.SetSetting.
func (s *dbStore) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	_, err := s.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", s.mapErr(err))
	}
	return nil
}

// ReplaceSettings implements Store.ReplaceSettings.
func (s *dbStore) ReplaceSettings(ctx context.Context, settings map[string]string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", s.mapErr(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM settings"); err != nil {
		return fmt.Errorf("failed to clear settings: %w", s.mapErr(err))
	}
	for k, v := range settings {
		if _, err := tx.ExecContext(ctx, "INSERT INTO settings (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to insert setting %s: %w", k, s.mapErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", s.mapErr(err))
	}
	return nil
}

// LastSync implements Store.LastSync.
func (s *dbStore) LastSync(ctx context.Context) (time.Time, error) {
	v, err := s.getMeta(ctx, metaLastSync)
	if err != nil {
		return time.Time{}, err
	}
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last-sync timestamp: %w", err)
	}
	return t, nil
}

// Close implements Store.Close.
func (s *dbStore) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// RawDB returns the underlying sql.DB connection. The cache layer shares
// the local store's connection so partitions live in the same file.
func (s *dbStore) RawDB() *sql.DB {
	return s.conn
}

func (s *dbStore) getUserByID(ctx context.Context, id string) (*model.UserProfile, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, email, display_name, regimen_id, cycle_start, created_at, updated_at
		FROM users WHERE id = ?`, id)

	var profile model.UserProfile
	var createdAt, updatedAt string
	err := row.Scan(&profile.ID, &profile.Email, &profile.DisplayName,
		&profile.RegimenID, &profile.CycleStart, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", s.mapErr(err))
	}
	parseTimestamps(&profile, createdAt, updatedAt)
	return &profile, nil
}

func (s *dbStore) getMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, s.mapErr(err))
	}
	return v, nil
}

func (s *dbStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, s.mapErr(err))
	}
	return nil
}

// touchLastSync records a successful mutation against this backend.
func (s *dbStore) touchLastSync(ctx context.Context) error {
	return s.setMeta(ctx, metaLastSync, s.now().UTC().Format(time.RFC3339))
}

func parseTimestamps(profile *model.UserProfile, createdAt, updatedAt string) {
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		profile.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		profile.UpdatedAt = t
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// hashPassword derives a salted SHA-256 digest for storage.
func hashPassword(password string) (salt, hash string, err error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	salt = hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(salt + password))
	return salt, hex.EncodeToString(sum[:]), nil
}

func verifyPassword(password, salt, hash string) bool {
	sum := sha256.Sum256([]byte(salt + password))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(hash)) == 1
}
