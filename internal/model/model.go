// Package model provides the core data structures shared by both storage
// backends: user profiles, pill regimens, intake events, and the
// motivational-message catalog.
//
// Dates are calendar dates without time-of-day, carried as YYYY-MM-DD
// strings. An intake event is keyed by (user, date) with last-write-wins
// semantics: a later upsert for the same key fully replaces the earlier one.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate renders a time as a YYYY-MM-DD calendar date, dropping
// any time-of-day component.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Regimen defines a pill schedule: a repeating cycle of active days
// followed by break days. Regimens are catalog entries, immutable once
// referenced by a user, and are created by the seed process.
type Regimen struct {
	ID          string `json:"id"`
	ActiveDays  int    `json:"active_days"`
	BreakDays   int    `json:"break_days"`
	PlaceboDays int    `json:"placebo_days,omitempty"`
	Description string `json:"description,omitempty"`
}

// CycleLength returns the total number of days in one regimen cycle.
func (r *Regimen) CycleLength() int {
	return r.ActiveDays + r.BreakDays
}

// Validate checks if the Regimen has valid field values.
func (r *Regimen) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.ActiveDays <= 0 {
		return fmt.Errorf("active_days must be positive (got %d)", r.ActiveDays)
	}
	if r.BreakDays < 0 {
		return fmt.Errorf("break_days must not be negative (got %d)", r.BreakDays)
	}
	if r.PlaceboDays < 0 {
		return fmt.Errorf("placebo_days must not be negative (got %d)", r.PlaceboDays)
	}
	if r.PlaceboDays > r.BreakDays {
		return fmt.Errorf("placebo_days must not exceed break_days (got %d > %d)", r.PlaceboDays, r.BreakDays)
	}
	return nil
}

// UserProfile holds a user's identity and chosen regimen.
//
// The profile is owned exclusively by the storage layer. Cycle position is
// never persisted; it is recomputed from CycleStart and the regimen.
type UserProfile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	RegimenID   string    `json:"regimen_id,omitempty"`
	CycleStart  string    `json:"cycle_start,omitempty"` // YYYY-MM-DD
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks if the UserProfile has valid field values.
func (u *UserProfile) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("id is required")
	}
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("email %q is not valid", u.Email)
	}
	if u.CycleStart != "" {
		if _, err := ParseDate(u.CycleStart); err != nil {
			return fmt.Errorf("cycle_start: %w", err)
		}
	}
	return nil
}

// IntakeEvent records whether a dose was taken on a given calendar date.
//
// Exactly one event exists per (UserID, Date). Upserting the same key again
// replaces taken/note; upserting with identical values leaves the stored
// row unchanged, so the operation is idempotent.
type IntakeEvent struct {
	UserID    string    `json:"user_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Taken     bool      `json:"taken"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the IntakeEvent has valid field values.
func (e *IntakeEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if e.Date == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := ParseDate(e.Date); err != nil {
		return err
	}
	if len(e.Note) > 2000 {
		return fmt.Errorf("note must be 2000 characters or less (got %d)", len(e.Note))
	}
	return nil
}

// Message is a motivational-message catalog entry.
type Message struct {
	ID       string `json:"id"`
	Category string `json:"category,omitempty"`
	Text     string `json:"text"`
}

// Validate checks if the Message has valid field values.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}
