// Package seed loads the built-in regimen and message catalog into a
// store. Seeding is insert-if-absent: rows a user has customized are
// never overwritten, so re-running it after an upgrade only adds what
// is new.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/taduranmiggy/loveyou/internal/model"
	"github.com/taduranmiggy/loveyou/internal/store"
)

// Catalog is the parsed seed file.
type Catalog struct {
	Regimens []RegimenEntry `toml:"regimen"`
	Messages []MessageEntry `toml:"message"`
}

// RegimenEntry describes one regimen in the catalog.
type RegimenEntry struct {
	ID          string `toml:"id"`
	ActiveDays  int    `toml:"active_days"`
	BreakDays   int    `toml:"break_days"`
	PlaceboDays int    `toml:"placebo_days"`
	Description string `toml:"description"`
}

// MessageEntry describes one message in the catalog.
type MessageEntry struct {
	ID       string `toml:"id"`
	Category string `toml:"category"`
	Text     string `toml:"text"`
}

// Load parses a TOML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(string(data))
}

// Parse parses catalog TOML from a string.
func Parse(data string) (*Catalog, error) {
	var cat Catalog
	if err := toml.Unmarshal([]byte(data), &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &cat, nil
}

// Apply inserts every catalog row the store does not already have.
// It returns the number of rows added.
func Apply(ctx context.Context, s store.Store, cat *Catalog, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.Default()
	}

	added := 0
	for _, r := range cat.Regimens {
		reg := model.Regimen{
			ID:          r.ID,
			ActiveDays:  r.ActiveDays,
			BreakDays:   r.BreakDays,
			PlaceboDays: r.PlaceboDays,
			Description: r.Description,
		}
		if err := reg.Validate(); err != nil {
			return added, fmt.Errorf("invalid regimen %q in catalog: %w", r.ID, err)
		}

		_, err := s.GetRegimen(ctx, reg.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return added, fmt.Errorf("failed to check regimen %q: %w", reg.ID, err)
		}
		if err := s.PutRegimen(ctx, &reg); err != nil {
			return added, fmt.Errorf("failed to seed regimen %q: %w", reg.ID, err)
		}
		added++
	}

	existing := make(map[string]bool)
	msgs, err := s.ListMessages(ctx, "")
	if err != nil {
		return added, fmt.Errorf("failed to list messages: %w", err)
	}
	for _, m := range msgs {
		existing[m.ID] = true
	}

	for _, m := range cat.Messages {
		if existing[m.ID] {
			continue
		}
		msg := model.Message{ID: m.ID, Category: m.Category, Text: m.Text}
		if err := msg.Validate(); err != nil {
			return added, fmt.Errorf("invalid message %q in catalog: %w", m.ID, err)
		}
		if err := s.PutMessage(ctx, &msg); err != nil {
			return added, fmt.Errorf("failed to seed message %q: %w", m.ID, err)
		}
		added++
	}

	if added > 0 {
		logger.Printf("Seeded %d catalog row(s)", added)
	}
	return added, nil
}

// DefaultCatalog is the catalog shipped with the binary, used when no
// external file is supplied.
const DefaultCatalog = `
[[regimen]]
id = "21-7"
active_days = 21
break_days = 7
description = "21 active days followed by a 7 day break"

[[regimen]]
id = "24-4"
active_days = 24
break_days = 4
placebo_days = 4
description = "24 active days followed by 4 placebo days"

[[regimen]]
id = "continuous"
active_days = 28
description = "continuous dosing with no break"

[[message]]
id = "reminder-1"
category = "reminder"
text = "Time for today's dose."

[[message]]
id = "reminder-2"
category = "reminder"
text = "Don't forget to log today."

[[message]]
id = "encourage-1"
category = "encouragement"
text = "Nice streak, keep it going."
`
