// Package calendar projects a sparse set of intake events onto a dense,
// date-ordered schedule view.
//
// Projection is a pure function of its inputs: no clock reads, no stored
// state, no randomness. Calling it twice with identical arguments yields
// identical output, which makes the result safe to cache and trivial to
// test.
package calendar

import (
	"time"

	"github.com/taduranmiggy/loveyou/internal/model"
)

// DayEntry is one day of the projected schedule.
type DayEntry struct {
	// Date is the calendar date, YYYY-MM-DD.
	Date string `json:"date"`

	// DayInCycle is the 1-based position within the regimen cycle.
	DayInCycle int `json:"day_in_cycle"`

	// Active reports whether a pill is due on this day.
	Active bool `json:"active"`

	// Logged reports whether an intake event exists for this day. It
	// separates an explicit "skipped" entry from no entry at all.
	Logged bool `json:"logged"`

	// Taken and Note mirror the matching intake event; a day without an
	// event defaults to Taken=false with an empty note.
	Taken bool   `json:"taken"`
	Note  string `json:"note,omitempty"`
}

// Project expands the regimen into one entry per calendar day from start
// through one calendar month past today, inclusive.
//
// For each date:
//
//	daysSinceStart = date - start (whole days)
//	dayInCycle     = (daysSinceStart mod cycleLength) + 1
//	active         = dayInCycle <= regimen.ActiveDays
//
// Events are matched by exact date; out-of-order or sparse input is fine.
// Dates before start are never emitted. The output is dense: consecutive
// dates with no gaps, ordered ascending.
func Project(reg model.Regimen, start, today time.Time, events []model.IntakeEvent) []DayEntry {
	cycleLength := reg.CycleLength()
	if cycleLength <= 0 {
		return nil
	}

	start = truncateDay(start)
	end := truncateDay(today).AddDate(0, 1, 0)
	if end.Before(start) {
		return nil
	}

	byDate := make(map[string]model.IntakeEvent, len(events))
	for _, e := range events {
		byDate[e.Date] = e
	}

	var entries []DayEntry
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		daysSinceStart := int(d.Sub(start).Hours() / 24)
		dayInCycle := daysSinceStart%cycleLength + 1

		entry := DayEntry{
			Date:       model.FormatDate(d),
			DayInCycle: dayInCycle,
			Active:     dayInCycle <= reg.ActiveDays,
		}
		if e, ok := byDate[entry.Date]; ok {
			entry.Logged = true
			entry.Taken = e.Taken
			entry.Note = e.Note
		}
		entries = append(entries, entry)
	}
	return entries
}

// truncateDay drops the time-of-day component in UTC so day arithmetic is
// exact regardless of the input's clock or zone.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
