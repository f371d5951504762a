package calendar

import (
	"reflect"
	"testing"
	"time"

	"github.com/taduranmiggy/loveyou/internal/model"
)

func date(s string) time.Time {
	t, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TestProject_CyclePositions tests day-in-cycle arithmetic for a 21/7
// regimen across cycle boundaries
func TestProject_CyclePositions(t *testing.T) {
	reg := model.Regimen{ID: "21-7", ActiveDays: 21, BreakDays: 7}
	start := date("2024-01-01")
	entries := Project(reg, start, date("2024-02-15"), nil)

	byDate := make(map[string]DayEntry, len(entries))
	for _, e := range entries {
		byDate[e.Date] = e
	}

	tests := []struct {
		date       string
		dayInCycle int
		active     bool
	}{
		{"2024-01-01", 1, true},   // first day
		{"2024-01-21", 21, true},  // last active day
		{"2024-01-22", 22, false}, // first break day
		{"2024-01-28", 28, false}, // last break day
		{"2024-01-29", 1, true},   // second cycle starts
		{"2024-02-15", 18, true},
	}

	for _, tt := range tests {
		e, ok := byDate[tt.date]
		if !ok {
			t.Fatalf("No entry for %s", tt.date)
		}
		if e.DayInCycle != tt.dayInCycle {
			t.Errorf("%s: DayInCycle = %d, want %d", tt.date, e.DayInCycle, tt.dayInCycle)
		}
		if e.Active != tt.active {
			t.Errorf("%s: Active = %v, want %v", tt.date, e.Active, tt.active)
		}
	}
}

// TestProject_DenseOrdered tests that output covers every day from start
// through one month past today with no gaps
func TestProject_DenseOrdered(t *testing.T) {
	reg := model.Regimen{ID: "28", ActiveDays: 28}
	entries := Project(reg, date("2024-03-01"), date("2024-03-10"), nil)

	if len(entries) == 0 {
		t.Fatal("Project() returned no entries")
	}
	if entries[0].Date != "2024-03-01" {
		t.Errorf("First entry = %s, want 2024-03-01", entries[0].Date)
	}
	if last := entries[len(entries)-1].Date; last != "2024-04-10" {
		t.Errorf("Last entry = %s, want 2024-04-10", last)
	}

	prev := date(entries[0].Date)
	for _, e := range entries[1:] {
		d := date(e.Date)
		if !d.Equal(prev.AddDate(0, 0, 1)) {
			t.Fatalf("Gap in output before %s", e.Date)
		}
		prev = d
	}
}

// TestProject_EventMatching tests that sparse, out-of-order events land
// on the right days and that explicit skips are distinguishable
func TestProject_EventMatching(t *testing.T) {
	reg := model.Regimen{ID: "21-7", ActiveDays: 21, BreakDays: 7}
	events := []model.IntakeEvent{
		{Date: "2024-01-05", Taken: false, Note: "forgot"},
		{Date: "2024-01-02", Taken: true},
	}

	entries := Project(reg, date("2024-01-01"), date("2024-01-06"), events)
	byDate := make(map[string]DayEntry, len(entries))
	for _, e := range entries {
		byDate[e.Date] = e
	}

	if e := byDate["2024-01-02"]; !e.Logged || !e.Taken {
		t.Errorf("2024-01-02: Logged=%v Taken=%v, want logged and taken", e.Logged, e.Taken)
	}
	if e := byDate["2024-01-05"]; !e.Logged || e.Taken || e.Note != "forgot" {
		t.Errorf("2024-01-05: Logged=%v Taken=%v Note=%q, want logged skip with note", e.Logged, e.Taken, e.Note)
	}
	if e := byDate["2024-01-03"]; e.Logged || e.Taken {
		t.Errorf("2024-01-03: Logged=%v Taken=%v, want neither", e.Logged, e.Taken)
	}
}

// TestProject_Pure tests that repeated calls with identical input yield
// identical output
func TestProject_Pure(t *testing.T) {
	reg := model.Regimen{ID: "24-4", ActiveDays: 24, PlaceboDays: 4}
	events := []model.IntakeEvent{{Date: "2024-06-03", Taken: true}}

	a := Project(reg, date("2024-06-01"), date("2024-06-20"), events)
	b := Project(reg, date("2024-06-01"), date("2024-06-20"), events)

	if !reflect.DeepEqual(a, b) {
		t.Error("Project() output differs between identical calls")
	}
}

// TestProject_Degenerate tests zero-length cycles and today before start
func TestProject_Degenerate(t *testing.T) {
	if got := Project(model.Regimen{}, date("2024-01-01"), date("2024-02-01"), nil); got != nil {
		t.Errorf("Project() with zero cycle = %v, want nil", got)
	}

	reg := model.Regimen{ID: "21-7", ActiveDays: 21, BreakDays: 7}
	// Today more than a month before start leaves an empty range.
	if got := Project(reg, date("2024-06-01"), date("2024-01-01"), nil); got != nil {
		t.Errorf("Project() with empty range = %v, want nil", got)
	}
}
