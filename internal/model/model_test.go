package model

import (
	"strings"
	"testing"
)

// TestRegimen_Validate tests catalog entry validation
func TestRegimen_Validate(t *testing.T) {
	tests := []struct {
		name    string
		regimen Regimen
		wantErr bool
	}{
		{"standard 21/7", Regimen{ID: "21-7", ActiveDays: 21, BreakDays: 7}, false},
		{"placebo subset of break", Regimen{ID: "24-4", ActiveDays: 24, BreakDays: 4, PlaceboDays: 4}, false},
		{"continuous", Regimen{ID: "cont", ActiveDays: 28}, false},
		{"missing id", Regimen{ActiveDays: 21}, true},
		{"zero active days", Regimen{ID: "x", ActiveDays: 0}, true},
		{"negative break days", Regimen{ID: "x", ActiveDays: 21, BreakDays: -1}, true},
		{"placebo exceeds break", Regimen{ID: "x", ActiveDays: 24, BreakDays: 2, PlaceboDays: 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.regimen.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestRegimen_CycleLength tests cycle arithmetic
func TestRegimen_CycleLength(t *testing.T) {
	r := Regimen{ID: "21-7", ActiveDays: 21, BreakDays: 7}
	if got := r.CycleLength(); got != 28 {
		t.Errorf("CycleLength() = %d, want 28", got)
	}
}

// TestIntakeEvent_Validate tests event validation
func TestIntakeEvent_Validate(t *testing.T) {
	valid := IntakeEvent{UserID: "u1", Date: "2026-01-15", Taken: true}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() of valid event failed: %v", err)
	}

	bad := IntakeEvent{UserID: "u1", Date: "15/01/2026"}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() accepted a non-ISO date")
	}

	long := IntakeEvent{UserID: "u1", Date: "2026-01-15", Note: strings.Repeat("x", 2001)}
	if err := long.Validate(); err == nil {
		t.Error("Validate() accepted an oversized note")
	}
}

// TestParseDate_RejectsGarbage tests strict date parsing
func TestParseDate_RejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "2026-13-01", "tomorrow", "2026-1-5"} {
		if _, err := ParseDate(input); err == nil {
			t.Errorf("ParseDate(%q) succeeded, want error", input)
		}
	}

	parsed, err := ParseDate("2026-02-28")
	if err != nil {
		t.Fatalf("ParseDate() failed: %v", err)
	}
	if FormatDate(parsed) != "2026-02-28" {
		t.Errorf("Round trip = %s, want 2026-02-28", FormatDate(parsed))
	}
}
