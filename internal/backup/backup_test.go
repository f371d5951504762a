package backup

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/taduranmiggy/loveyou/internal/store"
)

func openSeededStore(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.OpenLocal(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenLocal() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	user, err := s.CreateUser(ctx, "b@example.com", "pw-123456", "Backup")
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	for _, date := range []string{"2026-05-01", "2026-05-02"} {
		if _, err := s.UpsertIntakeEvent(ctx, user.ID, date, true, ""); err != nil {
			t.Fatalf("UpsertIntakeEvent(%s) failed: %v", date, err)
		}
	}
	if err := s.SetSetting(ctx, "theme", "dark"); err != nil {
		t.Fatalf("SetSetting() failed: %v", err)
	}
	return s
}

// TestCreateRestore_RoundTrip tests that a snapshot restored into a
// fresh store reproduces the source data
func TestCreateRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openSeededStore(t)

	snap, err := Create(ctx, src)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	var buf bytes.Buffer
	if err := Write(&buf, snap); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	decoded, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}

	dst, err := store.OpenLocal(filepath.Join(t.TempDir(), "restored.db"))
	if err != nil {
		t.Fatalf("OpenLocal() failed: %v", err)
	}
	defer dst.Close()

	if err := Restore(ctx, dst, decoded); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	history, err := dst.IntakeHistory(ctx, snap.User.ID, "", "")
	if err != nil {
		t.Fatalf("IntakeHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Restored %d events, want 2", len(history))
	}

	settings, err := dst.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() failed: %v", err)
	}
	if settings["theme"] != "dark" {
		t.Errorf(`settings["theme"] = %q, want "dark"`, settings["theme"])
	}
}

// TestRestore_Idempotent tests that restoring the same snapshot twice
// leaves the store unchanged
func TestRestore_Idempotent(t *testing.T) {
	ctx := context.Background()
	src := openSeededStore(t)

	snap, err := Create(ctx, src)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	dst, err := store.OpenLocal(filepath.Join(t.TempDir(), "restored.db"))
	if err != nil {
		t.Fatalf("OpenLocal() failed: %v", err)
	}
	defer dst.Close()

	if err := Restore(ctx, dst, snap); err != nil {
		t.Fatalf("First Restore() failed: %v", err)
	}
	first, err := dst.IntakeHistory(ctx, snap.User.ID, "", "")
	if err != nil {
		t.Fatalf("IntakeHistory() failed: %v", err)
	}

	if err := Restore(ctx, dst, snap); err != nil {
		t.Fatalf("Second Restore() failed: %v", err)
	}
	second, err := dst.IntakeHistory(ctx, snap.User.ID, "", "")
	if err != nil {
		t.Fatalf("IntakeHistory() failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("Repeated restore changed the stored history")
	}
}

// TestRestore_PartialSnapshot tests that absent sections leave existing
// data untouched while present sections fully replace
func TestRestore_PartialSnapshot(t *testing.T) {
	ctx := context.Background()
	dst := openSeededStore(t)

	user, err := dst.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser() failed: %v", err)
	}

	// Settings-only snapshot: history must survive, settings replaced.
	snap := &Snapshot{
		Version:  FormatVersion,
		Settings: map[string]string{"theme": "light"},
	}
	if err := Restore(ctx, dst, snap); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	history, err := dst.IntakeHistory(ctx, user.ID, "", "")
	if err != nil {
		t.Fatalf("IntakeHistory() failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("History has %d events after settings-only restore, want 2", len(history))
	}

	settings, err := dst.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() failed: %v", err)
	}
	if len(settings) != 1 || settings["theme"] != "light" {
		t.Errorf("Settings = %v, want map[theme:light]", settings)
	}
}

// TestRead_RejectsUnknownVersion tests version validation
func TestRead_RejectsUnknownVersion(t *testing.T) {
	_, err := Read(strings.NewReader(`{"version": 99, "created_at": "2026-05-01T00:00:00Z"}`))
	if err == nil {
		t.Fatal("Read() accepted unknown version")
	}
}
