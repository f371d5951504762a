// Package app wires the stores, sync queue, connectivity monitor, and
// event bus into one service object used by the CLI and the gateway
// daemon.
//
// The backend split is decided once, here: the local SQLite store always
// opens, the remote store is probed at startup, and everything downstream
// receives whichever store it should talk to. Nothing outside this
// package branches on "local or remote" at call time.
package app

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/taduranmiggy/loveyou/internal/config"
	"github.com/taduranmiggy/loveyou/internal/events"
	"github.com/taduranmiggy/loveyou/internal/model"
	"github.com/taduranmiggy/loveyou/internal/queue"
	"github.com/taduranmiggy/loveyou/internal/store"
)

// App is the assembled service.
type App struct {
	Config *config.Config
	Logger *log.Logger

	Local  *store.LocalStore
	Remote *store.RemoteStore

	Bus     *events.Bus
	Queue   *queue.Manager
	Monitor *events.Monitor
}

// New opens the stores and builds the queue and monitor. The remote
// store may be nil when unconfigured or unreachable; the app remains
// fully usable offline.
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[app] ", log.LstdFlags)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	local, err := store.OpenLocal(cfg.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Local:  local,
		Bus:    events.NewBus(),
	}

	if cfg.RemoteURL != "" {
		remote, err := store.OpenRemote(cfg.RemoteURL, cfg.RemoteAuthToken)
		if err != nil {
			logger.Printf("Remote unreachable, starting offline: %v", err)
		} else {
			a.Remote = remote
		}
	}

	qcfg := queue.DefaultConfig()
	qcfg.DrainInterval = cfg.DrainInterval
	qcfg.Logger = logger
	a.Queue = queue.New(local, a.syncTarget(), a.Bus, qcfg)

	mcfg := events.DefaultMonitorConfig(a.probeURL())
	mcfg.Interval = cfg.ProbeInterval
	mcfg.Logger = logger
	a.Monitor = events.NewMonitor(a.Bus, mcfg)

	return a, nil
}

// syncTarget is the store drained mutations are applied to. Without a
// remote the queue applies to the local store, which keeps ordering
// semantics identical in single-device setups.
func (a *App) syncTarget() store.Store {
	if a.Remote != nil {
		return a.Remote
	}
	return a.Local
}

// Store returns the store reads should go to. Reads always come from the
// local cache; the remote is written through the queue.
func (a *App) Store() store.Store {
	return a.Local
}

// Online reports whether the remote backend is configured and was
// reachable at startup or since.
func (a *App) Online() bool {
	if a.Remote == nil {
		return false
	}
	if a.Monitor != nil {
		return a.Monitor.Online()
	}
	return true
}

// probeURL derives a connectivity probe target.
func (a *App) probeURL() string {
	if a.Config.ProbeURL != "" {
		return a.Config.ProbeURL
	}
	if a.Config.RemoteURL != "" {
		if u, err := url.Parse(a.Config.RemoteURL); err == nil && u.Host != "" {
			return "https://" + u.Host + "/health"
		}
	}
	return "https://clients3.google.com/generate_204"
}

// Start launches the queue trigger loop and connectivity monitor.
func (a *App) Start() {
	a.Queue.Start()
	a.Monitor.Start()
}

// RecordIntake writes the day's dose locally for immediate reads, then
// journals the mutation so it reaches the remote in order. When online
// a drain is requested right away.
func (a *App) RecordIntake(ctx context.Context, date string, taken bool, note string) (*model.IntakeEvent, error) {
	user, err := a.Local.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	event, err := a.Local.UpsertIntakeEvent(ctx, user.ID, date, taken, note)
	if err != nil {
		return nil, fmt.Errorf("failed to record intake: %w", err)
	}

	if a.Remote != nil {
		if err := a.Queue.EnqueueUpsertIntake(ctx, user.ID, date, taken, note); err != nil {
			return nil, fmt.Errorf("failed to journal intake: %w", err)
		}
		a.Bus.Publish(events.Event{Type: events.DrainRequested})
	}

	return event, nil
}

// UpdateProfile applies a profile change locally and journals it for the
// remote.
func (a *App) UpdateProfile(ctx context.Context, profile *model.UserProfile) error {
	if err := a.Local.UpdateUser(ctx, profile); err != nil {
		return err
	}
	if a.Remote != nil {
		if err := a.Queue.EnqueueUpdateProfile(ctx, profile); err != nil {
			return fmt.Errorf("failed to journal profile update: %w", err)
		}
		a.Bus.Publish(events.Event{Type: events.DrainRequested})
	}
	return nil
}

// Sync drains the journal now and waits for the cycle to finish.
func (a *App) Sync(ctx context.Context) error {
	if a.Remote == nil {
		return fmt.Errorf("no remote configured: %w", store.ErrUnavailable)
	}
	return a.Queue.Drain(ctx)
}

// Close stops background work and closes both stores.
func (a *App) Close() error {
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.Queue != nil {
		a.Queue.Stop()
	}

	var firstErr error
	if a.Remote != nil {
		if err := a.Remote.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Local != nil {
		if err := a.Local.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WaitForDrain blocks until the journal is empty or the deadline passes.
// Used by commands that want confirmation before exiting.
func (a *App) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		n, err := a.Queue.Len(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d item(s) still queued after %s", n, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
