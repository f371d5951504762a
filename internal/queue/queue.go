package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taduranmiggy/loveyou/internal/events"
	"github.com/taduranmiggy/loveyou/internal/model"
	"github.com/taduranmiggy/loveyou/internal/store"
)

// Mutation action tags carried in the journal.
const (
	ActionUpsertIntake  = "upsert_intake"
	ActionUpdateProfile = "update_profile"
)

// intakePayload is the journaled form of an intake mutation.
type intakePayload struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Taken  bool   `json:"taken"`
	Note   string `json:"note,omitempty"`
}

// Journal is the durable persistence behind the queue. It is implemented
// by the local store so pending items survive a process restart no matter
// which backend is active.
type Journal interface {
	QueueAppend(ctx context.Context, id, action string, payload []byte, createdAt time.Time) (int64, error)
	QueueList(ctx context.Context) ([]store.QueueItem, error)
	QueueSetRetry(ctx context.Context, id string, retryCount int) error
	QueueRemove(ctx context.Context, id string) error
}

// DeadLetterFunc is called exactly once per dead-lettered item, with the
// action tag and the final error, before the item is discarded.
type DeadLetterFunc func(item store.QueueItem, err error)

// Config holds configuration for the Manager.
type Config struct {
	// DrainInterval is the periodic drain trigger.
	DrainInterval time.Duration

	// ItemTimeout bounds a single mutation attempt. A timed-out attempt
	// counts as a failure; nothing is left in-flight indefinitely.
	ItemTimeout time.Duration

	// OnDeadLetter is the one-shot failure notification. Nil means log
	// only.
	OnDeadLetter DeadLetterFunc

	// Logger for queue activity. Nil means a stderr default.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval: 30 * time.Second,
		ItemTimeout:   10 * time.Second,
		Logger:        log.New(os.Stderr, "[queue] ", log.LstdFlags),
	}
}

// Manager owns the durable mutation queue.
//
// Items drain strictly in insertion order into the target store. On the
// first failure of a cycle the drain halts, since retrying the rest
// against a backend that just failed goes nowhere, and resumes on the
// next trigger. Because the queue is insertion-ordered and drained in
// order, a later enqueue for the same (user, date) naturally supersedes
// an earlier one once applied.
type Manager struct {
	journal Journal
	target  store.Store
	bus     *events.Bus
	config  *Config

	mu       sync.Mutex
	draining bool
	online   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager draining journal into target and reacting to bus
// triggers.
func New(journal Journal, target store.Store, bus *events.Bus, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = 30 * time.Second
	}
	if config.ItemTimeout <= 0 {
		config.ItemTimeout = 10 * time.Second
	}
	return &Manager{
		journal: journal,
		target:  target,
		bus:     bus,
		config:  config,
	}
}

// EnqueueUpsertIntake journals a "pill taken" mutation. The journal write
// commits before returning, so the mutation survives a crash or reload.
func (m *Manager) EnqueueUpsertIntake(ctx context.Context, userID, date string, taken bool, note string) error {
	event := model.IntakeEvent{UserID: userID, Date: date, Taken: taken, Note: note}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	payload, err := json.Marshal(intakePayload{UserID: userID, Date: date, Taken: taken, Note: note})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	seq, err := m.journal.QueueAppend(ctx, uuid.NewString(), ActionUpsertIntake, payload, time.Now())
	if err != nil {
		return err
	}
	m.config.Logger.Printf("Enqueued %s for %s/%s (seq=%d)", ActionUpsertIntake, userID, date, seq)
	return nil
}

// EnqueueUpdateProfile journals a profile mutation.
func (m *Manager) EnqueueUpdateProfile(ctx context.Context, profile *model.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is nil", store.ErrInvalidInput)
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	seq, err := m.journal.QueueAppend(ctx, uuid.NewString(), ActionUpdateProfile, payload, time.Now())
	if err != nil {
		return err
	}
	m.config.Logger.Printf("Enqueued %s for %s (seq=%d)", ActionUpdateProfile, profile.ID, seq)
	return nil
}

// Start runs the trigger loop until Stop is called: drain on
// offline-to-online transition, on visibility regained while online, on
// an explicit drain request, and on the periodic timer.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	ch, unsubscribe := m.bus.Subscribe(
		events.Online, events.Offline, events.Visible, events.DrainRequested)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer unsubscribe()

		ticker := time.NewTicker(m.config.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-ch:
				if !ok {
					return
				}
				switch ev.Type {
				case events.Online:
					m.setOnline(true)
					m.drainCycle(ctx)
				case events.Offline:
					m.setOnline(false)
				case events.Visible:
					if m.isOnline() {
						m.drainCycle(ctx)
					}
				case events.DrainRequested:
					m.drainCycle(ctx)
				}

			case <-ticker.C:
				if m.isOnline() {
					m.drainCycle(ctx)
				}
			}
		}
	}()
}

// Stop halts the trigger loop. An in-flight item is allowed to finish;
// remaining items stay pending for the next Start.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Len returns the number of pending items.
func (m *Manager) Len(ctx context.Context) (int, error) {
	items, err := m.journal.QueueList(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Drain processes pending items strictly in insertion order.
//
// Per item: a success removes it; a retryable failure increments its
// counter in place (position preserved) and halts the cycle; exhausting
// the retry cap dead-letters the item: reported once via OnDeadLetter,
// then discarded. Cancelling ctx between items stops the cycle; the
// in-flight item finishes first.
func (m *Manager) Drain(ctx context.Context) error {
	items, err := m.journal.QueueList(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	m.config.Logger.Printf("Draining %d pending item(s)", len(items))

	for _, item := range items {
		select {
		case <-ctx.Done():
			m.config.Logger.Printf("Drain interrupted; %s stays pending", item.ID)
			return ctx.Err()
		default:
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.config.ItemTimeout)
		applyErr := m.apply(attemptCtx, item)
		cancel()

		outcome := Transition(item.RetryCount, applyErr)
		switch outcome.State {
		case Synced:
			if err := m.journal.QueueRemove(ctx, item.ID); err != nil {
				return fmt.Errorf("failed to remove synced item: %w", err)
			}
			m.config.Logger.Printf("Synced %s (%s)", item.ID, item.Action)
			m.bus.Publish(events.Event{Type: events.MutationCompleted, Data: item.Payload})

		case DeadLetter:
			// Report once, then discard. Removing before reporting would
			// risk silent loss if the report panics; report first.
			m.reportDeadLetter(item, applyErr)
			if err := m.journal.QueueRemove(ctx, item.ID); err != nil {
				return fmt.Errorf("failed to remove dead-lettered item: %w", err)
			}
			if store.IsRetryable(applyErr) {
				// The cap was exhausted by a transient failure, so the
				// backend is likely still down. Halt rather than spend a
				// retry on every remaining item.
				m.config.Logger.Printf("Halting drain after dead-lettering %s (%s)", item.ID, item.Action)
				return nil
			}

		case Pending:
			if err := m.journal.QueueSetRetry(ctx, item.ID, outcome.RetryCount); err != nil {
				return fmt.Errorf("failed to update retry count: %w", err)
			}
			m.config.Logger.Printf("Attempt failed for %s (%s), retry %d/%d: %v",
				item.ID, item.Action, outcome.RetryCount, MaxRetries, applyErr)
			// Halt the cycle so a systemic outage doesn't turn into a
			// burst of failures; the next trigger resumes here.
			return nil
		}
	}
	return nil
}

// apply executes a journaled mutation against the target store.
func (m *Manager) apply(ctx context.Context, item store.QueueItem) error {
	switch item.Action {
	case ActionUpsertIntake:
		var p intakePayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("%w: malformed payload: %v", store.ErrInvalidInput, err)
		}
		_, err := m.target.UpsertIntakeEvent(ctx, p.UserID, p.Date, p.Taken, p.Note)
		return err

	case ActionUpdateProfile:
		var profile model.UserProfile
		if err := json.Unmarshal(item.Payload, &profile); err != nil {
			return fmt.Errorf("%w: malformed payload: %v", store.ErrInvalidInput, err)
		}
		return m.target.PutUser(ctx, &profile)

	default:
		return fmt.Errorf("%w: unknown action %q", store.ErrInvalidInput, item.Action)
	}
}

// drainCycle runs Drain unless one is already running.
func (m *Manager) drainCycle(ctx context.Context) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	if err := m.Drain(ctx); err != nil && err != context.Canceled {
		m.config.Logger.Printf("Drain error: %v", err)
	}
}

func (m *Manager) reportDeadLetter(item store.QueueItem, err error) {
	m.config.Logger.Printf("Dead-lettered %s (%s) after %d attempt(s): %v",
		item.ID, item.Action, item.RetryCount+1, err)
	if m.config.OnDeadLetter != nil {
		m.config.OnDeadLetter(item, err)
	}
}

func (m *Manager) setOnline(v bool) {
	m.mu.Lock()
	m.online = v
	m.mu.Unlock()
}

func (m *Manager) isOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
