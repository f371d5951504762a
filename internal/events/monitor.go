package events

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// ProbeFunc checks reachability of the remote endpoint. A nil error means
// online.
type ProbeFunc func(ctx context.Context) error

// MonitorConfig configures the connectivity monitor.
type MonitorConfig struct {
	// Interval between probes.
	Interval time.Duration

	// Probe performs the reachability check. Required.
	Probe ProbeFunc

	// Logger for monitor activity. Nil means a stderr default.
	Logger *log.Logger
}

// DefaultMonitorConfig returns sensible defaults, probing url with an
// HTTP GET.
func DefaultMonitorConfig(url string) *MonitorConfig {
	return &MonitorConfig{
		Interval: 15 * time.Second,
		Probe:    HTTPProbe(url),
		Logger:   log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// HTTPProbe returns a ProbeFunc that performs a GET against url.
func HTTPProbe(url string) ProbeFunc {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
}

// Monitor probes connectivity on a ticker and publishes edge-triggered
// Online/Offline events: a transition fires exactly one event, repeated
// probes in the same state are silent.
type Monitor struct {
	bus    *Bus
	config *MonitorConfig

	mu     sync.Mutex
	online bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor publishing to bus.
func NewMonitor(bus *Bus, config *MonitorConfig) *Monitor {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Second
	}
	return &Monitor{bus: bus, config: config}
}

// Start begins probing until Stop is called. The first probe runs
// immediately so consumers learn the initial state without waiting a full
// interval.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probe(ctx)

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the monitor goroutine.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.config.Probe(ctx)
	nowOnline := err == nil

	m.mu.Lock()
	changed := nowOnline != m.online
	m.online = nowOnline
	m.mu.Unlock()

	if !changed {
		return
	}
	if nowOnline {
		m.config.Logger.Printf("Connectivity restored")
		m.bus.Publish(Event{Type: Online})
	} else {
		m.config.Logger.Printf("Connectivity lost: %v", err)
		m.bus.Publish(Event{Type: Offline})
	}
}
