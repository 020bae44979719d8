package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sagipgo/pkg/config"
	"sagipgo/pkg/events"
)

// Checker reports whether the network is reachable. A nil error means online.
type Checker func(ctx context.Context) error

// Monitor polls a reachability checker and tracks online/offline state.
//
// Offline is reported immediately. A recovery only counts after the checker
// stays healthy for the configured debounce window; flaky links otherwise
// trigger sync storms every time they blip up.
type Monitor struct {
	checker      Checker
	bus          *events.Bus
	pollInterval time.Duration
	debounce     time.Duration

	mu     sync.Mutex
	online bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. The checker is typically an HTTP probe against a
// well-known endpoint.
func New(cfg *config.NetworkConfig, checker Checker, bus *events.Bus) *Monitor {
	return &Monitor{
		checker:      checker,
		bus:          bus,
		pollInterval: time.Duration(cfg.PollInterval),
		debounce:     time.Duration(cfg.Debounce),
	}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Start probes once to establish the initial state, then polls in the
// background until Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	// Initial probe sets the starting state without debounce.
	initial := m.checker(runCtx) == nil
	m.mu.Lock()
	m.online = initial
	m.mu.Unlock()
	slog.Info("Connectivity monitor started", "online", initial, "interval", m.pollInterval)

	go m.loop(runCtx)
}

// Stop terminates the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	err := m.checker(ctx)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		m.setOnline(false)
		return
	}

	if m.Online() {
		return // Already online, nothing to do
	}

	// Recovery: hold for the debounce window and confirm before flipping.
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.debounce):
	}
	if m.checker(ctx) == nil && ctx.Err() == nil {
		m.setOnline(true)
	}
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		slog.Info("Network restored")
		m.bus.Emit(events.NetworkOnline, nil)
	} else {
		slog.Warn("Network lost")
		m.bus.Emit(events.NetworkOffline, nil)
	}
}
