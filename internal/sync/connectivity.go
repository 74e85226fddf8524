package sync

import (
	"context"
	"sync"
	"time"

	"github.com/lotusit/supportq/internal/logging"
)

// ConnectivityNotifier delivers connectivity-restored signals. Subscribe
// registers a callback fired whenever connectivity transitions from offline
// to online and returns an unsubscribe function.
type ConnectivityNotifier interface {
	Subscribe(fn func()) (unsubscribe func())
}

// ProbeFunc reports whether the backend is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// HealthMonitor polls a reachability probe and notifies subscribers on
// offline-to-online transitions. The initial state is assumed online so
// startup does not trigger a spurious restore signal.
type HealthMonitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu          sync.Mutex
	online      bool
	running     bool
	stop        chan struct{}
	subscribers map[int]func()
	nextID      int
}

// NewHealthMonitor creates a HealthMonitor polling probe every interval.
func NewHealthMonitor(probe ProbeFunc, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthMonitor{
		probe:       probe,
		interval:    interval,
		online:      true,
		subscribers: make(map[int]func()),
	}
}

// Subscribe registers a connectivity-restored callback.
func (m *HealthMonitor) Subscribe(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Start begins polling. Idempotent while running.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})

	go m.loop(m.stop)
}

// Stop halts polling.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
	m.stop = nil
}

// Online reports the last observed connectivity state.
func (m *HealthMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *HealthMonitor) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check runs one probe and fires subscribers on an offline-to-online
// transition.
func (m *HealthMonitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	online := m.probe(ctx)
	cancel()

	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	var fns []func()
	if online && !wasOnline {
		fns = make([]func(), 0, len(m.subscribers))
		for _, fn := range m.subscribers {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if !online && wasOnline {
		logging.Warn("portal backend unreachable, queueing submissions locally")
	}
	if len(fns) > 0 {
		logging.Info("portal backend reachable again")
		for _, fn := range fns {
			fn()
		}
	}
}
