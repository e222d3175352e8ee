// Package network tracks reachability of the remote API as a two-state machine.
package network

import (
	"log/slog"
	"sync"
	"time"

	"pos-offline-sync/internal/utils"
)

// State is the connectivity state seen by the engine
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

type subscription struct {
	onOnline  func()
	onOffline func()
}

// Monitor turns raw reachability observations into transitions. Repeated
// observations of the current state are dropped, so subscribers receive
// exactly one callback per OFFLINE->ONLINE or ONLINE->OFFLINE change.
//
// Callbacks run synchronously on the observing goroutine, in transition
// order, outside the state lock. A callback may read state or
// (un)subscribe but must not call Observe.
type Monitor struct {
	mu          sync.Mutex
	state       State
	changedAt   time.Time
	transitions int
	subs        map[int]subscription
	nextID      int

	// dispatchMu keeps callbacks of consecutive transitions from interleaving
	dispatchMu sync.Mutex
	logger     *slog.Logger
}

func NewMonitor(initial State, logger *slog.Logger) *Monitor {
	return &Monitor{
		state:     initial,
		changedAt: time.Now(),
		subs:      make(map[int]subscription),
		logger:    utils.OrDefault(logger),
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Online() bool {
	return m.State() == Online
}

// Since returns when the current state was entered
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// Transitions returns how many state changes have been observed
func (m *Monitor) Transitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions
}

// Observe records a reachability report and returns true if it changed state
func (m *Monitor) Observe(online bool) bool {
	next := Offline
	if online {
		next = Online
	}

	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return false
	}
	m.state = next
	m.changedAt = time.Now()
	m.transitions++

	callbacks := make([]func(), 0, len(m.subs))
	for _, sub := range m.subs {
		cb := sub.onOffline
		if next == Online {
			cb = sub.onOnline
		}
		if cb != nil {
			callbacks = append(callbacks, cb)
		}
	}
	// Taken before releasing mu so a later transition cannot dispatch first
	m.dispatchMu.Lock()
	m.mu.Unlock()
	defer m.dispatchMu.Unlock()

	m.logger.Info("Network state changed", "state", next.String(), "subscribers", len(callbacks))

	for _, cb := range callbacks {
		m.invoke(cb)
	}
	return true
}

func (m *Monitor) SetOnline() bool  { return m.Observe(true) }
func (m *Monitor) SetOffline() bool { return m.Observe(false) }

func (m *Monitor) invoke(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Network callback panicked", "panic", r)
		}
	}()
	cb()
}

// Subscribe registers transition callbacks; either may be nil. The returned
// function removes the subscription and is safe to call more than once.
func (m *Monitor) Subscribe(onOnline, onOffline func()) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = subscription{onOnline: onOnline, onOffline: onOffline}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
