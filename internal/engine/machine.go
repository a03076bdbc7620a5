package engine

import (
	"fmt"
	"slices"
	"sync"

	"github.com/season179/wabridge/internal/bus"
)

// Status represents a session lifecycle state.
type Status string

const (
	Initializing   Status = "INITIALIZING"
	QRPending      Status = "QR_PENDING"
	Authenticating Status = "AUTHENTICATING"
	Ready          Status = "READY"
	Disconnected   Status = "DISCONNECTED"
	AuthFailed     Status = "AUTH_FAILED"
	Terminated     Status = "TERMINATED"
)

// validTransitions defines allowed state transitions. AUTH_FAILED and
// TERMINATED list only the operator-restart edge back to INITIALIZING;
// provider events never take it.
var validTransitions = map[Status][]Status{
	Initializing:   {QRPending, Authenticating, AuthFailed, Disconnected},
	QRPending:      {QRPending, Authenticating, AuthFailed, Disconnected},
	Authenticating: {Ready, AuthFailed, Disconnected},
	Ready:          {Disconnected, AuthFailed},
	Disconnected:   {Initializing, Terminated, AuthFailed},
	AuthFailed:     {Initializing},
	Terminated:     {Initializing},
}

// Machine tracks and enforces session lifecycle transitions. Writes
// happen only on the actor goroutine; the mutex exists so the gateway
// can read a consistent current state.
type Machine struct {
	mu      sync.RWMutex
	current Status
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in INITIALIZING.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Initializing, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Terminal reports whether the session requires an explicit operator
// restart to make progress.
func (m *Machine) Terminal() bool {
	s := m.Current()
	return s == AuthFailed || s == Terminated
}

// Transition attempts to move to a new state, publishing the change on
// the bus. Returns an error if the transition is not allowed.
func (m *Machine) Transition(to Status) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish("session.status", StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for session.status events.
type StatusChange struct {
	From Status
	To   Status
}
