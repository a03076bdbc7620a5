package engine

import "time"

// Clock abstracts timer scheduling so retry behavior is testable
// without wall-clock waits.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Supervisor owns the bounded reconnect policy applied after a dropped
// connection. Auth failures never consult it. All methods are called
// from the actor goroutine only.
type Supervisor struct {
	maxAttempts int
	firstDelay  time.Duration
	retryDelay  time.Duration
	attempts    int
}

// NewSupervisor creates a supervisor with the given bounds.
func NewSupervisor(maxAttempts int, firstDelay, retryDelay time.Duration) *Supervisor {
	return &Supervisor{
		maxAttempts: maxAttempts,
		firstDelay:  firstDelay,
		retryDelay:  retryDelay,
	}
}

// Next accounts for one more reconnect attempt. It returns the delay
// before that attempt, or ok=false once the attempt budget is spent,
// at which point the session is terminal until an external restart.
func (s *Supervisor) Next() (delay time.Duration, ok bool) {
	if s.attempts >= s.maxAttempts {
		return 0, false
	}
	s.attempts++
	if s.attempts == 1 {
		return s.firstDelay, true
	}
	return s.retryDelay, true
}

// Attempts returns the number of attempts consumed since the last reset.
func (s *Supervisor) Attempts() int {
	return s.attempts
}

// Reset clears the attempt counter. Called on every successful READY
// transition and on operator restart.
func (s *Supervisor) Reset() {
	s.attempts = 0
}
