package engine

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned for operations requiring an active READY
// session.
var ErrNotReady = errors.New("session not ready")

// ValidationError rejects a malformed subscriber request before any
// side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// SendError wraps a provider send failure. Nothing was persisted or
// broadcast; it is reported only to the requesting subscriber.
type SendError struct {
	ChatID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. The affected event is
// dropped and logged, never broadcast and never retried automatically.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
