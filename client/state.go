package client

import (
	"fmt"
	"sync"
	"time"
)

// SessionState represents the current lifecycle state of a session.
type SessionState int

const (
	// CONNECTING indicates the login handshake is in progress.
	CONNECTING SessionState = iota
	// READY indicates the session is idle and can start an operation.
	READY
	// EXECUTING indicates a statement invocation is in flight.
	EXECUTING
	// STREAMING indicates a result stream is open and being read.
	STREAMING
	// BULKLOADING indicates a bulk load owns the connection.
	BULKLOADING
	// CLOSED indicates the session has been torn down. Terminal.
	CLOSED
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case CONNECTING:
		return "CONNECTING"
	case READY:
		return "READY"
	case EXECUTING:
		return "EXECUTING"
	case STREAMING:
		return "STREAMING"
	case BULKLOADING:
		return "BULKLOADING"
	case CLOSED:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StateTransition represents a change in session state with context.
//
// Standard Metadata Keys (conventions for consistency):
//   - reason: string - "user_initiated" | "error" | "fatal_message" | "stream_closed"
//   - operation: string - The operation that drove the transition
//   - server: string - Server identity from login
//
// These are conventions, not enforced. Custom metadata can be added as needed.
type StateTransition struct {
	// From is the previous state.
	From SessionState

	// To is the new current state.
	To SessionState

	// Timestamp is when the transition occurred.
	Timestamp time.Time

	// Error is the error that caused the transition (if any).
	Error error

	// Duration is how long the previous state was held.
	Duration time.Duration

	// Metadata contains additional context about the transition.
	// See StateTransition godoc for standard key conventions.
	Metadata map[string]interface{}
}

// StateChangeHandler is called when the session state changes.
type StateChangeHandler func(transition StateTransition)

// StateManager manages session state transitions and event handlers.
type StateManager struct {
	current        SessionState
	lastTransition time.Time
	handlers       []StateChangeHandler
	mu             sync.RWMutex
}

// NewStateManager creates a new state manager in CONNECTING state.
func NewStateManager() *StateManager {
	return &StateManager{
		current:        CONNECTING,
		lastTransition: time.Now(),
		handlers:       make([]StateChangeHandler, 0),
	}
}

// TransitionTo attempts to transition to a new state.
// Returns error if the transition is illegal.
//
// Legal transitions:
//   - CONNECTING → READY (login succeeded)
//   - CONNECTING → CLOSED (login failed)
//   - READY → EXECUTING | BULKLOADING | CLOSED
//   - EXECUTING → STREAMING (results pending) | READY | CLOSED
//   - STREAMING → EXECUTING | BULKLOADING (new operation) | READY | CLOSED
//   - BULKLOADING → READY | CLOSED
func (sm *StateManager) TransitionTo(newState SessionState, err error, metadata map[string]interface{}) error {
	sm.mu.Lock()

	if !legalTransition(sm.current, newState) {
		from := sm.current
		sm.mu.Unlock()
		return fmt.Errorf("illegal state transition: %s to %s", from, newState)
	}

	now := time.Now()
	transition := StateTransition{
		From:      sm.current,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.lastTransition),
		Metadata:  metadata,
	}

	sm.current = newState
	sm.lastTransition = now

	// Copy handlers and release the lock before calling them so a handler
	// can query the manager without deadlocking.
	handlers := make([]StateChangeHandler, len(sm.handlers))
	copy(handlers, sm.handlers)
	sm.mu.Unlock()

	for _, handler := range handlers {
		handler(transition)
	}

	return nil
}

// legalTransition checks if a state transition is allowed.
func legalTransition(from, to SessionState) bool {
	switch from {
	case CONNECTING:
		return to == READY || to == CLOSED
	case READY:
		return to == EXECUTING || to == BULKLOADING || to == CLOSED
	case EXECUTING:
		return to == STREAMING || to == READY || to == CLOSED
	case STREAMING:
		return to == EXECUTING || to == BULKLOADING || to == READY || to == CLOSED
	case BULKLOADING:
		return to == READY || to == CLOSED
	default:
		return false
	}
}

// OnStateChange registers a handler to be called on state transitions.
func (sm *StateManager) OnStateChange(handler StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

// GetState returns the current session state (thread-safe).
func (sm *StateManager) GetState() SessionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// TimeInState returns how long the current state has been held.
func (sm *StateManager) TimeInState() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return time.Since(sm.lastTransition)
}
