// Package bridge runs the duplex audio and control bridge between one
// telephony media stream and one speech-backend session.
package bridge

import (
	"fmt"
	"sync"
)

// State represents the lifecycle state of a bridged call.
type State int

const (
	// StateConnecting - backend session opening, identity resolving.
	StateConnecting State = iota
	// StateActive - both legs up, audio flowing.
	StateActive
	// StateDraining - one leg gone, waiting for the other loop to exit.
	StateDraining
	// StateClosed - teardown ran, terminal.
	StateClosed
	// StateFailed - backend session never came up, terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// Lifecycle manages the state machine for a single bridged call.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → ACTIVE → DRAINING → CLOSED
//	     │
//	     └── Fail() ──→ FAILED
//
// Rules:
//   - CONNECTING: either leg may come up (→ ACTIVE) or setup may fail
//   - ACTIVE: audio flows both ways; the first leg to drop moves to DRAINING
//   - DRAINING: the surviving loop finishes, then teardown closes
//   - CLOSED / FAILED: terminal, all transitions are no-ops
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsTerminal returns true once the call has fully ended.
func (l *Lifecycle) IsTerminal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Activate moves CONNECTING to ACTIVE. Returns false from any other state.
func (l *Lifecycle) Activate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateConnecting {
		return false
	}
	l.state = StateActive
	return true
}

// Drain records that one leg has dropped. Returns true on the first call
// from a non-terminal state, so the caller knows it is the one that should
// nudge the peer leg shut.
func (l *Lifecycle) Drain() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() || l.state == StateDraining {
		return false
	}
	l.state = StateDraining
	return true
}

// Close transitions to CLOSED. Can be called from any state. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateFailed {
		return
	}
	l.state = StateClosed
}

// Fail marks a call whose backend session never came up. Returns false if
// the call already reached a terminal state.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}
