package stt

import (
	"fmt"
	"sync"
)

// State is the upstream adapter lifecycle state
type State int

const (
	StateConnecting State = iota
	StateConfigured
	StateStreaming
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are possible
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateErrored
}

// isValidTransition enforces Connecting -> Configured -> Streaming -> Closed,
// with Errored reachable from every non-terminal state.
func isValidTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StateErrored, StateClosed:
		return true
	case StateConfigured:
		return from == StateConnecting
	case StateStreaming:
		return from == StateConfigured
	default:
		return false
	}
}

// stateMachine is embedded by adapters to track their lifecycle
type stateMachine struct {
	mu    sync.RWMutex
	state State
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition applies a state change, returning an error for invalid edges
func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == to {
		return nil
	}
	if !isValidTransition(m.state, to) {
		return fmt.Errorf("invalid transition: %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}
