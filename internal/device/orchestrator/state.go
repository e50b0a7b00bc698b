package orchestrator

import (
	"fmt"
	"sync"

	"paircast/internal/core/domain"
)

// transitions is the allowed state graph. Disconnected is reachable from
// everywhere because stop and peer-loss can happen at any time.
var transitions = map[domain.ConnectionState][]domain.ConnectionState{
	domain.StateDisconnected: {domain.StateConnecting},
	domain.StateConnecting:   {domain.StateConnected, domain.StateFailed, domain.StateDisconnected},
	domain.StateConnected:    {domain.StateFailed, domain.StateDisconnected},
	domain.StateFailed:       {domain.StateDisconnected},
}

// StateMachine tracks the connection lifecycle of a single pairing
// attempt. Transitions outside the allowed graph are rejected, which
// keeps racing event handlers from resurrecting a torn-down connection.
type StateMachine struct {
	mu       sync.Mutex
	current  domain.ConnectionState
	onChange func(from, to domain.ConnectionState)
}

func NewStateMachine() *StateMachine {
	return &StateMachine{current: domain.StateDisconnected}
}

// OnChange registers the observer notified after every successful
// transition. A later registration replaces the earlier one.
func (m *StateMachine) OnChange(fn func(from, to domain.ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Current returns the present state.
func (m *StateMachine) Current() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo moves to the target state if the transition is allowed.
// Transitioning to the current state is a no-op and not an error.
func (m *StateMachine) TransitionTo(to domain.ConnectionState) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !allowed(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid connection state transition %s -> %s", from, to)
	}
	m.current = to
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return nil
}

func allowed(from, to domain.ConnectionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
