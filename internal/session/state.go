package session

import (
	"sync"
	"time"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateBusy       State = "busy"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// String returns the string representation of a State.
func (s State) String() string { return string(s) }

// IsValid returns true if the state is one of the defined constants.
func (s State) IsValid() bool {
	switch s {
	case StateConnecting, StateReady, StateBusy, StateClosing, StateClosed, StateError:
		return true
	default:
		return false
	}
}

// Transition records a state change for debugging.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateCallback is called when a session's state changes. The callback
// receives the session identifier, old state, and new state.
type StateCallback func(id string, from, to State)

// maxTransitionsPerSession limits the stored transition history per session.
const maxTransitionsPerSession = 50

// stateTracker records per-session states and transition history, and fires
// registered callbacks on change. Callbacks run outside the tracker lock.
type stateTracker struct {
	mu          sync.RWMutex
	states      map[string]State
	transitions map[string][]Transition
	callbacks   []StateCallback
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		states:      make(map[string]State),
		transitions: make(map[string][]Transition),
	}
}

// get returns the current state for id, StateClosed when unknown.
func (t *stateTracker) get(id string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[id]
	if !ok {
		return StateClosed
	}
	return state
}

// set updates the state for id, recording the transition and firing
// callbacks if the state actually changed. Returns the previous state.
func (t *stateTracker) set(id string, newState State, reason string) State {
	t.mu.Lock()
	oldState, ok := t.states[id]
	if !ok {
		oldState = StateClosed
	}
	if oldState == newState {
		t.mu.Unlock()
		return oldState
	}
	t.states[id] = newState

	trans := t.transitions[id]
	trans = append(trans, Transition{From: oldState, To: newState, Reason: reason, Timestamp: time.Now()})
	if len(trans) > maxTransitionsPerSession {
		trans = trans[len(trans)-maxTransitionsPerSession:]
	}
	t.transitions[id] = trans

	cbs := make([]StateCallback, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(id, oldState, newState)
	}
	return oldState
}

// clear removes state and transition history for id.
func (t *stateTracker) clear(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, id)
	delete(t.transitions, id)
}

// history returns a copy of the transition history for id.
func (t *stateTracker) history(id string) []Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	trans := t.transitions[id]
	out := make([]Transition, len(trans))
	copy(out, trans)
	return out
}

// onChange registers a callback fired on every state change.
func (t *stateTracker) onChange(cb StateCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}
