// Package session tracks one logical VPN session at a time as an explicit
// state machine. Transitions are a pure function of the current state and
// the next event; the Machine is mutated only by its single owner and all
// readers see immutable snapshots.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpn-broker/common"
)

// State is the lifecycle state of a session.
type State int

const (
	// Disconnected is the initial and normal terminal state.
	Disconnected State = iota
	// Connecting indicates the tunnel is being negotiated.
	Connecting
	// Authenticating indicates credentials were requested.
	Authenticating
	// Connected indicates an established tunnel.
	Connected
	// Disconnecting indicates an orderly shutdown in progress.
	Disconnecting
	// Error is a terminal failure state carrying a message.
	Error
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting..."
	case Authenticating:
		return "Authenticating..."
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting..."
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return s == Disconnected || s == Error
}

// EventType drives state transitions.
type EventType int

const (
	// ConnectRequested starts a new session.
	ConnectRequested EventType = iota
	// AuthPrompt is the client asking for credentials.
	AuthPrompt
	// CredentialsSupplied re-enters connecting with fresh credentials.
	CredentialsSupplied
	// AuthFailed is a server-side credential rejection.
	AuthFailed
	// Established means the tunnel is up.
	Established
	// DisconnectRequested is a user-initiated shutdown.
	DisconnectRequested
	// Exited means the client process ended during an orderly shutdown.
	Exited
	// Failed is an unexpected process exit or launch failure.
	Failed
)

// String returns a human-readable event name.
func (e EventType) String() string {
	switch e {
	case ConnectRequested:
		return "ConnectRequested"
	case AuthPrompt:
		return "AuthPrompt"
	case CredentialsSupplied:
		return "CredentialsSupplied"
	case AuthFailed:
		return "AuthFailed"
	case Established:
		return "Established"
	case DisconnectRequested:
		return "DisconnectRequested"
	case Exited:
		return "Exited"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Event is a state machine input.
type Event struct {
	Type EventType
	// Message carries diagnostic text for Failed and Exited events.
	Message string
}

// Next is the transition table. It returns the successor state and
// whether the (state, event) pair is valid. Invalid pairs are rejected,
// never applied.
func Next(s State, e EventType) (State, bool) {
	switch s {
	case Disconnected:
		if e == ConnectRequested {
			return Connecting, true
		}
	case Connecting:
		switch e {
		case AuthPrompt:
			return Authenticating, true
		case AuthFailed:
			return Authenticating, true
		case Established:
			return Connected, true
		case DisconnectRequested:
			return Disconnecting, true
		case Failed:
			return Error, true
		}
	case Authenticating:
		switch e {
		case CredentialsSupplied:
			return Connecting, true
		case AuthFailed:
			return Authenticating, true
		case DisconnectRequested:
			return Disconnecting, true
		case Failed:
			return Error, true
		}
	case Connected:
		switch e {
		case DisconnectRequested:
			return Disconnecting, true
		case Failed:
			return Error, true
		}
	case Disconnecting:
		switch e {
		case Exited:
			return Disconnected, true
		case Failed:
			return Error, true
		}
	}
	return s, false
}

// Stats is a point-in-time traffic snapshot for a session.
type Stats struct {
	BytesIn  uint64
	BytesOut uint64
	Duration time.Duration
}

// Session is an immutable snapshot of the tracked session.
type Session struct {
	ID          string
	ProfileID   string
	ProfileName string
	State       State
	StartedAt   time.Time
	LastError   string
	Stats       Stats
}

// Machine owns the single tracked session. All mutation goes through
// Begin and Apply, called from one owner goroutine; Snapshot may be
// called from anywhere.
type Machine struct {
	mu         sync.RWMutex
	current    Session
	retryLimit int
	authFails  int
}

// NewMachine creates a Machine with the given auth retry bound.
func NewMachine(retryLimit int) *Machine {
	if retryLimit <= 0 {
		retryLimit = common.AuthRetryLimit
	}
	return &Machine{
		current:    Session{State: Disconnected},
		retryLimit: retryLimit,
	}
}

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Begin starts tracking a new session for the given profile. The previous
// session, if terminal, is superseded rather than mutated; a live session
// is rejected with ErrAlreadyRunning.
func (m *Machine) Begin(sessionID, profileID, profileName string) (Session, error) {
	if profileID == "" {
		return m.Snapshot(), common.ErrNoProfileSelected
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current.State.Terminal() {
		return m.current, common.ErrAlreadyRunning
	}

	m.current = Session{
		ID:          sessionID,
		ProfileID:   profileID,
		ProfileName: profileName,
		State:       Connecting,
		StartedAt:   time.Now(),
	}
	m.authFails = 0
	return m.current, nil
}

// Apply feeds one event into the machine. It returns the resulting
// snapshot and whether the event caused a transition. Invalid events for
// the current state are a no-op.
//
// AuthFailed events are counted: once the retry bound is reached the
// session resolves to Error instead of re-prompting.
func (m *Machine) Apply(ev Event) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := Next(m.current.State, ev.Type)
	if !ok {
		return m.current, false
	}

	if ev.Type == AuthFailed {
		m.authFails++
		if m.authFails >= m.retryLimit {
			m.enter(Error, fmt.Sprintf("authentication failed after %d attempts", m.authFails))
			return m.current, true
		}
	}

	msg := ""
	if next == Error {
		msg = ev.Message
		if msg == "" {
			msg = "session failed unexpectedly"
		}
	}
	m.enter(next, msg)
	return m.current, true
}

// RecordStats folds a traffic counter update into the session snapshot.
// Zero values leave the existing counter untouched, so byte-in and
// byte-out lines can arrive independently.
func (m *Machine) RecordStats(bytesIn, bytesOut uint64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bytesIn > 0 {
		m.current.Stats.BytesIn = bytesIn
	}
	if bytesOut > 0 {
		m.current.Stats.BytesOut = bytesOut
	}
	if !m.current.StartedAt.IsZero() {
		m.current.Stats.Duration = time.Since(m.current.StartedAt)
	}
	return m.current
}

// enter moves to a state. Caller holds the lock.
func (m *Machine) enter(s State, errMsg string) {
	m.current.State = s
	if errMsg != "" {
		m.current.LastError = errMsg
	}
	if s.Terminal() && !m.current.StartedAt.IsZero() {
		m.current.Stats.Duration = time.Since(m.current.StartedAt)
	}
}
