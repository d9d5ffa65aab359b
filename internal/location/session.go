package location

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrResolutionInFlight is returned when a session is asked to resolve while a
// previous resolution has not finished.
var ErrResolutionInFlight = errors.New("location resolution already in flight")

// State is the resolution lifecycle of a Session.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session owns the last resolved coordinates and address of one visitor. It is
// passed explicitly to everything that needs the visitor's location.
type Session struct {
	ID string

	mu      sync.Mutex
	state   State
	coords  *Coordinates
	address *NormalizedAddress
}

// NewSession creates an idle session with a fresh id.
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Coordinates returns the last resolved coordinates, if any.
func (s *Session) Coordinates() (Coordinates, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coords == nil {
		return Coordinates{}, false
	}
	return *s.coords, true
}

// Address returns the last resolved address, if any.
func (s *Session) Address() (NormalizedAddress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.address == nil {
		return NormalizedAddress{}, false
	}
	return *s.address, true
}

// begin moves the session to Resolving and clears held data so nothing from a
// previous attempt leaks into this one.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateResolving {
		return ErrResolutionInFlight
	}
	s.state = StateResolving
	s.coords = nil
	s.address = nil
	return nil
}

func (s *Session) resolved(c Coordinates, addr *NormalizedAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateResolved
	s.coords = &c
	if addr != nil {
		a := *addr
		s.address = &a
	}
}

func (s *Session) failed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
}

func (s *Session) setAddress(addr NormalizedAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = &addr
}
