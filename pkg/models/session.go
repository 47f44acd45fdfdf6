package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrStateChanged      = errors.New("state changed concurrently")
)

// DeliveryResult is the outcome of handing an alert to a session.
type DeliveryResult int

const (
	Delivered DeliveryResult = iota
	DeliveryClosed
	DeliveryFull
	DeliveryStale
)

func (d DeliveryResult) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case DeliveryClosed:
		return "session_closed"
	case DeliveryFull:
		return "buffer_full"
	case DeliveryStale:
		return "stale"
	}
	return "unknown"
}

// Session is one vehicle's monitoring session. It is owned by the registry;
// every other component holds it by reference only.
type Session struct {
	ID        string
	VehicleID string
	CreatedAt time.Time

	mu           sync.RWMutex
	state        SignalingState
	stateSince   time.Time
	lastActivity time.Time
	closeReason  CloseReason
	lastAlertAt  time.Time

	alerts chan *Alert
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates a session in StateNew. alertBuffer bounds the outbound
// alert channel.
func NewSession(id, vehicleID string, alertBuffer int) *Session {
	if alertBuffer <= 0 {
		alertBuffer = 1
	}
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           id,
		VehicleID:    vehicleID,
		CreatedAt:    now,
		state:        StateNew,
		stateSince:   now,
		lastActivity: now,
		alerts:       make(chan *Alert, alertBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// State returns the current signaling state
func (s *Session) State() SignalingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// StateSince returns when the current state was entered
func (s *Session) StateSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateSince
}

// Transition moves the session along a legal edge and returns the previous state.
func (s *Session) Transition(to SignalingState) (SignalingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

// TransitionFrom moves from -> to only if the session is still in from.
func (s *Session) TransitionFrom(from, to SignalingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: expected %s, have %s", ErrStateChanged, from, s.state)
	}
	_, err := s.transitionLocked(to)
	return err
}

func (s *Session) transitionLocked(to SignalingState) (SignalingState, error) {
	from := s.state
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	s.state = to
	s.stateSince = time.Now()
	return from, nil
}

// Touch records client activity
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the last client activity
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Close walks the legal edges to StateClosed, cancels the session context and
// closes the alert channel. It returns the states visited, or nil when the
// session was already closed.
func (s *Session) Close(reason CloseReason) []SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	path := PathToClosed(s.state)
	for _, next := range path {
		if _, err := s.transitionLocked(next); err != nil {
			// PathToClosed only yields legal edges
			panic(err)
		}
	}
	s.closeReason = reason
	s.cancel()
	close(s.alerts)
	return path
}

// Closed reports whether the session reached StateClosed
func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

// CloseReason returns the reason passed to Close
func (s *Session) CloseReason() CloseReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeReason
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Alerts is the outbound alert stream. It is closed when the session closes.
func (s *Session) Alerts() <-chan *Alert {
	return s.alerts
}

// Deliver hands an alert to the outbound channel without blocking. Alerts
// older than the last delivered one are refused so the stream stays in
// non-decreasing timestamp order.
func (s *Session) Deliver(a *Alert) DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return DeliveryClosed
	}
	if a.Timestamp.Before(s.lastAlertAt) {
		return DeliveryStale
	}
	select {
	case s.alerts <- a:
		s.lastAlertAt = a.Timestamp
		return Delivered
	default:
		return DeliveryFull
	}
}

// Info is a copyable view of a session
type Info struct {
	ID           string         `json:"id"`
	VehicleID    string         `json:"vehicle_id"`
	State        SignalingState `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	StateSince   time.Time      `json:"state_since"`
	LastActivity time.Time      `json:"last_activity"`
	CloseReason  CloseReason    `json:"close_reason,omitempty"`
}

// Snapshot returns the session's current Info
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:           s.ID,
		VehicleID:    s.VehicleID,
		State:        s.state,
		CreatedAt:    s.CreatedAt,
		StateSince:   s.stateSince,
		LastActivity: s.lastActivity,
		CloseReason:  s.closeReason,
	}
}
