package models

import "fmt"

// SignalingState is the negotiation state of a session.
type SignalingState int

const (
	StateNew SignalingState = iota
	StateOffered
	StateAnswered
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

var stateNames = map[SignalingState]string{
	StateNew:          "new",
	StateOffered:      "offered",
	StateAnswered:     "answered",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
	StateClosed:       "closed",
}

func (s SignalingState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets states show up by name in JSON payloads.
func (s SignalingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SignalingState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown signaling state %q", text)
}

// legalEdges lists every transition the state machine allows.
var legalEdges = map[SignalingState][]SignalingState{
	StateNew:          {StateOffered, StateFailed},
	StateOffered:      {StateAnswered, StateFailed},
	StateAnswered:     {StateConnected, StateFailed},
	StateConnected:    {StateDisconnected, StateFailed},
	StateDisconnected: {StateAnswered, StateFailed, StateClosed},
	StateFailed:       {StateClosed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to SignalingState) bool {
	for _, s := range legalEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PathToClosed returns the legal edges walked to close a session from s,
// excluding s itself. Closed yields nil.
func PathToClosed(s SignalingState) []SignalingState {
	switch s {
	case StateClosed:
		return nil
	case StateConnected:
		return []SignalingState{StateDisconnected, StateClosed}
	case StateDisconnected, StateFailed:
		return []SignalingState{StateClosed}
	default:
		return []SignalingState{StateFailed, StateClosed}
	}
}

// CloseReason is the closure reason code recorded on a session.
type CloseReason string

const (
	CloseReasonNone               CloseReason = ""
	CloseReasonClientBye          CloseReason = "CLIENT_BYE"
	CloseReasonNegotiationTimeout CloseReason = "NEGOTIATION_TIMEOUT"
	CloseReasonSignalingError     CloseReason = "SIGNALING_ERROR"
	CloseReasonReconnectExpired   CloseReason = "RECONNECT_EXPIRED"
	CloseReasonTransportError     CloseReason = "TRANSPORT_ERROR"
	CloseReasonShutdown           CloseReason = "SHUTDOWN"
	CloseReasonRequested          CloseReason = "REQUESTED"
)
