package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageKind is the kind of a signaling message
type MessageKind string

const (
	KindOffer     MessageKind = "offer"
	KindAnswer    MessageKind = "answer"
	KindCandidate MessageKind = "candidate"
	KindConnected MessageKind = "connected"
	KindBye       MessageKind = "bye"
)

// Valid reports whether k is a known signaling kind
func (k MessageKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindConnected, KindBye:
		return true
	}
	return false
}

// SignalingMessage is one negotiation message from a client.
type SignalingMessage struct {
	SessionID string      `json:"session_id"`
	Kind      MessageKind `json:"kind"`
	// Payload is opaque to the core apart from well-formedness checks.
	Payload string `json:"payload,omitempty"`
}

// SignalingReply is returned for every accepted message
type SignalingReply struct {
	SessionID string      `json:"session_id"`
	Kind      MessageKind `json:"kind"`
	State     string      `json:"state"`
	// Payload carries the local answer after an offer.
	Payload string `json:"payload,omitempty"`
}

// ICECandidateMessage represents an ICE candidate message
type ICECandidateMessage struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

// SDPMessage represents an SDP offer/answer message
type SDPMessage struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// Envelope is the websocket frame exchanged with the client. Type is a
// signaling kind or one of heartbeat, alert, error.
type Envelope struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   string      `json:"payload,omitempty"`
	State     string      `json:"state,omitempty"`
	Code      string      `json:"code,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Encode marshals the envelope
func (e *Envelope) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}

// DecodeEnvelope parses a websocket frame
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}

// SignalingMessage converts an envelope of a signaling kind; ok is false for
// non-signaling envelopes.
func (e *Envelope) SignalingMessage() (SignalingMessage, bool) {
	kind := MessageKind(e.Type)
	if !kind.Valid() {
		return SignalingMessage{}, false
	}
	return SignalingMessage{SessionID: e.SessionID, Kind: kind, Payload: e.Payload}, true
}

// UnwrapSDP accepts either a raw SDP or a JSON {"type","sdp"} body and
// returns the SDP text.
func UnwrapSDP(payload string) string {
	var msg SDPMessage
	if err := sonic.UnmarshalString(payload, &msg); err == nil && msg.SDP != "" {
		return msg.SDP
	}
	return payload
}

// UnwrapCandidate accepts either a raw candidate line or a JSON
// ICECandidateMessage.
func UnwrapCandidate(payload string) ICECandidateMessage {
	var msg ICECandidateMessage
	if err := sonic.UnmarshalString(payload, &msg); err == nil && msg.Candidate != "" {
		return msg
	}
	return ICECandidateMessage{Candidate: payload}
}
