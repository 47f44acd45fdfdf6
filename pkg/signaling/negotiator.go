package signaling

import (
	"context"

	"github.com/LingByte/LingGuard/pkg/protocol"
)

// Negotiator owns the transport side of a session's negotiation. The engine
// only calls it after a payload passed validation.
type Negotiator interface {
	// Offer applies the remote offer and returns the local answer.
	Offer(ctx context.Context, sessionID, offerSDP string) (string, error)
	// Answer applies a client answer, including reconnect answers.
	Answer(ctx context.Context, sessionID, answerSDP string) error
	AddCandidate(ctx context.Context, sessionID string, c protocol.ICECandidateMessage) error
	Close(sessionID string) error
}

// EchoNegotiator accepts every validated payload and answers an offer with
// the offer itself. It is used when no media transport is configured.
type EchoNegotiator struct{}

func (EchoNegotiator) Offer(_ context.Context, _ string, offerSDP string) (string, error) {
	return offerSDP, nil
}

func (EchoNegotiator) Answer(context.Context, string, string) error { return nil }

func (EchoNegotiator) AddCandidate(context.Context, string, protocol.ICECandidateMessage) error {
	return nil
}

func (EchoNegotiator) Close(string) error { return nil }
