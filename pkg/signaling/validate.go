package signaling

import (
	"fmt"
	"strings"

	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/utils"
	"github.com/pion/ice/v2"
	"github.com/pion/sdp/v3"
)

// parseSDP checks the payload is a well-formed session description.
func parseSDP(payload string) (*sdp.SessionDescription, string, error) {
	raw := protocol.UnwrapSDP(payload)
	if strings.TrimSpace(raw) == "" {
		return nil, "", fmt.Errorf("%w: empty sdp", ErrMalformedPayload)
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &desc, raw, nil
}

// ValidateOffer requires a well-formed SDP with at least one video section.
func ValidateOffer(payload string) (string, error) {
	desc, raw, err := parseSDP(payload)
	if err != nil {
		return "", err
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "video" {
			return raw, nil
		}
	}
	return "", fmt.Errorf("%w: offer has no video section", ErrMalformedPayload)
}

// ValidateAnswer requires a well-formed SDP.
func ValidateAnswer(payload string) (string, error) {
	_, raw, err := parseSDP(payload)
	return raw, err
}

// ValidateCandidate parses the candidate line. An empty candidate marks end
// of gathering and is accepted.
func ValidateCandidate(payload string) (protocol.ICECandidateMessage, error) {
	msg := protocol.UnwrapCandidate(payload)
	line := utils.TrimCandidate(msg.Candidate)
	if line == "" {
		return msg, nil
	}
	if _, err := ice.UnmarshalCandidate(line); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return msg, nil
}
