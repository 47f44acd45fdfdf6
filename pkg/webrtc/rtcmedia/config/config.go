package config

import (
	"fmt"
	"time"

	"github.com/LingByte/LingGuard/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
)

// WebRTCOption WebRTC Config options
type WebRTCOption struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"` // ICE servers
	StreamID   string             `json:"streamId"`   // stream ID
	ICETimeout time.Duration      `json:"iceTimeout"` // ICE gathering timeout
	Codecs     []string           `json:"codecs"`     // accepted video codecs, preferred first
}

func DefaultWebRTCOption(codecs ...string) *WebRTCOption {
	if len(codecs) == 0 {
		codecs = []string{constants.CodecH264, constants.CodecVP8}
	}
	return &WebRTCOption{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{
					"stun:stun.l.google.com:19302",
					"stun:stun1.l.google.com:19302",
				},
			},
		},
		StreamID:   constants.DefaultStreamID,
		ICETimeout: constants.DefaultICETimeout,
		Codecs:     codecs,
	}
}

// GetCodecs get accepted codecs
func (wts *WebRTCOption) GetCodecs() []string {
	if len(wts.Codecs) == 0 {
		return []string{constants.DefaultCodec}
	}
	return wts.Codecs
}

// GetStreamID get stream ID
func (wts *WebRTCOption) GetStreamID() string {
	if wts.StreamID == "" {
		return constants.DefaultStreamID
	}
	return wts.StreamID
}

// GetICETimeout get ICE timeout
func (wts *WebRTCOption) GetICETimeout() time.Duration {
	if wts.ICETimeout == 0 {
		return constants.DefaultICETimeout
	}
	return wts.ICETimeout
}

// String config to string
func (wts WebRTCOption) String() string {
	return fmt.Sprintf("WebRTCOption{ICEServers: %d, StreamID: %s, ICETimeout: %v, Codecs: %v}",
		len(wts.ICEServers), wts.StreamID, wts.ICETimeout, wts.Codecs)
}
