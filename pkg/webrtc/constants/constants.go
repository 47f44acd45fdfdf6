package constants

import (
	"time"
)

const (
	DefaultICETimeout = 10 * time.Second
	DefaultStreamID   = "lingguard-cabin"
	DefaultCodec      = CodecH264
)

const (
	CodecH264 = "h264"
	CodecVP8  = "vp8"
)

// 信令消息类型
const (
	MESSAGE_OFFER     = "offer"
	MESSAGE_ANSWER    = "answer"
	MESSAGE_CANDIDATE = "candidate"
	MESSAGE_CONNECTED = "connected"
	MESSAGE_BYE       = "bye"
	MESSAGE_HEARTBEAT = "heartbeat"
	MESSAGE_ALERT     = "alert"
	MESSAGE_ERROR     = "error"
	MESSAGE_STATE     = "state"
)
