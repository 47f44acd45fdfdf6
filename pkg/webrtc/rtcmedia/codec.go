package rtcmedia

import (
	"fmt"
	"strings"

	"github.com/LingByte/LingGuard/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
)

// GetCodecParameters 根据编解码器名称获取视频参数
func GetCodecParameters(codecName string) (webrtc.RTPCodecParameters, error) {
	switch strings.ToLower(codecName) {
	case constants.CodecH264:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 96,
		}, nil
	case constants.CodecVP8:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        97,
		}, nil
	default:
		return webrtc.RTPCodecParameters{}, fmt.Errorf("unsupported video codec %q", codecName)
	}
}

// NewMediaEngine 创建只接收视频的媒体引擎
func NewMediaEngine(codecs []string) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, name := range codecs {
		params, err := GetCodecParameters(name)
		if err != nil {
			return nil, err
		}
		if err := m.RegisterCodec(params, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CodecName 从 MIME 类型获取编解码器名称
func CodecName(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case strings.ToLower(webrtc.MimeTypeH264):
		return constants.CodecH264
	case strings.ToLower(webrtc.MimeTypeVP8):
		return constants.CodecVP8
	}
	return strings.ToLower(mimeType)
}
