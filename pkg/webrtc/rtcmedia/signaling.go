package rtcmedia

import (
	"encoding/json"
	"strings"

	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// parseSessionDescription 解析远端描述
// 支持两种格式：
// 1. JSON 格式的 SessionDescription: {"type":"offer","sdp":"v=0\r\n..."}
// 2. 纯 SDP 字符串: "v=0\r\n..."
func parseSessionDescription(sdp string, fallback webrtc.SDPType) webrtc.SessionDescription {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(sdp), &desc); err == nil && desc.SDP != "" {
		return desc
	}
	return webrtc.SessionDescription{Type: fallback, SDP: sdp}
}

// logSDP 记录SDP信息
func logSDP(sessionID string, desc webrtc.SessionDescription) {
	if desc.SDP == "" {
		return
	}
	if !strings.Contains(desc.SDP, "m=video") {
		logger.Warn("[WebRTC] SDP does NOT contain video media line, OnTrack will NOT fire",
			logger.SessionField(sessionID))
	}

	// 打印 SDP 的前 300 个字符用于调试
	logger.Debug("[WebRTC] SDP preview",
		logger.SessionField(sessionID),
		zap.String("type", desc.Type.String()),
		zap.String("sdpPreview", preview(desc.SDP, 300)),
	)
}

// logAnswerGenerated 记录Answer生成日志
func logAnswerGenerated(sessionID, answer string) {
	logger.Info("[WebRTC] Answer generated",
		logger.SessionField(sessionID),
		zap.String("answer", preview(answer, 50)),
		zap.Int("candidateCount", strings.Count(answer, "a=candidate:")),
	)
}

func preview(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
