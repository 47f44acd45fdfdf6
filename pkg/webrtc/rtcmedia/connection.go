package rtcmedia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

var (
	ErrConnectionClosed = errors.New("peer connection is closed")
	ErrGatheringTimeout = errors.New("ICE gathering timeout")
)

// StateHandler 连接状态回调
type StateHandler func(sessionID string, state webrtc.PeerConnectionState)

// TrackStats 接收轨道统计
type TrackStats struct {
	Codec   string    `json:"codec"`
	Packets uint64    `json:"packets"`
	Bytes   uint64    `json:"bytes"`
	LastRTP time.Time `json:"last_rtp"`
}

// Connection 单个会话的 WebRTC 连接
type Connection struct {
	sessionID string
	opt       *config.WebRTCOption
	pc        *webrtc.PeerConnection
	mu        sync.RWMutex

	onState  StateHandler
	onPacket func(sessionID string)

	codec   atomic.Value // string
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastRTP atomic.Int64
	readers sync.WaitGroup
}

// NewConnection 创建新的连接
func NewConnection(api *webrtc.API, sessionID string, opt *config.WebRTCOption, onState StateHandler, onPacket func(string)) (*Connection, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: opt.ICEServers})
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Error("Failed to create peer connection")
		return nil, err
	}
	// 只接收车内摄像头视频
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	c := &Connection{
		sessionID: sessionID,
		opt:       opt,
		pc:        pc,
		onState:   onState,
		onPacket:  onPacket,
	}
	c.codec.Store("")
	c.registerEventHandlers()
	return c, nil
}

func (c *Connection) registerEventHandlers() {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("Connection state changed",
			logger.SessionField(c.sessionID),
			zap.String("state", state.String()),
		)
		if c.onState != nil {
			c.onState(c.sessionID, state)
		}
	})
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		c.codec.Store(CodecName(track.Codec().MimeType))
		logger.Info("Video track received",
			logger.SessionField(c.sessionID),
			zap.String("codec", track.Codec().MimeType),
			zap.Uint32("ssrc", uint32(track.SSRC())),
		)
		c.readers.Add(1)
		go c.readTrack(track)
	})
}

// readTrack 持续读取 RTP 包，直到轨道结束
func (c *Connection) readTrack(track *webrtc.TrackRemote) {
	defer c.readers.Done()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.WithError(err).WithField("session", c.sessionID).Debug("webrtc: video track read ended")
			}
			return
		}
		c.packets.Add(1)
		c.bytes.Add(uint64(len(pkt.Payload)))
		c.lastRTP.Store(time.Now().UnixNano())
		if c.onPacket != nil {
			c.onPacket(c.sessionID)
		}
	}
}

// Answer 应用远端 offer 并返回包含全部候选者的本地 answer
func (c *Connection) Answer(ctx context.Context, offerSDP string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		return "", ErrConnectionClosed
	}

	offer := parseSessionDescription(offerSDP, webrtc.SDPTypeOffer)
	logSDP(c.sessionID, offer)
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to create answer")
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		logrus.WithError(err).Error("Failed to set local description")
		return "", err
	}

	// 等待 ICE gathering 完成
	timer := time.NewTimer(c.opt.GetICETimeout())
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return "", ErrGatheringTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil")
	}
	logAnswerGenerated(c.sessionID, local.SDP)
	return local.SDP, nil
}

// ApplyAnswer 应用客户端 answer（重连时使用）
func (c *Connection) ApplyAnswer(answerSDP string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc == nil {
		return ErrConnectionClosed
	}
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		// 服务端没有待定的 offer，连接由 ICE 自行恢复
		logger.Debug("answer without pending local offer",
			logger.SessionField(c.sessionID),
			zap.String("signalingState", c.pc.SignalingState().String()),
		)
		return nil
	}
	return c.pc.SetRemoteDescription(parseSessionDescription(answerSDP, webrtc.SDPTypeAnswer))
}

// AddICECandidate 添加ICE候选者
func (c *Connection) AddICECandidate(candidate protocol.ICECandidateMessage) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pc == nil {
		return ErrConnectionClosed
	}
	if candidate.Candidate == "" {
		// end-of-candidates
		return nil
	}
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

// GetState 获取连接状态
func (c *Connection) GetState() webrtc.PeerConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pc == nil {
		return webrtc.PeerConnectionStateClosed
	}
	return c.pc.ConnectionState()
}

// Stats 获取接收统计
func (c *Connection) Stats() TrackStats {
	st := TrackStats{
		Codec:   c.codec.Load().(string),
		Packets: c.packets.Load(),
		Bytes:   c.bytes.Load(),
	}
	if ns := c.lastRTP.Load(); ns > 0 {
		st.LastRTP = time.Unix(0, ns)
	}
	return st
}

// Close 关闭连接
func (c *Connection) Close() error {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.mu.Unlock()
	if pc == nil {
		return nil
	}
	err := pc.Close()
	c.readers.Wait()
	return err
}
