package rtcmedia

import (
	"context"
	"errors"
	"sync"

	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/webrtc/rtcmedia/config"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrNoConnection = errors.New("no peer connection for session")

// RTCServer manages one receive-only peer connection per session and
// implements the signaling negotiator on top of pion.
type RTCServer struct {
	api      *webrtc.API
	opt      *config.WebRTCOption
	clients  map[string]*Connection
	mutex    sync.RWMutex
	onState  StateHandler
	onPacket func(sessionID string)
	logger   *zap.Logger
}

// NewRTCServer creates a new connection manager
func NewRTCServer(opt *config.WebRTCOption, log *zap.Logger) (*RTCServer, error) {
	if opt == nil {
		opt = config.DefaultWebRTCOption()
	}
	m, err := NewMediaEngine(opt.GetCodecs())
	if err != nil {
		return nil, err
	}
	return &RTCServer{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		opt:     opt,
		clients: make(map[string]*Connection),
		logger:  logger.Component(log, "rtc"),
	}, nil
}

// OnStateChange sets the connection state callback. Set before the first
// Offer.
func (m *RTCServer) OnStateChange(fn StateHandler) {
	m.onState = fn
}

// OnPacket sets a callback invoked for every received RTP packet
func (m *RTCServer) OnPacket(fn func(sessionID string)) {
	m.onPacket = fn
}

// Offer answers a client offer. A repeated offer replaces the session's
// previous connection.
func (m *RTCServer) Offer(ctx context.Context, sessionID, offerSDP string) (string, error) {
	var conn *Connection
	// a replaced connection must not report state for the session
	onState := func(id string, state webrtc.PeerConnectionState) {
		if cur, ok := m.GetClient(id); ok && cur == conn && m.onState != nil {
			m.onState(id, state)
		}
	}
	conn, err := NewConnection(m.api, sessionID, m.opt, onState, m.onPacket)
	if err != nil {
		return "", err
	}
	answer, err := conn.Answer(ctx, offerSDP)
	if err != nil {
		_ = conn.Close()
		return "", err
	}

	m.mutex.Lock()
	prev := m.clients[sessionID]
	m.clients[sessionID] = conn
	m.mutex.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return answer, nil
}

// Answer applies a client answer to the session's connection
func (m *RTCServer) Answer(_ context.Context, sessionID, answerSDP string) error {
	conn, ok := m.GetClient(sessionID)
	if !ok {
		return ErrNoConnection
	}
	return conn.ApplyAnswer(answerSDP)
}

// AddCandidate adds a trickled remote candidate
func (m *RTCServer) AddCandidate(_ context.Context, sessionID string, c protocol.ICECandidateMessage) error {
	conn, ok := m.GetClient(sessionID)
	if !ok {
		return ErrNoConnection
	}
	return conn.AddICECandidate(c)
}

// Close tears down the session's connection. Unknown sessions are ignored.
func (m *RTCServer) Close(sessionID string) error {
	m.mutex.Lock()
	conn, ok := m.clients[sessionID]
	delete(m.clients, sessionID)
	m.mutex.Unlock()
	if !ok {
		return nil
	}
	m.logger.Debug("peer connection closed", logger.SessionField(sessionID))
	return conn.Close()
}

// GetClient retrieves a connection by session ID
func (m *RTCServer) GetClient(sessionID string) (*Connection, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	conn, exists := m.clients[sessionID]
	return conn, exists
}

// Stats returns receive statistics for a session
func (m *RTCServer) Stats(sessionID string) (TrackStats, bool) {
	conn, ok := m.GetClient(sessionID)
	if !ok {
		return TrackStats{}, false
	}
	return conn.Stats(), true
}

// Len returns the number of live connections
func (m *RTCServer) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// CloseAll closes every connection
func (m *RTCServer) CloseAll() {
	m.mutex.Lock()
	conns := m.clients
	m.clients = make(map[string]*Connection)
	m.mutex.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
