package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/metrics"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"go.uber.org/zap"
)

// Config holds signaling configuration
type Config struct {
	NegotiationTimeout time.Duration // Offered until Connected
	ReconnectGrace     time.Duration // How long a Disconnected session may come back
}

// TerminalFunc is called when a session must be closed. The engine never
// holds a lock while calling it.
type TerminalFunc func(s *models.Session, reason models.CloseReason)

// negotiation is the engine's per-session bookkeeping.
type negotiation struct {
	mu        sync.Mutex
	session   *models.Session
	offeredAt time.Time
	deadline  *time.Timer
	grace     *time.Timer
	expired   bool
	remoteSDP string
	localSDP  string
}

func (n *negotiation) stopTimers() {
	if n.deadline != nil {
		n.deadline.Stop()
		n.deadline = nil
	}
	if n.grace != nil {
		n.grace.Stop()
		n.grace = nil
	}
}

// Engine drives each session through New, Offered, Answered, Connected,
// Disconnected, Failed and Closed. Undefined transitions are refused without
// touching the session; malformed payloads fail it.
type Engine struct {
	mu           sync.Mutex
	negotiations map[string]*negotiation

	config     Config
	negotiator Negotiator
	onTerminal TerminalFunc
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewEngine creates a signaling engine. A nil negotiator validates payloads only.
func NewEngine(config Config, negotiator Negotiator, m *metrics.Metrics, log *zap.Logger) *Engine {
	if config.NegotiationTimeout <= 0 {
		config.NegotiationTimeout = constants.DefaultNegotiationTimeout
	}
	if config.ReconnectGrace <= 0 {
		config.ReconnectGrace = constants.DefaultReconnectGrace
	}
	if negotiator == nil {
		negotiator = EchoNegotiator{}
	}
	return &Engine{
		negotiations: make(map[string]*negotiation),
		config:       config,
		negotiator:   negotiator,
		metrics:      m,
		logger:       logger.Component(log, "signaling"),
	}
}

// OnTerminal sets the callback used to close sessions
func (e *Engine) OnTerminal(fn TerminalFunc) {
	e.mu.Lock()
	e.onTerminal = fn
	e.mu.Unlock()
}

func (e *Engine) get(s *models.Session) *negotiation {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.negotiations[s.ID]
	if !ok {
		n = &negotiation{session: s}
		// Close cancels the context before the registry runs Forget, so a
		// closed session is never tracked again.
		if s.Context().Err() == nil {
			e.negotiations[s.ID] = n
		}
	}
	return n
}

func (e *Engine) terminate(s *models.Session, reason models.CloseReason) {
	e.mu.Lock()
	fn := e.onTerminal
	e.mu.Unlock()
	if fn != nil {
		fn(s, reason)
		return
	}
	s.Close(reason)
	e.Forget(s.ID)
}

// Handle applies one client message to the session.
func (e *Engine) Handle(ctx context.Context, s *models.Session, msg protocol.SignalingMessage) (*protocol.SignalingReply, error) {
	if s.Closed() {
		return nil, e.refuse(s, msg.Kind, ErrUndefinedTransition)
	}
	s.Touch()

	if msg.Kind == protocol.KindBye {
		e.terminate(s, models.CloseReasonClientBye)
		return e.reply(s, msg.Kind, ""), nil
	}

	n := e.get(s)
	n.mu.Lock()
	payload, reason, err := e.apply(ctx, n, msg)
	n.mu.Unlock()

	if reason != models.CloseReasonNone {
		e.terminate(s, reason)
	}
	if err != nil {
		return nil, err
	}
	return e.reply(s, msg.Kind, payload), nil
}

// apply runs with n.mu held. A non-empty reason asks the caller to close
// the session after unlocking.
func (e *Engine) apply(ctx context.Context, n *negotiation, msg protocol.SignalingMessage) (string, models.CloseReason, error) {
	s := n.session
	state := s.State()

	switch msg.Kind {
	case protocol.KindOffer:
		if state != models.StateNew {
			return "", "", e.refuse(s, msg.Kind, ErrUndefinedTransition)
		}
		raw, err := ValidateOffer(msg.Payload)
		if err != nil {
			return "", e.failLocked(n, msg.Kind, models.CloseReasonSignalingError), e.refuse(s, msg.Kind, err)
		}
		local, err := e.negotiator.Offer(ctx, s.ID, raw)
		if err != nil {
			return "", e.failLocked(n, msg.Kind, models.CloseReasonTransportError), e.refuse(s, msg.Kind, fmt.Errorf("%w: %v", ErrNegotiator, err))
		}
		if err := e.transition(s, models.StateNew, models.StateOffered); err != nil {
			return "", "", e.refuse(s, msg.Kind, err)
		}
		n.remoteSDP, n.localSDP = raw, local
		n.offeredAt = time.Now()
		e.armDeadline(n)
		return local, "", nil

	case protocol.KindAnswer:
		switch state {
		case models.StateOffered:
			if time.Since(n.offeredAt) > e.config.NegotiationTimeout {
				return "", e.failLocked(n, msg.Kind, models.CloseReasonNegotiationTimeout), e.refuse(s, msg.Kind, ErrNegotiationTimeout)
			}
		case models.StateDisconnected:
			if n.expired || time.Since(s.StateSince()) > e.config.ReconnectGrace {
				n.stopTimers()
				return "", models.CloseReasonReconnectExpired, e.refuse(s, msg.Kind, ErrReconnectExpired)
			}
		default:
			return "", "", e.refuse(s, msg.Kind, ErrUndefinedTransition)
		}
		raw, err := ValidateAnswer(msg.Payload)
		if err != nil {
			return "", e.failLocked(n, msg.Kind, models.CloseReasonSignalingError), e.refuse(s, msg.Kind, err)
		}
		if err := e.negotiator.Answer(ctx, s.ID, raw); err != nil {
			return "", e.failLocked(n, msg.Kind, models.CloseReasonTransportError), e.refuse(s, msg.Kind, fmt.Errorf("%w: %v", ErrNegotiator, err))
		}
		if err := e.transition(s, state, models.StateAnswered); err != nil {
			return "", "", e.refuse(s, msg.Kind, err)
		}
		if state == models.StateDisconnected {
			// back on the negotiation clock until the client reports connected
			n.stopTimers()
			n.offeredAt = time.Now()
			e.armDeadline(n)
		}
		return "", "", nil

	case protocol.KindCandidate:
		switch state {
		case models.StateOffered, models.StateAnswered, models.StateConnected:
		default:
			return "", "", e.refuse(s, msg.Kind, ErrUndefinedTransition)
		}
		c, err := ValidateCandidate(msg.Payload)
		if err != nil {
			return "", e.failLocked(n, msg.Kind, models.CloseReasonSignalingError), e.refuse(s, msg.Kind, err)
		}
		if err := e.negotiator.AddCandidate(ctx, s.ID, c); err != nil {
			// a candidate the transport can't use is not fatal
			e.logger.Warn("candidate not applied", logger.SessionField(s.ID), zap.Error(err))
		}
		return "", "", nil

	case protocol.KindConnected:
		if state != models.StateAnswered {
			return "", "", e.refuse(s, msg.Kind, ErrUndefinedTransition)
		}
		if err := e.transition(s, models.StateAnswered, models.StateConnected); err != nil {
			return "", "", e.refuse(s, msg.Kind, err)
		}
		n.stopTimers()
		return "", "", nil
	}
	return "", "", e.refuse(s, msg.Kind, ErrUnknownKind)
}

func (e *Engine) reply(s *models.Session, kind protocol.MessageKind, payload string) *protocol.SignalingReply {
	return &protocol.SignalingReply{
		SessionID: s.ID,
		Kind:      kind,
		State:     s.State().String(),
		Payload:   payload,
	}
}

func (e *Engine) refuse(s *models.Session, kind protocol.MessageKind, err error) error {
	return &Error{SessionID: s.ID, Kind: kind, State: s.State(), Err: err}
}

func (e *Engine) transition(s *models.Session, from, to models.SignalingState) error {
	if err := s.TransitionFrom(from, to); err != nil {
		return err
	}
	e.metrics.Transition(from.String(), to.String())
	e.logger.Debug("state transition",
		logger.SessionField(s.ID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return nil
}

// failLocked moves the session to Failed and returns the close reason to
// hand to terminate. Runs with n.mu held.
func (e *Engine) failLocked(n *negotiation, kind protocol.MessageKind, reason models.CloseReason) models.CloseReason {
	s := n.session
	n.stopTimers()
	from, err := s.Transition(models.StateFailed)
	if err != nil {
		// already failed or closed
		return reason
	}
	e.metrics.Transition(from.String(), models.StateFailed.String())
	e.logger.Warn("session failed",
		logger.SessionField(s.ID),
		zap.String("from", from.String()),
		zap.String("kind", string(kind)),
		zap.String("reason", string(reason)),
	)
	return reason
}

func (e *Engine) armDeadline(n *negotiation) {
	s := n.session
	n.deadline = time.AfterFunc(e.config.NegotiationTimeout, func() {
		n.mu.Lock()
		var reason models.CloseReason
		switch s.State() {
		case models.StateOffered, models.StateAnswered:
			reason = e.failLocked(n, "", models.CloseReasonNegotiationTimeout)
		}
		n.mu.Unlock()
		if reason != models.CloseReasonNone {
			e.terminate(s, reason)
		}
	})
}

// Fail moves the session to Failed for a transport error and closes it.
func (e *Engine) Fail(s *models.Session, reason models.CloseReason) {
	if s.Closed() {
		return
	}
	n := e.get(s)
	n.mu.Lock()
	reason = e.failLocked(n, "", reason)
	n.mu.Unlock()
	e.terminate(s, reason)
}

// MarkConnected applies a connectivity success reported by the transport.
func (e *Engine) MarkConnected(s *models.Session) error {
	_, err := e.Handle(context.Background(), s, protocol.SignalingMessage{SessionID: s.ID, Kind: protocol.KindConnected})
	return err
}

// Disconnect moves a Connected session to Disconnected and starts the
// reconnect grace timer. It reports whether the session was disconnected.
func (e *Engine) Disconnect(s *models.Session) bool {
	n := e.get(s)
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := e.transition(s, models.StateConnected, models.StateDisconnected); err != nil {
		return false
	}
	e.logger.Info("session disconnected", logger.SessionField(s.ID), zap.Duration("grace", e.config.ReconnectGrace))
	n.stopTimers()
	n.expired = false
	n.grace = time.AfterFunc(e.config.ReconnectGrace, func() {
		n.mu.Lock()
		expired := s.State() == models.StateDisconnected
		n.expired = expired
		n.mu.Unlock()
		if expired {
			e.terminate(s, models.CloseReasonReconnectExpired)
		}
	})
	return true
}

// SweepHeartbeats disconnects Connected sessions idle for longer than timeout
// and returns how many were disconnected.
func (e *Engine) SweepHeartbeats(sessions []*models.Session, timeout time.Duration) int {
	n := 0
	now := time.Now()
	for _, s := range sessions {
		if s.State() != models.StateConnected {
			continue
		}
		if now.Sub(s.LastActivity()) > timeout && e.Disconnect(s) {
			n++
		}
	}
	return n
}

// ExpireUnoffered fails sessions still in New after the negotiation timeout
// and returns how many were closed.
func (e *Engine) ExpireUnoffered(sessions []*models.Session) int {
	n := 0
	now := time.Now()
	for _, s := range sessions {
		if s.State() != models.StateNew || now.Sub(s.CreatedAt) <= e.config.NegotiationTimeout {
			continue
		}
		neg := e.get(s)
		neg.mu.Lock()
		reason := models.CloseReasonNone
		if s.State() == models.StateNew {
			reason = e.failLocked(neg, "", models.CloseReasonNegotiationTimeout)
		}
		neg.mu.Unlock()
		if reason != models.CloseReasonNone {
			e.terminate(s, reason)
			n++
		}
	}
	return n
}

// Forget drops timers and transport state for a closed session
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	n, ok := e.negotiations[sessionID]
	delete(e.negotiations, sessionID)
	e.mu.Unlock()
	if ok {
		n.mu.Lock()
		n.stopTimers()
		n.mu.Unlock()
	}
	if err := e.negotiator.Close(sessionID); err != nil {
		e.logger.Debug("negotiator close", logger.SessionField(sessionID), zap.Error(err))
	}
}

// Tracked returns how many sessions hold negotiation state
func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.negotiations)
}
