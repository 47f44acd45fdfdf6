package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/webrtc/constants"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 5 * time.Second
	pingPeriod     = 20 * time.Second
	outboundBuffer = 16
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionSocket carries signaling and heartbeats from the client and pushes
// replies, state changes and alerts back. Dropping the socket leaves the
// session to the heartbeat sweep so the client can reconnect.
func (h *Handlers) SessionSocket(c *gin.Context) {
	sessionID := c.Param("id")
	alerts, err := h.monitor.AlertStream(sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logger.SessionField(sessionID), zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	h.logger.Info("client socket opened", logger.SessionField(sessionID), zap.String("remote", c.ClientIP()))

	// the reader owns out and closes it when it stops
	out := make(chan *protocol.Envelope, outboundBuffer)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		defer close(out)
		return h.readLoop(ctx, conn, sessionID, out)
	})
	g.Go(func() error {
		err := h.writeLoop(ctx, conn, sessionID, alerts, out)
		if err != nil {
			// unblock the reader
			_ = conn.Close()
		}
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Debug("client socket ended", logger.SessionField(sessionID), zap.Error(err))
	}
	h.logger.Info("client socket closed", logger.SessionField(sessionID))
}

func (h *Handlers) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, out chan<- *protocol.Envelope) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}

		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			if !send(ctx, out, &protocol.Envelope{Type: constants.MESSAGE_ERROR, SessionID: sessionID, Code: "INVALID_INPUT", Payload: err.Error()}) {
				return nil
			}
			continue
		}

		reply := h.handleEnvelope(ctx, sessionID, env)
		if !send(ctx, out, reply) {
			return nil
		}
		if env.Type == string(protocol.KindBye) && reply.Type != constants.MESSAGE_ERROR {
			return nil
		}
	}
}

func (h *Handlers) handleEnvelope(ctx context.Context, sessionID string, env *protocol.Envelope) *protocol.Envelope {
	if env.Type == constants.MESSAGE_HEARTBEAT {
		if err := h.monitor.Heartbeat(sessionID); err != nil {
			return errorEnvelope(sessionID, err)
		}
		return &protocol.Envelope{Type: constants.MESSAGE_HEARTBEAT, SessionID: sessionID}
	}

	msg, ok := env.SignalingMessage()
	if !ok {
		return &protocol.Envelope{Type: constants.MESSAGE_ERROR, SessionID: sessionID, Code: "INVALID_INPUT", Payload: "unknown message type " + env.Type}
	}
	reply, err := h.monitor.SubmitSignaling(ctx, sessionID, msg)
	if err != nil {
		return errorEnvelope(sessionID, err)
	}
	return &protocol.Envelope{
		Type:      string(reply.Kind),
		SessionID: sessionID,
		Payload:   reply.Payload,
		State:     reply.State,
	}
}

// writeLoop is the only writer on conn. When the alert stream closes it
// unblocks the reader, sends whatever replies are still queued and ends with
// a closed state envelope.
func (h *Handlers) writeLoop(ctx context.Context, conn *websocket.Conn, sessionID string, alerts <-chan *models.Alert, out <-chan *protocol.Envelope) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	sessionClosed := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-out:
			if !ok {
				if sessionClosed || drainAlerts(conn, sessionID, alerts) {
					h.writeClosed(conn, sessionID)
				}
				return nil
			}
			if err := write(conn, env); err != nil {
				return err
			}
		case a, ok := <-alerts:
			if !ok {
				sessionClosed = true
				alerts = nil
				_ = conn.SetReadDeadline(time.Now())
				continue
			}
			if err := write(conn, &protocol.Envelope{Type: constants.MESSAGE_ALERT, SessionID: sessionID, Data: a}); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

// drainAlerts forwards alerts that are already queued and reports whether
// the stream has been closed.
func drainAlerts(conn *websocket.Conn, sessionID string, alerts <-chan *models.Alert) bool {
	if alerts == nil {
		return false
	}
	for {
		select {
		case a, ok := <-alerts:
			if !ok {
				return true
			}
			_ = write(conn, &protocol.Envelope{Type: constants.MESSAGE_ALERT, SessionID: sessionID, Data: a})
		default:
			return false
		}
	}
}

func (h *Handlers) writeClosed(conn *websocket.Conn, sessionID string) {
	env := &protocol.Envelope{Type: constants.MESSAGE_STATE, SessionID: sessionID, State: models.StateClosed.String()}
	if reason, ok := h.monitor.ClosedReason(sessionID); ok {
		env.Code = string(reason)
	}
	_ = write(conn, env)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, env.Code), time.Now().Add(writeWait))
}

func write(conn *websocket.Conn, env *protocol.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func send(ctx context.Context, out chan<- *protocol.Envelope, env *protocol.Envelope) bool {
	select {
	case out <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorEnvelope(sessionID string, err error) *protocol.Envelope {
	appErr := toAppError(err)
	env := &protocol.Envelope{
		Type:      constants.MESSAGE_ERROR,
		SessionID: sessionID,
		Code:      string(appErr.Code),
		Payload:   appErr.Message,
	}
	if state, ok := appErr.Details["state"].(string); ok {
		env.State = state
	}
	return env
}
