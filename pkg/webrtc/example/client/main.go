// Cabin simulator: opens a monitoring session against a running server,
// negotiates a sendonly video peer connection, streams synthetic frames and
// prints the alerts the server pushes back.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/webrtc/constants"
	"github.com/carlmjohnson/requests"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 2 * time.Second
	frameWidth        = 640
	frameHeight       = 480
)

type sessionResponse struct {
	Success bool        `json:"success"`
	Data    models.Info `json:"data"`
}

// Client drives one simulated vehicle
type Client struct {
	server    string
	sessionID string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	pc        *webrtc.PeerConnection
	track     *webrtc.TrackLocalStaticSample
	fps       int
	seq       uint64
	done      chan struct{}
	closeOnce sync.Once
	streaming sync.Once
}

// NewClient creates the session over REST and opens its socket
func NewClient(ctx context.Context, server, vehicleID string, fps int) (*Client, error) {
	var resp sessionResponse
	err := requests.URL(server + "/api/sessions").
		BodyJSON(map[string]string{"vehicle_id": vehicleID}).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	u, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/api/sessions/" + resp.Data.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		conn.Close()
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", constants.DefaultStreamID)
	if err != nil {
		conn.Close()
		pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		conn.Close()
		pc.Close()
		return nil, err
	}

	logger.Info("[Client] session created", logger.SessionField(resp.Data.ID), zap.String("vehicle", vehicleID))
	return &Client{
		server:    server,
		sessionID: resp.Data.ID,
		conn:      conn,
		pc:        pc,
		track:     track,
		fps:       fps,
		done:      make(chan struct{}),
	}, nil
}

func (c *Client) send(env protocol.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// CreateAndSendOffer sends a fully gathered offer
func (c *Client) CreateAndSendOffer() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gathered
	return c.send(protocol.Envelope{Type: constants.MESSAGE_OFFER, Payload: c.pc.LocalDescription().SDP})
}

// Listen handles server envelopes until the socket closes
func (c *Client) Listen() {
	defer c.stop()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			logger.Info("[Client] socket closed", zap.Error(err))
			return
		}
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			logger.Warn("[Client] bad envelope", zap.Error(err))
			continue
		}
		switch env.Type {
		case constants.MESSAGE_OFFER:
			// the reply to our offer carries the server's answer
			answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.Payload}
			if err := c.pc.SetRemoteDescription(answer); err != nil {
				logger.Error("[Client] set remote description", zap.Error(err))
				return
			}
			if err := c.send(protocol.Envelope{Type: constants.MESSAGE_ANSWER, Payload: env.Payload}); err != nil {
				return
			}
		case constants.MESSAGE_ALERT:
			fmt.Printf("[Client] ALERT %v\n", env.Data)
		case constants.MESSAGE_ERROR:
			logger.Warn("[Client] server error", zap.String("code", env.Code), zap.String("message", env.Payload))
		case constants.MESSAGE_STATE:
			logger.Info("[Client] session state", zap.String("state", env.State), zap.String("reason", env.Code))
			if env.State == models.StateClosed.String() {
				return
			}
		default:
			logger.Debug("[Client] reply", zap.String("type", env.Type), zap.String("state", env.State))
		}
	}
}

// Stream writes synthetic video samples and posts decoded frames
func (c *Client) Stream(ctx context.Context) {
	interval := time.Second / time.Duration(c.fps)
	frames := time.NewTicker(interval)
	defer frames.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	payload := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_ = c.send(protocol.Envelope{Type: constants.MESSAGE_HEARTBEAT})
		case now := <-frames.C:
			_, _ = rand.Read(payload)
			if err := c.track.WriteSample(media.Sample{Data: payload, Duration: interval}); err != nil {
				logger.Debug("[Client] write sample", zap.Error(err))
			}
			c.seq++
			frame := models.Frame{
				Seq:        c.seq,
				CapturedAt: now,
				Width:      frameWidth,
				Height:     frameHeight,
				Format:     "jpeg",
				Data:       payload[:64],
			}
			err := requests.URL(c.server + "/api/sessions/" + c.sessionID + "/frames").
				BodyJSON(&frame).
				Fetch(ctx)
			if err != nil {
				logger.Debug("[Client] frame refused", zap.Uint64("seq", c.seq), zap.Error(err))
			}
		}
	}
}

func (c *Client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Close sends bye and tears everything down
func (c *Client) Close() {
	_ = c.send(protocol.Envelope{Type: constants.MESSAGE_BYE})
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	_ = c.pc.Close()
	_ = c.conn.Close()
}

func main() {
	server := flag.String("server", "http://localhost:7072", "monitor server base URL")
	vehicle := flag.String("vehicle", "veh-sim-1", "vehicle id")
	fps := flag.Int("fps", 5, "frames per second")
	flag.Parse()

	logger.Init(&logger.LogConfig{
		Level:      "debug",
		Filename:   "logs/simulator.log",
		MaxSize:    5,
		MaxAge:     1,
		MaxBackups: 1,
	}, "development")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := NewClient(ctx, *server, *vehicle, *fps)
	if err != nil {
		log.Fatalf("[Client] Failed to create client: %v", err)
	}
	defer client.Close()

	client.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("[Client] peer connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateConnected {
			client.streaming.Do(func() { go client.Stream(ctx) })
		}
	})
	go client.Listen()

	if err := client.CreateAndSendOffer(); err != nil {
		log.Fatalf("[Client] Failed to create and send offer: %v", err)
	}

	fmt.Println("[Client] Waiting for connection to establish...")
	select {
	case <-ctx.Done():
		fmt.Println("\n[Client] Interrupted, closing connection...")
	case <-client.done:
		fmt.Println("[Client] Connection closed")
	}
}
