package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LingByte/LingGuard/pkg/config"
	"github.com/LingByte/LingGuard/pkg/dispatch"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/store"
	"github.com/LingByte/LingGuard/pkg/supervisor"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const videoOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=sendonly\r\n"

type envelopeResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	sup    *supervisor.Supervisor
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	return newJournaledServer(t, nil)
}

func newJournaledServer(t *testing.T, journal *store.AlertJournal) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultMonitorConfig()
	cfg.NegotiationTimeout = time.Second
	reg := prometheus.NewRegistry()
	sup, err := supervisor.New(supervisor.Options{Config: cfg, Journal: journal, Registerer: reg, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Shutdown(time.Second) })

	_, err = sup.AddWorker("w1", dispatch.InferencerFunc(func(ctx context.Context, f *models.Frame) (*models.InferenceResult, error) {
		return &models.InferenceResult{Detections: []models.Detection{{
			Kind: models.AlertEyeClosure, Severity: models.SeverityCritical, Confidence: 0.95,
		}}}, nil
	}), 2)
	require.NoError(t, err)

	return &testServer{
		sup:    sup,
		router: NewRouter(Dependencies{Monitor: sup, Gatherer: reg, Logger: zap.NewNop()}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelopeResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp envelopeResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (s *testServer) createSession(t *testing.T) string {
	t.Helper()
	w, resp := s.do(t, http.MethodPost, "/api/sessions", gin.H{"vehicle_id": "veh-7"})
	require.Equal(t, http.StatusCreated, w.Code)
	var info models.Info
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, "veh-7", info.VehicleID)
	assert.Equal(t, models.StateNew, info.State)
	return info.ID
}

func (s *testServer) signal(t *testing.T, id string, kind protocol.MessageKind, payload string) *httptest.ResponseRecorder {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/api/sessions/"+id+"/signal", protocol.SignalingMessage{Kind: kind, Payload: payload})
	return w
}

func (s *testServer) connect(t *testing.T, id string) {
	t.Helper()
	require.Equal(t, http.StatusOK, s.signal(t, id, protocol.KindOffer, videoOffer).Code)
	require.Equal(t, http.StatusOK, s.signal(t, id, protocol.KindAnswer, videoOffer).Code)
	require.Equal(t, http.StatusOK, s.signal(t, id, protocol.KindConnected, "").Code)
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)

	w, resp := s.do(t, http.MethodPost, "/api/sessions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", resp.Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	// frames before connectivity are refused
	w, resp := s.do(t, http.MethodPost, "/api/sessions/"+id+"/frames", models.Frame{Seq: 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "FRAME_REJECTED", resp.Code)

	require.Equal(t, http.StatusOK, s.signal(t, id, protocol.KindOffer, videoOffer).Code)
	require.Equal(t, http.StatusOK, s.signal(t, id, protocol.KindAnswer, videoOffer).Code)
	require.Equal(t, http.StatusOK, s.signal(t, id, protocol.KindConnected, "").Code)

	w, _ = s.do(t, http.MethodPost, "/api/sessions/"+id+"/frames", models.Frame{Seq: 1, CapturedAt: time.Now()})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/sessions/"+id+"/heartbeat", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.Info
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, models.StateConnected, info.State)

	w, _ = s.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "SESSION_CLOSED", resp.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignal_IllegalTransition(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	w, resp := s.do(t, http.MethodPost, "/api/sessions/"+id+"/signal", protocol.SignalingMessage{Kind: protocol.KindConnected})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SIGNALING_ERROR", resp.Code)
}

func TestAlertHistory_BadLimit(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	w, _ := s.do(t, http.MethodGet, "/api/sessions/"+id+"/alerts?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := s.do(t, http.MethodGet, "/api/sessions/"+id+"/alerts", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestAlertSummary(t *testing.T) {
	journal, err := store.OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	s := newJournaledServer(t, journal)
	id := s.createSession(t)

	w, resp := s.do(t, http.MethodGet, "/api/sessions/"+id+"/alerts/summary", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(resp.Data))

	s.connect(t, id)
	w, _ = s.do(t, http.MethodPost, "/api/sessions/"+id+"/frames", models.Frame{Seq: 1, CapturedAt: time.Now()})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		_, resp := s.do(t, http.MethodGet, "/api/sessions/"+id+"/alerts/summary", nil)
		var rows []store.KindCount
		return json.Unmarshal(resp.Data, &rows) == nil && len(rows) == 1 && rows[0].Count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)

	w, resp := s.do(t, http.MethodGet, "/api/monitor/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap supervisor.Snapshot
	require.NoError(t, json.Unmarshal(resp.Data, &snap))
	assert.Equal(t, 1, snap.ActiveSessions)
	require.Len(t, snap.Workers, 1)

	w, _ = s.do(t, http.MethodPost, "/api/workers/w1/heartbeat", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, resp = s.do(t, http.MethodPost, "/api/workers/nope/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "WORKER_NOT_FOUND", resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "active_sessions")
}

func dialSocket(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	raw, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.DecodeEnvelope(raw)
	require.NoError(t, err)
	return env
}

func TestSessionSocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	id := s.createSession(t)
	conn := dialSocket(t, srv, id)

	sendEnvelope(t, conn, protocol.Envelope{Type: "offer", Payload: videoOffer})
	env := readEnvelope(t, conn)
	assert.Equal(t, "offer", env.Type)
	assert.Equal(t, models.StateOffered.String(), env.State)
	assert.Equal(t, videoOffer, env.Payload)

	sendEnvelope(t, conn, protocol.Envelope{Type: "answer", Payload: videoOffer})
	assert.Equal(t, "answer", readEnvelope(t, conn).Type)
	sendEnvelope(t, conn, protocol.Envelope{Type: "connected"})
	assert.Equal(t, models.StateConnected.String(), readEnvelope(t, conn).State)

	sendEnvelope(t, conn, protocol.Envelope{Type: "heartbeat"})
	assert.Equal(t, "heartbeat", readEnvelope(t, conn).Type)

	sendEnvelope(t, conn, protocol.Envelope{Type: "bogus"})
	env = readEnvelope(t, conn)
	assert.Equal(t, "error", env.Type)
	assert.Equal(t, "INVALID_INPUT", env.Code)

	_, err := s.sup.SubmitFrame(id, &models.Frame{Seq: 1, CapturedAt: time.Now()})
	require.NoError(t, err)
	env = readEnvelope(t, conn)
	require.Equal(t, "alert", env.Type)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(models.AlertEyeClosure), data["kind"])

	sendEnvelope(t, conn, protocol.Envelope{Type: "bye"})
	assert.Equal(t, "bye", readEnvelope(t, conn).Type)
	env = readEnvelope(t, conn)
	assert.Equal(t, "state", env.Type)
	assert.Equal(t, models.StateClosed.String(), env.State)
	assert.Equal(t, string(models.CloseReasonClientBye), env.Code)
}

func TestSessionSocket_ClosedByServer(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	id := s.createSession(t)
	conn := dialSocket(t, srv, id)
	sendEnvelope(t, conn, protocol.Envelope{Type: "heartbeat"})
	assert.Equal(t, "heartbeat", readEnvelope(t, conn).Type)

	s.sup.CloseSession(id)
	env := readEnvelope(t, conn)
	assert.Equal(t, "state", env.Type)
	assert.Equal(t, string(models.CloseReasonRequested), env.Code)
}

func TestSessionSocket_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
