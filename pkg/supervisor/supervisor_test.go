package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LingByte/LingGuard/pkg/config"
	"github.com/LingByte/LingGuard/pkg/dispatch"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/registry"
	"github.com/LingByte/LingGuard/pkg/relay"
	"github.com/LingByte/LingGuard/pkg/store"
	"github.com/pion/webrtc/v3"
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

func yawnWorker(calls *atomic.Int32) dispatch.InferencerFunc {
	return func(ctx context.Context, f *models.Frame) (*models.InferenceResult, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &models.InferenceResult{Detections: []models.Detection{{
			Kind:       models.AlertYawn,
			Severity:   models.SeverityWarning,
			Confidence: 0.9,
		}}}, nil
	}
}

func newSupervisor(t *testing.T, mutate func(*Options)) *Supervisor {
	t.Helper()
	cfg := config.DefaultMonitorConfig()
	cfg.NegotiationTimeout = time.Second
	cfg.DispatchTimeout = 200 * time.Millisecond
	cfg.DrainTimeout = time.Second
	opts := Options{
		Config:     cfg,
		Registerer: prometheus.NewRegistry(),
		Logger:     zap.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })
	return s
}

func connect(t *testing.T, s *Supervisor, id string) {
	t.Helper()
	ctx := context.Background()
	reply, err := s.SubmitSignaling(ctx, id, protocol.SignalingMessage{Kind: protocol.KindOffer, Payload: videoOffer})
	require.NoError(t, err)
	assert.Equal(t, videoOffer, reply.Payload)
	_, err = s.SubmitSignaling(ctx, id, protocol.SignalingMessage{Kind: protocol.KindAnswer, Payload: videoOffer})
	require.NoError(t, err)
	_, err = s.SubmitSignaling(ctx, id, protocol.SignalingMessage{Kind: protocol.KindConnected})
	require.NoError(t, err)
}

func TestSupervisor_EndToEnd(t *testing.T) {
	s := newSupervisor(t, nil)
	_, err := s.AddWorker("w1", yawnWorker(nil), 2)
	require.NoError(t, err)

	id, err := s.CreateSession(context.Background(), "veh-42")
	require.NoError(t, err)
	connect(t, s, id)

	info, err := s.Session(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected, info.State)

	alerts, err := s.AlertStream(id)
	require.NoError(t, err)

	v, err := s.SubmitFrame(id, &models.Frame{Seq: 1, CapturedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, relay.Accepted, v)

	select {
	case a := <-alerts:
		assert.Equal(t, id, a.SessionID)
		assert.Equal(t, models.AlertYawn, a.Kind)
		assert.Equal(t, uint64(1), a.FrameSeq)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
	}

	snap := s.MetricsSnapshot()
	assert.Equal(t, 1, snap.ActiveSessions)
	assert.Equal(t, uint64(1), snap.Counters.FramesAccepted)
	assert.Equal(t, uint64(1), snap.Counters.AlertsDelivered)
	require.Len(t, snap.Workers, 1)
	assert.Equal(t, "w1", snap.Workers[0].ID)
}

func TestSupervisor_FrameBeforeConnected(t *testing.T) {
	s := newSupervisor(t, nil)
	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)

	v, err := s.SubmitFrame(id, &models.Frame{Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, relay.RejectedNotConnected, v)

	v, err = s.SubmitFrame("missing", &models.Frame{Seq: 1})
	assert.ErrorIs(t, err, registry.ErrSessionNotFound)
	assert.Equal(t, relay.RejectedClosed, v)
	assert.Equal(t, uint64(2), s.MetricsSnapshot().Counters.FramesRejected)
}

func TestSupervisor_CloseSessionReleasesResources(t *testing.T) {
	st := store.NewMemoryStore()
	s := newSupervisor(t, func(o *Options) { o.Store = st })

	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	rec, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)

	connect(t, s, id)
	alerts, err := s.AlertStream(id)
	require.NoError(t, err)

	s.CloseSession(id)
	s.CloseSession(id)
	s.CloseSession("unknown")

	_, open := <-alerts
	assert.False(t, open)
	reason, ok := s.ClosedReason(id)
	assert.True(t, ok)
	assert.Equal(t, models.CloseReasonRequested, reason)

	rec, err = st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 0, s.engine.Tracked())
	assert.Equal(t, 0, s.MetricsSnapshot().ActiveSessions)
}

func TestSupervisor_ClientBye(t *testing.T) {
	s := newSupervisor(t, nil)
	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)

	_, err = s.SubmitSignaling(context.Background(), id, protocol.SignalingMessage{Kind: protocol.KindBye})
	require.NoError(t, err)

	_, err = s.Session(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	reason, _ := s.ClosedReason(id)
	assert.Equal(t, models.CloseReasonClientBye, reason)
}

func TestSupervisor_TransportState(t *testing.T) {
	s := newSupervisor(t, nil)
	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)

	s.HandleTransportState(id, webrtc.PeerConnectionStateDisconnected)
	info, err := s.Session(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateDisconnected, info.State)

	// recovery without a reconnect answer keeps the session disconnected
	s.HandleTransportState(id, webrtc.PeerConnectionStateConnected)
	info, err = s.Session(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateDisconnected, info.State)

	// the reconnect answer picks up the recovered transport
	reply, err := s.SubmitSignaling(context.Background(), id, protocol.SignalingMessage{Kind: protocol.KindAnswer, Payload: videoOffer})
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected.String(), reply.State)

	s.HandleTransportState(id, webrtc.PeerConnectionStateDisconnected)

	s.HandleTransportState(id, webrtc.PeerConnectionStateFailed)
	_, err = s.Session(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	reason, _ := s.ClosedReason(id)
	assert.Equal(t, models.CloseReasonTransportError, reason)

	// unknown sessions are ignored
	s.HandleTransportState("missing", webrtc.PeerConnectionStateFailed)
}

func TestSupervisor_TransportAheadOfAnswer(t *testing.T) {
	s := newSupervisor(t, nil)
	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)

	_, err = s.SubmitSignaling(context.Background(), id, protocol.SignalingMessage{Kind: protocol.KindOffer, Payload: videoOffer})
	require.NoError(t, err)
	s.HandleTransportState(id, webrtc.PeerConnectionStateConnected)

	reply, err := s.SubmitSignaling(context.Background(), id, protocol.SignalingMessage{Kind: protocol.KindAnswer, Payload: videoOffer})
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected.String(), reply.State)
}

func TestSupervisor_HeartbeatSweep(t *testing.T) {
	s := newSupervisor(t, func(o *Options) {
		o.Config.HeartbeatTimeout = 50 * time.Millisecond
		o.Config.ReconnectGrace = time.Minute
	})
	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)

	require.NoError(t, s.Heartbeat(id))
	s.sweep()
	info, _ := s.Session(id)
	assert.Equal(t, models.StateConnected, info.State)

	time.Sleep(80 * time.Millisecond)
	s.sweep()
	info, _ = s.Session(id)
	assert.Equal(t, models.StateDisconnected, info.State)

	assert.ErrorIs(t, s.Heartbeat("missing"), ErrSessionNotFound)
}

func TestSupervisor_ZeroHeartbeatTimeoutUsesDefault(t *testing.T) {
	s := newSupervisor(t, func(o *Options) { o.Config.HeartbeatTimeout = 0 })
	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)

	time.Sleep(10 * time.Millisecond)
	s.sweep()
	info, err := s.Session(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected, info.State)
}

func TestSupervisor_SweepExpiresSessionsWithoutOffer(t *testing.T) {
	st := store.NewMemoryStore()
	s := newSupervisor(t, func(o *Options) {
		o.Store = st
		o.Config.NegotiationTimeout = 50 * time.Millisecond
	})
	idle, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)

	s.sweep()
	_, err = s.Session(idle)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	s.sweep()
	_, err = s.Session(idle)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	reason, ok := s.ClosedReason(idle)
	assert.True(t, ok)
	assert.Equal(t, models.CloseReasonNegotiationTimeout, reason)
	assert.Equal(t, 0, s.MetricsSnapshot().ActiveSessions)

	rec, err := st.Get(context.Background(), idle)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSupervisor_DispatchTimeoutKeepsSessionConnected(t *testing.T) {
	s := newSupervisor(t, func(o *Options) { o.Config.WorkerResponseTimeout = time.Minute })
	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	_, err := s.AddWorker("busy", dispatch.InferencerFunc(func(ctx context.Context, f *models.Frame) (*models.InferenceResult, error) {
		calls.Add(1)
		<-release
		return &models.InferenceResult{}, nil
	}), 1)
	require.NoError(t, err)

	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)

	v, err := s.SubmitFrame(id, &models.Frame{Seq: 1, CapturedAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, relay.Accepted, v)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	v, err = s.SubmitFrame(id, &models.Frame{Seq: 2, CapturedAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, relay.Accepted, v)

	require.Eventually(t, func() bool {
		return s.MetricsSnapshot().Counters.MissedCycles == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	info, err := s.Session(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected, info.State)
}

func TestSupervisor_FramesWithoutCaptureTime(t *testing.T) {
	s := newSupervisor(t, func(o *Options) { o.Config.DetectionWindow = 50 * time.Millisecond })
	_, err := s.AddWorker("w1", yawnWorker(nil), 1)
	require.NoError(t, err)

	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)
	alerts, err := s.AlertStream(id)
	require.NoError(t, err)

	keys := map[string]bool{}
	for seq := uint64(1); seq <= 3; seq++ {
		v, err := s.SubmitFrame(id, &models.Frame{Seq: seq})
		require.NoError(t, err)
		require.Equal(t, relay.Accepted, v)
		select {
		case a := <-alerts:
			assert.False(t, a.Timestamp.IsZero())
			keys[a.Key] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("no alert for frame %d", seq)
		}
		time.Sleep(70 * time.Millisecond)
	}
	assert.Len(t, keys, 3)
	assert.Equal(t, uint64(0), s.MetricsSnapshot().Counters.AlertsDropped)
}

func TestSupervisor_ShutdownRejectsNewSessions(t *testing.T) {
	s := newSupervisor(t, nil)
	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Shutdown(time.Second))
	_, err = s.CreateSession(context.Background(), "veh-2")
	assert.ErrorIs(t, err, registry.ErrNotAccepting)

	reason, ok := s.ClosedReason(id)
	assert.True(t, ok)
	assert.Equal(t, models.CloseReasonShutdown, reason)
	assert.NoError(t, s.Shutdown(time.Second))
}

func TestSupervisor_ShutdownDrainTimeout(t *testing.T) {
	s := newSupervisor(t, func(o *Options) { o.Config.WorkerResponseTimeout = time.Minute })
	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	_, err := s.AddWorker("slow", dispatch.InferencerFunc(func(ctx context.Context, f *models.Frame) (*models.InferenceResult, error) {
		calls.Add(1)
		<-release
		return &models.InferenceResult{}, nil
	}), 1)
	require.NoError(t, err)

	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)
	_, err = s.SubmitFrame(id, &models.Frame{Seq: 1, CapturedAt: time.Now()})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	err = s.Shutdown(50 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSupervisor_AlertHistory(t *testing.T) {
	journal, err := store.OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	s := newSupervisor(t, func(o *Options) { o.Journal = journal })
	var calls atomic.Int32
	_, err = s.AddWorker("", yawnWorker(&calls), 1)
	require.NoError(t, err)

	id, err := s.CreateSession(context.Background(), "veh-1")
	require.NoError(t, err)
	connect(t, s, id)
	_, err = s.SubmitFrame(id, &models.Frame{Seq: 1, CapturedAt: time.Now()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := s.AlertHistory(context.Background(), id, 10)
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisor_WorkerLifecycle(t *testing.T) {
	s := newSupervisor(t, nil)
	id, err := s.AddWorker("", yawnWorker(nil), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, s.WorkerHeartbeat(id))
	assert.NoError(t, s.RemoveWorker(id))
	assert.Error(t, s.WorkerHeartbeat(id))
	assert.Empty(t, s.MetricsSnapshot().Workers)
}

func TestNew_RemoteEndpoints(t *testing.T) {
	s := newSupervisor(t, func(o *Options) {
		o.Config.InferenceEndpoints = []string{"http://127.0.0.1:1/", "http://127.0.0.1:2"}
	})
	assert.Len(t, s.MetricsSnapshot().Workers, 2)
}
