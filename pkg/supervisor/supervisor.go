package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LingByte/LingGuard/pkg/alerts"
	"github.com/LingByte/LingGuard/pkg/config"
	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/dispatch"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/metrics"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/registry"
	"github.com/LingByte/LingGuard/pkg/relay"
	"github.com/LingByte/LingGuard/pkg/signaling"
	"github.com/LingByte/LingGuard/pkg/store"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrSessionNotFound = registry.ErrSessionNotFound

// Options wires a supervisor. Only Config is required.
type Options struct {
	Config     config.MonitorConfig
	Negotiator signaling.Negotiator // nil validates payloads only
	Store      store.SessionStore   // nil keeps snapshots in memory
	Journal    *store.AlertJournal  // nil disables alert history
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// Supervisor owns the lifecycle of every session and wires the registry,
// signaling engine, frame relay, dispatcher and alert publisher together.
type Supervisor struct {
	config     config.MonitorConfig
	registry   *registry.Registry
	engine     *signaling.Engine
	relay      *relay.Relay
	dispatcher *dispatch.Dispatcher
	publisher  *alerts.Publisher
	store      store.SessionStore
	journal    *store.AlertJournal
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// sessions whose transport reported connected before signaling caught up
	transportUp sync.Map

	mu       sync.Mutex
	cron     *cron.Cron
	shutdown bool
}

// New builds a supervisor and registers the configured remote workers.
func New(opts Options) (*Supervisor, error) {
	cfg := opts.Config
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = constants.DefaultHeartbeatTimeout
	}
	log := logger.Component(opts.Logger, "supervisor")

	m := metrics.New(opts.Registerer)
	if err := m.Register(); err != nil {
		return nil, err
	}

	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}

	s := &Supervisor{
		config:  cfg,
		store:   st,
		journal: opts.Journal,
		metrics: m,
		logger:  log,
	}
	s.registry = registry.New(registry.Config{
		AlertBufferCapacity: cfg.AlertBufferCapacity,
		ClosedMemory:        constants.DefaultClosedSessionMemory,
	}, opts.Logger)
	s.engine = signaling.NewEngine(signaling.Config{
		NegotiationTimeout: cfg.NegotiationTimeout,
		ReconnectGrace:     cfg.ReconnectGrace,
	}, opts.Negotiator, m, opts.Logger)
	s.dispatcher = dispatch.New(dispatch.Config{
		DispatchTimeout: cfg.DispatchTimeout,
		ResponseTimeout: cfg.WorkerResponseTimeout,
		WorkerCapacity:  cfg.WorkerCapacity,
	}, m, opts.Logger)
	s.relay = relay.New(relay.Config{BufferCapacity: cfg.FrameBufferCapacity}, s.dispatcher, m, opts.Logger)

	var journal alerts.Journal
	if opts.Journal != nil {
		journal = opts.Journal
	}
	s.publisher = alerts.New(alerts.Config{
		DedupWindow:     cfg.AlertDedupWindow,
		DetectionWindow: cfg.DetectionWindow,
	}, s.registry.Get, journal, m, opts.Logger)

	s.dispatcher.OnResult(func(res *models.InferenceResult) {
		s.publisher.PublishResult(res)
	})
	s.engine.OnTerminal(func(sess *models.Session, reason models.CloseReason) {
		s.registry.Close(sess.ID, reason)
	})
	s.registry.OnClose(s.release)

	for _, endpoint := range cfg.InferenceEndpoints {
		id, err := s.dispatcher.AddWorker("", dispatch.NewRemoteInferencer(endpoint), cfg.WorkerCapacity)
		if err != nil {
			return nil, err
		}
		log.Info("remote worker registered", logger.WorkerField(id), zap.String("endpoint", endpoint))
	}
	return s, nil
}

// release frees everything bound to a closed session
func (s *Supervisor) release(sess *models.Session, reason models.CloseReason) {
	s.transportUp.Delete(sess.ID)
	s.relay.Remove(sess.ID)
	s.dispatcher.CancelSession(sess.ID)
	s.engine.Forget(sess.ID)
	s.metrics.SetActiveSessions(s.registry.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, sess.ID); err != nil {
		s.logger.Warn("session store delete failed", logger.SessionField(sess.ID), zap.Error(err))
	}
}

// persist writes the session snapshot to the store
func (s *Supervisor) persist(sess *models.Session) {
	if sess.Closed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.store.Put(ctx, sess.Snapshot()); err != nil {
		s.logger.Warn("session store write failed", logger.SessionField(sess.ID), zap.Error(err))
	}
}

// Start schedules housekeeping: heartbeat sweep, worker probes, stats and
// journal retention.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	schedule := s.config.SweepSchedule
	if schedule == "" {
		schedule = constants.DefaultSweepSchedule
	}
	jobs := []struct {
		spec string
		fn   func()
	}{
		{schedule, s.sweep},
		{constants.WorkerProbeSchedule, func() { s.probe(ctx) }},
		{constants.StatsLogSchedule, func() { s.logStats(ctx) }},
	}
	if s.journal != nil {
		jobs = append(jobs, struct {
			spec string
			fn   func()
		}{constants.JournalPruneSchedule, func() { s.pruneJournal(ctx) }})
	}
	for _, job := range jobs {
		if _, err := c.AddFunc(job.spec, job.fn); err != nil {
			return err
		}
	}
	c.Start()
	s.cron = c
	s.logger.Info("supervisor started", zap.String("sweep", schedule), zap.Int("workers", len(s.dispatcher.Workers())))
	return nil
}

// sweep disconnects silent sessions and refreshes stored snapshots
func (s *Supervisor) sweep() {
	active := s.registry.ListActive()
	if n := s.engine.SweepHeartbeats(active, s.config.HeartbeatTimeout); n > 0 {
		s.logger.Info("heartbeat sweep", zap.Int("disconnected", n))
	}
	if n := s.engine.ExpireUnoffered(active); n > 0 {
		s.logger.Info("negotiation sweep", zap.Int("expired", n))
	}
	for _, sess := range s.registry.ListActive() {
		s.persist(sess)
	}
	s.metrics.SetActiveSessions(s.registry.Len())
}

func (s *Supervisor) probe(ctx context.Context) {
	if n := s.dispatcher.ProbeWorkers(ctx); n > 0 {
		s.logger.Info("workers recovered", zap.Int("count", n))
	}
}

func (s *Supervisor) logStats(ctx context.Context) {
	snap := s.MetricsSnapshot()
	host := metrics.ReadHostStats(ctx)
	s.logger.Info("monitor stats",
		zap.Int("sessions", snap.ActiveSessions),
		zap.Int("queue", snap.QueueDepth),
		zap.Int("in_flight", snap.InFlight),
		zap.Uint64("frames_accepted", snap.Counters.FramesAccepted),
		zap.Uint64("frames_dropped", snap.Counters.FramesDropped),
		zap.Uint64("missed_cycles", snap.Counters.MissedCycles),
		zap.Uint64("alerts_delivered", snap.Counters.AlertsDelivered),
		zap.Float64("cpu_percent", host.CPUPercent),
		zap.Float64("mem_percent", host.MemoryPercent),
		zap.Int("goroutines", host.Goroutines),
	)
}

func (s *Supervisor) pruneJournal(ctx context.Context) {
	n, err := s.journal.Prune(ctx, time.Now().Add(-constants.DefaultJournalRetention))
	if err != nil {
		s.logger.Warn("journal prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("journal pruned", zap.Int64("rows", n))
	}
}

// Shutdown stops accepting sessions, drains the worker pool for at most
// drainTimeout and then closes every remaining session. It returns
// context.DeadlineExceeded when in-flight work did not finish in time.
func (s *Supervisor) Shutdown(drainTimeout time.Duration) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	c := s.cron
	s.mu.Unlock()

	if drainTimeout <= 0 {
		drainTimeout = s.config.DrainTimeout
	}
	s.registry.StopAccepting()
	s.dispatcher.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	drainErr := s.dispatcher.WaitIdle(ctx)
	cancel()
	if drainErr != nil {
		s.logger.Warn("drain timed out", zap.Duration("timeout", drainTimeout), zap.Int("in_flight", s.dispatcher.InFlight()))
	}

	closed := s.registry.CloseAll(models.CloseReasonShutdown)
	if c != nil {
		<-c.Stop().Done()
	}
	s.relay.Wait()
	s.publisher.Close()
	s.logger.Info("supervisor stopped", zap.Int("closed_sessions", closed))
	if errors.Is(drainErr, context.DeadlineExceeded) {
		return drainErr
	}
	return nil
}

// CreateSession registers a session for vehicleID and returns its id
func (s *Supervisor) CreateSession(ctx context.Context, vehicleID string) (string, error) {
	sess, err := s.registry.Create(vehicleID)
	if err != nil {
		return "", err
	}
	s.metrics.SetActiveSessions(s.registry.Len())
	s.persist(sess)
	return sess.ID, nil
}

// SubmitSignaling applies one signaling message to the session
func (s *Supervisor) SubmitSignaling(ctx context.Context, sessionID string, msg protocol.SignalingMessage) (*protocol.SignalingReply, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	msg.SessionID = sessionID
	reply, err := s.engine.Handle(ctx, sess, msg)
	if err == nil && msg.Kind == protocol.KindAnswer {
		if _, up := s.transportUp.LoadAndDelete(sessionID); up {
			if err := s.engine.MarkConnected(sess); err == nil {
				reply.State = sess.State().String()
			}
		}
	}
	s.persist(sess)
	return reply, err
}

// SubmitFrame offers a decoded frame to the session's relay buffer.
func (s *Supervisor) SubmitFrame(sessionID string, frame *models.Frame) (relay.Verdict, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		s.metrics.FrameRejected(relay.RejectedClosed.String())
		return relay.RejectedClosed, err
	}
	v := s.relay.Submit(sess, frame)
	if v == relay.Accepted {
		sess.Touch()
	}
	return v, nil
}

// AlertStream returns the session's alert channel. It is closed when the
// session closes.
func (s *Supervisor) AlertStream(sessionID string) (<-chan *models.Alert, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Alerts(), nil
}

// CloseSession closes a session on request. Unknown or already closed ids
// are a no-op.
func (s *Supervisor) CloseSession(sessionID string) {
	s.registry.Close(sessionID, models.CloseReasonRequested)
}

// Heartbeat records client liveness
func (s *Supervisor) Heartbeat(sessionID string) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	sess.Touch()
	return nil
}

// Session returns a live session's snapshot
func (s *Supervisor) Session(sessionID string) (models.Info, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return models.Info{}, err
	}
	return sess.Snapshot(), nil
}

// HandleTransportState maps peer connection state changes onto the
// session's signaling state.
func (s *Supervisor) HandleTransportState(sessionID string, state webrtc.PeerConnectionState) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateConnected:
		switch sess.State() {
		case models.StateAnswered:
			if err := s.engine.MarkConnected(sess); err != nil {
				s.logger.Warn("mark connected failed", logger.SessionField(sessionID), zap.Error(err))
			}
		case models.StateOffered, models.StateDisconnected:
			// applied once the client's answer arrives
			s.transportUp.Store(sessionID, struct{}{})
			s.logger.Debug("transport up ahead of answer", logger.SessionField(sessionID),
				zap.String("state", sess.State().String()))
		}
	case webrtc.PeerConnectionStateDisconnected:
		s.transportUp.Delete(sessionID)
		s.engine.Disconnect(sess)
	case webrtc.PeerConnectionStateFailed:
		s.transportUp.Delete(sessionID)
		s.engine.Fail(sess, models.CloseReasonTransportError)
	}
	s.persist(sess)
}

// ClosedReason reports why a recently closed session ended
func (s *Supervisor) ClosedReason(sessionID string) (models.CloseReason, bool) {
	return s.registry.ClosedReason(sessionID)
}

// AlertHistory returns journaled alerts for a session, oldest first.
func (s *Supervisor) AlertHistory(ctx context.Context, sessionID string, limit int) ([]*models.Alert, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.ListBySession(ctx, sessionID, limit)
}

// AlertSummary counts a session's journaled alerts per kind
func (s *Supervisor) AlertSummary(ctx context.Context, sessionID string) ([]store.KindCount, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Summary(ctx, sessionID)
}

// AddWorker registers an inference worker
func (s *Supervisor) AddWorker(id string, inf dispatch.Inferencer, capacity int) (string, error) {
	return s.dispatcher.AddWorker(id, inf, capacity)
}

// RemoveWorker drops an inference worker
func (s *Supervisor) RemoveWorker(id string) error {
	return s.dispatcher.RemoveWorker(id)
}

// WorkerHeartbeat records worker liveness
func (s *Supervisor) WorkerHeartbeat(id string) error {
	return s.dispatcher.Heartbeat(id)
}

// Snapshot is a point-in-time view of the monitor
type Snapshot struct {
	ActiveSessions int                 `json:"active_sessions"`
	QueueDepth     int                 `json:"queue_depth"`
	InFlight       int                 `json:"in_flight"`
	Workers        []models.WorkerInfo `json:"workers"`
	Counters       metrics.Counters    `json:"counters"`
}

// MetricsSnapshot returns current counts and worker loads
func (s *Supervisor) MetricsSnapshot() Snapshot {
	return Snapshot{
		ActiveSessions: s.registry.Len(),
		QueueDepth:     s.dispatcher.QueueDepth(),
		InFlight:       s.dispatcher.InFlight(),
		Workers:        s.dispatcher.Workers(),
		Counters:       s.metrics.Counters(),
	}
}
