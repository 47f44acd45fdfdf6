package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Missed-cycle causes
const (
	CauseDispatchTimeout    = "dispatch_timeout"
	CauseWorkerUnresponsive = "worker_unresponsive"
	CauseWorkerError        = "worker_error"
	CauseDraining           = "draining"
)

// Metrics tracks monitor statistics. Frames rejected at admission, frames
// evicted from a full buffer and missed detection cycles are kept apart.
// All methods are safe on a nil receiver.
type Metrics struct {
	mu sync.Mutex

	framesAccepted  atomic.Uint64
	framesRejected  atomic.Uint64
	framesDropped   atomic.Uint64
	missedCycles    atomic.Uint64
	requeued        atomic.Uint64
	alertsDelivered atomic.Uint64
	alertsDropped   atomic.Uint64
	lateResults     atomic.Uint64

	// Prometheus collectors
	framesAcceptedTotal  prometheus.Counter
	framesRejectedTotal  *prometheus.CounterVec
	framesDroppedTotal   prometheus.Counter
	missedCyclesTotal    *prometheus.CounterVec
	requeuedTotal        prometheus.Counter
	alertsDeliveredTotal *prometheus.CounterVec
	alertsDroppedTotal   *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	activeSessions       prometheus.Gauge
	queueDepth           prometheus.Gauge
	workerLoad           *prometheus.GaugeVec
	inferenceSeconds     prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

// Counters is a point-in-time copy of the internal counters.
type Counters struct {
	FramesAccepted  uint64 `json:"frames_accepted"`
	FramesRejected  uint64 `json:"frames_rejected"`
	FramesDropped   uint64 `json:"frames_dropped"`
	MissedCycles    uint64 `json:"missed_cycles"`
	Requeued        uint64 `json:"requeued"`
	AlertsDelivered uint64 `json:"alerts_delivered"`
	AlertsDropped   uint64 `json:"alerts_dropped"`
	LateResults     uint64 `json:"late_results"`
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lingguard",
		Subsystem: "monitor",
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lingguard",
		Subsystem: "monitor",
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lingguard",
		Subsystem: "monitor",
		Name:      name,
		Help:      help,
	})
}

// New creates a metrics collector. A nil registerer means the default one.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:           registerer,
		framesAcceptedTotal:  newCounter("frames_accepted_total", "Frames admitted into a session buffer"),
		framesRejectedTotal:  newCounterVec("frames_rejected_total", "Frames refused at admission", []string{"reason"}),
		framesDroppedTotal:   newCounter("frames_dropped_total", "Buffered frames evicted by a newer frame"),
		missedCyclesTotal:    newCounterVec("missed_cycles_total", "Detection cycles that produced no result", []string{"cause"}),
		requeuedTotal:        newCounter("work_requeued_total", "Work items requeued after a worker timeout"),
		alertsDeliveredTotal: newCounterVec("alerts_delivered_total", "Alerts delivered to clients", []string{"kind"}),
		alertsDroppedTotal:   newCounterVec("alerts_dropped_total", "Alerts not delivered", []string{"reason"}),
		transitionsTotal:     newCounterVec("state_transitions_total", "Signaling state transitions", []string{"from", "to"}),
		activeSessions:       newGauge("active_sessions", "Live sessions"),
		queueDepth:           newGauge("dispatch_queue_depth", "Work items waiting for a worker"),
		workerLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lingguard",
			Subsystem: "monitor",
			Name:      "worker_load",
			Help:      "In-flight items per worker",
		}, []string{"worker"}),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lingguard",
			Subsystem: "monitor",
			Name:      "inference_seconds",
			Help:      "Worker round trip per frame",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.framesAcceptedTotal,
		m.framesRejectedTotal,
		m.framesDroppedTotal,
		m.missedCyclesTotal,
		m.requeuedTotal,
		m.alertsDeliveredTotal,
		m.alertsDroppedTotal,
		m.transitionsTotal,
		m.activeSessions,
		m.queueDepth,
		m.workerLoad,
		m.inferenceSeconds,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) FrameAccepted() {
	if m == nil {
		return
	}
	m.framesAccepted.Add(1)
	m.framesAcceptedTotal.Inc()
}

func (m *Metrics) FrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.Add(1)
	m.framesRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Add(1)
	m.framesDroppedTotal.Inc()
}

func (m *Metrics) MissedCycle(cause string) {
	if m == nil {
		return
	}
	m.missedCycles.Add(1)
	m.missedCyclesTotal.WithLabelValues(cause).Inc()
}

func (m *Metrics) Requeued() {
	if m == nil {
		return
	}
	m.requeued.Add(1)
	m.requeuedTotal.Inc()
}

func (m *Metrics) LateResult() {
	if m == nil {
		return
	}
	m.lateResults.Add(1)
}

func (m *Metrics) AlertDelivered(kind string) {
	if m == nil {
		return
	}
	m.alertsDelivered.Add(1)
	m.alertsDeliveredTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlertDropped(reason string) {
	if m == nil {
		return
	}
	m.alertsDropped.Add(1)
	m.alertsDroppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetWorkerLoad(workerID string, load int) {
	if m == nil {
		return
	}
	m.workerLoad.WithLabelValues(workerID).Set(float64(load))
}

func (m *Metrics) RemoveWorker(workerID string) {
	if m == nil {
		return
	}
	m.workerLoad.DeleteLabelValues(workerID)
}

func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceSeconds.Observe(d.Seconds())
}

// Counters returns the current counter values
func (m *Metrics) Counters() Counters {
	if m == nil {
		return Counters{}
	}
	return Counters{
		FramesAccepted:  m.framesAccepted.Load(),
		FramesRejected:  m.framesRejected.Load(),
		FramesDropped:   m.framesDropped.Load(),
		MissedCycles:    m.missedCycles.Load(),
		Requeued:        m.requeued.Load(),
		AlertsDelivered: m.alertsDelivered.Load(),
		AlertsDropped:   m.alertsDropped.Load(),
		LateResults:     m.lateResults.Load(),
	}
}
