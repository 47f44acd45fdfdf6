package dispatch

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/metrics"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/utils"
	"go.uber.org/zap"
)

// Config holds dispatcher configuration
type Config struct {
	DispatchTimeout time.Duration // Max wait for a free worker
	ResponseTimeout time.Duration // Max wait for a worker's result
	WorkerCapacity  int           // Default per-worker concurrency
	MaxAttempts     int           // Attempts per item, the first included
}

// ResultFunc receives every result produced for a live session.
type ResultFunc func(res *models.InferenceResult)

// Dispatcher assigns work items to the least loaded available worker.
//
// Workers live in an arena slice indexed by id. Items that find no capacity
// wait in a FIFO queue for at most DispatchTimeout. A worker that misses
// ResponseTimeout is marked unresponsive and its in-flight items are
// requeued once.
type Dispatcher struct {
	mu       sync.Mutex
	workers  []*worker
	index    map[string]int
	queue    *list.List // of *pending
	elems    map[*pending]*list.Element
	live     map[string]struct{}
	idle     chan struct{}
	draining bool

	onResult ResultFunc
	config   Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a dispatcher with an empty pool
func New(config Config, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = constants.DefaultDispatchTimeout
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = constants.DefaultWorkerResponseTimeout
	}
	if config.WorkerCapacity <= 0 {
		config.WorkerCapacity = constants.DefaultWorkerCapacity
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 2
	}
	return &Dispatcher{
		index:   make(map[string]int),
		queue:   list.New(),
		elems:   make(map[*pending]*list.Element),
		live:    make(map[string]struct{}),
		idle:    make(chan struct{}),
		config:  config,
		metrics: m,
		logger:  logger.Component(log, "dispatch"),
	}
}

// OnResult sets the result callback. It is called without locks held.
func (d *Dispatcher) OnResult(fn ResultFunc) {
	d.mu.Lock()
	d.onResult = fn
	d.mu.Unlock()
}

// AddWorker registers a worker. An empty id is generated; capacity <= 0 uses
// the configured default.
func (d *Dispatcher) AddWorker(id string, inf Inferencer, capacity int) (string, error) {
	if id == "" {
		id = utils.NewShortID(constants.WorkerIDPrefix)
	}
	if capacity <= 0 {
		capacity = d.config.WorkerCapacity
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.index[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrWorkerExists, id)
	}
	status := models.WorkerAvailable
	if d.draining {
		status = models.WorkerDraining
	}
	w := &worker{
		id:            id,
		inferencer:    inf,
		capacity:      capacity,
		status:        status,
		inflight:      make(map[string]*assignment),
		lastHeartbeat: time.Now(),
	}
	d.index[id] = len(d.workers)
	d.workers = append(d.workers, w)
	d.metrics.SetWorkerLoad(id, 0)
	d.logger.Info("worker added", logger.WorkerField(id), zap.Int("capacity", capacity))
	d.pumpLocked()
	return id, nil
}

// RemoveWorker drops a worker; its in-flight items are requeued.
func (d *Dispatcher) RemoveWorker(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return ErrWorkerNotFound
	}
	w := d.workers[i]
	w.status = models.WorkerDraining
	d.abandonLocked(w)

	last := len(d.workers) - 1
	d.workers[i] = d.workers[last]
	d.index[d.workers[i].id] = i
	d.workers = d.workers[:last]
	delete(d.index, id)
	w.removed = true
	d.metrics.RemoveWorker(id)
	d.logger.Info("worker removed", logger.WorkerField(id))
	return nil
}

// Heartbeat records worker liveness and restores an unresponsive worker.
func (d *Dispatcher) Heartbeat(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return ErrWorkerNotFound
	}
	w := d.workers[i]
	w.lastHeartbeat = time.Now()
	if w.status != models.WorkerUnresponsive {
		return nil
	}
	// attempts that timed out are written off; their late results are ignored
	for key, a := range w.inflight {
		if a.timedOut {
			a.cancel()
			delete(w.inflight, key)
		}
	}
	if d.draining {
		w.status = models.WorkerDraining
	} else {
		w.status = models.WorkerAvailable
	}
	d.metrics.SetWorkerLoad(w.id, w.load())
	d.logger.Info("worker recovered", logger.WorkerField(id))
	d.pumpLocked()
	return nil
}

// Submit assigns item to a worker, waiting up to DispatchTimeout for
// capacity. It returns once the item is assigned, not when it completes.
func (d *Dispatcher) Submit(ctx context.Context, item *models.WorkItem) error {
	if item.Ctx == nil {
		item.Ctx = context.Background()
	}
	if item.SubmittedAt.IsZero() {
		item.SubmittedAt = time.Now()
	}

	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		d.metrics.MissedCycle(metrics.CauseDraining)
		return ErrDraining
	}
	if item.Cancelled() {
		d.mu.Unlock()
		return ErrSessionClosed
	}
	d.live[item.ID] = struct{}{}
	if d.queue.Len() == 0 {
		if w := d.pickLocked(); w != nil {
			d.assignLocked(w, item)
			d.mu.Unlock()
			return nil
		}
	}
	p := &pending{item: item, done: make(chan error, 1)}
	d.enqueueLocked(p, false)
	d.mu.Unlock()

	timer := time.NewTimer(d.config.DispatchTimeout)
	defer timer.Stop()

	var cause error
	select {
	case err := <-p.done:
		return err
	case <-timer.C:
		cause = ErrDispatchTimeout
	case <-ctx.Done():
		cause = ctx.Err()
	case <-item.Ctx.Done():
		cause = ErrSessionClosed
	}

	d.mu.Lock()
	if !p.queued {
		// assigned or failed while we were timing out
		d.mu.Unlock()
		return <-p.done
	}
	d.dequeueLocked(p)
	d.finishLocked(item)
	d.mu.Unlock()

	if cause == ErrDispatchTimeout {
		d.metrics.MissedCycle(metrics.CauseDispatchTimeout)
		d.logger.Debug("dispatch timeout",
			logger.SessionField(item.SessionID()),
			zap.Uint64("seq", item.Frame.Seq),
		)
	}
	return cause
}

// Dispatch adapts Submit to the relay's pump.
func (d *Dispatcher) Dispatch(ctx context.Context, s *models.Session, f *models.Frame) error {
	return d.Submit(ctx, &models.WorkItem{
		ID:          fmt.Sprintf("%s#%d", s.ID, f.Seq),
		Frame:       f,
		SubmittedAt: time.Now(),
		Ctx:         s.Context(),
	})
}

// pickLocked returns the available worker with the lowest load and spare
// capacity, first registered on ties.
func (d *Dispatcher) pickLocked() *worker {
	var best *worker
	for _, w := range d.workers {
		if w.status != models.WorkerAvailable || w.load() >= w.capacity {
			continue
		}
		if best == nil || w.load() < best.load() {
			best = w
		}
	}
	return best
}

func (d *Dispatcher) assignLocked(w *worker, item *models.WorkItem) {
	item.WorkerID = w.id
	item.Attempts++
	callCtx, cancel := context.WithCancel(item.Ctx)
	a := &assignment{item: item, worker: w, started: time.Now(), cancel: cancel}
	w.inflight[item.ID] = a
	a.timer = time.AfterFunc(d.config.ResponseTimeout, func() { d.expire(a) })
	d.metrics.SetWorkerLoad(w.id, w.load())
	go d.run(callCtx, a)
}

func (d *Dispatcher) run(ctx context.Context, a *assignment) {
	res, err := a.worker.inferencer.Infer(ctx, a.item.Frame)
	d.complete(a, res, err)
}

func (d *Dispatcher) complete(a *assignment, res *models.InferenceResult, err error) {
	w := a.worker
	d.mu.Lock()
	cur, ok := w.inflight[a.item.ID]
	if !ok || cur != a {
		d.mu.Unlock()
		d.metrics.LateResult()
		return
	}
	delete(w.inflight, a.item.ID)
	a.timer.Stop()
	a.cancel()
	if !w.removed {
		d.metrics.SetWorkerLoad(w.id, w.load())
	}

	if a.timedOut {
		d.pumpLocked()
		d.mu.Unlock()
		d.metrics.LateResult()
		d.logger.Debug("late result discarded", logger.WorkerField(w.id), logger.SessionField(a.item.SessionID()))
		return
	}

	item := a.item
	var deliver ResultFunc
	switch {
	case item.Cancelled():
		// session closed, result is discarded
	case err != nil:
		w.failed++
		d.metrics.MissedCycle(metrics.CauseWorkerError)
		d.logger.Warn("inference failed",
			logger.WorkerField(w.id),
			logger.SessionField(item.SessionID()),
			zap.Error(err),
		)
	case res != nil:
		w.completed++
		deliver = d.onResult
	}
	d.finishLocked(item)
	d.pumpLocked()
	d.mu.Unlock()

	latency := time.Since(a.started)
	d.metrics.ObserveInference(latency)
	if deliver != nil {
		if res.SessionID == "" {
			res.SessionID = item.SessionID()
		}
		if res.FrameSeq == 0 {
			res.FrameSeq = item.Frame.Seq
		}
		if res.CapturedAt.IsZero() {
			res.CapturedAt = item.Frame.CapturedAt
		}
		res.WorkerID = w.id
		res.Latency = latency
		deliver(res)
	}
}

// expire fires when an assignment exceeds ResponseTimeout.
func (d *Dispatcher) expire(a *assignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := a.worker
	if cur, ok := w.inflight[a.item.ID]; !ok || cur != a || a.timedOut {
		return
	}
	if w.status != models.WorkerUnresponsive {
		w.status = models.WorkerUnresponsive
		d.logger.Warn("worker unresponsive",
			logger.WorkerField(w.id),
			zap.Duration("timeout", d.config.ResponseTimeout),
			zap.Int("in_flight", w.load()),
		)
	}
	d.abandonLocked(w)
	d.pumpLocked()
}

// abandonLocked requeues every live attempt on w. The attempts stay in
// w.inflight so the worker's load is only released by a late result or a
// heartbeat.
func (d *Dispatcher) abandonLocked(w *worker) {
	for _, a := range w.inflight {
		if a.timedOut {
			continue
		}
		a.timedOut = true
		a.timer.Stop()
		d.requeueLocked(a.item)
	}
}

func (d *Dispatcher) requeueLocked(item *models.WorkItem) {
	if item.Cancelled() {
		d.finishLocked(item)
		return
	}
	if item.Attempts >= d.config.MaxAttempts || d.draining {
		d.finishLocked(item)
		d.metrics.MissedCycle(metrics.CauseWorkerUnresponsive)
		return
	}
	d.metrics.Requeued()
	if w := d.pickLocked(); w != nil && d.queue.Len() == 0 {
		d.assignLocked(w, item)
		return
	}
	p := &pending{item: item}
	d.enqueueLocked(p, true)
	p.timer = time.AfterFunc(d.config.DispatchTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if !p.queued {
			return
		}
		d.dequeueLocked(p)
		d.finishLocked(item)
		d.metrics.MissedCycle(metrics.CauseDispatchTimeout)
	})
}

// pumpLocked hands queued items to free workers in FIFO order.
func (d *Dispatcher) pumpLocked() {
	for d.queue.Len() > 0 {
		front := d.queue.Front().Value.(*pending)
		if front.item.Cancelled() {
			d.dequeueLocked(front)
			d.finishLocked(front.item)
			if front.done != nil {
				front.done <- ErrSessionClosed
			}
			continue
		}
		w := d.pickLocked()
		if w == nil {
			return
		}
		d.dequeueLocked(front)
		d.assignLocked(w, front.item)
		if front.done != nil {
			front.done <- nil
		}
	}
}

func (d *Dispatcher) enqueueLocked(p *pending, front bool) {
	if front {
		d.elems[p] = d.queue.PushFront(p)
	} else {
		d.elems[p] = d.queue.PushBack(p)
	}
	p.queued = true
	d.metrics.SetQueueDepth(d.queue.Len())
}

func (d *Dispatcher) dequeueLocked(p *pending) {
	if e, ok := d.elems[p]; ok {
		d.queue.Remove(e)
		delete(d.elems, p)
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.queued = false
	d.metrics.SetQueueDepth(d.queue.Len())
}

// finishLocked marks the item resolved for drain accounting.
func (d *Dispatcher) finishLocked(item *models.WorkItem) {
	if _, ok := d.live[item.ID]; !ok {
		return
	}
	delete(d.live, item.ID)
	if len(d.live) == 0 {
		close(d.idle)
		d.idle = make(chan struct{})
	}
}

// CancelSession drops queued work for a closed session and cancels its
// in-flight calls.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for e := d.queue.Front(); e != nil; {
		next := e.Next()
		p := e.Value.(*pending)
		if p.item.SessionID() == sessionID {
			d.dequeueLocked(p)
			d.finishLocked(p.item)
			if p.done != nil {
				p.done <- ErrSessionClosed
			}
		}
		e = next
	}
	for _, w := range d.workers {
		for _, a := range w.inflight {
			if a.item.SessionID() == sessionID {
				a.cancel()
				if a.timedOut {
					continue
				}
				d.finishLocked(a.item)
			}
		}
	}
}

// Drain stops new submissions, fails queued items and marks every worker
// draining. In-flight items may still complete.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return
	}
	d.draining = true
	for _, w := range d.workers {
		w.status = models.WorkerDraining
	}
	for d.queue.Len() > 0 {
		p := d.queue.Front().Value.(*pending)
		d.dequeueLocked(p)
		d.finishLocked(p.item)
		d.metrics.MissedCycle(metrics.CauseDraining)
		if p.done != nil {
			p.done <- ErrDraining
		}
	}
	d.logger.Info("dispatcher draining", zap.Int("in_flight", len(d.live)))
}

// WaitIdle blocks until no item is in flight or ctx ends.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	for {
		d.mu.Lock()
		n := len(d.live)
		idle := d.idle
		d.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ProbeWorkers pings unresponsive workers that implement Pinger and
// restores the ones that answer. It returns how many recovered.
func (d *Dispatcher) ProbeWorkers(ctx context.Context) int {
	type probe struct {
		id     string
		pinger Pinger
	}
	var probes []probe
	d.mu.Lock()
	for _, w := range d.workers {
		if w.status != models.WorkerUnresponsive {
			continue
		}
		if p, ok := w.inferencer.(Pinger); ok {
			probes = append(probes, probe{w.id, p})
		}
	}
	d.mu.Unlock()

	recovered := 0
	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, d.config.ResponseTimeout)
		err := p.pinger.Ping(pctx)
		cancel()
		if err != nil {
			d.logger.Debug("worker probe failed", logger.WorkerField(p.id), zap.Error(err))
			continue
		}
		if d.Heartbeat(p.id) == nil {
			recovered++
		}
	}
	return recovered
}

// QueueDepth returns the number of items waiting for a worker
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// InFlight returns the number of unresolved items
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Workers returns a snapshot of the pool in registration order
func (d *Dispatcher) Workers() []models.WorkerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.WorkerInfo, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.info())
	}
	return out
}

// Worker returns one worker's snapshot
func (d *Dispatcher) Worker(id string) (models.WorkerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return models.WorkerInfo{}, ErrWorkerNotFound
	}
	return d.workers[i].info(), nil
}
