package dispatch

import (
	"context"
	"time"

	"github.com/LingByte/LingGuard/pkg/models"
)

// worker is one arena slot. All fields are guarded by Dispatcher.mu.
type worker struct {
	id            string
	inferencer    Inferencer
	capacity      int
	status        models.WorkerStatus
	inflight      map[string]*assignment
	lastHeartbeat time.Time
	completed     uint64
	failed        uint64
	removed       bool
}

// load counts every assignment still held by the worker, timed out or not.
func (w *worker) load() int {
	return len(w.inflight)
}

func (w *worker) info() models.WorkerInfo {
	return models.WorkerInfo{
		ID:            w.id,
		Status:        w.status,
		Load:          w.load(),
		Capacity:      w.capacity,
		LastHeartbeat: w.lastHeartbeat,
		Completed:     w.completed,
		Failed:        w.failed,
	}
}

// assignment is one attempt of a work item on a worker.
type assignment struct {
	item     *models.WorkItem
	worker   *worker
	started  time.Time
	timer    *time.Timer
	cancel   context.CancelFunc
	timedOut bool
}

// pending is a work item waiting for capacity. done is nil for requeued
// items, which have no caller waiting on them.
type pending struct {
	item   *models.WorkItem
	done   chan error
	timer  *time.Timer
	queued bool
}
