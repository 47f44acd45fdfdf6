package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/metrics"
	"github.com/LingByte/LingGuard/pkg/models"
	"go.uber.org/zap"
)

// Verdict is the admission outcome for a submitted frame
type Verdict int

const (
	Accepted Verdict = iota
	RejectedNotConnected
	RejectedOutOfOrder
	RejectedClosed
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectedNotConnected:
		return "not_connected"
	case RejectedOutOfOrder:
		return "out_of_order"
	case RejectedClosed:
		return "session_closed"
	}
	return "unknown"
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Sink receives frames in sequence order from a session pump. Dispatch may
// block until the frame is assigned or dropped; it must return promptly once
// ctx is cancelled.
type Sink interface {
	Dispatch(ctx context.Context, s *models.Session, f *models.Frame) error
}

// Config holds relay configuration
type Config struct {
	BufferCapacity int
}

// Relay owns one FrameBuffer and one pump goroutine per connected session.
type Relay struct {
	mu      sync.Mutex
	buffers map[string]*FrameBuffer
	config  Config
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New creates a relay. With a nil sink frames stay buffered.
func New(config Config, sink Sink, m *metrics.Metrics, log *zap.Logger) *Relay {
	if config.BufferCapacity <= 0 {
		config.BufferCapacity = constants.DefaultFrameBufferCapacity
	}
	return &Relay{
		buffers: make(map[string]*FrameBuffer),
		config:  config,
		sink:    sink,
		metrics: m,
		logger:  logger.Component(log, "relay"),
	}
}

// Submit admits a frame for s. Rejections are counted, never returned as
// errors. A frame without a capture time is stamped with the arrival time.
func (r *Relay) Submit(s *models.Session, f *models.Frame) Verdict {
	switch s.State() {
	case models.StateConnected:
	case models.StateClosed:
		r.metrics.FrameRejected(RejectedClosed.String())
		return RejectedClosed
	default:
		r.metrics.FrameRejected(RejectedNotConnected.String())
		return RejectedNotConnected
	}

	buf := r.bufferFor(s)
	if buf == nil {
		r.metrics.FrameRejected(RejectedClosed.String())
		return RejectedClosed
	}
	f.SessionID = s.ID
	// alert keys bucket on capture time
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	v, evicted := buf.Push(f)
	if v != Accepted {
		r.metrics.FrameRejected(v.String())
		return v
	}
	r.metrics.FrameAccepted()
	if evicted {
		r.metrics.FrameDropped()
	}
	return Accepted
}

func (r *Relay) bufferFor(s *models.Session) *FrameBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[s.ID]; ok {
		return buf
	}
	if s.Context().Err() != nil {
		return nil
	}
	buf := NewFrameBuffer(r.config.BufferCapacity)
	r.buffers[s.ID] = buf
	if r.sink != nil {
		r.wg.Add(1)
		go r.pump(s, buf)
	}
	return buf
}

func (r *Relay) pump(s *models.Session, buf *FrameBuffer) {
	defer r.wg.Done()
	ctx := s.Context()
	for {
		f, err := buf.Next(ctx)
		if err != nil {
			if !errors.Is(err, ErrBufferClosed) && !errors.Is(err, context.Canceled) {
				r.logger.Warn("pump stopped", logger.SessionField(s.ID), zap.Error(err))
			}
			return
		}
		if err := r.sink.Dispatch(ctx, s, f); err != nil {
			r.logger.Debug("frame not dispatched",
				logger.SessionField(s.ID),
				zap.Uint64("seq", f.Seq),
				zap.Error(err),
			)
		}
	}
}

// Remove closes and forgets the session's buffer
func (r *Relay) Remove(sessionID string) {
	r.mu.Lock()
	buf, ok := r.buffers[sessionID]
	delete(r.buffers, sessionID)
	r.mu.Unlock()
	if ok {
		buf.Close()
	}
}

// Buffer returns the session's buffer, if any
func (r *Relay) Buffer(sessionID string) (*FrameBuffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[sessionID]
	return buf, ok
}

// Stats returns buffer stats for one session
func (r *Relay) Stats(sessionID string) (BufferStats, bool) {
	buf, ok := r.Buffer(sessionID)
	if !ok {
		return BufferStats{}, false
	}
	return buf.Stats(), true
}

// Wait blocks until every pump has exited
func (r *Relay) Wait() {
	r.wg.Wait()
}
