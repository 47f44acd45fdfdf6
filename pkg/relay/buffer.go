package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/LingByte/LingGuard/pkg/models"
)

var ErrBufferClosed = errors.New("frame buffer closed")

// FrameBuffer is a fixed-capacity ring of frames for one session.
//
// Push never blocks: when the ring is full the oldest frame is evicted.
// Sequence numbers must strictly increase; the high-water mark includes
// frames that were later evicted, so an evicted sequence can never be
// admitted again.
type FrameBuffer struct {
	mu       sync.Mutex
	ring     []*models.Frame
	head     int
	size     int
	lastSeq  uint64
	hasSeq   bool
	closed   bool
	notify   chan struct{}
	accepted uint64
	evicted  uint64
	rejected uint64
}

// NewFrameBuffer creates a buffer holding at most capacity frames
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameBuffer{
		ring:   make([]*models.Frame, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push admits f. evicted is true when an older frame was dropped to make room.
func (b *FrameBuffer) Push(f *models.Frame) (v Verdict, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return RejectedClosed, false
	}
	if b.hasSeq && f.Seq <= b.lastSeq {
		b.rejected++
		return RejectedOutOfOrder, false
	}
	b.lastSeq, b.hasSeq = f.Seq, true

	if b.size == len(b.ring) {
		b.ring[b.head] = nil
		b.head = (b.head + 1) % len(b.ring)
		b.size--
		b.evicted++
		evicted = true
	}
	b.ring[(b.head+b.size)%len(b.ring)] = f
	b.size++
	b.accepted++

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return Accepted, evicted
}

func (b *FrameBuffer) popLocked() *models.Frame {
	if b.size == 0 {
		return nil
	}
	f := b.ring[b.head]
	b.ring[b.head] = nil
	b.head = (b.head + 1) % len(b.ring)
	b.size--
	return f
}

// Next blocks until a frame is available, the buffer closes, or ctx ends.
func (b *FrameBuffer) Next(ctx context.Context) (*models.Frame, error) {
	for {
		b.mu.Lock()
		if f := b.popLocked(); f != nil {
			b.mu.Unlock()
			return f, nil
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, ErrBufferClosed
		}

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close drops buffered frames and wakes any waiter
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for b.popLocked() != nil {
	}
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Seqs returns the buffered sequence numbers, oldest first
func (b *FrameBuffer) Seqs() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint64, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.ring[(b.head+i)%len(b.ring)].Seq)
	}
	return out
}

// BufferStats holds per-buffer counters
type BufferStats struct {
	Buffered int    `json:"buffered"`
	LastSeq  uint64 `json:"last_seq"`
	Accepted uint64 `json:"accepted"`
	Evicted  uint64 `json:"evicted"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns the buffer counters
func (b *FrameBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Buffered: b.size,
		LastSeq:  b.lastSeq,
		Accepted: b.accepted,
		Evicted:  b.evicted,
		Rejected: b.rejected,
	}
}
