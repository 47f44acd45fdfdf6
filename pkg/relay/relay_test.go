package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LingByte/LingGuard/pkg/metrics"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func connectedSession(t *testing.T, id string) *models.Session {
	t.Helper()
	s := models.NewSession(id, "veh-"+id, 4)
	for _, st := range []models.SignalingState{models.StateOffered, models.StateAnswered, models.StateConnected} {
		_, err := s.Transition(st)
		require.NoError(t, err)
	}
	return s
}

func frame(seq uint64) *models.Frame {
	return &models.Frame{Seq: seq, CapturedAt: time.Now(), Width: 640, Height: 480, Format: "gray8"}
}

func TestFrameBuffer_OutOfOrder(t *testing.T) {
	b := NewFrameBuffer(8)
	var accepted []uint64
	for _, seq := range []uint64{1, 2, 2, 5, 4} {
		if v, _ := b.Push(frame(seq)); v == Accepted {
			accepted = append(accepted, seq)
		}
	}
	assert.Equal(t, []uint64{1, 2, 5}, accepted)
	assert.Equal(t, []uint64{1, 2, 5}, b.Seqs())
	assert.Equal(t, uint64(2), b.Stats().Rejected)
}

func TestFrameBuffer_DropOldest(t *testing.T) {
	b := NewFrameBuffer(3)
	evictions := 0
	for seq := uint64(1); seq <= 5; seq++ {
		v, evicted := b.Push(frame(seq))
		require.Equal(t, Accepted, v)
		if evicted {
			evictions++
		}
	}
	assert.Equal(t, []uint64{3, 4, 5}, b.Seqs())
	assert.Equal(t, 2, evictions)
	assert.Equal(t, uint64(2), b.Stats().Evicted)

	// an evicted sequence can not come back
	v, _ := b.Push(frame(2))
	assert.Equal(t, RejectedOutOfOrder, v)
}

func TestFrameBuffer_NextAndClose(t *testing.T) {
	b := NewFrameBuffer(2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Push(frame(9))
	}()
	f, err := b.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), f.Seq)

	done := make(chan error, 1)
	go func() {
		_, err := b.Next(ctx)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBufferClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}

	v, _ := b.Push(frame(10))
	assert.Equal(t, RejectedClosed, v)
}

func TestRelay_RejectsUnlessConnected(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := New(Config{BufferCapacity: 4}, nil, m, zap.NewNop())

	s := models.NewSession("s1", "veh", 1)
	assert.Equal(t, RejectedNotConnected, r.Submit(s, frame(1)))

	_, _ = s.Transition(models.StateOffered)
	assert.Equal(t, RejectedNotConnected, r.Submit(s, frame(1)))

	s.Close(models.CloseReasonRequested)
	assert.Equal(t, RejectedClosed, r.Submit(s, frame(1)))

	assert.Equal(t, uint64(3), m.Counters().FramesRejected)
	assert.Equal(t, uint64(0), m.Counters().FramesAccepted)
}

func TestRelay_SubmitScenario(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := New(Config{BufferCapacity: 3}, nil, m, zap.NewNop())
	s := connectedSession(t, "s1")

	for seq := uint64(1); seq <= 5; seq++ {
		assert.Equal(t, Accepted, r.Submit(s, frame(seq)))
	}
	assert.Equal(t, RejectedOutOfOrder, r.Submit(s, frame(5)))

	buf, ok := r.Buffer(s.ID)
	require.True(t, ok)
	assert.Equal(t, []uint64{3, 4, 5}, buf.Seqs())

	c := m.Counters()
	assert.Equal(t, uint64(5), c.FramesAccepted)
	assert.Equal(t, uint64(2), c.FramesDropped)
	assert.Equal(t, uint64(1), c.FramesRejected)

	r.Remove(s.ID)
	_, ok = r.Buffer(s.ID)
	assert.False(t, ok)
}

func TestRelay_StampsMissingCaptureTime(t *testing.T) {
	r := New(Config{BufferCapacity: 4}, nil, nil, zap.NewNop())
	s := connectedSession(t, "s1")

	before := time.Now()
	f := &models.Frame{Seq: 1}
	require.Equal(t, Accepted, r.Submit(s, f))
	assert.False(t, f.CapturedAt.Before(before))
	assert.Equal(t, "s1", f.SessionID)

	captured := time.Unix(1700000000, 0)
	f = &models.Frame{Seq: 2, CapturedAt: captured}
	require.Equal(t, Accepted, r.Submit(s, f))
	assert.Equal(t, captured, f.CapturedAt)
}

type recordingSink struct {
	mu   sync.Mutex
	seqs []uint64
}

func (rs *recordingSink) Dispatch(_ context.Context, _ *models.Session, f *models.Frame) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.seqs = append(rs.seqs, f.Seq)
	return nil
}

func (rs *recordingSink) got() []uint64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]uint64(nil), rs.seqs...)
}

func TestRelay_PumpPreservesOrder(t *testing.T) {
	sink := &recordingSink{}
	r := New(Config{BufferCapacity: 64}, sink, nil, zap.NewNop())
	s := connectedSession(t, "s1")

	for seq := uint64(1); seq <= 20; seq++ {
		r.Submit(s, frame(seq))
	}
	require.Eventually(t, func() bool { return len(sink.got()) == 20 }, time.Second, 5*time.Millisecond)

	got := sink.got()
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}

	s.Close(models.CloseReasonRequested)
	r.Remove(s.ID)
	r.Wait()
}
