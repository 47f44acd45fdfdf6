package models

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s := NewSession("s1", "veh-1", 4)

	if s.ID != "s1" {
		t.Errorf("Expected ID 's1', got '%s'", s.ID)
	}
	if s.VehicleID != "veh-1" {
		t.Errorf("Expected VehicleID 'veh-1', got '%s'", s.VehicleID)
	}
	if s.State() != StateNew {
		t.Errorf("Expected state new, got %v", s.State())
	}
	if s.Context().Err() != nil {
		t.Error("Context should not be cancelled")
	}
	if cap(s.alerts) != 4 {
		t.Errorf("Expected alert buffer 4, got %d", cap(s.alerts))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SignalingState
		want     bool
	}{
		{StateNew, StateOffered, true},
		{StateOffered, StateAnswered, true},
		{StateAnswered, StateConnected, true},
		{StateConnected, StateDisconnected, true},
		{StateDisconnected, StateAnswered, true},
		{StateDisconnected, StateClosed, true},
		{StateFailed, StateClosed, true},
		{StateConnected, StateFailed, true},
		{StateNew, StateConnected, false},
		{StateNew, StateClosed, false},
		{StateConnected, StateClosed, false},
		{StateOffered, StateConnected, false},
		{StateClosed, StateNew, false},
		{StateFailed, StateNew, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPathToClosed_OnlyLegalEdges(t *testing.T) {
	for s := StateNew; s <= StateClosed; s++ {
		cur := s
		for _, next := range PathToClosed(s) {
			assert.True(t, CanTransition(cur, next), "%s -> %s", cur, next)
			cur = next
		}
		assert.Equal(t, StateClosed, cur)
	}
}

func TestSession_Transition(t *testing.T) {
	s := NewSession("s1", "veh-1", 1)

	from, err := s.Transition(StateOffered)
	require.NoError(t, err)
	assert.Equal(t, StateNew, from)

	_, err = s.Transition(StateConnected)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, StateOffered, s.State())

	err = s.TransitionFrom(StateNew, StateOffered)
	assert.ErrorIs(t, err, ErrStateChanged)
	require.NoError(t, s.TransitionFrom(StateOffered, StateAnswered))
}

func TestSession_Close(t *testing.T) {
	s := NewSession("s1", "veh-1", 1)
	_, _ = s.Transition(StateOffered)
	_, _ = s.Transition(StateAnswered)
	_, _ = s.Transition(StateConnected)

	path := s.Close(CloseReasonClientBye)
	assert.Equal(t, []SignalingState{StateDisconnected, StateClosed}, path)
	assert.True(t, s.Closed())
	assert.Equal(t, CloseReasonClientBye, s.CloseReason())
	assert.Error(t, s.Context().Err())

	_, open := <-s.Alerts()
	assert.False(t, open, "alert channel should be closed")

	assert.Nil(t, s.Close(CloseReasonShutdown), "second close is a no-op")
	assert.Equal(t, CloseReasonClientBye, s.CloseReason())
}

func TestSession_Deliver(t *testing.T) {
	s := NewSession("s1", "veh-1", 2)
	base := time.Now()

	assert.Equal(t, Delivered, s.Deliver(&Alert{Timestamp: base}))
	assert.Equal(t, DeliveryStale, s.Deliver(&Alert{Timestamp: base.Add(-time.Millisecond)}))
	assert.Equal(t, Delivered, s.Deliver(&Alert{Timestamp: base}))
	assert.Equal(t, DeliveryFull, s.Deliver(&Alert{Timestamp: base.Add(time.Second)}))

	s.Close(CloseReasonRequested)
	assert.Equal(t, DeliveryClosed, s.Deliver(&Alert{Timestamp: base.Add(2 * time.Second)}))
}

func TestSession_ConcurrentDeliverAndClose(t *testing.T) {
	s := NewSession("s1", "veh-1", 64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Deliver(&Alert{Timestamp: time.Now()})
			}
		}()
	}
	go s.Close(CloseReasonShutdown)
	wg.Wait()
	s.Close(CloseReasonShutdown)

	for range s.Alerts() {
	}
	assert.True(t, s.Closed())
}

func TestAlertsFromResult(t *testing.T) {
	at := time.UnixMilli(10_250)
	res := &InferenceResult{
		SessionID:  "s1",
		FrameSeq:   7,
		CapturedAt: at,
		Detections: []Detection{
			{Kind: AlertYawn, Severity: SeverityWarning, Confidence: 0.8},
			{Kind: AlertEyeClosure, Severity: SeverityCritical, Key: "custom"},
		},
	}
	alerts := AlertsFromResult(res, time.Second)
	require.Len(t, alerts, 2)
	assert.Equal(t, "s1/yawn/10000", alerts[0].Key)
	assert.Equal(t, "custom", alerts[1].Key)
	assert.Equal(t, uint64(7), alerts[0].FrameSeq)
	assert.Equal(t, at, alerts[1].Timestamp)

	assert.Equal(t, AlertKey("s1", AlertYawn, time.UnixMilli(10_999), time.Second), alerts[0].Key)
	assert.Nil(t, AlertsFromResult(nil, time.Second))
}

func TestSignalingState_TextRoundTrip(t *testing.T) {
	for state := StateNew; state <= StateClosed; state++ {
		text, err := state.MarshalText()
		require.NoError(t, err)
		var got SignalingState
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, state, got)
	}
	var s SignalingState
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
