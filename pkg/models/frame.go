package models

import (
	"context"
	"time"
)

// Frame is one decoded camera frame
type Frame struct {
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Format     string    `json:"format"`
	Data       []byte    `json:"data"`
}

// WorkItem is a frame in flight through the inference pool. It lives until a
// result arrives, it times out, or its session closes.
type WorkItem struct {
	ID          string
	Frame       *Frame
	WorkerID    string
	SubmittedAt time.Time
	Attempts    int
	// Ctx is the owning session's context
	Ctx context.Context
}

// SessionID is a shorthand for the owning session
func (w *WorkItem) SessionID() string {
	if w.Frame == nil {
		return ""
	}
	return w.Frame.SessionID
}

// Cancelled reports whether the owning session is gone
func (w *WorkItem) Cancelled() bool {
	return w.Ctx != nil && w.Ctx.Err() != nil
}
