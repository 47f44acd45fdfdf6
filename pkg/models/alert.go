package models

import (
	"fmt"
	"time"
)

type AlertKind string

const (
	AlertEyeClosure  AlertKind = "eye_closure"
	AlertYawn        AlertKind = "yawn"
	AlertGaze        AlertKind = "gaze"
	AlertHeadPose    AlertKind = "head_pose"
	AlertPhoneUsage  AlertKind = "phone_usage"
	AlertFaceMissing AlertKind = "face_missing"
	AlertPerclos     AlertKind = "perclos"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Detection is one finding returned by an inference worker for a frame.
type Detection struct {
	Kind       AlertKind `json:"kind"`
	Severity   Severity  `json:"severity"`
	Confidence float64   `json:"confidence"`
	Message    string    `json:"message,omitempty"`
	// Key optionally overrides the derived idempotency key
	Key string `json:"key,omitempty"`
}

// InferenceResult is what a worker returns for one frame.
type InferenceResult struct {
	SessionID  string        `json:"session_id"`
	FrameSeq   uint64        `json:"frame_seq"`
	CapturedAt time.Time     `json:"captured_at"`
	WorkerID   string        `json:"worker_id"`
	Latency    time.Duration `json:"latency"`
	Detections []Detection   `json:"detections"`
}

// Alert is a detection addressed to a session's client.
type Alert struct {
	Key        string    `json:"key"`
	SessionID  string    `json:"session_id"`
	Kind       AlertKind `json:"kind"`
	Severity   Severity  `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
	FrameSeq   uint64    `json:"frame_seq"`
	Confidence float64   `json:"confidence"`
	Message    string    `json:"message,omitempty"`
}

// AlertKey derives the idempotency key for a detection: one alert per
// (session, kind, detection window).
func AlertKey(sessionID string, kind AlertKind, ts time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Second
	}
	return fmt.Sprintf("%s/%s/%d", sessionID, kind, ts.Truncate(window).UnixMilli())
}

// AlertsFromResult converts a worker result into alerts keyed on the
// detection window.
func AlertsFromResult(res *InferenceResult, window time.Duration) []*Alert {
	if res == nil {
		return nil
	}
	out := make([]*Alert, 0, len(res.Detections))
	for _, d := range res.Detections {
		key := d.Key
		if key == "" {
			key = AlertKey(res.SessionID, d.Kind, res.CapturedAt, window)
		}
		out = append(out, &Alert{
			Key:        key,
			SessionID:  res.SessionID,
			Kind:       d.Kind,
			Severity:   d.Severity,
			Timestamp:  res.CapturedAt,
			FrameSeq:   res.FrameSeq,
			Confidence: d.Confidence,
			Message:    d.Message,
		})
	}
	return out
}
