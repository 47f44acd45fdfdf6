package models

import "math"

// FrameMetrics are the per-frame face measurements a landmark model
// reports. Workers may return these instead of ready-made detections.
type FrameMetrics struct {
	FaceMissing bool    `json:"face_missing"`
	EAR         float64 `json:"ear"`
	Perclos     float64 `json:"perclos"`
	MAR         float64 `json:"mar"`
	Yaw         float64 `json:"yaw"`
	Pitch       float64 `json:"pitch"`
	Roll        float64 `json:"roll"`
	GazeOff     bool    `json:"gaze_off"`
	PhoneUsage  bool    `json:"phone_usage"`
}

// Thresholds turn FrameMetrics into detections
type Thresholds struct {
	EyeClosedEAR float64 // EAR below this counts as closed
	PerclosAlert float64 // fraction of closed-eye frames in the window
	YawnMAR      float64 // MAR above this counts as a yawn
	YawDegrees   float64
	PitchDegrees float64
	RollDegrees  float64
}

// DefaultThresholds are commonly used values for 68-point landmark models.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EyeClosedEAR: 0.21,
		PerclosAlert: 0.15,
		YawnMAR:      0.6,
		YawDegrees:   30,
		PitchDegrees: 20,
		RollDegrees:  25,
	}
}

// Detections classifies the metrics. A missing face suppresses every other
// finding since the measurements are meaningless.
func (m FrameMetrics) Detections(th Thresholds) []Detection {
	if m.FaceMissing {
		return []Detection{{Kind: AlertFaceMissing, Severity: SeverityWarning, Confidence: 1}}
	}
	var out []Detection
	if m.Perclos >= th.PerclosAlert && th.PerclosAlert > 0 {
		out = append(out, Detection{Kind: AlertPerclos, Severity: SeverityCritical, Confidence: clamp01(m.Perclos / (2 * th.PerclosAlert))})
	}
	if m.EAR > 0 && m.EAR < th.EyeClosedEAR {
		out = append(out, Detection{Kind: AlertEyeClosure, Severity: SeverityWarning, Confidence: clamp01(1 - m.EAR/th.EyeClosedEAR)})
	}
	if m.MAR > th.YawnMAR {
		out = append(out, Detection{Kind: AlertYawn, Severity: SeverityInfo, Confidence: clamp01(m.MAR - th.YawnMAR + 0.5)})
	}
	if math.Abs(m.Yaw) > th.YawDegrees || math.Abs(m.Pitch) > th.PitchDegrees || math.Abs(m.Roll) > th.RollDegrees {
		out = append(out, Detection{Kind: AlertHeadPose, Severity: SeverityWarning, Confidence: 0.8})
	}
	if m.GazeOff {
		out = append(out, Detection{Kind: AlertGaze, Severity: SeverityWarning, Confidence: 0.7})
	}
	if m.PhoneUsage {
		out = append(out, Detection{Kind: AlertPhoneUsage, Severity: SeverityCritical, Confidence: 0.9})
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
