package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func kinds(ds []Detection) []AlertKind {
	var out []AlertKind
	for _, d := range ds {
		out = append(out, d.Kind)
	}
	return out
}

func TestFrameMetrics_Detections(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name string
		m    FrameMetrics
		want []AlertKind
	}{
		{"attentive driver", FrameMetrics{EAR: 0.3, MAR: 0.3}, nil},
		{"face missing wins", FrameMetrics{FaceMissing: true, EAR: 0.1, PhoneUsage: true}, []AlertKind{AlertFaceMissing}},
		{"closed eyes", FrameMetrics{EAR: 0.1, MAR: 0.2}, []AlertKind{AlertEyeClosure}},
		{"drowsy", FrameMetrics{EAR: 0.1, Perclos: 0.4}, []AlertKind{AlertPerclos, AlertEyeClosure}},
		{"yawning", FrameMetrics{EAR: 0.3, MAR: 0.8}, []AlertKind{AlertYawn}},
		{"looking away", FrameMetrics{EAR: 0.3, Yaw: -45}, []AlertKind{AlertHeadPose}},
		{"phone and gaze", FrameMetrics{EAR: 0.3, GazeOff: true, PhoneUsage: true}, []AlertKind{AlertGaze, AlertPhoneUsage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.m.Detections(th)
			assert.Equal(t, tt.want, kinds(got))
			for _, d := range got {
				assert.GreaterOrEqual(t, d.Confidence, 0.0)
				assert.LessOrEqual(t, d.Confidence, 1.0)
			}
		})
	}
}
