package dispatch

import (
	"context"

	"github.com/LingByte/LingGuard/pkg/models"
)

// Inferencer runs the detection model on one frame.
type Inferencer interface {
	Infer(ctx context.Context, f *models.Frame) (*models.InferenceResult, error)
}

// Pinger is implemented by inferencers that can be health checked. The
// dispatcher probes unresponsive workers through it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InferencerFunc adapts a function to Inferencer
type InferencerFunc func(ctx context.Context, f *models.Frame) (*models.InferenceResult, error)

func (fn InferencerFunc) Infer(ctx context.Context, f *models.Frame) (*models.InferenceResult, error) {
	return fn(ctx, f)
}
