package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/carlmjohnson/requests"
)

// inferRequest is the body posted to a remote worker
type inferRequest struct {
	SessionID  string `json:"session_id"`
	Seq        uint64 `json:"seq"`
	CapturedAt int64  `json:"captured_at"` // unix millis
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	Data       []byte `json:"data"`
}

// inferResponse carries either ready detections or raw face metrics
type inferResponse struct {
	Detections []models.Detection   `json:"detections"`
	Metrics    *models.FrameMetrics `json:"metrics"`
}

// RemoteInferencer calls an HTTP inference worker.
//
//	POST {endpoint}/infer   -> {"detections": [...]} or {"metrics": {...}}
//	GET  {endpoint}/healthz -> 2xx when healthy
type RemoteInferencer struct {
	Endpoint   string
	Thresholds models.Thresholds
	Client     *http.Client
}

// NewRemoteInferencer creates an inferencer for endpoint using the default
// thresholds.
func NewRemoteInferencer(endpoint string) *RemoteInferencer {
	return &RemoteInferencer{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Thresholds: models.DefaultThresholds(),
		Client:     http.DefaultClient,
	}
}

func (r *RemoteInferencer) Infer(ctx context.Context, f *models.Frame) (*models.InferenceResult, error) {
	var resp inferResponse
	err := requests.
		URL(r.Endpoint + "/infer").
		Client(r.Client).
		BodyJSON(&inferRequest{
			SessionID:  f.SessionID,
			Seq:        f.Seq,
			CapturedAt: f.CapturedAt.UnixMilli(),
			Width:      f.Width,
			Height:     f.Height,
			Format:     f.Format,
			Data:       f.Data,
		}).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}

	detections := resp.Detections
	if len(detections) == 0 && resp.Metrics != nil {
		detections = resp.Metrics.Detections(r.Thresholds)
	}
	return &models.InferenceResult{
		SessionID:  f.SessionID,
		FrameSeq:   f.Seq,
		CapturedAt: f.CapturedAt,
		Detections: detections,
	}, nil
}

func (r *RemoteInferencer) Ping(ctx context.Context) error {
	return requests.
		URL(r.Endpoint + "/healthz").
		Client(r.Client).
		Fetch(ctx)
}
