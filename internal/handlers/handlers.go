package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/LingByte/LingGuard/pkg/dispatch"
	apperrors "github.com/LingByte/LingGuard/pkg/errors"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
	"github.com/LingByte/LingGuard/pkg/registry"
	"github.com/LingByte/LingGuard/pkg/relay"
	"github.com/LingByte/LingGuard/pkg/signaling"
	"github.com/LingByte/LingGuard/pkg/store"
	"github.com/LingByte/LingGuard/pkg/supervisor"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// Monitor is the part of the supervisor the gateway drives.
type Monitor interface {
	CreateSession(ctx context.Context, vehicleID string) (string, error)
	SubmitSignaling(ctx context.Context, sessionID string, msg protocol.SignalingMessage) (*protocol.SignalingReply, error)
	SubmitFrame(sessionID string, frame *models.Frame) (relay.Verdict, error)
	AlertStream(sessionID string) (<-chan *models.Alert, error)
	CloseSession(sessionID string)
	Heartbeat(sessionID string) error
	Session(sessionID string) (models.Info, error)
	ClosedReason(sessionID string) (models.CloseReason, bool)
	AlertHistory(ctx context.Context, sessionID string, limit int) ([]*models.Alert, error)
	AlertSummary(ctx context.Context, sessionID string) ([]store.KindCount, error)
	WorkerHeartbeat(id string) error
	MetricsSnapshot() supervisor.Snapshot
}

// Handlers serves the monitor's HTTP and WebSocket API.
type Handlers struct {
	monitor Monitor
	logger  *zap.Logger
}

func NewHandlers(monitor Monitor, log *zap.Logger) *Handlers {
	return &Handlers{monitor: monitor, logger: logger.Component(log, "gateway")}
}

type createSessionRequest struct {
	VehicleID string `json:"vehicle_id" binding:"required"`
}

// CreateSession registers a monitoring session for a vehicle
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "vehicle_id is required").WithCause(err))
		return
	}
	id, err := h.monitor.CreateSession(c.Request.Context(), req.VehicleID)
	if err != nil {
		h.fail(c, err)
		return
	}
	info, err := h.monitor.Session(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": info})
}

func (h *Handlers) GetSession(c *gin.Context) {
	id := c.Param("id")
	info, err := h.monitor.Session(id)
	if err != nil {
		if reason, ok := h.monitor.ClosedReason(id); ok {
			c.JSON(http.StatusGone, gin.H{
				"success": false,
				"code":    apperrors.ErrCodeSessionClosed,
				"error":   "session closed",
				"data":    gin.H{"id": id, "close_reason": reason},
			})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": info})
}

func (h *Handlers) CloseSession(c *gin.Context) {
	h.monitor.CloseSession(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Signal applies one signaling message sent over plain HTTP
func (h *Handlers) Signal(c *gin.Context) {
	var msg protocol.SignalingMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		h.fail(c, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "invalid signaling message").WithCause(err))
		return
	}
	reply, err := h.monitor.SubmitSignaling(c.Request.Context(), c.Param("id"), msg)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": reply})
}

// SubmitFrame offers one decoded frame. Admission rejections are reported
// with 409 and the verdict.
func (h *Handlers) SubmitFrame(c *gin.Context) {
	var frame models.Frame
	if err := c.ShouldBindJSON(&frame); err != nil {
		h.fail(c, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "invalid frame").WithCause(err))
		return
	}
	verdict, err := h.monitor.SubmitFrame(c.Param("id"), &frame)
	if err != nil {
		h.fail(c, err)
		return
	}
	if verdict != relay.Accepted {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"code":    apperrors.ErrCodeFrameRejected,
			"error":   "frame rejected",
			"data":    gin.H{"verdict": verdict},
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{"verdict": verdict}})
}

func (h *Handlers) Heartbeat(c *gin.Context) {
	if err := h.monitor.Heartbeat(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AlertHistory lists journaled alerts for a session
func (h *Handlers) AlertHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	alerts, err := h.monitor.AlertHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": alerts})
}

// AlertSummary returns per-kind alert counts for a session
func (h *Handlers) AlertSummary(c *gin.Context) {
	rows, err := h.monitor.AlertSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if rows == nil {
		rows = []store.KindCount{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows})
}

func (h *Handlers) WorkerHeartbeat(c *gin.Context) {
	if err := h.monitor.WorkerHeartbeat(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.monitor.MetricsSnapshot()})
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	body := gin.H{"success": false, "code": appErr.Code, "error": appErr.Message}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.JSON(appErr.HTTPStatus, body)
}

// toAppError maps component errors onto the error taxonomy
func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}
	var se *signaling.Error
	switch {
	case errors.As(err, &se):
		return signaling.ToAppError(err)
	case errors.Is(err, registry.ErrSessionNotFound),
		errors.Is(err, registry.ErrNotAccepting),
		errors.Is(err, registry.ErrInvalidVehicle):
		return registry.ToAppError(err)
	case errors.Is(err, dispatch.ErrWorkerNotFound),
		errors.Is(err, dispatch.ErrDraining),
		errors.Is(err, dispatch.ErrDispatchTimeout):
		return dispatch.ToAppError(err)
	}
	return apperrors.WrapError(apperrors.ErrCodeInternal, err)
}
