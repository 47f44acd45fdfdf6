package registry

import (
	"strings"
	"sync"

	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Config holds registry configuration
type Config struct {
	AlertBufferCapacity int // Outbound alert channel size per session
	ClosedMemory        int // How many closed sessions keep their close reason
}

// CloseHook runs once per session after it reached StateClosed.
type CloseHook func(s *models.Session, reason models.CloseReason)

// Registry is the single owner of live sessions.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	accepting bool
	hooks     []CloseHook

	closed *lru.Cache[string, models.CloseReason]
	config Config
	logger *zap.Logger
}

// New creates a registry
func New(config Config, log *zap.Logger) *Registry {
	if config.AlertBufferCapacity <= 0 {
		config.AlertBufferCapacity = constants.DefaultAlertBufferCapacity
	}
	if config.ClosedMemory <= 0 {
		config.ClosedMemory = constants.DefaultClosedSessionMemory
	}
	closed, _ := lru.New[string, models.CloseReason](config.ClosedMemory)
	return &Registry{
		sessions:  make(map[string]*models.Session),
		accepting: true,
		closed:    closed,
		config:    config,
		logger:    logger.Component(log, "registry"),
	}
}

// OnClose registers a hook run after every session close. Hooks must not
// call back into Close.
func (r *Registry) OnClose(hook CloseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Create registers a new session in StateNew
func (r *Registry) Create(vehicleID string) (*models.Session, error) {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return nil, ErrInvalidVehicle
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.accepting {
		return nil, ErrNotAccepting
	}
	s := models.NewSession(utils.NewSessionID(), vehicleID, r.config.AlertBufferCapacity)
	r.sessions[s.ID] = s
	r.logger.Info("Session created", logger.SessionField(s.ID), zap.String("vehicle_id", vehicleID))
	return s, nil
}

// Get retrieves a live session by ID
func (r *Registry) Get(id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close removes the session and releases everything bound to it. Closing an
// unknown or already closed session is a no-op and returns false.
func (r *Registry) Close(id string, reason models.CloseReason) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	hooks := r.hooks
	r.mu.Unlock()
	if !ok {
		return false
	}

	from := s.State()
	path := s.Close(reason)
	r.closed.Add(id, reason)
	r.logger.Info("Session closed",
		logger.SessionField(id),
		zap.String("from", from.String()),
		zap.Int("edges", len(path)),
		zap.String("reason", string(reason)),
	)
	for _, hook := range hooks {
		hook(s, reason)
	}
	return true
}

// ListActive returns every live session
func (r *Registry) ListActive() []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAccepting makes every later Create fail with ErrNotAccepting
func (r *Registry) StopAccepting() {
	r.mu.Lock()
	r.accepting = false
	r.mu.Unlock()
}

// Accepting reports whether new sessions are allowed
func (r *Registry) Accepting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accepting
}

// CloseAll closes every live session and returns how many were closed
func (r *Registry) CloseAll(reason models.CloseReason) int {
	n := 0
	for _, s := range r.ListActive() {
		if r.Close(s.ID, reason) {
			n++
		}
	}
	return n
}

// ClosedReason returns the close reason of a recently closed session
func (r *Registry) ClosedReason(id string) (models.CloseReason, bool) {
	return r.closed.Get(id)
}
