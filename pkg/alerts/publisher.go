package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/metrics"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Drop reasons reported to metrics
const (
	DropDuplicate = "duplicate"
	DropClosed    = "closed"
	DropFull      = "full"
	DropStale     = "stale"
)

// SessionLookup resolves the owning session of an alert
type SessionLookup func(sessionID string) (*models.Session, error)

// Journal persists delivered alerts
type Journal interface {
	Record(ctx context.Context, alerts ...*models.Alert) error
}

// Config holds publisher configuration
type Config struct {
	DedupWindow     time.Duration // how long a key suppresses repeats
	DetectionWindow time.Duration // bucket used to derive keys
	JournalQueue    int
}

// Publisher turns inference results into alerts and delivers them to the
// owning session without ever blocking the caller.
type Publisher struct {
	config  Config
	lookup  SessionLookup
	dedup   *cache.Cache
	journal Journal
	queue   chan *models.Alert
	mu      sync.RWMutex // guards queue against Close
	closed  bool
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a publisher. journal may be nil.
func New(config Config, lookup SessionLookup, journal Journal, m *metrics.Metrics, log *zap.Logger) *Publisher {
	if config.DedupWindow <= 0 {
		config.DedupWindow = constants.DefaultAlertDedupWindow
	}
	if config.DetectionWindow <= 0 {
		config.DetectionWindow = constants.DefaultDetectionWindow
	}
	if config.JournalQueue <= 0 {
		config.JournalQueue = 256
	}
	p := &Publisher{
		config:  config,
		lookup:  lookup,
		dedup:   cache.New(config.DedupWindow, 2*config.DedupWindow),
		journal: journal,
		metrics: m,
		logger:  logger.Component(log, "alerts"),
	}
	if journal != nil {
		p.queue = make(chan *models.Alert, config.JournalQueue)
		p.wg.Add(1)
		go p.drainJournal()
	}
	return p
}

// PublishResult derives alerts from a worker result and publishes them.
func (p *Publisher) PublishResult(res *models.InferenceResult) int {
	return p.Publish(models.AlertsFromResult(res, p.config.DetectionWindow)...)
}

// Publish delivers alerts in timestamp order and returns how many reached a
// session. A key seen within the dedup window is delivered at most once.
func (p *Publisher) Publish(alerts ...*models.Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})

	delivered := 0
	for _, a := range alerts {
		if err := p.dedup.Add(a.Key, struct{}{}, cache.DefaultExpiration); err != nil {
			p.metrics.AlertDropped(DropDuplicate)
			continue
		}
		reason := p.deliver(a)
		if reason == "" {
			delivered++
			p.metrics.AlertDelivered(string(a.Kind))
			p.record(a)
			continue
		}
		// a later copy of the same detection may still get through
		p.dedup.Delete(a.Key)
		p.metrics.AlertDropped(reason)
		p.logger.Debug("alert dropped",
			logger.SessionField(a.SessionID),
			zap.String("kind", string(a.Kind)),
			zap.String("reason", reason),
		)
	}
	return delivered
}

func (p *Publisher) deliver(a *models.Alert) string {
	s, err := p.lookup(a.SessionID)
	if err != nil || s == nil {
		return DropClosed
	}
	switch s.Deliver(a) {
	case models.Delivered:
		return ""
	case models.DeliveryFull:
		return DropFull
	case models.DeliveryStale:
		return DropStale
	default:
		return DropClosed
	}
}

func (p *Publisher) record(a *models.Alert) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.queue == nil || p.closed {
		return
	}
	select {
	case p.queue <- a:
	default:
		p.logger.Warn("journal queue full", logger.SessionField(a.SessionID), zap.String("key", a.Key))
	}
}

func (p *Publisher) drainJournal() {
	defer p.wg.Done()
	for a := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.journal.Record(ctx, a); err != nil {
			p.logger.Warn("journal write failed", logger.SessionField(a.SessionID), zap.Error(err))
		}
		cancel()
	}
}

// Seen reports whether key is inside its dedup window
func (p *Publisher) Seen(key string) bool {
	_, ok := p.dedup.Get(key)
	return ok
}

// Close flushes the journal queue. Alerts delivered afterwards are not
// journaled.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.queue != nil {
			close(p.queue)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}
