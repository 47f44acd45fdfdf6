package store

import (
	"context"
	"errors"
	"time"

	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidStoreType = errors.New("invalid session store type")
	ErrInvalidConfig    = errors.New("invalid session store configuration")
	ErrVersionConflict  = errors.New("session record version conflict")
)

// SessionRecord is the persisted view of a session. Version grows by one on
// every Put.
type SessionRecord struct {
	models.Info
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore keeps session snapshots outside the process so operators and
// other replicas can see what a node is serving.
type SessionStore interface {
	// Put creates or replaces the record for info.ID
	Put(ctx context.Context, info models.Info) (*SessionRecord, error)

	// Get returns nil when the session is unknown (not an error)
	Get(ctx context.Context, id string) (*SessionRecord, error)

	// List returns every stored record
	List(ctx context.Context) ([]*SessionRecord, error)

	Delete(ctx context.Context, id string) error

	// Close releases any resources
	Close() error
}

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	keyPrefix   string
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the TTL for Redis keys.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.keyPrefix = prefix
	}
}

// NewSessionStore creates a SessionStore of the given type. The redis store
// requires WithRedisClient.
func NewSessionStore(storeType StoreType, opts ...StoreOption) (SessionStore, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(config.redisClient, config.redisTTL, config.keyPrefix), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
