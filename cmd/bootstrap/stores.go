package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/LingByte/LingGuard/pkg/config"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores holds the persistence backends the supervisor writes to.
type Stores struct {
	Sessions store.SessionStore
	Journal  *store.AlertJournal // nil when no journal DSN is configured
}

// SetupStores opens the session store and the alert journal
func SetupStores(ctx context.Context, cfg config.StoreConfig) (*Stores, error) {
	storeType := store.StoreType(cfg.SessionStore)
	var opts []store.StoreOption
	if storeType == store.StoreTypeRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, store.WithRedisClient(client), store.WithRedisTTL(24*time.Hour))
	}

	sessions, err := store.NewSessionStore(storeType, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("session store ready", zap.String("type", cfg.SessionStore))

	s := &Stores{Sessions: sessions}
	if cfg.JournalDSN == "" {
		logger.Warn("alert journal disabled")
		return s, nil
	}
	journal, err := store.OpenJournal(cfg.JournalDSN)
	if err != nil {
		_ = sessions.Close()
		return nil, fmt.Errorf("open alert journal: %w", err)
	}
	s.Journal = journal
	logger.Info("alert journal ready", zap.String("dsn", cfg.JournalDSN))
	return s, nil
}

// Close releases both backends
func (s *Stores) Close() {
	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			logger.Warn("close alert journal", zap.Error(err))
		}
	}
	if err := s.Sessions.Close(); err != nil {
		logger.Warn("close session store", zap.Error(err))
	}
}
