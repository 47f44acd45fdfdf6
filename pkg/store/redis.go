package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// RedisStore implements SessionStore on Redis. Writes go through
// WATCH/MULTI/EXEC so concurrent writers never lose a version.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a new Redis-based session store.
func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = constants.SessionKeyPrefix
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

// Put implements SessionStore.
func (s *RedisStore) Put(ctx context.Context, info models.Info) (*SessionRecord, error) {
	key := s.key(info.ID)
	rec := &SessionRecord{Info: info}

	txf := func(tx *redis.Tx) error {
		rec.Version = 1
		val, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored SessionRecord
			if err := json.Unmarshal(val, &stored); err != nil {
				return err
			}
			rec.Version = stored.Version + 1
		}
		rec.UpdatedAt = time.Now()

		newVal, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}

	// a concurrent writer aborts EXEC; retry a few times before giving up
	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
	}
	return nil, ErrVersionConflict
}

// Get implements SessionStore.
func (s *RedisStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List implements SessionStore.
func (s *RedisStore) List(ctx context.Context) ([]*SessionRecord, error) {
	var out []*SessionRecord
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		var rec SessionRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete implements SessionStore.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Close implements SessionStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}
