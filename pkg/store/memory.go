package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LingByte/LingGuard/pkg/models"
)

// MemoryStore implements SessionStore using an in-memory map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*SessionRecord)}
}

// Put implements SessionStore.
func (s *MemoryStore) Put(ctx context.Context, info models.Info) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &SessionRecord{Info: info, Version: 1, UpdatedAt: time.Now()}
	if prev, ok := s.records[info.ID]; ok {
		rec.Version = prev.Version + 1
	}
	s.records[info.ID] = rec
	out := *rec
	return &out, nil
}

// Get implements SessionStore.
func (s *MemoryStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// List implements SessionStore.
func (s *MemoryStore) List(ctx context.Context) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete implements SessionStore.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Close implements SessionStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*SessionRecord)
	return nil
}
