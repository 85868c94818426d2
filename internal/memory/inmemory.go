package memory

import (
	"context"
	"encoding/json"
	"sync"
)

// InMemoryStore keeps context records in process memory. Records are held
// marshaled so readers never alias a writer's struct. Used by tests and
// single-node runs without redis.
type InMemoryStore struct {
	mu   sync.RWMutex
	recs map[string][]byte
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recs: make(map[string][]byte)}
}

func (s *InMemoryStore) Get(ctx context.Context, userID string) (*ContextRecord, error) {
	s.mu.RLock()
	data, ok := s.recs[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var rec ContextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *InMemoryStore) Put(ctx context.Context, userID string, rec *ContextRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.recs[userID] = data
	s.mu.Unlock()
	return nil
}
