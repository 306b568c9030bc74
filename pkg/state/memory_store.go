package state

import (
	"context"
	"maps"
	"sync"

	"github.com/goliatone/go-observable/layering"
)

// MemoryStore is an in-memory Store keyed by Ref.Identifier. Snapshots are
// deep copied on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	snapshot map[string]any
	meta     Meta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]memoryRecord{}}
}

func (s *MemoryStore) Load(_ context.Context, ref Ref) (map[string]any, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return nil, Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, Meta{}, false, nil
	}
	return layering.CloneMap(record.snapshot), cloneMeta(record.meta), true, nil
}

func (s *MemoryStore) Save(_ context.Context, ref Ref, snapshot map[string]any, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	s.records[key] = memoryRecord{snapshot: layering.CloneMap(snapshot), meta: cloneMeta(meta)}
	s.mu.Unlock()
	return cloneMeta(meta), nil
}

func cloneMeta(meta Meta) Meta {
	out := meta
	out.Extra = maps.Clone(meta.Extra)
	return out
}
