package es

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store is the append-only event log.
//
// Append must fail with ErrVersionConflict when the aggregate's stored
// version differs from expectedVersion. Load returns records in ascending
// version order and an empty slice for unknown aggregates.
type Store interface {
	Append(ctx context.Context, aggregateID string, expectedVersion int, records []Record) error
	Load(ctx context.Context, aggregateID string) ([]Record, error)
}

// MemoryStore keeps streams in process. Used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]Record)}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID string, expectedVersion int, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.streams[aggregateID])
	if current != expectedVersion {
		return fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, aggregateID, current, expectedVersion)
	}
	for i, r := range records {
		if r.Version != expectedVersion+i+1 {
			return fmt.Errorf("append %s: record %d has version %d, want %d", aggregateID, i, r.Version, expectedVersion+i+1)
		}
	}
	s.streams[aggregateID] = append(s.streams[aggregateID], records...)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	out := make([]Record, len(stream))
	copy(out, stream)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
