package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nauu/lightingbi/pkg/formula"
)

// MemoryStore keeps formula sets in process. Each Replace builds a new immutable
// Snapshot and swaps it in under the lock, bumping the generation counter, so
// readers observe either the old definition or the new one.
type MemoryStore struct {
	mu         sync.RWMutex
	snapshots  map[string]*Snapshot
	generation map[string]uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:  make(map[string]*Snapshot),
		generation: make(map[string]uint64),
	}
}

func (s *MemoryStore) snapshot(formulaID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[formulaID]
	if !ok {
		return nil, &formula.NotFoundError{FormulaID: formulaID}
	}
	return snap, nil
}

// Exists implements SetReader.Exists
func (s *MemoryStore) Exists(ctx context.Context, formulaID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snapshots[formulaID]
	return ok, nil
}

// Get implements SetReader.Get
func (s *MemoryStore) Get(ctx context.Context, formulaID string) (*formula.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(formulaID)
	if err != nil {
		return nil, err
	}
	return snap.Set(), nil
}

// List implements SetReader.List
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Replace implements SetWriter.Replace
func (s *MemoryStore) Replace(ctx context.Context, set *formula.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSet(set); err != nil {
		return fmt.Errorf("invalid formula set: %w", err)
	}

	snap := NewSnapshot(set)
	if snap.set.UpdatedAt.IsZero() {
		snap.set.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[set.ID] = snap
	s.generation[set.ID]++
	return nil
}

// Delete implements SetWriter.Delete
func (s *MemoryStore) Delete(ctx context.Context, formulaID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[formulaID]; !ok {
		return &formula.NotFoundError{FormulaID: formulaID}
	}
	delete(s.snapshots, formulaID)
	s.generation[formulaID]++
	return nil
}

// Generation returns how many times formulaID has been replaced or deleted
func (s *MemoryStore) Generation(formulaID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation[formulaID]
}

// HasCycle implements GraphQuerier.HasCycle
func (s *MemoryStore) HasCycle(ctx context.Context, formulaID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	snap, err := s.snapshot(formulaID)
	if err != nil {
		return false, err
	}
	return snap.HasCycle(), nil
}

// OrderedSubgraph implements GraphQuerier.OrderedSubgraph
func (s *MemoryStore) OrderedSubgraph(ctx context.Context, formulaID string) ([]formula.PathRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(formulaID)
	if err != nil {
		return nil, err
	}
	return snap.OrderedSubgraph()
}

// DirectEdges implements GraphQuerier.DirectEdges
func (s *MemoryStore) DirectEdges(ctx context.Context, formulaID string, depth int) ([]formula.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(formulaID)
	if err != nil {
		return nil, err
	}
	return snap.DirectEdges(depth), nil
}

// HealthCheck implements HealthChecker.HealthCheck
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close implements io.Closer
func (s *MemoryStore) Close() error {
	return nil
}
