package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nauu/lightingbi/pkg/formula"
)

const setFileSuffix = ".json"

// FileSystemStorage implements Store with one JSON document per formula id.
// Replace writes a temporary file and renames it over the previous document.
type FileSystemStorage struct {
	rootDir string
	mu      sync.RWMutex
}

// NewFileSystemStorage creates a new filesystem-based storage
func NewFileSystemStorage(rootDir string) (*FileSystemStorage, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStorage{rootDir: rootDir}, nil
}

func (s *FileSystemStorage) path(formulaID string) string {
	return filepath.Join(s.rootDir, url.PathEscape(formulaID)+setFileSuffix)
}

func (s *FileSystemStorage) read(formulaID string) (*formula.Set, error) {
	data, err := os.ReadFile(s.path(formulaID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &formula.NotFoundError{FormulaID: formulaID}
		}
		return nil, fmt.Errorf("failed to read formula file: %w", err)
	}

	var set formula.Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal formula set: %w", err)
	}
	return &set, nil
}

func (s *FileSystemStorage) load(ctx context.Context, formulaID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, err := s.read(formulaID)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(set), nil
}

// Exists implements SetReader.Exists
func (s *FileSystemStorage) Exists(ctx context.Context, formulaID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(s.path(formulaID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat formula file: %w", err)
}

// Get implements SetReader.Get
func (s *FileSystemStorage) Get(ctx context.Context, formulaID string) (*formula.Set, error) {
	snap, err := s.load(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.Set(), nil
}

// List implements SetReader.List
func (s *FileSystemStorage) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, setFileSuffix) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, setFileSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Replace implements SetWriter.Replace
func (s *FileSystemStorage) Replace(ctx context.Context, set *formula.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSet(set); err != nil {
		return fmt.Errorf("invalid formula set: %w", err)
	}

	stored := set.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal formula set: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.rootDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write formula file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close formula file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(set.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace formula file: %w", err)
	}
	return nil
}

// Delete implements SetWriter.Delete
func (s *FileSystemStorage) Delete(ctx context.Context, formulaID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(formulaID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &formula.NotFoundError{FormulaID: formulaID}
		}
		return fmt.Errorf("failed to delete formula file: %w", err)
	}
	return nil
}

// HasCycle implements GraphQuerier.HasCycle
func (s *FileSystemStorage) HasCycle(ctx context.Context, formulaID string) (bool, error) {
	snap, err := s.load(ctx, formulaID)
	if err != nil {
		return false, err
	}
	return snap.HasCycle(), nil
}

// OrderedSubgraph implements GraphQuerier.OrderedSubgraph
func (s *FileSystemStorage) OrderedSubgraph(ctx context.Context, formulaID string) ([]formula.PathRow, error) {
	snap, err := s.load(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.OrderedSubgraph()
}

// DirectEdges implements GraphQuerier.DirectEdges
func (s *FileSystemStorage) DirectEdges(ctx context.Context, formulaID string, depth int) ([]formula.Edge, error) {
	snap, err := s.load(ctx, formulaID)
	if err != nil {
		return nil, err
	}
	return snap.DirectEdges(depth), nil
}

// HealthCheck implements HealthChecker.HealthCheck
func (s *FileSystemStorage) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.rootDir); err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	return nil
}

// Close implements io.Closer
func (s *FileSystemStorage) Close() error {
	return nil
}
