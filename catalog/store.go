package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrColumnNotFound is returned when a column key is not in the catalog.
var ErrColumnNotFound = errors.New("catalog: column not found")

// Store is the catalog interface consumed by the engine. The engine reads
// column inventory from it and pushes classification results back so the
// catalog browser reflects governance state.
type Store interface {
	// ListColumns returns all columns matching the scope's data source
	// filter. The rule filter is applied by the caller, not the catalog.
	ListColumns(ctx context.Context, scope Scope) ([]Column, error)

	// GetColumn returns a single column by canonical key.
	GetColumn(ctx context.Context, key string) (Column, error)

	// UpdateClassification mirrors the engine's committed decision onto
	// the catalog record for the column.
	UpdateClassification(ctx context.Context, key string, cls Classification) error
}

// MemoryStore is an in-memory catalog, used by tests and by deployments
// where the catalog is synced in from an external system at startup.
type MemoryStore struct {
	mu      sync.RWMutex
	columns map[string]Column
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{columns: make(map[string]Column)}
}

// AddColumn registers a column in the catalog, replacing any existing
// entry with the same identity.
func (m *MemoryStore) AddColumn(col Column) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns[col.Ref.Key()] = col
}

// ListColumns implements Store.
func (m *MemoryStore) ListColumns(ctx context.Context, scope Scope) ([]Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Column
	for _, col := range m.columns {
		if scope.DataSourceID != "" && col.Ref.DataSourceID != scope.DataSourceID {
			continue
		}
		out = append(out, col)
	}

	// Deterministic order keeps scan summaries and tests stable.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref.Key() < out[j].Ref.Key()
	})
	return out, nil
}

// GetColumn implements Store.
func (m *MemoryStore) GetColumn(ctx context.Context, key string) (Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.columns[key]
	if !ok {
		return Column{}, ErrColumnNotFound
	}
	return col, nil
}

// UpdateClassification implements Store.
func (m *MemoryStore) UpdateClassification(ctx context.Context, key string, cls Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.columns[key]
	if !ok {
		return ErrColumnNotFound
	}
	col.Classification = cls
	m.columns[key] = col
	return nil
}
