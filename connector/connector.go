// Package connector defines the boundary to live data sources. The
// engine only ever asks a connector for a bounded value sample or an
// encryption check; it never writes through one. Connectors must fail
// fast — a timeout is reported as an error that callers treat as
// "unknown", never as a reason to abort a scan.
package connector

import (
	"context"
	"errors"
	"sync"

	"github.com/opencatalog/piiguard/catalog"
)

// ErrSourceNotFound is returned when no connector is registered for a
// data source.
var ErrSourceNotFound = errors.New("connector: data source not registered")

// ErrUnreachable is returned when the data source cannot be reached.
var ErrUnreachable = errors.New("connector: data source unreachable")

// Connector opens one data source and answers sampling queries for it.
type Connector interface {
	// Sample returns up to limit values from the column. The returned
	// slice may be shorter, including empty, for sparse columns.
	Sample(ctx context.Context, col catalog.ColumnRef, limit int) ([]string, error)

	// CheckEncryption reports whether the column's storage is encrypted.
	CheckEncryption(ctx context.Context, col catalog.ColumnRef) (bool, error)
}

// Registry maps data source IDs to their connectors. Each data source
// gets exactly one connector instance, which is also the unit of
// connection budgeting: scans serialize work per connector.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register installs the connector for a data source ID.
func (r *Registry) Register(dataSourceID string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[dataSourceID] = c
}

// For returns the connector for a data source ID.
func (r *Registry) For(dataSourceID string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[dataSourceID]
	if !ok {
		return nil, ErrSourceNotFound
	}
	return c, nil
}
