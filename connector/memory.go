package connector

import (
	"context"
	"sync"
	"time"

	"github.com/opencatalog/piiguard/catalog"
)

// MemoryConnector serves samples from in-memory fixtures. It backs tests
// and local demos, and supports injecting failures and latency so scan
// degradation paths can be exercised.
type MemoryConnector struct {
	mu        sync.RWMutex
	values    map[string][]string
	encrypted map[string]bool

	// FailSample forces Sample to return ErrUnreachable.
	FailSample bool

	// FailEncryption forces CheckEncryption to return ErrUnreachable.
	FailEncryption bool

	// Latency is added to every call, for timeout tests.
	Latency time.Duration

	sampleCalls int
}

// NewMemoryConnector creates an empty fixture connector.
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{
		values:    make(map[string][]string),
		encrypted: make(map[string]bool),
	}
}

// SetValues installs the sampled values for a column.
func (m *MemoryConnector) SetValues(col catalog.ColumnRef, values []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[col.Key()] = values
}

// SetEncrypted marks a column's storage as encrypted.
func (m *MemoryConnector) SetEncrypted(col catalog.ColumnRef, encrypted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encrypted[col.Key()] = encrypted
}

func (m *MemoryConnector) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SampleCalls reports how many times Sample was invoked, counting
// failures.
func (m *MemoryConnector) SampleCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sampleCalls
}

// Sample implements Connector.
func (m *MemoryConnector) Sample(ctx context.Context, col catalog.ColumnRef, limit int) ([]string, error) {
	m.mu.Lock()
	m.sampleCalls++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.FailSample {
		return nil, ErrUnreachable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	vals := m.values[col.Key()]
	if limit > 0 && len(vals) > limit {
		vals = vals[:limit]
	}
	out := make([]string, len(vals))
	copy(out, vals)
	return out, nil
}

// CheckEncryption implements Connector.
func (m *MemoryConnector) CheckEncryption(ctx context.Context, col catalog.ColumnRef) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	if m.FailEncryption {
		return false, ErrUnreachable
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.encrypted[col.Key()], nil
}
