// Package audit writes the engine's JSONL audit trail: every
// classification change, manual action, rule lifecycle event, and issue
// transition gets one line.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity of an audit event.
type Severity string

const (
	// SeverityInfo for normal operations
	SeverityInfo Severity = "info"

	// SeverityWarning for degraded evidence or skipped work
	SeverityWarning Severity = "warning"

	// SeverityError for failed operations
	SeverityError Severity = "error"
)

// Event types written by the engine.
const (
	EventClassified       = "column_classified"
	EventCleared          = "classification_cleared"
	EventManualClassify   = "manual_classify"
	EventManualUnclassify = "manual_unclassify"
	EventIssueOpened      = "issue_opened"
	EventIssueResolved    = "issue_resolved"
	EventRuleCreated      = "rule_created"
	EventRuleUpdated      = "rule_updated"
	EventRuleEnabled      = "rule_enabled"
	EventRuleDisabled     = "rule_disabled"
	EventRuleDeleted      = "rule_deleted"
	EventScanStarted      = "scan_started"
	EventScanCompleted    = "scan_completed"
	EventOrphanCleanup    = "orphan_cleanup"
)

// Entry is one audit line.
type Entry struct {
	EventID   string   `json:"event_id"`
	Timestamp string   `json:"timestamp"`
	EventType string   `json:"event_type"`
	Severity  Severity `json:"severity"`

	// Actor is "system" for scans and cascades, a user identity for
	// manual actions.
	Actor string `json:"actor,omitempty"`

	ColumnKey string `json:"column_key,omitempty"`
	RuleID    string `json:"rule_id,omitempty"`
	PIIType   string `json:"pii_type,omitempty"`
	ScanID    string `json:"scan_id,omitempty"`

	Detail   string            `json:"detail,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Recorder is the audit sink. Injected rather than global so tests can
// capture entries or force write failures.
type Recorder interface {
	Record(entry Entry) error
}

// FileRecorder appends JSONL entries to a file, rotating by size and
// pruning rotated files past the retention window.
type FileRecorder struct {
	mu           sync.Mutex
	path         string
	writer       io.Writer
	rotationSize int64
	currentSize  int64
	retention    int // days
	initialized  bool
}

// NewFileRecorder creates a recorder writing to path. Zero rotationSize
// and retention get production defaults.
func NewFileRecorder(path string, rotationSize int64, retentionDays int) *FileRecorder {
	if rotationSize <= 0 {
		rotationSize = 100 * 1024 * 1024
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &FileRecorder{
		path:         path,
		rotationSize: rotationSize,
		retention:    retentionDays,
	}
}

func (r *FileRecorder) initialize() error {
	dir := filepath.Dir(r.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log: %w", err)
	}

	r.currentSize = info.Size()
	r.writer = f
	r.initialized = true
	return nil
}

func (r *FileRecorder) maybeRotate() error {
	if r.currentSize < r.rotationSize {
		return nil
	}

	if closer, ok := r.writer.(io.Closer); ok {
		closer.Close()
	}

	rotated := fmt.Sprintf("%s.%s", r.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(r.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	r.cleanupOld()
	return r.initialize()
}

// cleanupOld removes rotated files older than the retention period.
func (r *FileRecorder) cleanupOld() {
	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)
	cutoff := time.Now().AddDate(0, 0, -r.retention)

	files, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return
	}
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
}

// Record implements Recorder.
func (r *FileRecorder) Record(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		if err := r.initialize(); err != nil {
			return err
		}
	}
	if err := r.maybeRotate(); err != nil {
		return err
	}

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	n, err := fmt.Fprintln(r.writer, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	r.currentSize += int64(n)
	return nil
}

// MemoryRecorder captures entries in memory, for tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry

	// FailWith, when set, makes every Record call return this error.
	FailWith error
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record implements Recorder.
func (m *MemoryRecorder) Record(entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (m *MemoryRecorder) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByType returns recorded entries of one event type.
func (m *MemoryRecorder) ByType(eventType string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Discard is a Recorder that drops everything.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(Entry) error { return nil }
