package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFileRecorderWritesJSONL checks one entry per line with generated
// identifiers.
func TestFileRecorderWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	r := NewFileRecorder(path, 0, 0)

	assert.NoError(t, r.Record(Entry{EventType: EventClassified, ColumnKey: "w/d/s/t/c", RuleID: "pii-email"}))
	assert.NoError(t, r.Record(Entry{EventType: EventIssueOpened, Severity: SeverityWarning}))

	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		assert.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	assert.Len(t, entries, 2)
	assert.Equal(t, EventClassified, entries[0].EventType)
	assert.NotEmpty(t, entries[0].EventID)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.Equal(t, SeverityInfo, entries[0].Severity)
	assert.Equal(t, SeverityWarning, entries[1].Severity)
}

// TestFileRecorderRotates checks size-based rotation keeps writing to a
// fresh file.
func TestFileRecorderRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	r := NewFileRecorder(path, 200, 1)

	for i := 0; i < 10; i++ {
		assert.NoError(t, r.Record(Entry{EventType: EventScanCompleted, Detail: "padding padding padding"}))
	}

	rotated, err := filepath.Glob(path + ".*")
	assert.NoError(t, err)
	assert.NotEmpty(t, rotated)

	info, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestMemoryRecorder(t *testing.T) {
	m := NewMemoryRecorder()
	assert.NoError(t, m.Record(Entry{EventType: EventRuleCreated}))
	assert.NoError(t, m.Record(Entry{EventType: EventRuleDeleted}))

	assert.Len(t, m.Entries(), 2)
	assert.Len(t, m.ByType(EventRuleCreated), 1)

	m.FailWith = errors.New("sink down")
	assert.Error(t, m.Record(Entry{EventType: EventRuleCreated}))
	assert.Len(t, m.Entries(), 2)
}
