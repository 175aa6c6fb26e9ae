package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the origin of a classification decision
type Source string

const (
	// SourceManual is a classification set directly by a user
	SourceManual Source = "manual"

	// SourceContent is a classification derived from sampled column values
	SourceContent Source = "content"

	// SourcePattern is a classification derived from column name hints or regex
	SourcePattern Source = "pattern"

	// SourceMetadata is a classification derived from table/column context
	SourceMetadata Source = "metadata"
)

// Specificity ranks sources for tie-breaking: content beats pattern,
// pattern beats metadata, manual outranks all automated sources.
func (s Source) Specificity() int {
	switch s {
	case SourceManual:
		return 4
	case SourceContent:
		return 3
	case SourcePattern:
		return 2
	case SourceMetadata:
		return 1
	default:
		return 0
	}
}

// ColumnRef is the stable identity of a cataloged column.
type ColumnRef struct {
	DataSourceID string `json:"data_source_id"`
	Database     string `json:"database"`
	Schema       string `json:"schema"`
	Table        string `json:"table"`
	Column       string `json:"column"`
}

// Key returns the canonical lowercase identity used as the storage key
// for classifications, exclusions, and issues.
func (c ColumnRef) Key() string {
	return strings.ToLower(strings.Join([]string{
		c.DataSourceID, c.Database, c.Schema, c.Table, c.Column,
	}, "/"))
}

// Qualified returns the human-readable table.column form.
func (c ColumnRef) Qualified() string {
	return fmt.Sprintf("%s.%s", c.Table, c.Column)
}

// ParseKey reconstructs a ColumnRef from a canonical key.
func ParseKey(key string) (ColumnRef, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 {
		return ColumnRef{}, fmt.Errorf("invalid column key %q: want 5 segments, got %d", key, len(parts))
	}
	return ColumnRef{
		DataSourceID: parts[0],
		Database:     parts[1],
		Schema:       parts[2],
		Table:        parts[3],
		Column:       parts[4],
	}, nil
}

// Classification is the active PII classification of a column.
// A nil PIIType means the column is not classified.
type Classification struct {
	PIIType         *string   `json:"pii_type"`
	Sensitive       bool      `json:"sensitive"`
	Confidence      int       `json:"confidence"`
	Source          Source    `json:"source"`
	LastEvaluatedAt time.Time `json:"last_evaluated_at"`
}

// IsClassified reports whether the column carries an active classification.
func (c Classification) IsClassified() bool {
	return c.PIIType != nil && *c.PIIType != ""
}

// Column is a cataloged column together with its current classification.
type Column struct {
	Ref            ColumnRef      `json:"ref"`
	DataType       string         `json:"data_type"`
	Classification Classification `json:"classification"`
}

// Scope narrows which columns an operation targets. Zero value means all.
type Scope struct {
	DataSourceID string `json:"data_source_id,omitempty"`
	RuleID       string `json:"rule_id,omitempty"`
}
