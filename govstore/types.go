package govstore

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencatalog/piiguard/catalog"
)

// Record is a column's stored classification plus the rule that produced
// it. RuleID makes lifecycle cascades a prefix walk instead of a join
// through the rule registry.
type Record struct {
	Column         catalog.ColumnRef      `json:"column"`
	RuleID         string                 `json:"rule_id"`
	Classification catalog.Classification `json:"classification"`
}

// Exclusion permanently rejects one (rule, column) pair. It survives the
// rule's deletion so a recreated rule with the same ID cannot resurrect a
// rejected classification.
type Exclusion struct {
	ColumnKey string    `json:"column_key"`
	RuleID    string    `json:"rule_id"`
	Reason    string    `json:"reason,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IssueStatus is the lifecycle state of a classification issue.
type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

// Issue records that a classified column is missing protection its rule
// requires. At most one issue exists per (column, rule) pair; reopening
// reuses the record.
type Issue struct {
	Key        string      `json:"key"`
	ColumnKey  string      `json:"column_key"`
	RuleID     string      `json:"rule_id"`
	PIIType    string      `json:"pii_type"`
	Severity   string      `json:"severity"`
	Status     IssueStatus `json:"status"`
	Details    string      `json:"details,omitempty"`
	OpenedAt   time.Time   `json:"opened_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	Resolution string      `json:"resolution,omitempty"`
}

// ApplyResult reports what a single commit changed.
type ApplyResult struct {
	Classified    bool `json:"classified"`
	Cleared       bool `json:"cleared"`
	IssueOpened   bool `json:"issue_opened"`
	IssueResolved bool `json:"issue_resolved"`
}

// Changed reports whether the commit altered any state.
func (r ApplyResult) Changed() bool {
	return r.Classified || r.Cleared || r.IssueOpened || r.IssueResolved
}

// IssueKey derives the stable identifier for a (column, rule) issue.
// Deterministic so reopen and resolve always address the same record.
func IssueKey(columnKey, ruleID string) string {
	name := "piiguard/issue/" + columnKey + "/" + strings.ToLower(ruleID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
