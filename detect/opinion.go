// Package detect implements the evidence collectors and the decision
// fuser. Collectors are side-effect free and never fail a scan: evidence
// they cannot gather degrades to a zero-confidence opinion.
package detect

import (
	"context"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/rules"
)

// Opinion is one collector's verdict on a (column, rule) pair.
type Opinion struct {
	// Source identifies the collector that produced the opinion.
	Source catalog.Source `json:"source"`

	// Match reports whether the collector believes the column holds
	// this PII type.
	Match bool `json:"match"`

	// Confidence is 0-100.
	Confidence int `json:"confidence"`

	// Veto marks a high-confidence negative: the column is structural
	// or system metadata and must not be classified regardless of how
	// PII-like its name looks.
	Veto bool `json:"veto,omitempty"`

	// Rationale explains the verdict for audit trails and debugging.
	Rationale string `json:"rationale"`
}

// Collector is the shared evidence contract. Implementations must be
// side-effect free and must not return errors: unreachable data sources
// produce zero-confidence opinions, not failures.
type Collector interface {
	Evaluate(ctx context.Context, col catalog.Column, rule rules.Definition) Opinion
}

// Decision is the fused outcome for a (column, rule) pair.
type Decision struct {
	RuleID  string `json:"rule_id"`
	PIIType string `json:"pii_type"`

	// Match is false for a no-match decision; the remaining fields are
	// meaningless when it is false.
	Match      bool           `json:"match"`
	Confidence int            `json:"confidence"`
	Source     catalog.Source `json:"source"`
	Sensitive  bool           `json:"sensitive"`

	// Severity carries the rule's sensitivity level for issue records.
	Severity  string `json:"severity,omitempty"`
	Rationale string `json:"rationale"`
}

// NoMatch returns the negative decision for a rule.
func NoMatch(rule rules.Definition, rationale string) Decision {
	return Decision{RuleID: rule.ID, PIIType: rule.PIIType, Match: false, Rationale: rationale}
}

// clamp bounds a confidence score to 0-100.
func clamp(confidence int) int {
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}
