package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/rules"
)

const (
	patternExactConfidence     = 95
	patternWordConfidence      = 85
	patternSubstringConfidence = 70

	// overbroadCap limits confidence when a rule's regex also matches
	// generic non-PII terms, which indicates the rule casts too wide a net.
	overbroadCap = 50
)

// negativeTerms is a held-out set of generic identifiers that no PII
// content regex should match. A regex matching a meaningful fraction of
// these is overbroad.
var negativeTerms = []string{
	"id", "type", "status", "count", "total", "code", "flag", "key",
	"index", "version", "created", "updated", "active", "enabled",
	"true", "false", "null", "none",
}

// PatternCollector compares the column identifier against the rule's
// name hints and sanity-checks the rule's regex against known non-PII
// terms.
type PatternCollector struct{}

// NewPatternCollector creates the collector.
func NewPatternCollector() *PatternCollector {
	return &PatternCollector{}
}

// Evaluate implements Collector.
func (pc *PatternCollector) Evaluate(ctx context.Context, col catalog.Column, rule rules.Definition) Opinion {
	column := strings.ToLower(col.Ref.Column)

	confidence := 0
	matchedHint := ""
	for _, hint := range rule.ColumnNameHints {
		h := strings.ToLower(hint)
		switch {
		case column == h:
			if confidence < patternExactConfidence {
				confidence, matchedHint = patternExactConfidence, hint
			}
		case containsToken(column, h):
			if confidence < patternWordConfidence {
				confidence, matchedHint = patternWordConfidence, hint
			}
		case strings.Contains(column, h):
			if confidence < patternSubstringConfidence {
				confidence, matchedHint = patternSubstringConfidence, hint
			}
		}
	}

	if matchedHint == "" {
		return Opinion{
			Source:    catalog.SourcePattern,
			Match:     false,
			Rationale: "no hint matches column name",
		}
	}

	rationale := fmt.Sprintf("column name matches hint %q", matchedHint)
	if overbroad, rate := regexOverbroad(rule); overbroad && confidence > overbroadCap {
		confidence = overbroadCap
		rationale = fmt.Sprintf("%s, capped: regex matches %.0f%% of held-out negative terms", rationale, rate*100)
	}

	return Opinion{
		Source:     catalog.SourcePattern,
		Match:      true,
		Confidence: clamp(confidence),
		Rationale:  rationale,
	}
}

// regexOverbroad checks the rule's content regex against the held-out
// negative terms. More than 30% hits marks the regex overbroad.
func regexOverbroad(rule rules.Definition) (bool, float64) {
	re, err := rule.CompileRegex()
	if err != nil || re == nil {
		return false, 0
	}

	hits := 0
	for _, term := range negativeTerms {
		if re.MatchString(term) {
			hits++
		}
	}
	rate := float64(hits) / float64(len(negativeTerms))
	return rate > 0.3, rate
}
