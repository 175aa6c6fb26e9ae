package detect

import (
	"fmt"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/rules"
)

// Fuser combines collector opinions plus any standing manual override
// or exclusion into one decision per (column, rule) pair.
//
// The priority order is the engine's central invariant: an exclusion
// beats everything, a manual classification beats every automated
// opinion, a metadata veto beats automated positives, and only then does
// the strongest automated evidence win. Reordering these would let
// rescans silently overturn user decisions.
type Fuser struct{}

// NewFuser creates a fuser.
func NewFuser() *Fuser {
	return &Fuser{}
}

// Fuse produces the decision for one (column, rule) pair.
//
// manual carries the column's standing manual classification, if any;
// it only forces the decision when it names this rule's piiType.
// excluded reports an active Exclusion for this exact (rule, column)
// pair.
func (f *Fuser) Fuse(col catalog.Column, rule rules.Definition, opinions []Opinion, manual *catalog.Classification, excluded bool) Decision {
	if excluded {
		return NoMatch(rule, "excluded by user: pair is permanently rejected")
	}

	if manual != nil && manual.IsClassified() && rule.MatchesPIIType(*manual.PIIType) {
		return Decision{
			RuleID:     rule.ID,
			PIIType:    rule.PIIType,
			Match:      true,
			Confidence: 100,
			Source:     catalog.SourceManual,
			Sensitive:  deriveSensitive(rule),
			Severity:   string(rule.Sensitivity),
			Rationale:  "manual classification stands until explicitly cleared",
		}
	}

	for _, op := range opinions {
		if op.Veto {
			return NoMatch(rule, op.Rationale)
		}
	}

	best := Opinion{}
	found := false
	for _, op := range opinions {
		if !op.Match {
			continue
		}
		if !found || betterOpinion(op, best) {
			best = op
			found = true
		}
	}
	if !found {
		return NoMatch(rule, "no collector matched")
	}

	return Decision{
		RuleID:     rule.ID,
		PIIType:    rule.PIIType,
		Match:      true,
		Confidence: clamp(best.Confidence),
		Source:     best.Source,
		Sensitive:  deriveSensitive(rule),
		Severity:   string(rule.Sensitivity),
		Rationale:  fmt.Sprintf("%s: %s", best.Source, best.Rationale),
	}
}

// betterOpinion orders opinions by confidence, breaking ties toward the
// more specific source: content > pattern > metadata.
func betterOpinion(a, b Opinion) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Source.Specificity() > b.Source.Specificity()
}

// BetterDecision orders positive decisions across different rules for
// one column: highest confidence wins, ties break toward the more
// specific source, then lexicographic piiType for determinism.
func BetterDecision(a, b Decision) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Source.Specificity() != b.Source.Specificity() {
		return a.Source.Specificity() > b.Source.Specificity()
	}
	return a.PIIType < b.PIIType
}

func deriveSensitive(rule rules.Definition) bool {
	return rule.Sensitivity == rules.SensitivityCritical || rule.Sensitivity == rules.SensitivityHigh
}
