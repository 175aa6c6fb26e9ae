package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencatalog/piiguard/audit"
	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/detect"
	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/rules"
)

// Classify sets a manual classification for a column under a rule.
// It commits through the same path as scan decisions; any standing
// exclusion for the pair is removed because the user has reversed it.
func (o *Orchestrator) Classify(ctx context.Context, ref catalog.ColumnRef, ruleID, actor string) (govstore.ApplyResult, error) {
	rule, err := o.registry.Get(ruleID)
	if err != nil {
		return govstore.ApplyResult{}, err
	}

	if err := o.store.RemoveExclusion(ctx, ref, rule.ID); err != nil {
		return govstore.ApplyResult{}, err
	}
	if o.content != nil {
		o.content.InvalidateColumn(ref)
	}

	decision := detect.Decision{
		RuleID:     rule.ID,
		PIIType:    rule.PIIType,
		Match:      true,
		Confidence: 100,
		Source:     catalog.SourceManual,
		Sensitive:  rule.Sensitivity == rules.SensitivityCritical || rule.Sensitivity == rules.SensitivityHigh,
		Severity:   string(rule.Sensitivity),
		Rationale:  fmt.Sprintf("manually classified by %s", actor),
	}
	effect := o.enforcer.Reconcile(ctx, ref, decision, &rule)

	res, err := o.store.Apply(ctx, ref, decision, effect)
	if err != nil {
		return govstore.ApplyResult{}, err
	}

	o.recordOrWarn(audit.Entry{
		EventType: audit.EventManualClassify,
		Actor:     actor,
		ColumnKey: ref.Key(),
		RuleID:    rule.ID,
		PIIType:   rule.PIIType,
	})
	o.postCommit("", actor, ref, decision, res)
	return res, nil
}

// Unclassify rejects the (rule, column) pair: it records a permanent
// exclusion so rescans cannot reinstate it, and clears the
// classification and resolves the issue when that rule owns them.
// Exclusion, clear, and issue resolution commit in one transaction.
// With an empty ruleID the standing classification's rule is used; a
// column with no classification is then a no-op.
func (o *Orchestrator) Unclassify(ctx context.Context, ref catalog.ColumnRef, ruleID, actor, reason string) (govstore.ApplyResult, error) {
	columnKey := ref.Key()

	rec, found, err := o.store.GetRecord(columnKey)
	if err != nil {
		return govstore.ApplyResult{}, err
	}
	if ruleID == "" {
		if !found {
			return govstore.ApplyResult{}, nil
		}
		ruleID = rec.RuleID
	}

	piiType := ""
	if found && strings.EqualFold(rec.RuleID, ruleID) && rec.Classification.PIIType != nil {
		piiType = *rec.Classification.PIIType
	}

	res, err := o.store.ExcludeAndClear(ctx, ref, ruleID, piiType, reason, actor)
	if err != nil {
		return govstore.ApplyResult{}, err
	}
	if o.content != nil {
		o.content.InvalidateColumn(ref)
	}

	o.recordOrWarn(audit.Entry{
		EventType: audit.EventManualUnclassify,
		Actor:     actor,
		ColumnKey: columnKey,
		RuleID:    ruleID,
		PIIType:   piiType,
		Detail:    reason,
	})
	o.postCommit("", actor, ref, detect.Decision{RuleID: ruleID, PIIType: piiType, Rationale: reason}, res)
	return res, nil
}
