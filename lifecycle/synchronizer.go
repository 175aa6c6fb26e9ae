// Package lifecycle keeps governance state consistent with rule
// definitions: disabling or deleting a rule retracts its
// classifications and issues, enabling one triggers a rescan, and an
// orphan sweep repairs any drift. Exclusions always survive, so a
// rule's return cannot resurrect a rejected classification.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"

	"github.com/opencatalog/piiguard/audit"
	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/detect"
	"github.com/opencatalog/piiguard/events"
	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/policy"
	"github.com/opencatalog/piiguard/rules"
)

// Rescanner triggers a rule-scoped rescan. Satisfied by an adapter over
// the scan orchestrator; an interface here keeps the dependency pointing
// one way.
type Rescanner interface {
	ScanRule(ctx context.Context, ruleID string) error
}

// RescanFunc adapts a function to Rescanner.
type RescanFunc func(ctx context.Context, ruleID string) error

// ScanRule implements Rescanner.
func (f RescanFunc) ScanRule(ctx context.Context, ruleID string) error {
	return f(ctx, ruleID)
}

// Synchronizer applies rule lifecycle side effects. All mutations go
// through the store's single commit path, one transaction per column.
type Synchronizer struct {
	registry  *rules.Registry
	store     *govstore.Store
	catalog   catalog.Store
	rescanner Rescanner
	recorder  audit.Recorder
	publisher *events.Publisher
	logger    *slog.Logger
}

// NewSynchronizer wires a synchronizer. catalog, rescanner, and
// publisher may be nil.
func NewSynchronizer(registry *rules.Registry, store *govstore.Store, cat catalog.Store, rescanner Rescanner, recorder audit.Recorder, publisher *events.Publisher, logger *slog.Logger) *Synchronizer {
	if recorder == nil {
		recorder = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		registry:  registry,
		store:     store,
		catalog:   cat,
		rescanner: rescanner,
		recorder:  recorder,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateRule persists a new rule. An enabled rule is rescanned in the
// background so existing columns pick it up without waiting for the
// next full scan.
func (s *Synchronizer) CreateRule(ctx context.Context, def rules.Definition) (rules.Definition, error) {
	created, err := s.registry.Create(def)
	if err != nil {
		return rules.Definition{}, err
	}
	s.record(audit.EventRuleCreated, created.ID, created.PIIType, "")
	if created.Enabled {
		s.rescanAsync(created.ID)
	}
	return created, nil
}

// UpdateRule persists an edit. A material change to an enabled rule's
// matching behavior retracts the rule's prior classifications and
// rescans; cosmetic edits carry no cascade. Toggling via the enabled
// flag behaves like EnableRule/DisableRule.
func (s *Synchronizer) UpdateRule(ctx context.Context, def rules.Definition) (rules.Definition, error) {
	previous, updated, err := s.registry.Update(def)
	if err != nil {
		return rules.Definition{}, err
	}
	s.record(audit.EventRuleUpdated, updated.ID, updated.PIIType, "")

	material := rules.MaterialChange(previous, updated)
	switch {
	case previous.Enabled && !updated.Enabled:
		s.cascadeRetract(ctx, updated, "rule disabled")
	case !previous.Enabled && updated.Enabled:
		s.rescanAsync(updated.ID)
	case material && updated.Enabled:
		// Stale classifications from the old definition must not
		// survive under the new one.
		s.cascadeRetract(ctx, previous, "rule definition changed")
		s.rescanAsync(updated.ID)
	}
	return updated, nil
}

// EnableRule turns a rule on and rescans it in the background.
// Exclusions recorded while it was off still hold.
func (s *Synchronizer) EnableRule(ctx context.Context, id string) (rules.Definition, error) {
	def, err := s.registry.SetEnabled(id, true)
	if err != nil {
		return rules.Definition{}, err
	}
	s.record(audit.EventRuleEnabled, def.ID, def.PIIType, "")
	s.rescanAsync(def.ID)
	return def, nil
}

// DisableRule turns a rule off and retracts its classifications and
// open issues. Exclusions stay.
func (s *Synchronizer) DisableRule(ctx context.Context, id string) (rules.Definition, error) {
	def, err := s.registry.SetEnabled(id, false)
	if err != nil {
		return rules.Definition{}, err
	}
	s.record(audit.EventRuleDisabled, def.ID, def.PIIType, "")
	s.cascadeRetract(ctx, def, "rule disabled")
	return def, nil
}

// DeleteRule retracts the rule's governance state, then removes the
// definition. Exclusions referencing the deleted rule become inert but
// are kept: recreating the rule under the same ID must not resurrect
// rejected classifications.
func (s *Synchronizer) DeleteRule(ctx context.Context, id string) error {
	def, err := s.registry.Get(id)
	if err != nil {
		return err
	}

	s.cascadeRetract(ctx, def, "rule deleted")
	if err := s.registry.Delete(id); err != nil {
		return err
	}
	s.record(audit.EventRuleDeleted, def.ID, def.PIIType, "")
	return nil
}

// cascadeRetract clears every classification the rule owns and resolves
// every issue it opened, one transaction per column. Failures on
// individual columns are logged and the cascade continues; the orphan
// sweep repairs whatever is left.
func (s *Synchronizer) cascadeRetract(ctx context.Context, def rules.Definition, reason string) {
	cleared, resolved := 0, 0

	records, err := s.store.RecordsByRule(def.ID)
	if err != nil {
		s.logger.Error("cascade failed to list classifications", "rule_id", def.ID, "error", err)
		return
	}
	for _, rec := range records {
		decision := detect.NoMatch(def, reason)
		res, err := s.store.Apply(ctx, rec.Column, decision, policy.ResolveEffect(reason))
		if err != nil {
			s.logger.Error("cascade commit failed", "column", rec.Column.Key(), "rule_id", def.ID, "error", err)
			continue
		}
		if res.Cleared {
			cleared++
			s.syncCatalogCleared(rec.Column)
			s.publishCleared(rec.Column.Key(), def.ID)
		}
		if res.IssueResolved {
			resolved++
		}
	}

	// Open issues can outlive their classification; sweep them too.
	issues, err := s.store.IssuesByRule(def.ID)
	if err != nil {
		s.logger.Error("cascade failed to list issues", "rule_id", def.ID, "error", err)
		return
	}
	for _, issue := range issues {
		if issue.Status != govstore.IssueOpen {
			continue
		}
		ref, err := catalog.ParseKey(issue.ColumnKey)
		if err != nil {
			s.logger.Error("cascade found malformed issue key", "key", issue.ColumnKey, "error", err)
			continue
		}
		res, err := s.store.Apply(ctx, ref, detect.NoMatch(def, reason), policy.ResolveEffect(reason))
		if err != nil {
			s.logger.Error("cascade commit failed", "column", issue.ColumnKey, "rule_id", def.ID, "error", err)
			continue
		}
		if res.IssueResolved {
			resolved++
		}
	}

	s.logger.Info("rule cascade complete",
		"rule_id", def.ID,
		"reason", reason,
		"classifications_cleared", cleared,
		"issues_resolved", resolved)
}

func (s *Synchronizer) rescanAsync(ruleID string) {
	if s.rescanner == nil {
		return
	}
	go func() {
		if err := s.rescanner.ScanRule(context.Background(), ruleID); err != nil {
			s.logger.Error("rescan after rule change failed", "rule_id", ruleID, "error", err)
		}
	}()
}

func (s *Synchronizer) record(eventType, ruleID, piiType, detail string) {
	err := s.recorder.Record(audit.Entry{
		EventType: eventType,
		Actor:     "system",
		RuleID:    ruleID,
		PIIType:   piiType,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warn("audit write failed", "event_type", eventType, "error", err)
	}
}

func (s *Synchronizer) syncCatalogCleared(ref catalog.ColumnRef) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.UpdateClassification(context.Background(), ref.Key(), catalog.Classification{}); err != nil &&
		err != catalog.ErrColumnNotFound {
		s.logger.Warn("catalog sync failed", "column", ref.Key(), "error", err)
	}
}

func (s *Synchronizer) publishCleared(columnKey, ruleID string) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishClassification(events.ClassificationEvent{
		ColumnKey: columnKey,
		RuleID:    ruleID,
		Cleared:   true,
	})
}

// CleanupReport summarizes an orphan sweep.
type CleanupReport struct {
	ClearedClassifications int `json:"cleared_classifications"`
	ResolvedIssues         int `json:"resolved_issues"`

	// InertExclusions are exclusions whose rule no longer exists. They
	// are reported, never removed.
	InertExclusions []govstore.Exclusion `json:"inert_exclusions,omitempty"`
}

// CleanupOrphaned sweeps governance state left behind by interrupted
// cascades: classifications owned by missing or disabled rules are
// cleared, their issues resolved. A manual classification survives its
// rule being disabled, but not deleted. Idempotent; a clean store
// yields a zero report.
func (s *Synchronizer) CleanupOrphaned(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	live := make(map[string]rules.Definition)
	all, err := s.registry.List(rules.ListFilter{})
	if err != nil {
		return CleanupReport{}, err
	}
	for _, def := range all {
		live[strings.ToLower(def.ID)] = def
	}

	orphanRule := func(ruleID string) (rules.Definition, bool) {
		def, ok := live[strings.ToLower(ruleID)]
		if !ok {
			// Rule is gone; synthesize enough of a definition to
			// address its leftovers.
			return rules.Definition{ID: ruleID}, true
		}
		return def, !def.Enabled
	}

	records, err := s.store.ListRecords()
	if err != nil {
		return CleanupReport{}, err
	}
	for _, rec := range records {
		def, orphaned := orphanRule(rec.RuleID)
		if !orphaned {
			continue
		}
		if rec.Classification.Source == catalog.SourceManual {
			if _, exists := live[strings.ToLower(rec.RuleID)]; exists {
				// The rule is only disabled. A manual decision under it
				// stands until the user clears it or the rule is deleted.
				continue
			}
		}
		reason := "orphan sweep: rule missing or disabled"
		res, err := s.store.Apply(ctx, rec.Column, detect.NoMatch(def, reason), policy.ResolveEffect(reason))
		if err != nil {
			s.logger.Error("orphan sweep commit failed", "column", rec.Column.Key(), "error", err)
			continue
		}
		if res.Cleared {
			report.ClearedClassifications++
			s.syncCatalogCleared(rec.Column)
			s.publishCleared(rec.Column.Key(), rec.RuleID)
		}
		if res.IssueResolved {
			report.ResolvedIssues++
		}
	}

	issues, err := s.store.ListIssues(govstore.IssueOpen)
	if err != nil {
		return CleanupReport{}, err
	}
	for _, issue := range issues {
		def, orphaned := orphanRule(issue.RuleID)
		if !orphaned {
			continue
		}
		ref, err := catalog.ParseKey(issue.ColumnKey)
		if err != nil {
			s.logger.Error("orphan sweep found malformed issue key", "key", issue.ColumnKey, "error", err)
			continue
		}
		reason := "orphan sweep: rule missing or disabled"
		res, err := s.store.Apply(ctx, ref, detect.NoMatch(def, reason), policy.ResolveEffect(reason))
		if err != nil {
			s.logger.Error("orphan sweep commit failed", "column", issue.ColumnKey, "error", err)
			continue
		}
		if res.IssueResolved {
			report.ResolvedIssues++
		}
	}

	exclusions, err := s.store.ListExclusions()
	if err != nil {
		return CleanupReport{}, err
	}
	for _, excl := range exclusions {
		if _, ok := live[strings.ToLower(excl.RuleID)]; !ok {
			report.InertExclusions = append(report.InertExclusions, excl)
		}
	}

	s.record(audit.EventOrphanCleanup, "", "", "orphan sweep complete")
	s.logger.Info("orphan sweep complete",
		"classifications_cleared", report.ClearedClassifications,
		"issues_resolved", report.ResolvedIssues,
		"inert_exclusions", len(report.InertExclusions))
	return report, nil
}
