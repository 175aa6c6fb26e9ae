// Package scan drives classification: it walks cataloged columns,
// gathers evidence, fuses decisions, and commits them one column at a
// time. Manual classify and unclassify actions go through the same
// commit path as scans.
package scan

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opencatalog/piiguard/audit"
	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/detect"
	"github.com/opencatalog/piiguard/events"
	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/metrics"
	"github.com/opencatalog/piiguard/policy"
	"github.com/opencatalog/piiguard/rules"
)

// DefaultWorkers bounds concurrent column evaluations per data source.
// Sources are scanned in parallel with each other on top of this.
const DefaultWorkers = 4

// Summary reports what one scan did.
type Summary struct {
	ScanID           string        `json:"scan_id"`
	Scope            catalog.Scope `json:"scope"`
	ColumnsEvaluated int           `json:"columns_evaluated"`
	Classified       int           `json:"classified"`
	Cleared          int           `json:"cleared"`
	IssuesOpened     int           `json:"issues_opened"`
	IssuesResolved   int           `json:"issues_resolved"`
	Ambiguities      int           `json:"ambiguities"`
	ErroredColumns   []string      `json:"errored_columns,omitempty"`
	DurationMs       int64         `json:"duration_ms"`
}

// Config wires an orchestrator.
type Config struct {
	Catalog    catalog.Store
	Registry   *rules.Registry
	Store      *govstore.Store
	Collectors []detect.Collector
	Content    *detect.ContentCollector
	Fuser      *detect.Fuser
	Enforcer   *policy.Enforcer
	Recorder   audit.Recorder
	Publisher  *events.Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// Workers bounds concurrency per data source. Zero means
	// DefaultWorkers.
	Workers int
}

// Orchestrator runs scans and manual classification actions.
type Orchestrator struct {
	catalog   catalog.Store
	registry  *rules.Registry
	store     *govstore.Store
	collector []detect.Collector
	content   *detect.ContentCollector
	fuser     *detect.Fuser
	enforcer  *policy.Enforcer
	recorder  audit.Recorder
	publisher *events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	workers   int
}

// NewOrchestrator creates an orchestrator from the config, filling in
// defaults for optional pieces.
func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		catalog:   cfg.Catalog,
		registry:  cfg.Registry,
		store:     cfg.Store,
		collector: cfg.Collectors,
		content:   cfg.Content,
		fuser:     cfg.Fuser,
		enforcer:  cfg.Enforcer,
		recorder:  cfg.Recorder,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		workers:   cfg.Workers,
	}
	if o.fuser == nil {
		o.fuser = detect.NewFuser()
	}
	if o.recorder == nil {
		o.recorder = audit.Discard{}
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.workers <= 0 {
		o.workers = DefaultWorkers
	}
	return o
}

// scanState accumulates summary counters across workers.
type scanState struct {
	mu      sync.Mutex
	summary Summary
}

func (st *scanState) add(res govstore.ApplyResult, ambiguous bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.summary.ColumnsEvaluated++
	if res.Classified {
		st.summary.Classified++
	}
	if res.Cleared {
		st.summary.Cleared++
	}
	if res.IssueOpened {
		st.summary.IssuesOpened++
	}
	if res.IssueResolved {
		st.summary.IssuesResolved++
	}
	if ambiguous {
		st.summary.Ambiguities++
	}
}

func (st *scanState) errored(columnKey string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.summary.ColumnsEvaluated++
	st.summary.ErroredColumns = append(st.summary.ErroredColumns, columnKey)
}

// Scan evaluates every column in scope against the applicable rules and
// commits the outcome per column. A failed column is recorded and
// skipped; it never aborts the scan.
func (o *Orchestrator) Scan(ctx context.Context, scope catalog.Scope) (Summary, error) {
	start := time.Now()
	scanID := uuid.NewString()

	ruleSet, err := o.rulesInScope(scope)
	if err != nil {
		return Summary{}, err
	}

	columns, err := o.catalog.ListColumns(ctx, scope)
	if err != nil {
		return Summary{}, err
	}

	o.metrics.ScansStarted.Inc()
	o.recorder.Record(audit.Entry{
		EventType: audit.EventScanStarted,
		Actor:     "system",
		ScanID:    scanID,
		RuleID:    scope.RuleID,
		Detail:    scope.DataSourceID,
	})
	o.logger.Info("scan started",
		"scan_id", scanID,
		"columns", len(columns),
		"rules", len(ruleSet),
		"data_source", scope.DataSourceID,
		"rule_id", scope.RuleID)

	state := &scanState{summary: Summary{ScanID: scanID, Scope: scope}}

	bySource := make(map[string][]catalog.Column)
	for _, col := range columns {
		bySource[col.Ref.DataSourceID] = append(bySource[col.Ref.DataSourceID], col)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range bySource {
		group := group
		g.Go(func() error {
			return o.scanSource(gctx, scanID, group, ruleSet, scope.RuleID != "", state)
		})
	}
	if err := g.Wait(); err != nil {
		return state.summary, err
	}

	state.summary.DurationMs = time.Since(start).Milliseconds()
	o.metrics.ScansCompleted.Inc()
	o.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	o.recorder.Record(audit.Entry{
		EventType: audit.EventScanCompleted,
		Actor:     "system",
		ScanID:    scanID,
		Detail:    scope.DataSourceID,
	})
	o.logger.Info("scan completed",
		"scan_id", scanID,
		"columns", state.summary.ColumnsEvaluated,
		"classified", state.summary.Classified,
		"cleared", state.summary.Cleared,
		"issues_opened", state.summary.IssuesOpened,
		"issues_resolved", state.summary.IssuesResolved,
		"errored", len(state.summary.ErroredColumns),
		"duration_ms", state.summary.DurationMs)
	return state.summary, nil
}

// ScanRule rescans every column against a single rule. Used when a rule
// is enabled or modified.
func (o *Orchestrator) ScanRule(ctx context.Context, ruleID string) (Summary, error) {
	return o.Scan(ctx, catalog.Scope{RuleID: ruleID})
}

func (o *Orchestrator) rulesInScope(scope catalog.Scope) ([]rules.Definition, error) {
	if scope.RuleID != "" {
		rule, err := o.registry.Get(scope.RuleID)
		if err != nil {
			return nil, err
		}
		if !rule.Enabled {
			// A disabled rule contributes no evidence; its scoped scan
			// can only clear stale classifications.
			return []rules.Definition{rule}, nil
		}
		return []rules.Definition{rule}, nil
	}
	return o.registry.ListEnabled()
}

// scanSource evaluates one data source's columns through a bounded
// worker pool.
func (o *Orchestrator) scanSource(ctx context.Context, scanID string, columns []catalog.Column, ruleSet []rules.Definition, ruleScoped bool, state *scanState) error {
	jobs := make(chan catalog.Column)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for col := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				o.scanColumn(gctx, scanID, col, ruleSet, ruleScoped, state)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, col := range columns {
			select {
			case jobs <- col:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

// scanColumn fuses decisions for one column across all rules in scope
// and commits the winner. Collector failures degrade; only a failed
// commit marks the column errored.
func (o *Orchestrator) scanColumn(ctx context.Context, scanID string, col catalog.Column, ruleSet []rules.Definition, ruleScoped bool, state *scanState) {
	columnKey := col.Ref.Key()
	o.metrics.ColumnsScanned.Inc()

	excluded, err := o.store.ExclusionsForColumn(columnKey)
	if err != nil {
		o.logger.Error("failed to load exclusions", "column", columnKey, "error", err)
		state.errored(columnKey)
		o.metrics.ColumnsErrored.Inc()
		return
	}

	var manual *catalog.Classification
	if rec, found, err := o.store.GetRecord(columnKey); err == nil && found &&
		rec.Classification.Source == catalog.SourceManual {
		cls := rec.Classification
		manual = &cls
	}

	var (
		positives []detect.Decision
		winner    detect.Decision
		haveWin   bool
	)
	for _, rule := range ruleSet {
		pairExcluded := false
		if _, ok := excluded[strings.ToLower(rule.ID)]; ok {
			pairExcluded = true
		}

		var opinions []detect.Opinion
		if !pairExcluded && rule.Enabled {
			// Excluded pairs skip evidence collection entirely.
			for _, c := range o.collector {
				opinions = append(opinions, c.Evaluate(ctx, col, rule))
			}
		}

		decision := o.fuser.Fuse(col, rule, opinions, manual, pairExcluded)
		if decision.Match {
			positives = append(positives, decision)
			if !haveWin || detect.BetterDecision(decision, winner) {
				winner = decision
				haveWin = true
			}
		}
	}

	ambiguous := len(positives) > 1
	if ambiguous {
		o.logger.Debug("multiple rules matched column, highest confidence wins",
			"column", columnKey,
			"winner_rule", winner.RuleID,
			"candidates", len(positives))
	}

	var (
		decision detect.Decision
		effect   policy.Effect
	)
	switch {
	case haveWin:
		decision = winner
		rule := o.ruleFor(ruleSet, winner.RuleID)
		effect = o.enforcer.Reconcile(ctx, col.Ref, winner, rule)
	case ruleScoped:
		// Scoped no-match clears only what this rule owns.
		decision = detect.NoMatch(ruleSet[0], "no evidence for rule")
		effect = policy.ResolveEffect("column no longer classified under rule")
	case manual != nil:
		// A manual classification with no backing rule in scope stands
		// until a user clears it.
		state.add(govstore.ApplyResult{}, ambiguous)
		return
	default:
		decision = detect.Decision{Match: false, Rationale: "no rule matched"}
		effect = policy.ResolveEffect("column is not classified")
	}

	res, err := o.store.Apply(ctx, col.Ref, decision, effect)
	if err != nil {
		o.logger.Error("commit failed", "column", columnKey, "error", err)
		state.errored(columnKey)
		o.metrics.ColumnsErrored.Inc()
		return
	}

	state.add(res, ambiguous)
	o.postCommit(scanID, "system", col.Ref, decision, res)
}

func (o *Orchestrator) ruleFor(ruleSet []rules.Definition, ruleID string) *rules.Definition {
	for i := range ruleSet {
		if strings.EqualFold(ruleSet[i].ID, ruleID) {
			return &ruleSet[i]
		}
	}
	return nil
}

// postCommit runs side effects that must never sit inside the commit
// transaction: audit entries, catalog sync, and event publishing.
func (o *Orchestrator) postCommit(scanID, actor string, ref catalog.ColumnRef, decision detect.Decision, res govstore.ApplyResult) {
	columnKey := ref.Key()

	if res.Classified {
		o.metrics.Classifications.WithLabelValues("classified").Inc()
		o.recordOrWarn(audit.Entry{
			EventType: audit.EventClassified,
			Actor:     actor,
			ScanID:    scanID,
			ColumnKey: columnKey,
			RuleID:    decision.RuleID,
			PIIType:   decision.PIIType,
			Detail:    decision.Rationale,
		})
		piiType := decision.PIIType
		cls := catalog.Classification{
			PIIType:         &piiType,
			Sensitive:       decision.Sensitive,
			Confidence:      decision.Confidence,
			Source:          decision.Source,
			LastEvaluatedAt: time.Now().UTC(),
		}
		if err := o.catalog.UpdateClassification(context.Background(), columnKey, cls); err != nil {
			o.logger.Warn("catalog sync failed", "column", columnKey, "error", err)
		}
		o.publisher.PublishClassification(events.ClassificationEvent{
			ScanID:     scanID,
			ColumnKey:  columnKey,
			RuleID:     decision.RuleID,
			PIIType:    decision.PIIType,
			Source:     string(decision.Source),
			Confidence: decision.Confidence,
		})
	}

	if res.Cleared {
		o.metrics.Classifications.WithLabelValues("cleared").Inc()
		o.recordOrWarn(audit.Entry{
			EventType: audit.EventCleared,
			Actor:     actor,
			ScanID:    scanID,
			ColumnKey: columnKey,
			RuleID:    decision.RuleID,
			Detail:    decision.Rationale,
		})
		if err := o.catalog.UpdateClassification(context.Background(), columnKey, catalog.Classification{}); err != nil {
			o.logger.Warn("catalog sync failed", "column", columnKey, "error", err)
		}
		o.publisher.PublishClassification(events.ClassificationEvent{
			ScanID:    scanID,
			ColumnKey: columnKey,
			RuleID:    decision.RuleID,
			Cleared:   true,
		})
	}

	if res.IssueOpened || res.IssueResolved {
		eventType := audit.EventIssueOpened
		if res.IssueResolved {
			eventType = audit.EventIssueResolved
		}
		if res.IssueOpened {
			o.metrics.IssuesOpened.Inc()
		}
		if res.IssueResolved {
			o.metrics.IssuesResolved.Inc()
		}
		o.recordOrWarn(audit.Entry{
			EventType: eventType,
			Actor:     actor,
			ScanID:    scanID,
			ColumnKey: columnKey,
			RuleID:    decision.RuleID,
			PIIType:   decision.PIIType,
		})
		if issue, found, err := o.store.GetIssue(columnKey, decision.RuleID); err == nil && found {
			o.publisher.PublishIssue(events.IssueEvent{Issue: issue})
		}
	}
}

// recordOrWarn writes an audit entry; a failing audit sink is logged,
// never propagated, because the commit already happened.
func (o *Orchestrator) recordOrWarn(entry audit.Entry) {
	if err := o.recorder.Record(entry); err != nil {
		o.logger.Warn("audit write failed", "event_type", entry.EventType, "error", err)
	}
}
