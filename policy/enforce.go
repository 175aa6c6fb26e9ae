package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/detect"
	"github.com/opencatalog/piiguard/rules"
)

// Enforcer reconciles a fused decision with its rule's protection
// requirements and emits the issue effect to commit alongside the
// classification.
type Enforcer struct {
	verifier Verifier
	logger   *slog.Logger
}

// NewEnforcer creates an enforcer.
func NewEnforcer(verifier Verifier, logger *slog.Logger) *Enforcer {
	return &Enforcer{verifier: verifier, logger: logger}
}

// Reconcile decides the issue effect for a column's decision.
//
// No classification, or a monitoring-only rule, resolves any standing
// issue. A protection-required rule only opens an issue after
// verification fails: classify first, verify protection second, so
// already-protected sensitive columns never raise false alarms.
func (e *Enforcer) Reconcile(ctx context.Context, col catalog.ColumnRef, decision detect.Decision, rule *rules.Definition) Effect {
	if !decision.Match || rule == nil {
		return ResolveEffect("classification cleared")
	}
	if rule.MonitoringOnly() {
		return ResolveEffect("rule is monitoring-only")
	}

	verification, err := e.verifier.VerifyProtection(ctx, col, *rule)
	if err != nil {
		// Conservative: unknown protection state keeps the issue open.
		e.logger.Warn("protection verification errored, treating as unverified",
			"column", col.Key(),
			"rule_id", rule.ID,
			"error", err)
		return OpenEffect(fmt.Sprintf("protection could not be verified: %v", err))
	}

	if verification.Satisfies(*rule) {
		return ResolveEffect("required protection verified: " + verification.Detail)
	}
	return OpenEffect(verification.Detail)
}
