package detect

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/rules"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string { return &s }

// TestFuseExclusionBeatsEverything checks that an excluded pair stays
// unclassified no matter what the collectors or a manual override say.
func TestFuseExclusionBeatsEverything(t *testing.T) {
	f := NewFuser()
	rule := emailRule()
	col := testColumn("users", "email")

	opinions := []Opinion{
		{Source: catalog.SourceContent, Match: true, Confidence: 99, Rationale: "content"},
	}
	manual := &catalog.Classification{PIIType: strPtr("EMAIL"), Source: catalog.SourceManual, Confidence: 100}

	decision := f.Fuse(col, rule, opinions, manual, true)
	assert.False(t, decision.Match)
	assert.Equal(t, "pii-email", decision.RuleID)
}

// TestFuseManualBeatsCollectors checks that a standing manual
// classification wins over automated evidence, at full confidence.
func TestFuseManualBeatsCollectors(t *testing.T) {
	f := NewFuser()
	rule := emailRule()
	col := testColumn("users", "email")

	manual := &catalog.Classification{PIIType: strPtr("email"), Source: catalog.SourceManual}
	opinions := []Opinion{
		{Source: catalog.SourceContent, Match: false, Confidence: 0, Rationale: "no content match"},
	}

	decision := f.Fuse(col, rule, opinions, manual, false)
	assert.True(t, decision.Match)
	assert.Equal(t, 100, decision.Confidence)
	assert.Equal(t, catalog.SourceManual, decision.Source)
}

// TestFuseVetoBeatsPositives checks that a metadata veto suppresses
// automated matches but not a manual classification.
func TestFuseVetoBeatsPositives(t *testing.T) {
	f := NewFuser()
	rule := emailRule()
	col := testColumn("audit_log", "email")

	opinions := []Opinion{
		{Source: catalog.SourceMetadata, Veto: true, Confidence: 85, Rationale: "system table"},
		{Source: catalog.SourcePattern, Match: true, Confidence: 95, Rationale: "hint"},
	}

	decision := f.Fuse(col, rule, opinions, nil, false)
	assert.False(t, decision.Match)

	manual := &catalog.Classification{PIIType: strPtr("EMAIL"), Source: catalog.SourceManual}
	decision = f.Fuse(col, rule, opinions, manual, false)
	assert.True(t, decision.Match)
	assert.Equal(t, catalog.SourceManual, decision.Source)
}

// TestFuseBestOpinionWins checks confidence ordering and the
// content > pattern > metadata tie-break.
func TestFuseBestOpinionWins(t *testing.T) {
	f := NewFuser()
	rule := emailRule()
	col := testColumn("users", "email")

	decision := f.Fuse(col, rule, []Opinion{
		{Source: catalog.SourceMetadata, Match: true, Confidence: 60},
		{Source: catalog.SourceContent, Match: true, Confidence: 90},
		{Source: catalog.SourcePattern, Match: true, Confidence: 95},
	}, nil, false)
	assert.True(t, decision.Match)
	assert.Equal(t, catalog.SourcePattern, decision.Source)
	assert.Equal(t, 95, decision.Confidence)

	// Equal confidence: the more specific source wins.
	decision = f.Fuse(col, rule, []Opinion{
		{Source: catalog.SourcePattern, Match: true, Confidence: 85},
		{Source: catalog.SourceContent, Match: true, Confidence: 85},
	}, nil, false)
	assert.Equal(t, catalog.SourceContent, decision.Source)
}

func TestFuseNoEvidence(t *testing.T) {
	f := NewFuser()
	decision := f.Fuse(testColumn("users", "email"), emailRule(), nil, nil, false)
	assert.False(t, decision.Match)
	assert.Equal(t, "EMAIL", decision.PIIType)
}

// TestFuseManualForDifferentType checks that a manual classification for
// another piiType does not force this rule's decision.
func TestFuseManualForDifferentType(t *testing.T) {
	f := NewFuser()
	manual := &catalog.Classification{PIIType: strPtr("PHONE"), Source: catalog.SourceManual}

	decision := f.Fuse(testColumn("users", "email"), emailRule(), nil, manual, false)
	assert.False(t, decision.Match)
}

func TestFuseSensitivityDerivation(t *testing.T) {
	f := NewFuser()
	op := []Opinion{{Source: catalog.SourcePattern, Match: true, Confidence: 95}}

	critical := rules.NewBuilder("pii-ssn", "SSN").WithSensitivity(rules.SensitivityCritical).WithHints("ssn").Build()
	decision := f.Fuse(testColumn("users", "ssn"), critical, op, nil, false)
	assert.True(t, decision.Sensitive)
	assert.Equal(t, "critical", decision.Severity)

	low := rules.NewBuilder("pii-ip", "IP").WithSensitivity(rules.SensitivityLow).WithHints("ip").Build()
	decision = f.Fuse(testColumn("users", "ip"), low, op, nil, false)
	assert.False(t, decision.Sensitive)
}

// TestBetterDecision checks the cross-rule winner ordering, including
// the deterministic lexicographic fallback.
func TestBetterDecision(t *testing.T) {
	a := Decision{PIIType: "EMAIL", Match: true, Confidence: 90, Source: catalog.SourcePattern}
	b := Decision{PIIType: "PHONE", Match: true, Confidence: 80, Source: catalog.SourceContent}
	assert.True(t, BetterDecision(a, b))

	b.Confidence = 90
	assert.True(t, BetterDecision(b, a)) // content beats pattern at equal confidence

	b.Source = catalog.SourcePattern
	assert.True(t, BetterDecision(a, b)) // EMAIL < PHONE
}
