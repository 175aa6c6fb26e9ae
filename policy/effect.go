// Package policy translates classification state into issue-tracker
// effects. It is deliberately separate from detection: it consumes an
// explicit Decision and produces an explicit Effect, so each stage can
// be tested without re-deriving the other.
package policy

// EffectKind says what should happen to the (column, rule) issue.
type EffectKind string

const (
	// EffectNone leaves issue state untouched.
	EffectNone EffectKind = "none"

	// EffectOpen opens the issue, or keeps it open if it exists.
	EffectOpen EffectKind = "open"

	// EffectResolve resolves the issue if one is open.
	EffectResolve EffectKind = "resolve"
)

// Effect is the outcome of reconciling a column's classification with
// its rule's protection requirements.
type Effect struct {
	Kind EffectKind `json:"kind"`

	// Details explains an open: which protection failed verification.
	Details string `json:"details,omitempty"`

	// Resolution explains a resolve: why the issue no longer applies.
	Resolution string `json:"resolution,omitempty"`
}

// OpenEffect builds an open effect.
func OpenEffect(details string) Effect {
	return Effect{Kind: EffectOpen, Details: details}
}

// ResolveEffect builds a resolve effect.
func ResolveEffect(resolution string) Effect {
	return Effect{Kind: EffectResolve, Resolution: resolution}
}
