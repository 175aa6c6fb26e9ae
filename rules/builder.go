package rules

// Builder provides a fluent interface for constructing rule definitions,
// mostly useful in tests and seed tooling.
type Builder struct {
	def Definition
}

// NewBuilder starts a builder for the given rule ID and piiType.
func NewBuilder(id, piiType string) *Builder {
	return &Builder{def: Definition{
		ID:          id,
		PIIType:     piiType,
		DisplayName: piiType,
		Sensitivity: SensitivityMedium,
		Enabled:     true,
	}}
}

// WithDisplayName sets the human-readable name.
func (b *Builder) WithDisplayName(name string) *Builder {
	b.def.DisplayName = name
	return b
}

// WithSensitivity sets the sensitivity grade.
func (b *Builder) WithSensitivity(s Sensitivity) *Builder {
	b.def.Sensitivity = s
	return b
}

// WithHints sets the column name hints.
func (b *Builder) WithHints(hints ...string) *Builder {
	b.def.ColumnNameHints = hints
	return b
}

// WithPattern sets the content regex.
func (b *Builder) WithPattern(pattern string) *Builder {
	b.def.RegexPattern = pattern
	return b
}

// RequireEncryption marks the rule protection-required via encryption.
func (b *Builder) RequireEncryption() *Builder {
	b.def.RequireEncryption = true
	return b
}

// RequireMasking marks the rule protection-required via masking.
func (b *Builder) RequireMasking() *Builder {
	b.def.RequireMasking = true
	return b
}

// Disabled builds the rule in disabled state.
func (b *Builder) Disabled() *Builder {
	b.def.Enabled = false
	return b
}

// Build returns the definition.
func (b *Builder) Build() Definition {
	return b.def
}
