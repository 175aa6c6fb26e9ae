package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Sensitivity grades how damaging exposure of a PII type is
type Sensitivity string

const (
	// SensitivityCritical covers identifiers that enable identity theft
	SensitivityCritical Sensitivity = "critical"

	// SensitivityHigh covers direct personal identifiers
	SensitivityHigh Sensitivity = "high"

	// SensitivityMedium covers quasi-identifiers
	SensitivityMedium Sensitivity = "medium"

	// SensitivityLow covers weakly identifying attributes
	SensitivityLow Sensitivity = "low"
)

// Definition is a classification rule: what to look for and what
// protection a matched column must have.
type Definition struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	PIIType     string      `json:"pii_type" yaml:"pii_type" validate:"required"`
	DisplayName string      `json:"display_name" yaml:"display_name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity" yaml:"sensitivity" validate:"required,oneof=critical high medium low"`

	// ColumnNameHints are case-insensitive identifiers/substrings that
	// suggest a column holds this PII type.
	ColumnNameHints []string `json:"column_name_hints" yaml:"column_name_hints"`

	// RegexPattern optionally validates column content.
	RegexPattern string `json:"regex_pattern,omitempty" yaml:"regex_pattern,omitempty"`

	RequireEncryption bool `json:"require_encryption" yaml:"require_encryption"`
	RequireMasking    bool `json:"require_masking" yaml:"require_masking"`
	Enabled           bool `json:"enabled" yaml:"enabled"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// MonitoringOnly reports whether the rule only needs detection, not
// protection. Monitoring-only rules never raise issues.
func (d Definition) MonitoringOnly() bool {
	return !d.RequireEncryption && !d.RequireMasking
}

// MatchesPIIType compares piiType keys case-insensitively.
func (d Definition) MatchesPIIType(piiType string) bool {
	return strings.EqualFold(d.PIIType, piiType)
}

// CompileRegex returns the compiled content pattern, or nil when the
// rule has none.
func (d Definition) CompileRegex() (*regexp.Regexp, error) {
	if d.RegexPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(d.RegexPattern)
	if err != nil {
		return nil, fmt.Errorf("rule %s: invalid regex pattern: %w", d.ID, err)
	}
	return re, nil
}

// MaterialChange reports whether an edit changes detection or protection
// semantics. Material changes are treated as disable-then-enable so no
// classification computed under the old definition survives.
func MaterialChange(old, updated Definition) bool {
	if !strings.EqualFold(old.PIIType, updated.PIIType) {
		return true
	}
	if old.RegexPattern != updated.RegexPattern {
		return true
	}
	if old.RequireEncryption != updated.RequireEncryption || old.RequireMasking != updated.RequireMasking {
		return true
	}
	if len(old.ColumnNameHints) != len(updated.ColumnNameHints) {
		return true
	}
	for i := range old.ColumnNameHints {
		if !strings.EqualFold(old.ColumnNameHints[i], updated.ColumnNameHints[i]) {
			return true
		}
	}
	return false
}

// ValidationError reports which rule field failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

var structValidator = validator.New()

// Validate checks a definition is well-formed: required fields present,
// sensitivity is a known grade, hints are non-empty, and the regex (if
// any) compiles. Rules are data supplied by administrators, so this runs
// at creation and update time, never during scans.
func Validate(d Definition) error {
	if err := structValidator.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: strings.ToLower(fe.Field()), Message: "failed " + fe.Tag() + " check"}
		}
		return err
	}

	if len(d.ColumnNameHints) == 0 && d.RegexPattern == "" {
		return &ValidationError{Field: "column_name_hints", Message: "rule needs at least one hint or a regex pattern"}
	}
	for i, hint := range d.ColumnNameHints {
		if strings.TrimSpace(hint) == "" {
			return &ValidationError{Field: fmt.Sprintf("column_name_hints[%d]", i), Message: "hint must not be blank"}
		}
	}
	if _, err := d.CompileRegex(); err != nil {
		return &ValidationError{Field: "regex_pattern", Message: err.Error()}
	}
	return nil
}
