package rules

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML shape of a rule seed file.
type SeedFile struct {
	Version string       `yaml:"version"`
	Rules   []Definition `yaml:"rules"`
}

// LoadSeedFile reads and validates a YAML rule seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse rule seed file: %w", err)
	}

	for i, def := range seed.Rules {
		if err := Validate(def); err != nil {
			return nil, fmt.Errorf("seed rule %d (%s): %w", i, def.ID, err)
		}
	}
	return &seed, nil
}

// Seed upserts seed rules that are not yet in the registry. Existing
// rules are left alone so administrator edits survive restarts. Returns
// the number of rules created.
func (r *Registry) Seed(seed *SeedFile) (int, error) {
	created := 0
	for _, def := range seed.Rules {
		_, err := r.Create(def)
		if errors.Is(err, ErrRuleExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seeding rule %s: %w", def.ID, err)
		}
		created++
	}
	r.logger.Info("rule seed applied", "created", created, "total", len(seed.Rules))
	return created, nil
}

// DefaultSeed returns the built-in rule set. Hints and patterns follow
// the common PII catalog: identifiers that show up in nearly every
// customer schema.
func DefaultSeed() *SeedFile {
	return &SeedFile{
		Version: "1.0.0",
		Rules: []Definition{
			{
				ID:              "pii-email",
				PIIType:         "EMAIL",
				DisplayName:     "Email Address",
				Sensitivity:     SensitivityMedium,
				ColumnNameHints: []string{"email", "email_address", "e_mail"},
				RegexPattern:    `^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`,
				RequireMasking:  true,
				Enabled:         true,
			},
			{
				ID:                "pii-ssn",
				PIIType:           "SSN",
				DisplayName:       "US Social Security Number",
				Sensitivity:       SensitivityCritical,
				ColumnNameHints:   []string{"ssn", "social_security", "social_security_number", "tax_id"},
				RegexPattern:      `^\d{3}-?\d{2}-?\d{4}$`,
				RequireEncryption: true,
				RequireMasking:    true,
				Enabled:           true,
			},
			{
				ID:              "pii-phone",
				PIIType:         "PHONE",
				DisplayName:     "Phone Number",
				Sensitivity:     SensitivityMedium,
				ColumnNameHints: []string{"phone", "phone_number", "mobile", "telephone"},
				RegexPattern:    `^\+?[\d\s().-]{7,20}$`,
				RequireMasking:  true,
				Enabled:         true,
			},
			{
				ID:                "pii-credit-card",
				PIIType:           "CREDIT_CARD",
				DisplayName:       "Payment Card Number",
				Sensitivity:       SensitivityCritical,
				ColumnNameHints:   []string{"credit_card", "card_number", "cc_number", "pan"},
				RegexPattern:      `^(?:\d[ -]*?){13,16}$`,
				RequireEncryption: true,
				RequireMasking:    true,
				Enabled:           true,
			},
			{
				ID:              "pii-name",
				PIIType:         "NAME",
				DisplayName:     "Person Name",
				Sensitivity:     SensitivityHigh,
				ColumnNameHints: []string{"first_name", "last_name", "full_name", "surname", "given_name"},
				RegexPattern:    `^[A-Za-z][A-Za-z'. -]{1,60}$`,
				Enabled:         true,
			},
			{
				ID:              "pii-address",
				PIIType:         "ADDRESS",
				DisplayName:     "Street Address",
				Sensitivity:     SensitivityHigh,
				ColumnNameHints: []string{"address", "street", "address_line_1", "postal_address"},
				Enabled:         true,
			},
			{
				ID:              "pii-ip-address",
				PIIType:         "IP_ADDRESS",
				DisplayName:     "IP Address",
				Sensitivity:     SensitivityLow,
				ColumnNameHints: []string{"ip_address", "client_ip", "remote_addr"},
				RegexPattern:    `^(?:\d{1,3}\.){3}\d{1,3}$`,
				Enabled:         true,
			},
		},
	}
}
