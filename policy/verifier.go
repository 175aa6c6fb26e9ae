package policy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/connector"
	"github.com/opencatalog/piiguard/rules"
)

// Verifier checks whether a column already has the protection its rule
// requires. Verification that cannot complete reports unprotected: an
// unreachable source must open an issue, not hide one.
type Verifier interface {
	VerifyProtection(ctx context.Context, col catalog.ColumnRef, rule rules.Definition) (Verification, error)
}

// Verification is the outcome of a protection check.
type Verification struct {
	EncryptionVerified bool   `json:"encryption_verified"`
	MaskingVerified    bool   `json:"masking_verified"`
	Detail             string `json:"detail"`
}

// Satisfies reports whether the verification covers everything the rule
// requires.
func (v Verification) Satisfies(rule rules.Definition) bool {
	if rule.RequireEncryption && !v.EncryptionVerified {
		return false
	}
	if rule.RequireMasking && !v.MaskingVerified {
		return false
	}
	return true
}

// maskShapes recognize values that are already masked or redacted:
// placeholder tokens as emitted by redaction pipelines, all-asterisk or
// all-x runs, and partial masks keeping a short suffix visible.
var maskShapes = []*regexp.Regexp{
	regexp.MustCompile(`^\[[A-Z][A-Z-]*(:[a-zA-Z0-9_-]+)?\]$`),
	regexp.MustCompile(`^[*#xX•]{3,}$`),
	regexp.MustCompile(`^[*#xX•]{2,}[0-9a-zA-Z]{0,4}$`),
	regexp.MustCompile(`^[*#xX•]{2,}([ -][*#xX•0-9a-zA-Z]{2,4}){1,3}$`),
}

// maskedSampleThreshold is the fraction of sampled values that must look
// masked for masking to count as verified.
const maskedSampleThreshold = 0.9

// ConnectorVerifier verifies protection through the connector layer:
// encryption via the source's storage flags, masking via the shape of
// sampled values.
type ConnectorVerifier struct {
	connectors  *connector.Registry
	sampleLimit int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewConnectorVerifier creates a verifier with the given sampling bounds.
func NewConnectorVerifier(connectors *connector.Registry, sampleLimit int, timeout time.Duration, logger *slog.Logger) *ConnectorVerifier {
	if sampleLimit <= 0 {
		sampleLimit = 50
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ConnectorVerifier{
		connectors:  connectors,
		sampleLimit: sampleLimit,
		timeout:     timeout,
		logger:      logger,
	}
}

// VerifyProtection implements Verifier.
func (cv *ConnectorVerifier) VerifyProtection(ctx context.Context, col catalog.ColumnRef, rule rules.Definition) (Verification, error) {
	conn, err := cv.connectors.For(col.DataSourceID)
	if err != nil {
		return Verification{Detail: "no connector for data source"}, err
	}

	v := Verification{}
	var details []string

	if rule.RequireEncryption {
		vctx, cancel := context.WithTimeout(ctx, cv.timeout)
		encrypted, err := conn.CheckEncryption(vctx, col)
		cancel()
		if err != nil {
			// Unknown state counts as unverified.
			details = append(details, fmt.Sprintf("encryption state unknown: %v", err))
			cv.logger.Warn("encryption check failed", "column", col.Key(), "error", err)
		} else if encrypted {
			v.EncryptionVerified = true
			details = append(details, "storage encryption verified")
		} else {
			details = append(details, "storage is not encrypted")
		}
	}

	if rule.RequireMasking {
		masked, detail := cv.verifyMasking(ctx, conn, col)
		v.MaskingVerified = masked
		details = append(details, detail)
	}

	v.Detail = strings.Join(details, "; ")
	return v, nil
}

func (cv *ConnectorVerifier) verifyMasking(ctx context.Context, conn connector.Connector, col catalog.ColumnRef) (bool, string) {
	sctx, cancel := context.WithTimeout(ctx, cv.timeout)
	defer cancel()

	sample, err := conn.Sample(sctx, col, cv.sampleLimit)
	if err != nil {
		cv.logger.Warn("masking check failed", "column", col.Key(), "error", err)
		return false, fmt.Sprintf("masking state unknown: %v", err)
	}

	masked, nonEmpty := 0, 0
	for _, val := range sample {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		nonEmpty++
		if looksMasked(val) {
			masked++
		}
	}
	if nonEmpty == 0 {
		// Nothing to leak from an empty column.
		return true, "column empty, masking trivially verified"
	}

	rate := float64(masked) / float64(nonEmpty)
	if rate >= maskedSampleThreshold {
		return true, fmt.Sprintf("masking verified (%d/%d values masked)", masked, nonEmpty)
	}
	return false, fmt.Sprintf("values are not masked (%d/%d masked)", masked, nonEmpty)
}

func looksMasked(value string) bool {
	for _, shape := range maskShapes {
		if shape.MatchString(value) {
			return true
		}
	}
	return false
}
