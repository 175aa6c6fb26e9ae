package detect

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/rules"
)

// metadataConfidenceCeiling bounds what name/table context alone can claim.
const metadataConfidenceCeiling = 85

// systemTableMarkers are table-name fragments that indicate structural or
// operational tables rather than entity data.
var systemTableMarkers = []string{
	"audit", "log", "logs", "config", "configuration", "settings",
	"migration", "migrations", "schema_version", "flyway", "liquibase",
	"information_schema", "pg_", "sys_", "metadata", "schema_registry",
	"job_history", "event_history",
}

// systemColumnMarkers are column names that describe schema or bookkeeping
// state. A column called "table_name" is never a person's name no matter
// how well it matches a NAME hint.
var systemColumnMarkers = []string{
	"table_name", "column_name", "schema_name", "database_name",
	"constraint_name", "index_name", "type_name", "version", "checksum",
	"hash", "uuid", "guid", "row_id", "object_id", "entity_type",
	"event_type", "log_level", "status_code",
}

// entityTableMarkers suggest tables holding records about people.
var entityTableMarkers = []string{
	"user", "users", "customer", "customers", "employee", "employees",
	"person", "people", "member", "members", "contact", "contacts",
	"patient", "patients", "account", "accounts", "subscriber",
}

// MetadataCollector inspects identifiers only; it never touches data.
// Its main job is the negative signal: recognizing system/metadata
// naming conventions and vetoing classification for such columns.
type MetadataCollector struct{}

// NewMetadataCollector creates the collector.
func NewMetadataCollector() *MetadataCollector {
	return &MetadataCollector{}
}

// Evaluate implements Collector.
func (mc *MetadataCollector) Evaluate(ctx context.Context, col catalog.Column, rule rules.Definition) Opinion {
	table := strings.ToLower(col.Ref.Table)
	column := strings.ToLower(col.Ref.Column)

	if marker, ok := matchesMarker(table, systemTableMarkers); ok {
		return Opinion{
			Source:     catalog.SourceMetadata,
			Match:      false,
			Veto:       true,
			Confidence: metadataConfidenceCeiling,
			Rationale:  fmt.Sprintf("table %q matches system convention %q", col.Ref.Table, marker),
		}
	}
	if marker, ok := matchesMarker(column, systemColumnMarkers); ok {
		return Opinion{
			Source:     catalog.SourceMetadata,
			Match:      false,
			Veto:       true,
			Confidence: metadataConfidenceCeiling,
			Rationale:  fmt.Sprintf("column %q matches schema-descriptor convention %q", col.Ref.Column, marker),
		}
	}

	// Positive context: a hint hit inside an entity-style table carries
	// more weight than the name alone.
	hintHit := ""
	for _, hint := range rule.ColumnNameHints {
		if containsToken(column, strings.ToLower(hint)) {
			hintHit = hint
			break
		}
	}
	if hintHit == "" {
		return Opinion{
			Source:    catalog.SourceMetadata,
			Match:     false,
			Rationale: "no name context for this rule",
		}
	}

	confidence := 60
	rationale := fmt.Sprintf("column context matches hint %q", hintHit)
	if marker, ok := matchesMarker(table, entityTableMarkers); ok {
		confidence = metadataConfidenceCeiling
		rationale = fmt.Sprintf("column context matches hint %q in entity table (%s)", hintHit, marker)
	}

	return Opinion{
		Source:     catalog.SourceMetadata,
		Match:      true,
		Confidence: clamp(confidence),
		Rationale:  rationale,
	}
}

func matchesMarker(identifier string, markers []string) (string, bool) {
	for _, marker := range markers {
		if strings.HasSuffix(marker, "_") {
			if strings.HasPrefix(identifier, marker) {
				return marker, true
			}
			continue
		}
		if containsToken(identifier, marker) {
			return marker, true
		}
	}
	return "", false
}

// containsToken reports whether needle appears in identifier as a whole
// underscore-delimited token, or as the identifier itself.
func containsToken(identifier, needle string) bool {
	if identifier == needle {
		return true
	}
	for _, token := range strings.Split(identifier, "_") {
		if token == needle {
			return true
		}
	}
	// Multi-token needles ("email_address") match as substrings on
	// token boundaries.
	if strings.Contains(needle, "_") && strings.Contains(identifier, needle) {
		return true
	}
	return false
}
