package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/connector"
	"github.com/opencatalog/piiguard/rules"
)

func testColumn(table, column string) catalog.Column {
	return catalog.Column{
		Ref: catalog.ColumnRef{
			DataSourceID: "warehouse",
			Database:     "app",
			Schema:       "public",
			Table:        table,
			Column:       column,
		},
		DataType: "varchar",
	}
}

func emailRule() rules.Definition {
	return rules.NewBuilder("pii-email", "EMAIL").
		WithHints("email", "email_address").
		WithPattern(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`).
		RequireMasking().
		Build()
}

func nameRule() rules.Definition {
	return rules.NewBuilder("pii-name", "NAME").
		WithHints("first_name", "last_name", "full_name").
		Build()
}

// TestMetadataVetoesSystemColumns checks that schema-descriptor columns
// are vetoed even when their names match PII hints perfectly.
func TestMetadataVetoesSystemColumns(t *testing.T) {
	mc := NewMetadataCollector()
	ctx := context.Background()

	// "table_name" token-matches the NAME rule's hints but is schema
	// bookkeeping, not a person.
	op := mc.Evaluate(ctx, testColumn("inventory", "table_name"), nameRule())
	assert.True(t, op.Veto)
	assert.False(t, op.Match)

	op = mc.Evaluate(ctx, testColumn("schema_migrations", "email"), emailRule())
	assert.True(t, op.Veto)

	op = mc.Evaluate(ctx, testColumn("audit_log", "email"), emailRule())
	assert.True(t, op.Veto)
}

func TestMetadataEntityTableContext(t *testing.T) {
	mc := NewMetadataCollector()
	ctx := context.Background()

	inEntity := mc.Evaluate(ctx, testColumn("customers", "email"), emailRule())
	assert.True(t, inEntity.Match)

	elsewhere := mc.Evaluate(ctx, testColumn("shipments", "email"), emailRule())
	assert.True(t, elsewhere.Match)
	assert.Greater(t, inEntity.Confidence, elsewhere.Confidence)

	none := mc.Evaluate(ctx, testColumn("customers", "order_total"), emailRule())
	assert.False(t, none.Match)
	assert.False(t, none.Veto)
}

// TestPatternHintTiers checks the exact > word > substring confidence
// ordering.
func TestPatternHintTiers(t *testing.T) {
	pc := NewPatternCollector()
	ctx := context.Background()
	rule := emailRule()

	exact := pc.Evaluate(ctx, testColumn("users", "email"), rule)
	word := pc.Evaluate(ctx, testColumn("users", "user_email"), rule)
	substring := pc.Evaluate(ctx, testColumn("users", "emailaddr"), rule)
	miss := pc.Evaluate(ctx, testColumn("users", "created_at"), rule)

	assert.True(t, exact.Match)
	assert.True(t, word.Match)
	assert.True(t, substring.Match)
	assert.False(t, miss.Match)
	assert.Greater(t, exact.Confidence, word.Confidence)
	assert.Greater(t, word.Confidence, substring.Confidence)
}

// TestPatternOverbroadRegexCapped checks that a regex matching generic
// non-PII terms caps the hint confidence.
func TestPatternOverbroadRegexCapped(t *testing.T) {
	pc := NewPatternCollector()
	ctx := context.Background()

	overbroad := rules.NewBuilder("pii-any", "ANY").
		WithHints("email").
		WithPattern(`.+`).
		Build()

	op := pc.Evaluate(ctx, testColumn("users", "email"), overbroad)
	assert.True(t, op.Match)
	assert.LessOrEqual(t, op.Confidence, overbroadCap)

	tight := pc.Evaluate(ctx, testColumn("users", "email"), emailRule())
	assert.Greater(t, tight.Confidence, overbroadCap)
}

func contentSetup(t *testing.T) (*connector.Registry, *connector.MemoryConnector) {
	t.Helper()
	reg := connector.NewRegistry()
	mem := connector.NewMemoryConnector()
	reg.Register("warehouse", mem)
	return reg, mem
}

// TestContentMatchRate checks that sampled values drive the content
// opinion: mostly matching samples classify, mostly non-matching do not.
func TestContentMatchRate(t *testing.T) {
	reg, mem := contentSetup(t)
	col := testColumn("users", "contact")
	mem.SetValues(col.Ref, []string{
		"a@example.com", "b@example.com", "c@example.com", "not-an-email",
	})

	cc := NewContentCollector(reg, testLogger())
	op := cc.Evaluate(context.Background(), col, emailRule())
	assert.True(t, op.Match)
	assert.Greater(t, op.Confidence, 0)

	other := testColumn("users", "notes")
	mem.SetValues(other.Ref, []string{"hello", "world", "a@example.com"})
	op = cc.Evaluate(context.Background(), other, emailRule())
	assert.False(t, op.Match)
}

// TestContentDegradesOnSampleFailure checks that an unreachable source
// produces a zero-confidence opinion instead of an error.
func TestContentDegradesOnSampleFailure(t *testing.T) {
	reg, mem := contentSetup(t)
	mem.FailSample = true

	cc := NewContentCollector(reg, testLogger())
	op := cc.Evaluate(context.Background(), testColumn("users", "email"), emailRule())
	assert.False(t, op.Match)
	assert.Equal(t, 0, op.Confidence)
	assert.False(t, op.Veto)
}

func TestContentNoPatternNoOpinion(t *testing.T) {
	reg, _ := contentSetup(t)
	cc := NewContentCollector(reg, testLogger())

	op := cc.Evaluate(context.Background(), testColumn("users", "address"), rules.NewBuilder("pii-address", "ADDRESS").WithHints("address").Build())
	assert.False(t, op.Match)
	assert.Equal(t, 0, op.Confidence)
}

// TestContentSampleCache checks that evaluating several rules against
// one column samples it only once.
func TestContentSampleCache(t *testing.T) {
	reg, mem := contentSetup(t)
	col := testColumn("users", "email")
	mem.SetValues(col.Ref, []string{"a@example.com", "b@example.com"})

	cc := NewContentCollector(reg, testLogger())
	cc.Evaluate(context.Background(), col, emailRule())
	assert.Equal(t, 1, mem.SampleCalls())

	cc.Evaluate(context.Background(), col, rules.NewBuilder("pii-phone", "PHONE").
		WithHints("phone").WithPattern(`^\d+$`).Build())
	assert.Equal(t, 1, mem.SampleCalls())

	cc.InvalidateColumn(col.Ref)
	cc.Evaluate(context.Background(), col, emailRule())
	assert.Equal(t, 2, mem.SampleCalls())
}

func TestContentSampleTimeout(t *testing.T) {
	reg, mem := contentSetup(t)
	col := testColumn("users", "email")
	mem.SetValues(col.Ref, []string{"a@example.com"})
	mem.Latency = 200 * time.Millisecond

	cc := NewContentCollector(reg, testLogger(), WithSampleTimeout(10*time.Millisecond))
	op := cc.Evaluate(context.Background(), col, emailRule())
	assert.False(t, op.Match)
}
