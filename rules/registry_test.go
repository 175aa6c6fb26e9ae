package rules

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRegistry(db, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := testRegistry(t)

	def := NewBuilder("pii-email", "EMAIL").WithHints("email").Build()
	created, err := r.Create(def)
	assert.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := r.Get("pii-email")
	assert.NoError(t, err)
	assert.Equal(t, "EMAIL", got.PIIType)

	// IDs are case-insensitive.
	got, err = r.Get("PII-EMAIL")
	assert.NoError(t, err)
	assert.Equal(t, "pii-email", got.ID)

	_, err = r.Create(def)
	assert.ErrorIs(t, err, ErrRuleExists)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRegistryUpdateReturnsPrevious(t *testing.T) {
	r := testRegistry(t)

	def := NewBuilder("pii-phone", "PHONE").WithHints("phone").Build()
	_, err := r.Create(def)
	assert.NoError(t, err)

	def.RegexPattern = `^\+?\d{7,15}$`
	previous, updated, err := r.Update(def)
	assert.NoError(t, err)
	assert.Empty(t, previous.RegexPattern)
	assert.NotEmpty(t, updated.RegexPattern)
	assert.True(t, MaterialChange(previous, updated))

	_, _, err = r.Update(NewBuilder("missing", "X").WithHints("x").Build())
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRegistrySetEnabledAndDelete(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Create(NewBuilder("pii-ssn", "SSN").WithHints("ssn").Build())
	assert.NoError(t, err)

	def, err := r.SetEnabled("pii-ssn", false)
	assert.NoError(t, err)
	assert.False(t, def.Enabled)

	enabled, err := r.ListEnabled()
	assert.NoError(t, err)
	assert.Empty(t, enabled)

	assert.NoError(t, r.Delete("pii-ssn"))
	assert.ErrorIs(t, r.Delete("pii-ssn"), ErrRuleNotFound)
}

func TestRegistryListFilter(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Create(NewBuilder("a-rule", "A").WithHints("a").Build())
	assert.NoError(t, err)
	_, err = r.Create(NewBuilder("b-rule", "B").WithHints("b").Disabled().Build())
	assert.NoError(t, err)

	all, err := r.List(ListFilter{})
	assert.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "a-rule", all[0].ID)

	disabled := false
	off, err := r.List(ListFilter{Enabled: &disabled})
	assert.NoError(t, err)
	assert.Len(t, off, 1)
	assert.Equal(t, "b-rule", off[0].ID)
}

func TestRegistryGetByPIIType(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Create(NewBuilder("pii-email", "EMAIL").WithHints("email").Build())
	assert.NoError(t, err)

	def, err := r.GetByPIIType("email")
	assert.NoError(t, err)
	assert.Equal(t, "pii-email", def.ID)

	_, err = r.GetByPIIType("PHONE")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

// TestSeedIsIdempotent checks that seeding twice creates nothing new and
// never overwrites user edits.
func TestSeedIsIdempotent(t *testing.T) {
	r := testRegistry(t)

	created, err := r.Seed(DefaultSeed())
	assert.NoError(t, err)
	assert.Greater(t, created, 0)

	_, err = r.SetEnabled("pii-email", false)
	assert.NoError(t, err)

	created, err = r.Seed(DefaultSeed())
	assert.NoError(t, err)
	assert.Equal(t, 0, created)

	def, err := r.Get("pii-email")
	assert.NoError(t, err)
	assert.False(t, def.Enabled)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `version: "1"
rules:
  - id: pii-email
    pii_type: EMAIL
    sensitivity: medium
    column_name_hints: [email]
    require_masking: true
    enabled: true
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))

	seed, err := LoadSeedFile(path)
	assert.NoError(t, err)
	assert.Len(t, seed.Rules, 1)
	assert.True(t, seed.Rules[0].RequireMasking)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
