package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnKeyRoundTrip(t *testing.T) {
	ref := ColumnRef{
		DataSourceID: "Warehouse",
		Database:     "App",
		Schema:       "Public",
		Table:        "Users",
		Column:       "Email",
	}

	key := ref.Key()
	assert.Equal(t, "warehouse/app/public/users/email", key)

	parsed, err := ParseKey(key)
	assert.NoError(t, err)
	assert.Equal(t, "users", parsed.Table)

	_, err = ParseKey("too/few/parts")
	assert.Error(t, err)
}

func TestSourceSpecificity(t *testing.T) {
	assert.Greater(t, SourceManual.Specificity(), SourceContent.Specificity())
	assert.Greater(t, SourceContent.Specificity(), SourcePattern.Specificity())
	assert.Greater(t, SourcePattern.Specificity(), SourceMetadata.Specificity())
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	a := Column{Ref: ColumnRef{DataSourceID: "w", Database: "d", Schema: "s", Table: "t", Column: "b_col"}}
	b := Column{Ref: ColumnRef{DataSourceID: "w", Database: "d", Schema: "s", Table: "t", Column: "a_col"}}
	other := Column{Ref: ColumnRef{DataSourceID: "lake", Database: "d", Schema: "s", Table: "t", Column: "c"}}
	m.AddColumn(a)
	m.AddColumn(b)
	m.AddColumn(other)

	all, err := m.ListColumns(ctx, Scope{})
	assert.NoError(t, err)
	assert.Len(t, all, 3)
	// Sorted by key for deterministic scans.
	assert.Equal(t, "a_col", all[1].Ref.Column)

	scoped, err := m.ListColumns(ctx, Scope{DataSourceID: "lake"})
	assert.NoError(t, err)
	assert.Len(t, scoped, 1)

	piiType := "EMAIL"
	assert.NoError(t, m.UpdateClassification(ctx, a.Ref.Key(), Classification{PIIType: &piiType, Source: SourcePattern}))
	got, err := m.GetColumn(ctx, a.Ref.Key())
	assert.NoError(t, err)
	assert.True(t, got.Classification.IsClassified())

	assert.ErrorIs(t, m.UpdateClassification(ctx, "w/x/y/z/q", Classification{}), ErrColumnNotFound)
}
