package softdelete_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grosser/soft-deletion/pkg/softdelete"
)

type unnamed struct {
	softdelete.Model
}

func (*unnamed) TableName() string { return " " }

func TestRegistryEnable(t *testing.T) {
	t.Parallel()

	registry := softdelete.NewRegistry()
	require.NoError(t, registry.Enable(&book{}, softdelete.Options{DefaultScope: true}))

	assert.True(t, registry.Enabled("books"))
	assert.False(t, registry.Enabled("authors"))

	opts, ok := registry.Options("books")
	require.True(t, ok)
	assert.True(t, opts.DefaultScope)

	require.ErrorIs(t, registry.Enable(struct{}{}, softdelete.Options{}), softdelete.ErrNotSoftDeletable)
	require.ErrorIs(t, registry.Enable(&unnamed{}, softdelete.Options{}), softdelete.ErrNotSoftDeletable)
}

func TestHooksBeforeEnableAreKept(t *testing.T) {
	t.Parallel()

	registry := softdelete.NewRegistry()
	registry.BeforeSoftDelete("books", softdelete.BoolHook(nil))

	assert.False(t, registry.Enabled("books"))
	_, ok := registry.Options("books")
	assert.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	cases := map[string]softdelete.Policy{
		"":           softdelete.PolicyNone,
		"none":       softdelete.PolicyNone,
		"cascade":    softdelete.PolicyCascade,
		"Destroy":    softdelete.PolicyCascade,
		"nullify":    softdelete.PolicyNullify,
		"bulk":       softdelete.PolicyBulkMark,
		"delete_all": softdelete.PolicyBulkMark,
	}
	for raw, want := range cases {
		got, err := softdelete.ParsePolicy(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := softdelete.ParsePolicy("restrict_with_error")
	require.Error(t, err)
}

func TestHookFailedErrorMessage(t *testing.T) {
	t.Parallel()

	err := &softdelete.HookFailedError{Hook: "before_soft_delete"}
	assert.Equal(t, "before_soft_delete hook failed, errors: None", err.Error())

	err.Messages = []string{"a", "b"}
	assert.Equal(t, "before_soft_delete hook failed, errors: a, b", err.Error())
}

func TestRelationshipString(t *testing.T) {
	t.Parallel()

	rel := softdelete.Relationship{
		Name:       "books",
		Kind:       softdelete.HasMany,
		Table:      "authors",
		Target:     "books",
		ForeignKey: "author_id",
		Policy:     softdelete.PolicyCascade,
	}
	assert.Equal(t, "authors.books(has_many -> books.author_id, cascade)", rel.String())
}
