package db

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-linker/migrations"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"001_test.sql", "001_test"},
		{"002_test.SQL", "002_test"},
		{"003_test", "003_test"},
		{"", ""},
		{".sql", ".sql"},
		{"004_test.Sql", "004_test"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeVersion(tt.input))
		})
	}
}

func TestFindMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"003_create_posts.sql":     {Data: []byte("-- test")},
		"001_create_users.sql":     {Data: []byte("-- test")},
		"002_add_alt_names.SQL": {Data: []byte("-- test")},
		"README.md":                {Data: []byte("ignored")},
		"nested/004_skip.sql":      {Data: []byte("-- nested")},
	}

	found, err := findMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "001_create_users", found[0].Version)
	assert.Equal(t, "002_add_alt_names", found[1].Version)
	assert.Equal(t, "002_add_alt_names.SQL", found[1].Name)
	assert.Equal(t, "003_create_posts", found[2].Version)
}

func TestFindMigrations_Empty(t *testing.T) {
	found, err := findMigrations(fstest.MapFS{})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestEmbeddedMigrations(t *testing.T) {
	found, err := findMigrations(migrations.FS)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(found), 2)
	assert.Equal(t, "001_linking_schema", found[0].Version)
	assert.Equal(t, "002_document_notify", found[1].Version)
}

func TestMigrator_NilPool(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{})
	ctx := context.Background()

	_, err := m.Up(ctx)
	assert.Error(t, err)
	_, err = m.Pending(ctx)
	assert.Error(t, err)
	_, err = m.Status(ctx)
	assert.Error(t, err)
}
