package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/erp/inventory-core/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"add reservation index":   "add_reservation_index",
		"Add-Checkpoint--Table":   "add_checkpoint_table",
		"  leading and trailing ": "leading_and_trailing",
		"v2 balances (hot)":       "v2_balances_hot",
		"!!!":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeName(in), in)
	}
}

func TestCreateMigration(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "migrations")
	at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	mf, err := createMigrationAt(dir, "Add reservation priority", "priority ordering", at)
	require.NoError(t, err)

	assert.Equal(t, "20260402093000", mf.Version)
	assert.Equal(t, filepath.Join(dir, "20260402093000_add_reservation_priority.up.sql"), mf.UpPath)

	up, err := os.ReadFile(mf.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "-- Migration: Add reservation priority")
	assert.Contains(t, string(up), "-- Created: 2026-04-02T09:30:00Z")

	down, err := os.ReadFile(mf.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "Rollback for priority ordering")

	_, err = createMigrationAt(dir, "Add reservation priority", "again", at)
	assert.Error(t, err, "an existing migration is never overwritten")

	_, err = createMigrationAt(dir, "???", "", at)
	assert.Error(t, err)
}

func TestListMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"20260302000000_b.up.sql", "20260302000000_b.down.sql",
		"20260301000000_a.up.sql", "20260301000000_a.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "20260303000000_c.up.sql"), 0o755))

	names, err := ListMigrations(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"20260301000000_a", "20260302000000_b"}, names)

	missing, err := ListMigrations(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestListMigrationsFS(t *testing.T) {
	fsys := fstest.MapFS{
		"1_x.up.sql":   {},
		"1_x.down.sql": {},
	}
	names, err := ListMigrationsFS(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_x"}, names)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := ListMigrationsFS(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	for _, name := range names {
		_, err := migrations.FS.Open(name + ".down.sql")
		assert.NoError(t, err, "missing down migration for %s", name)
	}
}
