package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/db"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartSnapshotsMigrationContainsSchema(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_cart_snapshots.sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS cart_snapshots",
		"session_id VARCHAR(255) PRIMARY KEY",
		"CREATE INDEX IF NOT EXISTS idx_cart_snapshots_expires_at",
		"DROP TABLE IF EXISTS cart_snapshots",
	} {
		assert.True(t, strings.Contains(content, sub), "missing expected statement %q", sub)
	}
}

func TestValidateEmbeddedMigrations(t *testing.T) {
	require.NoError(t, ValidateEmbedded())

	n, err := Validate(os.DirFS("migrations"), ".")
	require.NoError(t, err)
	embedded, err := Validate(migrationsFS, DefaultDir)
	require.NoError(t, err)
	assert.Equal(t, n, embedded, "embedded set must match the source directory")
}

func TestValidateRejectsBadMigrations(t *testing.T) {
	up, down := "-- +goose Up\nSELECT 1;\n", "-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"bad name":        {"create_things.sql": {Data: []byte(up + down)}},
		"short version":   {"2026_things.sql": {Data: []byte(up + down)}},
		"upper case name": {"20261018120000_Things.sql": {Data: []byte(up + down)}},
		"missing down":    {"20261018120000_things.sql": {Data: []byte(up)}},
		"down before up":  {"20261018120000_things.sql": {Data: []byte(down + up)}},
		"duplicate version": {
			"20261018120000_a.sql": {Data: []byte(up + down)},
			"20261018120000_b.sql": {Data: []byte(up + down)},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(fsys, ".")
			require.Error(t, err)
		})
	}

	n, err := Validate(fstest.MapFS{
		"20261018120000_a.sql": {Data: []byte(up + down)},
		"README.md":            {Data: []byte("notes")},
	}, ".")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	first, err := CreateSQLMigration(dir, "Add Cart Notes!", now)
	require.NoError(t, err)
	assert.Equal(t, "20261018093000_add_cart_notes.sql", filepath.Base(first))

	second, err := CreateSQLMigration(dir, "  index  notes ", now)
	require.NoError(t, err)
	assert.Equal(t, "20261018093001_index_notes.sql", filepath.Base(second))

	n, err := Validate(os.DirFS(dir), ".")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = CreateSQLMigration(dir, "!!!", now)
	require.Error(t, err)
}

func TestRunAppliesMigrationsOnSQLite(t *testing.T) {
	SetLogger(logger.Nop())
	client, err := db.New(context.Background(), config.DBConfig{
		Driver:       config.DBDriverSQLite,
		DSN:          "file:migrate_run_test?mode=memory&cache=shared",
		MaxOpenConns: 1,
		AutoMigrate:  true,
	}, logger.Nop())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, MaybeRun(context.Background(), config.DBConfig{AutoMigrate: true}, logger.Nop(), client))
	assert.True(t, client.DB().Migrator().HasTable("cart_snapshots"))

	// running again is a no-op
	require.NoError(t, MaybeRun(context.Background(), config.DBConfig{AutoMigrate: true}, logger.Nop(), client))

	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	version, err := Version(context.Background(), sqlDB, config.DBDriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, latestEmbedded(), version)
	assert.NotZero(t, version)

	require.NoError(t, Run(context.Background(), sqlDB, config.DBDriverSQLite, "down"))
	assert.False(t, client.DB().Migrator().HasTable("cart_snapshots"))
}

func TestDialect(t *testing.T) {
	d, err := Dialect(config.DBDriverPostgres)
	require.NoError(t, err)
	assert.Equal(t, "postgres", d)

	d, err = Dialect(config.DBDriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", d)

	_, err = Dialect("oracle")
	require.Error(t, err)
}
