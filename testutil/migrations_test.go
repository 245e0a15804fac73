package testutil_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/migrations"
	"github.com/pkordes/fieldops/testutil"
)

// steps lists the tables each migration version introduces.
var steps = []struct {
	version int64
	tables  []string
}{
	{1, []string{"trips", "trip_checkpoints"}},
	{2, []string{"visits"}},
	{3, []string{"courier_profiles", "courier_documents"}},
	{4, []string{"deliveries", "delivery_events"}},
}

// TestMigrations walks the migration set one version at a time in both
// directions against a real Postgres.
func TestMigrations(t *testing.T) {
	db := testutil.NewSQLDB(t)
	ctx := context.Background()

	provider, err := migrations.NewProvider(db)
	require.NoError(t, err)

	// The repo suite may already have migrated the shared database.
	_, err = provider.DownTo(ctx, 0)
	require.NoError(t, err, "initial reset")

	for _, step := range steps {
		res, err := provider.UpByOne(ctx)
		require.NoError(t, err, "up to %d", step.version)
		assert.Equal(t, step.version, res.Source.Version)
		for _, table := range step.tables {
			assert.True(t, tableExists(t, db, table), "%s after version %d", table, step.version)
		}
	}

	version, err := provider.GetDBVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, steps[len(steps)-1].version, version)

	for i := len(steps) - 1; i >= 0; i-- {
		_, err := provider.Down(ctx)
		require.NoError(t, err, "down from %d", steps[i].version)
		for _, table := range steps[i].tables {
			assert.False(t, tableExists(t, db, table), "%s after rolling back %d", table, steps[i].version)
		}
	}
}

// TestMigrations_OneActiveTripPerOwner checks the partial unique index that
// backs the single in-progress trip rule.
func TestMigrations_OneActiveTripPerOwner(t *testing.T) {
	db := testutil.NewSQLDB(t)
	ctx := context.Background()
	require.NoError(t, testutil.MigrateUp(ctx, testutil.DSN(t)))

	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'trips' AND indexname = 'trips_one_active_per_owner')`,
	).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRowContext(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		table,
	).Scan(&exists)
	require.NoError(t, err, "lookup %q", table)
	return exists
}
