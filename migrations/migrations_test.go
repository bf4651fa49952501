package migrations_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/socialhub/db"
	"github.com/Skryldev/socialhub/migrations"
	_ "github.com/mattn/go-sqlite3"
)

func TestDatabaseURL(t *testing.T) {
	u, err := migrations.DatabaseURL("sqlite3", "/tmp/app.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3:///tmp/app.db", u)

	u, err = migrations.DatabaseURL("pgx", "postgres://app@localhost/app")
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@localhost/app", u)

	_, err = migrations.DatabaseURL("postgres", "host=localhost dbname=app")
	assert.Error(t, err)

	_, err = migrations.Dir("oracle")
	assert.Error(t, err)
}

func TestSchema_AllDialectsCreateEveryTable(t *testing.T) {
	for _, driver := range []string{"sqlite3", "postgres", "mysql"} {
		schema, err := migrations.Schema(driver)
		require.NoError(t, err, driver)
		for _, table := range []string{"users", "post", "comment", "reaction", "friends", "profile"} {
			assert.Contains(t, schema, table, "%s schema misses %s", driver, table)
		}
	}
}

func TestUp_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socialhub.db")

	require.NoError(t, migrations.Up("sqlite3", path, nil))
	// second run is a no-op
	require.NoError(t, migrations.Up("sqlite3", path, nil))

	d, err := db.Open(db.Config{DSN: path, DriverName: "sqlite3"})
	require.NoError(t, err)
	defer d.Close()

	res, err := d.Execute(context.Background(), `SELECT "postID" FROM "post"`)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}
