// Package migrations embeds the schema for every supported database and
// applies it through golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql postgres/*.sql mysql/*.sql
var files embed.FS

// Dir returns the embedded directory holding the migrations for a
// database/sql driver name.
func Dir(driverName string) (string, error) {
	switch driverName {
	case "sqlite3":
		return "sqlite", nil
	case "postgres", "pgx":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	}
	return "", fmt.Errorf("socialhub/migrations: no schema for driver %q", driverName)
}

// DatabaseURL converts a database/sql DSN into the URL form golang-migrate
// expects. PostgreSQL DSNs must already be URLs.
func DatabaseURL(driverName, dsn string) (string, error) {
	switch driverName {
	case "sqlite3":
		return "sqlite3://" + dsn, nil
	case "mysql":
		return "mysql://" + dsn, nil
	case "postgres", "pgx":
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return dsn, nil
		}
		return "", fmt.Errorf("socialhub/migrations: postgres DSN must be a postgres:// URL to run migrations")
	}
	return "", fmt.Errorf("socialhub/migrations: unsupported driver %q", driverName)
}

// New returns a migrate instance reading the embedded schema for driverName.
// The caller must Close it.
func New(driverName, dsn string, logger *slog.Logger) (*migrate.Migrate, error) {
	dir, err := Dir(driverName)
	if err != nil {
		return nil, err
	}
	url, err := DatabaseURL(driverName, dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, dir)
	if err != nil {
		return nil, fmt.Errorf("socialhub/migrations: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("socialhub/migrations: init: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m.Log = &migrateLogger{logger: logger}
	return m, nil
}

// Up applies every pending migration. An already current schema is not an
// error.
func Up(driverName, dsn string, logger *slog.Logger) error {
	m, err := New(driverName, dsn, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("socialhub/migrations: up: %w", err)
	}
	return nil
}

// Schema returns the concatenated up migrations for driverName, in version
// order. Tests use it to bootstrap in-memory databases without going
// through golang-migrate.
func Schema(driverName string) (string, error) {
	dir, err := Dir(driverName)
	if err != nil {
		return "", err
	}
	names, err := fs.Glob(files, dir+"/*.up.sql")
	if err != nil {
		return "", err
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		data, err := files.ReadFile(n)
		if err != nil {
			return "", err
		}
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ─────────────────────────────────────────────────────────────────────────────

type migrateLogger struct{ logger *slog.Logger }

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
func (l *migrateLogger) Verbose() bool { return false }
