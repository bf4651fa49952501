// Package db is the storage layer of socialhub: a thin, SQL-first wrapper
// around database/sql. It is NOT an ORM. Statements come from the query
// builder or from explicit repository SQL; this package only runs them,
// classifies their results, and maps driver errors to sentinels.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config describes one connection pool.
type Config struct {
	// DSN and DriverName are passed to sql.Open unchanged. DriverName is
	// "sqlite3", "postgres", "pgx" or "mysql" for the bundled adapters.
	DSN        string
	DriverName string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// DefaultTimeout bounds Exec and Execute calls whose context carries no
	// deadline. Zero disables it.
	DefaultTimeout time.Duration

	// Hooks observe every statement. Nil entries are skipped.
	Hooks []Hook

	// ErrorMapper overrides DefaultErrorMapper.
	ErrorMapper ErrorMapper
}

// ─────────────────────────────────────────────────────────────────────────────
// DB
// ─────────────────────────────────────────────────────────────────────────────

// DB is a concurrency-safe pool. Exec, Query, QueryRow and Execute come from
// the runner it shares with Tx, so repositories can take either through
// Querier.
type DB struct {
	runner
	sqldb  *sql.DB
	driver string
}

// Open opens the pool described by cfg and pings it once. The caller must
// Close the returned DB.
func Open(cfg Config) (*DB, error) {
	switch {
	case cfg.DSN == "":
		return nil, errors.New("socialhub/db: DSN must not be empty")
	case cfg.DriverName == "":
		return nil, errors.New("socialhub/db: DriverName must not be empty")
	}

	sqldb, err := sql.Open(cfg.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("socialhub/db: open %s: %w", cfg.DriverName, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	mapper := cfg.ErrorMapper
	if mapper == nil {
		mapper = DefaultErrorMapper()
	}
	d := &DB{
		runner: runner{
			conn:    sqldb,
			hooks:   newHookChain(cfg.Hooks),
			errMap:  mapper,
			timeout: cfg.DefaultTimeout,
		},
		sqldb:  sqldb,
		driver: cfg.DriverName,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("socialhub/db: ping %s: %w", cfg.DriverName, mapper.Map(err))
	}
	return d, nil
}

// Raw exposes the pool, e.g. for sql.DBStats collection.
func (d *DB) Raw() *sql.DB { return d.sqldb }

// DriverName is the database/sql driver the pool was opened with.
func (d *DB) DriverName() string { return d.driver }

// Close closes every pooled connection.
func (d *DB) Close() error { return d.sqldb.Close() }

// Ping reports whether the database is reachable. It backs /healthz.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

// ─────────────────────────────────────────────────────────────────────────────
// runner: statement execution shared by DB and Tx
// ─────────────────────────────────────────────────────────────────────────────

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type runner struct {
	conn    sqlConn
	hooks   hookChain
	errMap  ErrorMapper
	timeout time.Duration
}

// Exec runs a statement that returns no rows.
func (r *runner) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var res sql.Result
	err := r.hooks.around(ctx, query, args, func(ctx context.Context) error {
		var err error
		res, err = r.conn.ExecContext(ctx, query, args...)
		return r.mapErr(err)
	})
	return res, err
}

// Query runs a statement returning rows. The caller must close the rows.
// DefaultTimeout does not apply: the rows outlive the call.
func (r *runner) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := r.hooks.around(ctx, query, args, func(ctx context.Context) error {
		var err error
		rows, err = r.conn.QueryContext(ctx, query, args...)
		return r.mapErr(err)
	})
	return rows, err
}

// QueryRow runs a statement expected to return at most one row. A miss
// surfaces from Scan as ErrNotFound.
func (r *runner) QueryRow(ctx context.Context, query string, args ...any) *Row {
	var raw *sql.Row
	_ = r.hooks.around(ctx, query, args, func(ctx context.Context) error {
		raw = r.conn.QueryRowContext(ctx, query, args...)
		return r.mapErr(raw.Err())
	})
	return &Row{raw: raw, errMap: r.errMap}
}

func (r *runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *runner) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return r.errMap.Map(err)
}

// Row is *sql.Row with errors mapped to sentinels.
type Row struct {
	raw    *sql.Row
	errMap ErrorMapper
}

// Scan copies the matched row into dest; no row yields ErrNotFound.
func (r *Row) Scan(dest ...any) error {
	if err := r.raw.Scan(dest...); err != nil {
		return r.errMap.Map(err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// WithRetry
// ─────────────────────────────────────────────────────────────────────────────

// RetryConfig controls WithRetry.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	// RetryOn selects the errors worth another attempt. Nil retries
	// ErrConnectionFailed, ErrDeadlock and ErrTimeout.
	RetryOn func(error) bool
}

// WithRetry calls fn until it succeeds, returns an error RetryOn rejects, or
// MaxAttempts is spent. Request handling never retries; this is for
// bootstrap work such as waiting for the database to accept connections.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	retryOn := cfg.RetryOn
	if retryOn == nil {
		retryOn = isTransient
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(cfg.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = fn(); err == nil || !retryOn(err) {
			return err
		}
	}
	return fmt.Errorf("socialhub/db: gave up after %d attempts: %w", attempts, err)
}

func isTransient(err error) bool {
	return IsConnectionFailed(err) || IsDeadlock(err) || IsTimeout(err)
}
