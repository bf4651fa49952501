package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sentinels
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrNotFound            = errors.New("socialhub/db: record not found")
	ErrDuplicateKey        = errors.New("socialhub/db: duplicate key")
	ErrForeignKeyViolation = errors.New("socialhub/db: foreign key violation")
	ErrCheckViolation      = errors.New("socialhub/db: check constraint violation")
	ErrDeadlock            = errors.New("socialhub/db: deadlock or lock contention")
	ErrTimeout             = errors.New("socialhub/db: statement timed out or was canceled")
	ErrConnectionFailed    = errors.New("socialhub/db: connection failed")

	// ErrStorage matches every *StorageError returned by Execute.
	ErrStorage = errors.New("socialhub/db: storage failure")
)

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsDuplicateKey(err error) bool        { return errors.Is(err, ErrDuplicateKey) }
func IsForeignKeyViolation(err error) bool { return errors.Is(err, ErrForeignKeyViolation) }
func IsDeadlock(err error) bool            { return errors.Is(err, ErrDeadlock) }
func IsTimeout(err error) bool             { return errors.Is(err, ErrTimeout) }
func IsConnectionFailed(err error) bool    { return errors.Is(err, ErrConnectionFailed) }
func IsStorage(err error) bool             { return errors.Is(err, ErrStorage) }

// ─────────────────────────────────────────────────────────────────────────────
// DriverError
// ─────────────────────────────────────────────────────────────────────────────

// DriverError pairs a sentinel with the driver error it was classified
// from. errors.Is matches the sentinel; errors.As still reaches the driver
// type. Execute never returns one directly, see StorageError.
type DriverError struct {
	Sentinel error
	Cause    error
}

func (e *DriverError) Error() string        { return fmt.Sprintf("%v: %v", e.Sentinel, e.Cause) }
func (e *DriverError) Is(target error) bool { return e.Sentinel == target }
func (e *DriverError) Unwrap() error        { return e.Cause }

// ─────────────────────────────────────────────────────────────────────────────
// ErrorMapper
// ─────────────────────────────────────────────────────────────────────────────

// ErrorMapper turns a raw driver error into a *DriverError, or returns it
// unchanged when it cannot be classified.
type ErrorMapper interface {
	Map(err error) error
}

// ErrorMapperFunc adapts a function to ErrorMapper.
type ErrorMapperFunc func(error) error

func (f ErrorMapperFunc) Map(err error) error { return f(err) }

// DefaultErrorMapper classifies errors from database/sql, lib/pq, pgx,
// go-sql-driver/mysql and mattn/go-sqlite3.
func DefaultErrorMapper() ErrorMapper { return ErrorMapperFunc(classify) }

// PostgreSQL SQLSTATE codes, shared by lib/pq and pgx.
var pgStates = map[string]error{
	"23505": ErrDuplicateKey,
	"23503": ErrForeignKeyViolation,
	"23514": ErrCheckViolation,
	"40P01": ErrDeadlock,
	"55P03": ErrDeadlock, // lock_not_available
	"57014": ErrTimeout,  // query_canceled
	"08000": ErrConnectionFailed,
	"08001": ErrConnectionFailed,
	"08003": ErrConnectionFailed,
	"08004": ErrConnectionFailed,
	"08006": ErrConnectionFailed,
	"08007": ErrConnectionFailed,
	"08P01": ErrConnectionFailed,
	"57P03": ErrConnectionFailed, // cannot_connect_now
}

// MySQL server error numbers.
var mysqlNumbers = map[uint16]error{
	1062: ErrDuplicateKey,
	1216: ErrForeignKeyViolation,
	1217: ErrForeignKeyViolation,
	1451: ErrForeignKeyViolation,
	1452: ErrForeignKeyViolation,
	3819: ErrCheckViolation,
	1205: ErrDeadlock, // lock wait timeout
	1213: ErrDeadlock,
	3024: ErrTimeout,
	1040: ErrConnectionFailed,
	1045: ErrConnectionFailed,
}

// SQLite extended result codes.
var sqliteCodes = map[sqlite3.ErrNoExtended]error{
	sqlite3.ErrConstraintUnique:     ErrDuplicateKey,
	sqlite3.ErrConstraintPrimaryKey: ErrDuplicateKey,
	sqlite3.ErrConstraintForeignKey: ErrForeignKeyViolation,
	sqlite3.ErrConstraintCheck:      ErrCheckViolation,
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	var se *StorageError
	if errors.As(err, &de) || errors.As(err, &se) {
		return err
	}
	if s := sentinelFor(err); s != nil {
		return &DriverError{Sentinel: s, Cause: err}
	}
	return err
}

func sentinelFor(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTimeout
	case errors.Is(err, mysql.ErrInvalidConn):
		return ErrConnectionFailed
	}

	var (
		pgErr     *pgconn.PgError
		pqErr     *pq.Error
		mysqlErr  *mysql.MySQLError
		sqliteErr sqlite3.Error
		connErr   *pgconn.ConnectError
	)
	switch {
	case errors.As(err, &pgErr):
		return pgStates[pgErr.Code]
	case errors.As(err, &pqErr):
		return pgStates[string(pqErr.Code)]
	case errors.As(err, &connErr):
		return ErrConnectionFailed
	case errors.As(err, &mysqlErr):
		return mysqlNumbers[mysqlErr.Number]
	case errors.As(err, &sqliteErr):
		if s, ok := sqliteCodes[sqliteErr.ExtendedCode]; ok {
			return s
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return ErrDeadlock
		case sqlite3.ErrCantOpen:
			return ErrConnectionFailed
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// StorageError: the only error type Execute surfaces
// ─────────────────────────────────────────────────────────────────────────────

// StorageError reports a failed Execute call. It keeps the classified
// sentinel reachable through errors.Is but holds the driver error only as
// text, so driver types never travel upward.
type StorageError struct {
	// Verb is the statement verb, e.g. "INSERT".
	Verb string
	// Sentinel is the mapped sentinel, nil when unclassified.
	Sentinel error
	detail   string
}

func (e *StorageError) Error() string {
	if e.Sentinel != nil {
		return fmt.Sprintf("socialhub/db: %s failed: %v: %s", e.Verb, e.Sentinel, e.detail)
	}
	return fmt.Sprintf("socialhub/db: %s failed: %s", e.Verb, e.detail)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage || (e.Sentinel != nil && e.Sentinel == target)
}

func (e *StorageError) Unwrap() error { return e.Sentinel }

func newStorageError(verb string, err error) *StorageError {
	var se *StorageError
	if errors.As(err, &se) {
		return se
	}
	out := &StorageError{Verb: verb, detail: err.Error()}
	var de *DriverError
	if errors.As(err, &de) {
		out.Sentinel = de.Sentinel
		out.detail = de.Cause.Error()
	} else {
		out.Sentinel = sentinelFor(err)
	}
	return out
}
