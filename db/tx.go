package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is one transaction. It offers the same statement methods as DB.
// DefaultTimeout is not applied inside a transaction; the context passed to
// ExecTx bounds it as a whole.
type Tx struct {
	runner
	sqltx *sql.Tx
}

// ExecTx runs fn in a transaction, committing when fn returns nil and rolling
// back when it fails or panics. A panic is re-raised after the rollback.
// Transactions do not nest.
//
//	err := d.ExecTx(ctx, func(tx *db.Tx) error {
//	    res, err := tx.Execute(ctx, `SELECT "userID" FROM "users" WHERE "email" = ?`, email)
//	    if err != nil || len(res.Rows) > 0 {
//	        return err
//	    }
//	    _, err = tx.Execute(ctx, `INSERT INTO "users" ("userID", "email") VALUES (?, ?)`, id, email)
//	    return err
//	})
func (d *DB) ExecTx(ctx context.Context, fn func(*Tx) error, opts ...*sql.TxOptions) (err error) {
	var o *sql.TxOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	sqltx, err := d.sqldb.BeginTx(ctx, o)
	if err != nil {
		return d.mapErr(err)
	}
	tx := &Tx{
		runner: runner{conn: sqltx, hooks: d.hooks, errMap: d.errMap},
		sqltx:  sqltx,
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := sqltx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
		if rbErr != nil && rbErr != sql.ErrTxDone {
			err = fmt.Errorf("socialhub/db: rollback: %v (after %w)", rbErr, err)
		}
	}()

	if err = fn(tx); err != nil {
		return d.mapErr(err)
	}
	if err = sqltx.Commit(); err != nil {
		return d.mapErr(err)
	}
	committed = true
	return nil
}

// InTx is ExecTx for callers that only need Execute.
func (d *DB) InTx(ctx context.Context, fn func(Executor) error) error {
	return d.ExecTx(ctx, func(tx *Tx) error { return fn(tx) })
}

// Querier is what repositories accept, so they work on a DB and inside a Tx
// alike.
type Querier interface {
	Executor
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *Row
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)
