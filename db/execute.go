package db

import (
	"context"
	"database/sql"
	"strings"
)

// ─────────────────────────────────────────────────────────────────────────────
// Result: the classified outcome of a single statement
// ─────────────────────────────────────────────────────────────────────────────

// Result holds what Execute learned from one statement. Which fields are set
// depends on the verb:
//
//	SELECT   Rows (never nil, possibly empty)
//	INSERT   LastInsertID and Affected
//	others   Affected
type Result struct {
	Verb         string
	Rows         []map[string]any
	LastInsertID any
	Affected     int64
}

// Executor is the storage collaborator used by resource handlers.
// Both *DB and *Tx satisfy it.
type Executor interface {
	Execute(ctx context.Context, query string, args ...any) (*Result, error)
}

// Execute runs query and classifies the outcome by its leading verb. Every
// failure is returned as a *StorageError.
//
// An INSERT carrying a RETURNING clause is run as a query and its first
// column becomes LastInsertID, which is how PostgreSQL reports generated
// keys.
func (r *runner) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	verb := statementVerb(query)
	res := &Result{Verb: verb}
	fail := func(err error) (*Result, error) { return nil, newStorageError(verb, err) }

	if verb != "SELECT" && (verb != "INSERT" || !hasReturning(query)) {
		sr, err := r.Exec(ctx, query, args...)
		if err != nil {
			return fail(err)
		}
		if res.Affected, err = sr.RowsAffected(); err != nil {
			return fail(err)
		}
		if verb == "INSERT" {
			// lib/pq does not implement LastInsertId.
			if id, err := sr.LastInsertId(); err == nil {
				res.LastInsertID = id
			}
		}
		return res, nil
	}

	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return fail(err)
	}
	defer rows.Close()
	records, err := scanRows(rows)
	if err != nil {
		return fail(r.mapErr(err))
	}

	if verb == "SELECT" {
		res.Rows = records
		return res, nil
	}
	res.Affected = int64(len(records))
	if len(records) > 0 {
		for _, v := range records[0] {
			res.LastInsertID = v
		}
	}
	return res, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func statementVerb(query string) string {
	q := strings.TrimLeft(query, " \t\r\n(")
	end := strings.IndexAny(q, " \t\r\n(")
	if end < 0 {
		end = len(q)
	}
	verb := strings.ToUpper(q[:end])
	if verb == "WITH" {
		return "SELECT"
	}
	return verb
}

func hasReturning(query string) bool {
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}

// scanRows reads every row into a column-name keyed map. Byte slices are
// converted to strings so results serialise as text.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
