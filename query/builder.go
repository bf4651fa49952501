// Package query builds parameterised SQL for the four flat statement shapes
// the resource framework needs. It is not an ORM and not a planner: values
// are always bound, and only validated identifiers reach the statement text.
package query

import (
	"fmt"
	"strings"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/sanitize"
)

// ─────────────────────────────────────────────────────────────────────────────
// Operation kinds
// ─────────────────────────────────────────────────────────────────────────────

// Op is the statement kind.
type Op int

const (
	Select Op = iota
	Insert
	Update
	Delete
)

func (o Op) String() string {
	switch o {
	case Select:
		return "select"
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ─────────────────────────────────────────────────────────────────────────────
// Statement
// ─────────────────────────────────────────────────────────────────────────────

// Values is the read side of a request record.
type Values interface {
	Get(key string) (any, bool)
}

// Statement is the output of Build. SQL and Args are ready for
// database/sql; the other fields describe the shape for logging and tests.
type Statement struct {
	Op      Op
	Table   string
	Columns []string
	Filters []string
	SQL     string
	Args    []any
}

type options struct {
	columns   []string
	orderBy   string
	returning string
	either    []either
}

// either matches one request value against any of several columns.
type either struct {
	param string
	cols  []string
}

// Option adjusts a single Build call.
type Option func(*options)

// Columns sets the projection of a select. The default is every column.
func Columns(cols ...string) Option {
	return func(o *options) { o.columns = cols }
}

// OrderBy appends ORDER BY col to a select.
func OrderBy(col string) Option {
	return func(o *options) { o.orderBy = col }
}

// Either adds ("c1" = v OR "c2" = v ...) to a select, where v is the value
// of param in the record. Groups are ANDed after the equality filters.
func Either(param string, cols ...string) Option {
	return func(o *options) { o.either = append(o.either, either{param: param, cols: cols}) }
}

// Returning asks an insert to return col, on dialects that support it.
func Returning(col string) Option {
	return func(o *options) { o.returning = col }
}

// ─────────────────────────────────────────────────────────────────────────────
// Builder
// ─────────────────────────────────────────────────────────────────────────────

// Builder renders statements for one SQL dialect. The zero value uses
// SQLite syntax.
type Builder struct {
	Dialect Dialect
}

// New returns a Builder for d.
func New(d Dialect) Builder { return Builder{Dialect: d} }

// Build renders op against table.
//
//   - Select filters on every key present in fields, joined with AND, then on
//     each Either group; no keys and no groups means no WHERE clause.
//   - Insert writes fields in their FieldSet order.
//   - Update sets every field that is not a key and filters on all keys.
//   - Delete filters on all keys.
//
// Update and delete refuse an empty key set with apierr.ErrUnsafeUpdate and
// apierr.ErrUnsafeDelete.
func (b Builder) Build(op Op, table string, fields FieldSet, rec Values, keys []string, opts ...Option) (Statement, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	if err := validIdentifiers(append(append(append([]string{table}, fields...), keys...), o.columns...)...); err != nil {
		return Statement{}, err
	}
	if o.orderBy != "" {
		if err := validIdentifiers(o.orderBy); err != nil {
			return Statement{}, err
		}
	}
	if o.returning != "" {
		if err := validIdentifiers(o.returning); err != nil {
			return Statement{}, err
		}
	}
	for _, e := range o.either {
		if len(e.cols) == 0 {
			return Statement{}, fmt.Errorf("socialhub/query: either %s names no columns", e.param)
		}
		if err := validIdentifiers(e.cols...); err != nil {
			return Statement{}, err
		}
	}

	w := &writer{d: b.Dialect}
	st := Statement{Op: op, Table: table}

	switch op {
	case Select:
		st.Columns = o.columns
		st.Filters = presentKeys(keys, fields)
		if err := w.selectStmt(table, o.columns, st.Filters, o.either, rec, o.orderBy); err != nil {
			return Statement{}, err
		}

	case Insert:
		if len(fields) == 0 {
			return Statement{}, apierr.Unprocessable("no fields supplied for %s", table)
		}
		st.Columns = append([]string(nil), fields...)
		if err := w.insertStmt(table, st.Columns, rec, o.returning); err != nil {
			return Statement{}, err
		}

	case Update:
		if len(keys) == 0 {
			return Statement{}, apierr.New(apierr.ErrUnsafeUpdate, "update of %s requires key fields", table)
		}
		st.Columns = withoutKeys(fields, keys)
		if len(st.Columns) == 0 {
			return Statement{}, apierr.Unprocessable("no updatable fields supplied for %s", table)
		}
		st.Filters = append([]string(nil), keys...)
		if err := w.updateStmt(table, st.Columns, st.Filters, rec); err != nil {
			return Statement{}, err
		}

	case Delete:
		if len(keys) == 0 {
			return Statement{}, apierr.New(apierr.ErrUnsafeDelete, "delete from %s requires key fields", table)
		}
		st.Filters = append([]string(nil), keys...)
		if err := w.deleteStmt(table, st.Filters, rec); err != nil {
			return Statement{}, err
		}

	default:
		return Statement{}, fmt.Errorf("socialhub/query: unknown operation %v", op)
	}

	st.SQL = w.sb.String()
	st.Args = w.args
	return st, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Rendering
// ─────────────────────────────────────────────────────────────────────────────

type writer struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (w *writer) bind(rec Values, field string) (string, error) {
	v, ok := rec.Get(field)
	if !ok || v == nil {
		return "", apierr.Unprocessable("missing value for field %s", field)
	}
	switch v.(type) {
	case string, int64, int, int32, float64, bool:
	default:
		return "", apierr.Unprocessable("field %s must be a scalar value", field)
	}
	w.args = append(w.args, v)
	return w.d.placeholder(len(w.args)), nil
}

func (w *writer) where(filters []string, rec Values) error {
	for i, f := range filters {
		if i == 0 {
			w.sb.WriteString(" WHERE ")
		} else {
			w.sb.WriteString(" AND ")
		}
		ph, err := w.bind(rec, f)
		if err != nil {
			return err
		}
		w.sb.WriteString(w.d.quote(f))
		w.sb.WriteString(" = ")
		w.sb.WriteString(ph)
	}
	return nil
}

func (w *writer) anyOf(groups []either, first bool, rec Values) error {
	for _, g := range groups {
		if first {
			w.sb.WriteString(" WHERE (")
			first = false
		} else {
			w.sb.WriteString(" AND (")
		}
		for i, c := range g.cols {
			if i > 0 {
				w.sb.WriteString(" OR ")
			}
			ph, err := w.bind(rec, g.param)
			if err != nil {
				return err
			}
			w.sb.WriteString(w.d.quote(c))
			w.sb.WriteString(" = ")
			w.sb.WriteString(ph)
		}
		w.sb.WriteString(")")
	}
	return nil
}

func (w *writer) selectStmt(table string, cols, filters []string, groups []either, rec Values, orderBy string) error {
	w.sb.WriteString("SELECT ")
	if len(cols) == 0 {
		w.sb.WriteString("*")
	} else {
		w.sb.WriteString(w.quoteList(cols))
	}
	w.sb.WriteString(" FROM ")
	w.sb.WriteString(w.d.quote(table))
	if err := w.where(filters, rec); err != nil {
		return err
	}
	if err := w.anyOf(groups, len(filters) == 0, rec); err != nil {
		return err
	}
	if orderBy != "" {
		w.sb.WriteString(" ORDER BY ")
		w.sb.WriteString(w.d.quote(orderBy))
	}
	return nil
}

func (w *writer) insertStmt(table string, cols []string, rec Values, returning string) error {
	phs := make([]string, 0, len(cols))
	for _, c := range cols {
		ph, err := w.bind(rec, c)
		if err != nil {
			return err
		}
		phs = append(phs, ph)
	}
	fmt.Fprintf(&w.sb, "INSERT INTO %s (%s) VALUES (%s)",
		w.d.quote(table), w.quoteList(cols), strings.Join(phs, ", "))
	if returning != "" && w.d.Returning {
		w.sb.WriteString(" RETURNING ")
		w.sb.WriteString(w.d.quote(returning))
	}
	return nil
}

func (w *writer) updateStmt(table string, cols, keys []string, rec Values) error {
	w.sb.WriteString("UPDATE ")
	w.sb.WriteString(w.d.quote(table))
	w.sb.WriteString(" SET ")
	for i, c := range cols {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		ph, err := w.bind(rec, c)
		if err != nil {
			return err
		}
		w.sb.WriteString(w.d.quote(c))
		w.sb.WriteString(" = ")
		w.sb.WriteString(ph)
	}
	return w.where(keys, rec)
}

func (w *writer) deleteStmt(table string, keys []string, rec Values) error {
	w.sb.WriteString("DELETE FROM ")
	w.sb.WriteString(w.d.quote(table))
	return w.where(keys, rec)
}

func (w *writer) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = w.d.quote(n)
	}
	return strings.Join(quoted, ", ")
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func validIdentifiers(names ...string) error {
	for _, n := range names {
		if err := sanitize.Identifier(n); err != nil {
			return apierr.Wrap(apierr.ErrInvalidParameter, err, "Invalid parameter: "+n)
		}
	}
	return nil
}

func presentKeys(keys []string, fields FieldSet) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if fields.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func withoutKeys(fields FieldSet, keys []string) []string {
	skip := make(map[string]bool, len(keys))
	for _, k := range keys {
		skip[k] = true
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !skip[f] {
			out = append(out, f)
		}
	}
	return out
}
