// Package resource turns catalog descriptors into endpoints. A request that
// reaches an endpoint has already passed the method and parameter gates; the
// endpoint authenticates it, validates its fields against the operation, runs
// one generated statement and shapes the outcome into an Envelope.
package resource

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/db"
	"github.com/Skryldev/socialhub/query"
	"github.com/Skryldev/socialhub/request"
)

// ─────────────────────────────────────────────────────────────────────────────
// Collaborators
// ─────────────────────────────────────────────────────────────────────────────

// Endpoint is one routable unit. Params returns the accepted top-level
// parameter names; nil accepts any.
type Endpoint interface {
	Route() string
	Methods() []string
	Params() []string
	Serve(ctx context.Context, req *request.Request) (*Response, error)
}

// Storage runs statements. *db.DB satisfies it.
type Storage interface {
	db.Executor
	InTx(ctx context.Context, fn func(db.Executor) error) error
}

// Authenticator resolves the bearer token of a request to its subject.
// *auth.CredentialStore satisfies it.
type Authenticator interface {
	Authenticate(header http.Header, host string) (string, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Resource: the generic table endpoint
// ─────────────────────────────────────────────────────────────────────────────

type opFunc func(ctx context.Context, spec *Operation, rec request.Record) (*Response, error)

// Resource serves one Descriptor.
type Resource struct {
	desc    *Descriptor
	store   Storage
	builder query.Builder
	auth    Authenticator
	newID   func() string
	logger  *slog.Logger
	ops     map[query.Op]opFunc
}

// NewResource binds d to its collaborators.
func NewResource(d *Descriptor, store Storage, dialect query.Dialect, authn Authenticator, logger *slog.Logger) *Resource {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resource{
		desc:    d,
		store:   store,
		builder: query.New(dialect),
		auth:    authn,
		newID:   uuid.NewString,
		logger:  logger,
	}
	r.ops = map[query.Op]opFunc{
		query.Select: r.read,
		query.Insert: r.create,
		query.Update: r.update,
		query.Delete: r.remove,
	}
	return r
}

func (r *Resource) Route() string     { return r.desc.Route }
func (r *Resource) Methods() []string { return r.desc.Methods() }
func (r *Resource) Params() []string  { return r.desc.Params() }

// Serve dispatches req to the operation its method maps to.
func (r *Resource) Serve(ctx context.Context, req *request.Request) (*Response, error) {
	op, ok := opFor(req.Method)
	spec := r.desc.Operation(op)
	if !ok || spec == nil {
		return nil, apierr.MethodNotAllowed(req.Method)
	}

	rec := req.Record
	if spec.Auth == AuthBearer {
		if r.auth == nil {
			return nil, apierr.New(apierr.ErrUnauthenticated, "authentication is not configured")
		}
		subject, err := r.auth.Authenticate(req.Header, req.Host)
		if err != nil {
			return nil, err
		}
		if spec.Owner != "" {
			rec = rec.With(spec.Owner, subject)
		}
	}

	rec, err := applyTransforms(rec, r.desc.Transforms, spec.Transforms)
	if err != nil {
		return nil, err
	}
	r.logger.DebugContext(ctx, "resource: dispatch", "route", r.desc.Route, "op", op.String())
	return r.ops[op](ctx, spec, rec)
}

// ─────────────────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────────────────

func (r *Resource) read(ctx context.Context, spec *Operation, rec request.Record) (*Response, error) {
	filters := query.Resolve(r.desc.Fields, rec, spec.Filters)
	if len(filters) == 0 && len(spec.Defaults) > 0 {
		rec = withDefaults(rec, spec.Defaults)
		filters = query.Resolve(r.desc.Fields, rec, spec.Filters)
	}
	if missing := requiredMissing(spec, filters, rec); len(missing) > 0 {
		return nil, missingErr(missing)
	}

	orderBy := spec.OrderBy
	if orderBy == "" {
		orderBy = r.desc.ID
	}
	opts := []query.Option{query.Columns(spec.Columns...), query.OrderBy(orderBy)}
	for _, alias := range sortedKeys(spec.Either) {
		if rec.Has(alias) {
			opts = append(opts, query.Either(alias, spec.Either[alias]...))
		}
	}
	st, err := r.builder.Build(query.Select, r.desc.Table, filters, rec, spec.Filters, opts...)
	if err != nil {
		return nil, err
	}

	res, err := r.store.Execute(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, storageErr(err)
	}
	if filters.Has(r.desc.ID) {
		switch {
		case len(res.Rows) == 0:
			return nil, apierr.New(apierr.ErrNotFound, "No %s found", r.desc.Route)
		case len(res.Rows) > 1:
			r.logger.ErrorContext(ctx, "resource: id matched several rows", "route", r.desc.Route, "rows", len(res.Rows))
			return nil, apierr.New(apierr.ErrAmbiguousCredential, "Please contact your admin")
		}
	}
	return rowsResponse(res.Rows), nil
}

func (r *Resource) create(ctx context.Context, spec *Operation, rec request.Record) (*Response, error) {
	if missing := missingFrom(rec, spec.Required); len(missing) > 0 {
		return nil, missingErr(missing)
	}
	if len(spec.AnyOf) > 0 && len(missingFrom(rec, spec.AnyOf)) == len(spec.AnyOf) {
		return nil, apierr.Unprocessable("At least one of the parameters (%s) is required", strings.Join(spec.AnyOf, ", "))
	}

	rec = withDefaults(rec, spec.Defaults)
	for _, f := range sortedKeys(spec.Generate) {
		rec = rec.With(f, r.newID())
	}

	var opts []query.Option
	if len(spec.Generate) == 0 {
		opts = append(opts, query.Returning(r.desc.ID))
	}
	st, err := r.builder.Build(query.Insert, r.desc.Table, query.Resolve(r.insertColumns(spec), rec), rec, nil, opts...)
	if err != nil {
		return nil, err
	}

	var res *db.Result
	insert := func(ex db.Executor) error {
		if len(spec.Unique) > 0 {
			if err := r.checkUnique(ctx, ex, spec.Unique, rec); err != nil {
				return err
			}
		}
		var err error
		res, err = ex.Execute(ctx, st.SQL, st.Args...)
		return err
	}

	if len(spec.Unique) > 0 {
		err = r.store.InTx(ctx, insert)
	} else {
		err = insert(r.store)
	}
	if err != nil {
		return nil, storageErr(err)
	}

	id := res.LastInsertID
	if r.clientAssignsID(spec) {
		id, _ = rec.Get(r.desc.ID)
	}
	return writeResponse(http.StatusCreated, res.Affected, id), nil
}

// insertColumns is the allow-list for an insert: generated fields first,
// then the descriptor fields. The id is left to storage unless
// clientAssignsID.
func (r *Resource) insertColumns(spec *Operation) []string {
	cols := sortedKeys(spec.Generate)
	for _, f := range r.desc.Fields {
		if _, ok := spec.Generate[f]; ok {
			continue
		}
		if f == r.desc.ID && !r.clientAssignsID(spec) {
			continue
		}
		cols = append(cols, f)
	}
	return cols
}

// clientAssignsID reports whether the id of a new row comes from the
// record, either generated into it or required of the caller.
func (r *Resource) clientAssignsID(spec *Operation) bool {
	_, generated := spec.Generate[r.desc.ID]
	return generated || contains(spec.Required, r.desc.ID)
}

// checkUnique fails with apierr.ErrConflict when a row already holds the
// values of fields. It runs in the same transaction as the insert; a racing
// writer still trips the storage unique constraint, which storageErr maps to
// the same conflict.
func (r *Resource) checkUnique(ctx context.Context, ex db.Executor, fields []string, rec request.Record) error {
	st, err := r.builder.Build(query.Select, r.desc.Table, query.FieldSet(fields), rec, fields,
		query.Columns(fields...))
	if err != nil {
		return err
	}
	res, err := ex.Execute(ctx, st.SQL, st.Args...)
	if err != nil {
		return err
	}
	if len(res.Rows) > 0 {
		return conflictErr(r.desc.Route)
	}
	return nil
}

func (r *Resource) update(ctx context.Context, spec *Operation, rec request.Record) (*Response, error) {
	if missing := missingFrom(rec, spec.Key); len(missing) > 0 {
		return nil, missingErr(missing)
	}
	set := query.Resolve(r.desc.Fields, rec, spec.Mutable)
	if len(set) == 0 {
		return nil, apierr.Unprocessable("At least one of the parameters (%s) is required", strings.Join(spec.Mutable, ", "))
	}

	st, err := r.builder.Build(query.Update, r.desc.Table, set, rec, spec.Key)
	if err != nil {
		return nil, err
	}
	res, err := r.store.Execute(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, storageErr(err)
	}
	return writeResponse(http.StatusOK, res.Affected, nil), nil
}

// remove deletes by key. Deleting a row that does not exist is not an
// error; the envelope reports zero affected rows.
func (r *Resource) remove(ctx context.Context, spec *Operation, rec request.Record) (*Response, error) {
	if missing := missingFrom(rec, spec.Key); len(missing) > 0 {
		return nil, missingErr(missing)
	}

	st, err := r.builder.Build(query.Delete, r.desc.Table, nil, rec, spec.Key)
	if err != nil {
		return nil, err
	}
	res, err := r.store.Execute(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, storageErr(err)
	}
	return writeResponse(http.StatusOK, res.Affected, nil), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

var methodOps = map[string]query.Op{
	http.MethodGet:    query.Select,
	http.MethodPost:   query.Insert,
	http.MethodPut:    query.Update,
	http.MethodDelete: query.Delete,
}

func opFor(method string) (query.Op, bool) {
	op, ok := methodOps[strings.ToUpper(method)]
	return op, ok
}

func methodFor(op query.Op) string {
	for m, o := range methodOps {
		if o == op {
			return m
		}
	}
	return ""
}

func withDefaults(rec request.Record, defaults map[string]any) request.Record {
	for _, f := range sortedKeys(defaults) {
		if !rec.Has(f) {
			rec = rec.With(f, defaults[f])
		}
	}
	return rec
}

func missingFrom(rec request.Record, fields []string) []string {
	var out []string
	for _, f := range fields {
		if !rec.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// requiredMissing reports the required parameters of a select that are
// absent. Either aliases are checked on the record, other fields on the
// resolved filters.
func requiredMissing(spec *Operation, filters query.FieldSet, rec request.Record) []string {
	var out []string
	for _, f := range spec.Required {
		if _, alias := spec.Either[f]; alias {
			if !rec.Has(f) {
				out = append(out, f)
			}
			continue
		}
		if !filters.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func missingErr(missing []string) error {
	return apierr.Unprocessable("Missing required parameter(s): %s", strings.Join(missing, ", "))
}

func conflictErr(route string) error {
	return apierr.New(apierr.ErrConflict, "%s already exists", route)
}

// storageErr converts an Execute failure into the error taxonomy. Errors
// already classified pass through; a unique violation becomes a conflict.
func storageErr(err error) error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	if db.IsDuplicateKey(err) {
		return apierr.Wrap(apierr.ErrConflict, err, "duplicate")
	}
	return apierr.Storage(err)
}
