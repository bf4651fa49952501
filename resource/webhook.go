package resource

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/models"
	"github.com/Skryldev/socialhub/query"
	"github.com/Skryldev/socialhub/request"
	"github.com/Skryldev/socialhub/sanitize"
)

// ─────────────────────────────────────────────────────────────────────────────
// SSO events
// ─────────────────────────────────────────────────────────────────────────────

// SSOEvent is one identity-provider notification: UserCreated, UserUpdated
// or UserDeleted.
type SSOEvent interface {
	ssoEvent()
}

type UserCreated struct {
	ID       string
	Email    string
	Username string
}

type UserUpdated struct {
	ID       string
	Email    string
	Username string
}

type UserDeleted struct {
	ID string
}

func (UserCreated) ssoEvent() {}
func (UserUpdated) ssoEvent() {}
func (UserDeleted) ssoEvent() {}

// ParseSSOEvent reads the provider payload:
//
//	{"type": "user.created", "data": {"id": "...", "username": "...",
//	 "first_name": "...", "last_name": "...",
//	 "email_addresses": [{"email_address": "..."}]}}
//
// The type may also be given without the "user." prefix.
func ParseSSOEvent(rec request.Record) (SSOEvent, error) {
	kind := strings.TrimPrefix(strings.ToLower(rec.String("type")), "user.")
	id := lookupString(rec, "data.id")

	switch kind {
	case "created":
		ev := UserCreated{ID: id, Email: lookupString(rec, "data.email_addresses.0.email_address"), Username: ssoUsername(rec)}
		if ev.ID == "" || ev.Email == "" {
			return nil, apierr.Unprocessable("created event requires data.id and an email address")
		}
		email, err := emailTransform("email", ev.Email)
		if err != nil {
			return nil, err
		}
		ev.Email = email.(string)
		return ev, nil

	case "updated":
		ev := UserUpdated{ID: id, Email: lookupString(rec, "data.email_addresses.0.email_address"), Username: ssoUsername(rec)}
		if ev.ID == "" {
			return nil, apierr.Unprocessable("updated event requires data.id")
		}
		if ev.Email == "" && ev.Username == "" {
			return nil, apierr.Unprocessable("updated event carries nothing to update")
		}
		if ev.Email != "" {
			email, err := emailTransform("email", ev.Email)
			if err != nil {
				return nil, err
			}
			ev.Email = email.(string)
		}
		return ev, nil

	case "deleted":
		if id == "" {
			return nil, apierr.Unprocessable("deleted event requires data.id")
		}
		return UserDeleted{ID: id}, nil
	}
	return nil, apierr.Unprocessable("Invalid SSO event type")
}

func lookupString(rec request.Record, path string) string {
	v, ok := rec.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// ssoUsername prefers data.username and falls back to the full name.
func ssoUsername(rec request.Record) string {
	if u := lookupString(rec, "data.username"); u != "" {
		return u
	}
	full := strings.TrimSpace(lookupString(rec, "data.first_name") + " " + lookupString(rec, "data.last_name"))
	if full == "" {
		return ""
	}
	return sanitize.Normalise(full)
}

// ─────────────────────────────────────────────────────────────────────────────
// Webhook endpoint
// ─────────────────────────────────────────────────────────────────────────────

const ssoTable = "users"

// Webhook applies SSO events to the account table.
type Webhook struct {
	store   Storage
	builder query.Builder
	logger  *slog.Logger
}

// NewWebhook returns the /ssouser endpoint.
func NewWebhook(store Storage, dialect query.Dialect, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{store: store, builder: query.New(dialect), logger: logger}
}

func (w *Webhook) Route() string     { return "ssouser" }
func (w *Webhook) Methods() []string { return []string{http.MethodPost} }

// Params accepts any top-level member; provider envelopes carry more than
// the fields read here.
func (w *Webhook) Params() []string { return nil }

func (w *Webhook) Serve(ctx context.Context, req *request.Request) (*Response, error) {
	ev, err := ParseSSOEvent(req.Record)
	if err != nil {
		return nil, err
	}

	var (
		op     query.Op
		fields query.FieldSet
		keys   []string
		rec    request.Record
		status = http.StatusOK
	)
	switch e := ev.(type) {
	case UserCreated:
		op, status = query.Insert, http.StatusCreated
		rec = request.NewRecord(map[string]any{
			"userID": e.ID, "username": e.Username, "email": e.Email, "password_hash": models.SSOPasswordMarker,
		})
		fields = query.FieldSet{"userID", "username", "email", "password_hash"}
	case UserUpdated:
		op = query.Update
		rec = request.NewRecord(map[string]any{"userID": e.ID, "password_hash": models.SSOPasswordMarker})
		if e.Username != "" {
			rec = rec.With("username", e.Username)
			fields = append(fields, "username")
		}
		if e.Email != "" {
			rec = rec.With("email", e.Email)
			fields = append(fields, "email")
		}
		fields = append(fields, "password_hash")
		keys = []string{"userID"}
	case UserDeleted:
		op = query.Delete
		rec = request.NewRecord(map[string]any{"userID": e.ID})
		keys = []string{"userID"}
	}

	st, err := w.builder.Build(op, ssoTable, fields, rec, keys)
	if err != nil {
		return nil, err
	}
	res, err := w.store.Execute(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, storageErr(err)
	}
	w.logger.InfoContext(ctx, "resource: sso event applied", "op", op.String(), "affected", res.Affected)

	var id any
	if op == query.Insert {
		id = rec.String("userID")
	}
	return writeResponse(status, res.Affected, id), nil
}
