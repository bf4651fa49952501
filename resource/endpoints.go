package resource

import (
	"context"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/db"
	"github.com/Skryldev/socialhub/models"
	"github.com/Skryldev/socialhub/request"
	"github.com/Skryldev/socialhub/upload"
)

// ─────────────────────────────────────────────────────────────────────────────
// /token: basic credentials in, bearer token out
// ─────────────────────────────────────────────────────────────────────────────

// TokenIssuer verifies basic credentials, loads the account behind them and
// signs tokens. *auth.CredentialStore satisfies it.
type TokenIssuer interface {
	VerifyBasicAuth(ctx context.Context, identifier, plaintext string) (string, error)
	Account(ctx context.Context, userID string) (*models.Account, error)
	IssueToken(subject, host string) (string, time.Time, error)
}

// Token is the /token endpoint.
type Token struct {
	issuer TokenIssuer
}

func NewToken(issuer TokenIssuer) *Token { return &Token{issuer: issuer} }

func (t *Token) Route() string     { return "token" }
func (t *Token) Methods() []string { return []string{http.MethodGet, http.MethodPost} }
func (t *Token) Params() []string  { return []string{} }

func (t *Token) Serve(ctx context.Context, req *request.Request) (*Response, error) {
	user, pass, ok := req.BasicAuth()
	if !ok {
		return nil, apierr.New(apierr.ErrUnauthenticated, "Username or password is missing")
	}
	subject, err := t.issuer.VerifyBasicAuth(ctx, user, pass)
	if err != nil {
		return nil, err
	}
	// the account can vanish between the two reads
	account, err := t.issuer.Account(ctx, subject)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apierr.New(apierr.ErrUnauthenticated, "Username or password is incorrect")
		}
		return nil, storageErr(err)
	}
	token, exp, err := t.issuer.IssueToken(subject, req.Host)
	if err != nil {
		return nil, apierr.Wrap(apierr.ErrStorage, err, "could not issue token")
	}
	return &Response{Status: http.StatusOK, Body: Envelope{
		Message: "success",
		Extra: map[string]any{
			"token":     token,
			"expiresAt": exp.Unix(),
			"user":      account,
		},
	}}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// /upload: multipart media
// ─────────────────────────────────────────────────────────────────────────────

// Uploader stores one file. *upload.Store satisfies it.
type Uploader interface {
	Save(kind upload.Kind, fh *multipart.FileHeader) (string, error)
}

// Upload is the /upload endpoint. Every request needs a bearer token.
type Upload struct {
	store Uploader
	auth  Authenticator
}

func NewUpload(store Uploader, authn Authenticator) *Upload {
	return &Upload{store: store, auth: authn}
}

func (u *Upload) Route() string     { return "upload" }
func (u *Upload) Methods() []string { return []string{http.MethodPost} }
func (u *Upload) Params() []string  { return []string{} }

// Serve stores the "image" and "video" parts. With a single file the URL is
// returned as "url"; with both, as "imageUrl" and "videoUrl".
func (u *Upload) Serve(ctx context.Context, req *request.Request) (*Response, error) {
	if _, err := u.auth.Authenticate(req.Header, req.Host); err != nil {
		return nil, err
	}

	urls := make(map[upload.Kind]string, len(upload.Kinds))
	for _, kind := range upload.Kinds {
		fh, err := req.File(string(kind))
		if err != nil {
			continue
		}
		url, err := u.store.Save(kind, fh)
		if err != nil {
			return nil, err
		}
		urls[kind] = url
	}

	extra := make(map[string]any, len(urls))
	switch len(urls) {
	case 0:
		return nil, apierr.Unprocessable("No file uploaded: expected an image or video field")
	case 1:
		for _, url := range urls {
			extra["url"] = url
		}
	default:
		for kind, url := range urls {
			extra[string(kind)+"Url"] = url
		}
	}
	return &Response{Status: http.StatusCreated, Body: Envelope{Message: "success", Extra: extra}}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// / and /developer: service information
// ─────────────────────────────────────────────────────────────────────────────

// Info describes the running service.
type Info struct {
	Name       string
	Version    string
	Maintainer string
}

// Developer serves Info together with the route list.
type Developer struct {
	route  string
	info   Info
	routes func() []string
}

func NewDeveloper(route string, info Info, routes func() []string) *Developer {
	return &Developer{route: route, info: info, routes: routes}
}

func (d *Developer) Route() string     { return d.route }
func (d *Developer) Methods() []string { return []string{http.MethodGet} }
func (d *Developer) Params() []string  { return []string{} }

func (d *Developer) Serve(_ context.Context, _ *request.Request) (*Response, error) {
	return &Response{Status: http.StatusOK, Body: Envelope{
		Message: "success",
		Extra: map[string]any{
			"name":       d.info.Name,
			"version":    d.info.Version,
			"maintainer": d.info.Maintainer,
			"routes":     d.routes(),
		},
	}}, nil
}
