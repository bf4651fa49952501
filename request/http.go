package request

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/sanitize"
)

// Default body limits, used when Limits leaves a field zero.
const (
	DefaultMaxBody      int64 = 1 << 20
	DefaultMaxMultipart int64 = 8 << 20
)

// maxFormMemory is how much of a multipart body is kept in memory; larger
// file parts spill to temporary files.
const maxFormMemory int64 = 1 << 20

// Limits bounds the size of a request body. Multipart bodies carry files and
// get their own, larger bound.
type Limits struct {
	Body      int64
	Multipart int64
}

func (l Limits) withDefaults() Limits {
	if l.Body <= 0 {
		l.Body = DefaultMaxBody
	}
	if l.Multipart <= 0 {
		l.Multipart = DefaultMaxMultipart
	}
	return l
}

// Request is everything a handler may read about one inbound call.
type Request struct {
	Method string
	Route  string
	Record Record
	Header http.Header
	Host   string

	// Files holds uploaded parts of a multipart body, first file per field.
	Files map[string]*multipart.FileHeader

	basicUser string
	basicPass string
	basicOK   bool
}

// BasicAuth returns the credentials of an Authorization: Basic header.
func (r *Request) BasicAuth() (user, pass string, ok bool) {
	return r.basicUser, r.basicPass, r.basicOK
}

// FromHTTP reads r into a Request. JSON and query bodies are bounded by
// lim.Body, multipart/form-data bodies by lim.Multipart.
func FromHTTP(r *http.Request, route string, lim Limits) (*Request, error) {
	lim = lim.withDefaults()
	req := &Request{
		Method: strings.ToUpper(r.Method),
		Route:  strings.ToLower(route),
		Header: r.Header,
		Host:   r.Host,
	}
	req.basicUser, req.basicPass, req.basicOK = r.BasicAuth()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(nil, r.Body, lim.Multipart)
		if err := r.ParseMultipartForm(min(maxFormMemory, lim.Multipart)); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return nil, apierr.New(apierr.ErrMalformedRequest, "request body exceeds %d bytes", lim.Multipart)
			}
			return nil, apierr.Wrap(apierr.ErrMalformedRequest, err, "invalid multipart body")
		}
		values := make(map[string]any, len(r.MultipartForm.Value))
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				values[k] = sanitize.String(vs[0])
			}
		}
		req.Record = NewRecord(values)
		req.Files = make(map[string]*multipart.FileHeader, len(r.MultipartForm.File))
		for k, fhs := range r.MultipartForm.File {
			if len(fhs) > 0 {
				req.Files[k] = fhs[0]
			}
		}
		return req, nil
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, lim.Body+1))
		if err != nil {
			return nil, apierr.Wrap(apierr.ErrMalformedRequest, err, "could not read request body")
		}
		if int64(len(body)) > lim.Body {
			return nil, apierr.New(apierr.ErrMalformedRequest, "request body exceeds %d bytes", lim.Body)
		}
	}

	rec, err := Parse(body, r.URL.Query())
	if err != nil {
		return nil, err
	}
	req.Record = rec
	return req, nil
}

// ErrNoFile is returned by File when the field carries no upload.
var ErrNoFile = errors.New("request: no file in field")

// File returns the uploaded file header for field.
func (r *Request) File(field string) (*multipart.FileHeader, error) {
	fh, ok := r.Files[field]
	if !ok || fh == nil {
		return nil, ErrNoFile
	}
	return fh, nil
}
