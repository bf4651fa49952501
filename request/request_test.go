package request_test

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/request"
)

// ─────────────────────────────────────────────────────────────────────────────
// Parse
// ─────────────────────────────────────────────────────────────────────────────

func TestParse_BodyEscapesEveryString(t *testing.T) {
	body := []byte(`{"textContent":"<script>x</script>","postID":12,"ratio":0.5,
		"data":{"tags":["a&b",{"deep":"'q'"}]},"flag":true,"none":null}`)

	rec, err := request.Parse(body, nil)
	require.NoError(t, err)

	assert.Equal(t, "&lt;script&gt;x&lt;/script&gt;", rec.String("textContent"))
	v, _ := rec.Get("postID")
	assert.Equal(t, int64(12), v)
	v, _ = rec.Get("ratio")
	assert.Equal(t, 0.5, v)
	v, _ = rec.Get("flag")
	assert.Equal(t, true, v)
	assert.False(t, rec.Has("none"))

	deep, ok := rec.Lookup("data.tags.1.deep")
	require.True(t, ok)
	assert.Equal(t, "&#39;q&#39;", deep)
	first, _ := rec.Lookup("data.tags.0")
	assert.Equal(t, "a&amp;b", first)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := request.Parse([]byte(`{"a":`), nil)
	assert.True(t, errors.Is(err, apierr.ErrMalformedRequest))

	_, err = request.Parse([]byte(`[1,2]`), nil)
	assert.True(t, errors.Is(err, apierr.ErrMalformedRequest))
}

func TestParse_QueryFallback(t *testing.T) {
	q := url.Values{"userID": {"u<1>", "ignored"}, "visibility": {"public"}}

	rec, err := request.Parse(nil, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"userID", "visibility"}, rec.Keys())
	assert.Equal(t, "u&lt;1&gt;", rec.String("userID"))

	rec, err = request.Parse([]byte("   "), q)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Len())
}

func TestParse_BodyIsAuthoritative(t *testing.T) {
	q := url.Values{"userID": {"from-query"}, "extra": {"x"}}

	rec, err := request.Parse([]byte(`{"userID":"from-body"}`), q)
	require.NoError(t, err)
	assert.Equal(t, "from-body", rec.String("userID"))
	assert.False(t, rec.Has("extra"))
}

func TestRecord_WithCopies(t *testing.T) {
	rec, _ := request.Parse([]byte(`{"a":"1"}`), nil)
	next := rec.With("b", "2")

	assert.False(t, rec.Has("b"))
	assert.Equal(t, "2", next.String("b"))
	assert.Equal(t, "1", next.String("a"))
}

func TestRecord_LookupMisses(t *testing.T) {
	rec, _ := request.Parse([]byte(`{"data":{"list":[1]}}`), nil)

	_, ok := rec.Lookup("data.list.5")
	assert.False(t, ok)
	_, ok = rec.Lookup("data.missing")
	assert.False(t, ok)
	_, ok = rec.Lookup("data.list.0.deeper")
	assert.False(t, ok)
}

// ─────────────────────────────────────────────────────────────────────────────
// FromHTTP
// ─────────────────────────────────────────────────────────────────────────────

func TestFromHTTP_JSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/post?ignored=1", strings.NewReader(`{"userID":"u1"}`))
	r.SetBasicAuth("a@b.com", "pw")

	req, err := request.FromHTTP(r, "Post", request.Limits{})
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "post", req.Route)
	assert.Equal(t, "u1", req.Record.String("userID"))

	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "a@b.com", user)
	assert.Equal(t, "pw", pass)
}

func TestFromHTTP_BodyTooLarge(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/post", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))

	_, err := request.FromHTTP(r, "post", request.Limits{Body: 16})
	assert.True(t, errors.Is(err, apierr.ErrMalformedRequest))
}

func TestFromHTTP_Multipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("caption", "<b>hi</b>"))
	fw, err := w.CreateFormFile("image", "cat.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("not really a png"))
	require.NoError(t, w.Close())

	r := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	r.Header.Set("Content-Type", w.FormDataContentType())

	req, err := request.FromHTTP(r, "upload", request.Limits{Body: 16})
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", req.Record.String("caption"))

	fh, err := req.File("image")
	require.NoError(t, err)
	assert.Equal(t, "cat.png", fh.Filename)

	_, err = req.File("video")
	assert.ErrorIs(t, err, request.ErrNoFile)
}

func multipartFile(t *testing.T, field string, size int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, "clip.bin")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{'x'}, size))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestFromHTTP_MultipartHasItsOwnLimit(t *testing.T) {
	body, ct := multipartFile(t, "video", 3<<20)
	r := httptest.NewRequest(http.MethodPost, "/upload", body)
	r.Header.Set("Content-Type", ct)

	// the JSON bound does not apply to file uploads
	req, err := request.FromHTTP(r, "upload", request.Limits{Body: 1 << 20, Multipart: 4 << 20})
	require.NoError(t, err)
	fh, err := req.File("video")
	require.NoError(t, err)
	assert.EqualValues(t, 3<<20, fh.Size)
}

func TestFromHTTP_MultipartTooLarge(t *testing.T) {
	body, ct := multipartFile(t, "video", 2<<20)
	r := httptest.NewRequest(http.MethodPost, "/upload", body)
	r.Header.Set("Content-Type", ct)

	_, err := request.FromHTTP(r, "upload", request.Limits{Multipart: 1 << 20})
	require.ErrorIs(t, err, apierr.ErrMalformedRequest)
	assert.Contains(t, err.Error(), "exceeds")
}
