// Package upload stores user media on local disk and returns the public URL
// of each stored file. Content types are sniffed from the bytes, never taken
// from the client.
package upload

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/Skryldev/socialhub/apierr"
)

// DefaultMaxSize is the per-file cap, 2 MiB.
const DefaultMaxSize int64 = 2 << 20

// Kind is the form field a file arrives in.
type Kind string

const (
	Image Kind = "image"
	Video Kind = "video"
)

// Kinds lists the accepted upload fields in the order they are processed.
var Kinds = []Kind{Image, Video}

var allowedTypes = map[Kind][]string{
	Image: {"image/jpeg", "image/png", "image/gif"},
	Video: {"video/mp4", "video/webm", "video/quicktime"},
}

func (k Kind) dir() string { return string(k) + "s" }

// Config configures a Store.
type Config struct {
	// Dir is the root directory; files go to Dir/images and Dir/videos.
	Dir string
	// BaseURL is the public prefix the root directory is served under.
	BaseURL string
	// MaxSize caps each file. Zero means DefaultMaxSize.
	MaxSize int64
	Logger  *slog.Logger
}

// Store writes uploads below one directory.
type Store struct {
	dir     string
	baseURL string
	maxSize int64
	newName func() string
	logger  *slog.Logger
}

// New creates the kind directories below cfg.Dir and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("socialhub/upload: directory is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	for _, k := range Kinds {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, k.dir()), 0o755); err != nil {
			return nil, fmt.Errorf("socialhub/upload: %w", err)
		}
	}
	return &Store{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		maxSize: cfg.MaxSize,
		newName: uuid.NewString,
		logger:  cfg.Logger,
	}, nil
}

// Save validates fh and copies it into the directory for kind. Oversized or
// disallowed files fail with apierr.ErrUnprocessable.
func (s *Store) Save(kind Kind, fh *multipart.FileHeader) (string, error) {
	types, ok := allowedTypes[kind]
	if !ok {
		return "", apierr.Unprocessable("unknown upload field %s", kind)
	}
	if fh.Size > s.maxSize {
		return "", tooLarge(s.maxSize)
	}

	src, err := fh.Open()
	if err != nil {
		return "", apierr.Storage(err)
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return "", apierr.Storage(err)
	}
	if !isAllowed(mt, types) {
		return "", apierr.Unprocessable("Invalid file type")
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", apierr.Storage(err)
	}

	name := s.newName() + mt.Extension()
	path := filepath.Join(s.dir, kind.dir(), name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apierr.Storage(err)
	}

	n, err := io.Copy(dst, io.LimitReader(src, s.maxSize+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil || n > s.maxSize {
		_ = os.Remove(path)
		if err != nil {
			return "", apierr.Storage(err)
		}
		return "", tooLarge(s.maxSize)
	}

	s.logger.Info("upload: stored", "kind", string(kind), "name", name, "type", mt.String(), "bytes", n)
	return s.URL(kind, name), nil
}

// MaxRequestSize bounds a multipart request carrying one file of every
// kind, plus room for form fields and part headers.
func (s *Store) MaxRequestSize() int64 {
	const formOverhead = 1 << 20
	return int64(len(Kinds))*s.maxSize + formOverhead
}

// URL returns the public address of a stored file.
func (s *Store) URL(kind Kind, name string) string {
	return s.baseURL + "/" + kind.dir() + "/" + name
}

// Handler serves the stored files. Mount it under the path of BaseURL.
func (s *Store) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}

func isAllowed(mt *mimetype.MIME, types []string) bool {
	for _, t := range types {
		if mt.Is(t) {
			return true
		}
	}
	return false
}

func tooLarge(max int64) error {
	return apierr.Unprocessable("File size exceeds the maximum limit of %d bytes", max)
}
