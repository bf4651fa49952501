// Package auth verifies callers: HTTP Basic credentials against stored
// bcrypt hashes, and HS256 bearer tokens against the shared secret.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/models"
	"github.com/Skryldev/socialhub/repo"
	"github.com/Skryldev/socialhub/sanitize"
)

// CredentialStore verifies both kinds of caller identity. It is safe for
// concurrent use; all of its state is read-only after construction.
type CredentialStore struct {
	accounts repo.AccountRepository
	secret   []byte
	issuer   string
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *CredentialStore) { s.now = now }
}

// WithIssuer pins the expected token issuer. Without it the serving host of
// each request is used.
func WithIssuer(issuer string) Option {
	return func(s *CredentialStore) { s.issuer = issuer }
}

// WithTokenTTL sets the lifetime of issued tokens. The default is one hour.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *CredentialStore) { s.ttl = ttl }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *CredentialStore) { s.logger = l }
}

// NewCredentialStore returns a store reading accounts and signing with
// secret.
func NewCredentialStore(accounts repo.AccountRepository, secret string, opts ...Option) *CredentialStore {
	s := &CredentialStore{
		accounts: accounts,
		secret:   []byte(secret),
		ttl:      time.Hour,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Basic auth
// ─────────────────────────────────────────────────────────────────────────────

// VerifyBasicAuth checks plaintext against the hash stored for identifier
// and returns the account's user id.
//
// Two stored accounts for one identifier is a broken uniqueness invariant
// and is reported as apierr.ErrAmbiguousCredential, a server fault.
func (s *CredentialStore) VerifyBasicAuth(ctx context.Context, identifier, plaintext string) (string, error) {
	email := sanitize.Email(identifier)
	if email == "" || plaintext == "" {
		return "", apierr.New(apierr.ErrUnauthenticated, "Username or password is missing")
	}

	creds, err := s.accounts.CredentialsByEmail(ctx, email)
	if err != nil {
		return "", apierr.Storage(err)
	}

	switch len(creds) {
	case 0:
		return "", apierr.New(apierr.ErrUnauthenticated, "Username or password is incorrect")
	case 1:
	default:
		s.logger.ErrorContext(ctx, "auth: identifier matches several accounts", "matches", len(creds))
		return "", apierr.New(apierr.ErrAmbiguousCredential, "Please contact your admin")
	}

	cred := creds[0]
	if cred.PasswordHash == models.SSOPasswordMarker {
		return "", apierr.New(apierr.ErrUnauthenticated, "Username or password is incorrect")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(plaintext)); err != nil {
		return "", apierr.New(apierr.ErrUnauthenticated, "Username or password is incorrect")
	}
	return cred.UserID, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Bearer tokens
// ─────────────────────────────────────────────────────────────────────────────

// Issuer returns the issuer expected for a request served on host.
func (s *CredentialStore) Issuer(host string) string {
	if s.issuer != "" {
		return s.issuer
	}
	return host
}

// VerifyBearerToken verifies token with the store's secret and clock.
func (s *CredentialStore) VerifyBearerToken(token, expectedIssuer string) (string, error) {
	return VerifyBearerToken(token, s.secret, expectedIssuer, s.now())
}

// Authenticate extracts and verifies the bearer token of a request served
// on host.
func (s *CredentialStore) Authenticate(header http.Header, host string) (string, error) {
	token, err := ExtractBearer(header.Get("Authorization"))
	if err != nil {
		return "", err
	}
	return s.VerifyBearerToken(token, s.Issuer(host))
}

// IssueToken signs a token for subject on behalf of host.
func (s *CredentialStore) IssueToken(subject, host string) (string, time.Time, error) {
	return IssueToken(subject, s.Issuer(host), s.secret, s.now(), s.ttl)
}

// Account returns the public account record for userID.
func (s *CredentialStore) Account(ctx context.Context, userID string) (*models.Account, error) {
	return s.accounts.GetByID(ctx, userID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Hashing
// ─────────────────────────────────────────────────────────────────────────────

// HashPassword returns the bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
