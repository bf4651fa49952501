package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/auth"
	"github.com/Skryldev/socialhub/models"
)

const secret = "test-secret"

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeAccounts is an in-memory repo.AccountRepository.
type fakeAccounts struct {
	creds map[string][]models.Credential
	err   error
}

func (f *fakeAccounts) CredentialsByEmail(_ context.Context, email string) ([]models.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.creds[email], nil
}

func (f *fakeAccounts) GetByID(_ context.Context, userID string) (*models.Account, error) {
	for _, list := range f.creds {
		for _, c := range list {
			if c.UserID == userID {
				return &models.Account{UserID: c.UserID, Email: c.Email}, nil
			}
		}
	}
	return nil, errors.New("not found")
}

func newStore(t *testing.T, accounts *fakeAccounts, opts ...auth.Option) *auth.CredentialStore {
	t.Helper()
	opts = append([]auth.Option{auth.WithClock(func() time.Time { return now })}, opts...)
	return auth.NewCredentialStore(accounts, secret, opts...)
}

func hash(t *testing.T, plain string) string {
	t.Helper()
	h, err := auth.HashPassword(plain)
	require.NoError(t, err)
	return h
}

// ─────────────────────────────────────────────────────────────────────────────
// Basic auth
// ─────────────────────────────────────────────────────────────────────────────

func TestVerifyBasicAuth(t *testing.T) {
	accounts := &fakeAccounts{creds: map[string][]models.Credential{
		"ann@example.com": {{UserID: "u1", Email: "ann@example.com", PasswordHash: hash(t, "s3cret")}},
		"dup@example.com": {
			{UserID: "u2", Email: "dup@example.com", PasswordHash: "x"},
			{UserID: "u3", Email: "dup@example.com", PasswordHash: "y"},
		},
		"sso@example.com": {{UserID: "u4", Email: "sso@example.com", PasswordHash: models.SSOPasswordMarker}},
	}}
	store := newStore(t, accounts)
	ctx := context.Background()

	t.Run("match", func(t *testing.T) {
		sub, err := store.VerifyBasicAuth(ctx, "Ann@Example.com", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "u1", sub)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := store.VerifyBasicAuth(ctx, "ann@example.com", "nope")
		assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
		assert.Equal(t, "Username or password is incorrect", apierr.Message(err))
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := store.VerifyBasicAuth(ctx, "ghost@example.com", "s3cret")
		assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := store.VerifyBasicAuth(ctx, "", "")
		assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	})

	t.Run("duplicate accounts", func(t *testing.T) {
		_, err := store.VerifyBasicAuth(ctx, "dup@example.com", "x")
		assert.ErrorIs(t, err, apierr.ErrAmbiguousCredential)
		assert.True(t, apierr.IsServerFault(err))
		assert.Equal(t, "Please contact your admin", apierr.Message(err))
	})

	t.Run("sso account has no password", func(t *testing.T) {
		_, err := store.VerifyBasicAuth(ctx, "sso@example.com", "SSO")
		assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	})
}

func TestVerifyBasicAuth_StorageFailure(t *testing.T) {
	store := newStore(t, &fakeAccounts{err: errors.New("disk on fire")})

	_, err := store.VerifyBasicAuth(context.Background(), "ann@example.com", "pw")
	assert.ErrorIs(t, err, apierr.ErrStorage)
	assert.NotContains(t, apierr.Message(err), "disk")
}

// ─────────────────────────────────────────────────────────────────────────────
// Bearer tokens
// ─────────────────────────────────────────────────────────────────────────────

func TestIssueThenVerify(t *testing.T) {
	store := newStore(t, &fakeAccounts{}, auth.WithTokenTTL(10*time.Minute))

	tok, exp, err := store.IssueToken("u1", "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), exp)

	sub, err := store.VerifyBearerToken(tok, "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
}

func TestVerifyBearerToken_Failures(t *testing.T) {
	valid, _, err := auth.IssueToken("u1", "api.example.com", []byte(secret), now, time.Hour)
	require.NoError(t, err)
	expired, _, err := auth.IssueToken("u1", "api.example.com", []byte(secret), now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	noSubject, _, err := auth.IssueToken("", "api.example.com", []byte(secret), now, time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "u1", Issuer: "api.example.com",
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	otherAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject: "u1", Issuer: "api.example.com", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	cases := []struct {
		name   string
		token  string
		secret string
		issuer string
		want   error
	}{
		{"bad signature", valid, "other-secret", "api.example.com", apierr.ErrInvalidToken},
		{"garbage", "not.a.jwt", secret, "api.example.com", apierr.ErrInvalidToken},
		{"expired", expired, secret, "api.example.com", apierr.ErrTokenExpired},
		{"wrong issuer", valid, secret, "other.example.com", apierr.ErrTokenWrongAudience},
		{"no subject", noSubject, secret, "api.example.com", apierr.ErrInvalidToken},
		{"no expiry", noExpiry, secret, "api.example.com", apierr.ErrInvalidToken},
		{"unexpected algorithm", otherAlg, secret, "api.example.com", apierr.ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.VerifyBearerToken(tc.token, []byte(tc.secret), tc.issuer, now)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 401, apierr.Status(err))
		})
	}
}

func TestVerifyBearerToken_ExpiryCheckedBeforeIssuer(t *testing.T) {
	expired, _, err := auth.IssueToken("u1", "elsewhere", []byte(secret), now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	_, err = auth.VerifyBearerToken(expired, []byte(secret), "api.example.com", now)
	assert.ErrorIs(t, err, apierr.ErrTokenExpired)
}

func TestExtractBearer(t *testing.T) {
	tok, err := auth.ExtractBearer("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = auth.ExtractBearer("bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer", "Bearer   ", "Basic dXNlcjpwdw=="} {
		_, err := auth.ExtractBearer(h)
		assert.ErrorIs(t, err, apierr.ErrMissingToken, "header %q", h)
	}
}

func TestAuthenticate(t *testing.T) {
	store := newStore(t, &fakeAccounts{}, auth.WithIssuer("socialhub"))
	tok, _, err := store.IssueToken("u9", "ignored-host")
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	sub, err := store.Authenticate(h, "another-host")
	require.NoError(t, err)
	assert.Equal(t, "u9", sub)

	_, err = store.Authenticate(http.Header{}, "another-host")
	assert.ErrorIs(t, err, apierr.ErrMissingToken)
}
