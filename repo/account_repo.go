package repo

import (
	"context"
	"fmt"

	"github.com/Skryldev/socialhub/db"
	"github.com/Skryldev/socialhub/models"
	"github.com/Skryldev/socialhub/query"
	"github.com/Skryldev/socialhub/request"
)

// ─────────────────────────────────────────────────────────────────────────────
// AccountRepository interface: for mocking in tests
// ─────────────────────────────────────────────────────────────────────────────

// AccountRepository reads account rows for authentication. Writes go through
// the generic resource handlers.
type AccountRepository interface {
	// CredentialsByEmail returns every credential stored under email. More
	// than one result means the uniqueness invariant is broken; callers
	// decide how to surface that.
	CredentialsByEmail(ctx context.Context, email string) ([]models.Credential, error)
	// GetByID returns the public projection of one account.
	// Returns db.ErrNotFound when no record matches.
	GetByID(ctx context.Context, userID string) (*models.Account, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// accountRepo: concrete implementation
// ─────────────────────────────────────────────────────────────────────────────

const accountTable = "users"

var (
	credentialColumns = []string{"userID", "email", "password_hash"}
	accountColumns    = []string{"userID", "username", "email"}
)

type accountRepo struct {
	q db.Querier
	b query.Builder
}

// NewAccountRepo returns an AccountRepository backed by q. Statements are
// rendered for dialect.
func NewAccountRepo(q db.Querier, dialect query.Dialect) AccountRepository {
	return &accountRepo{q: q, b: query.New(dialect)}
}

// ─────────────────────────────────────────────────────────────────────────────
// CredentialsByEmail
// ─────────────────────────────────────────────────────────────────────────────

func (r *accountRepo) CredentialsByEmail(ctx context.Context, email string) ([]models.Credential, error) {
	rec := request.NewRecord(map[string]any{"email": email})
	st, err := r.b.Build(query.Select, accountTable, query.FieldSet{"email"}, rec, []string{"email"},
		query.Columns(credentialColumns...))
	if err != nil {
		return nil, err
	}

	rows, err := r.q.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.UserID, &c.Email, &c.PasswordHash); err != nil {
			return nil, fmt.Errorf("repo/account: scan: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// GetByID
// ─────────────────────────────────────────────────────────────────────────────

func (r *accountRepo) GetByID(ctx context.Context, userID string) (*models.Account, error) {
	rec := request.NewRecord(map[string]any{"userID": userID})
	st, err := r.b.Build(query.Select, accountTable, query.FieldSet{"userID"}, rec, []string{"userID"},
		query.Columns(accountColumns...))
	if err != nil {
		return nil, err
	}

	a := &models.Account{}
	if err := r.q.QueryRow(ctx, st.SQL, st.Args...).Scan(&a.UserID, &a.Username, &a.Email); err != nil {
		return nil, fmt.Errorf("repo/account: %w", err)
	}
	return a, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Compile-time interface assertion
// ─────────────────────────────────────────────────────────────────────────────

var _ AccountRepository = (*accountRepo)(nil)
