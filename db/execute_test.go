package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/socialhub/db"
)

func newMockDB(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	dsn := "sqlmock_" + t.Name()
	_, mock, err := sqlmock.NewWithDSN(dsn)
	require.NoError(t, err)

	d, err := db.Open(db.Config{DSN: dsn, DriverName: "sqlmock"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, mock
}

func TestExecute_InsertReturningUsesQuery(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO "post"`).
		WithArgs("u1", "hi").
		WillReturnRows(sqlmock.NewRows([]string{"postID"}).AddRow(int64(42)))

	res, err := d.Execute(context.Background(),
		`INSERT INTO "post" ("userID", "textContent") VALUES ($1, $2) RETURNING "postID"`, "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.LastInsertID)
	assert.Equal(t, int64(1), res.Affected)
	assert.Nil(t, res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_UpdateReportsAffected(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE "post" SET`).
		WithArgs("x", int64(1), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := d.Execute(context.Background(),
		`UPDATE "post" SET "textContent" = $1 WHERE "postID" = $2 AND "userID" = $3`, "x", int64(1), "u1")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE", res.Verb)
	assert.Equal(t, int64(1), res.Affected)
	assert.Nil(t, res.LastInsertID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_HidesDriverErrorTypes(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectExec(`INSERT INTO "users"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := d.Execute(context.Background(), `INSERT INTO "users" ("email") VALUES ($1)`, "a@b.com")
	require.Error(t, err)

	assert.True(t, db.IsStorage(err))
	assert.True(t, db.IsDuplicateKey(err))

	var pgErr *pgconn.PgError
	assert.False(t, errors.As(err, &pgErr), "driver error type must not be reachable")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_MapsMySQLDuplicate(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO `users`").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@b.com' for key 'email'"})

	_, err := d.Execute(context.Background(), "INSERT INTO `users` (`email`) VALUES (?)", "a@b.com")
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKey(err))
	assert.False(t, db.IsForeignKeyViolation(err))
}

func TestExecute_UnclassifiedFault(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("driver: bad connection"))

	_, err := d.Execute(context.Background(), `SELECT * FROM "post"`)
	var se *db.StorageError
	require.True(t, errors.As(err, &se))
	assert.Nil(t, se.Sentinel)
	assert.Equal(t, "SELECT", se.Verb)
	assert.Contains(t, se.Error(), "bad connection")
}

func TestExecute_InTxCommits(t *testing.T) {
	d, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"n"}))
	mock.ExpectExec(`INSERT`).WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	err := d.InTx(context.Background(), func(q db.Executor) error {
		res, err := q.Execute(context.Background(), `SELECT "n" FROM "t"`)
		if err != nil {
			return err
		}
		if len(res.Rows) != 0 {
			return errors.New("unexpected rows")
		}
		_, err = q.Execute(context.Background(), `INSERT INTO "t" ("n") VALUES (?)`, 1)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
