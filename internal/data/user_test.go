package data

import (
	"context"
	"regexp"
	"testing"
	"time"

	pkgerrors "flightwatch/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserRepo(t *testing.T) (*UserRepo, sqlmock.Sqlmock, *miniredis.Miniredis, func()) {
	t.Helper()

	db, mock, dbCleanup := setupTestDB(t)
	d, mr, redisCleanup := setupTestData(t)

	repo := NewUserRepo(d, db, log.DefaultLogger)

	cleanup := func() {
		dbCleanup()
		redisCleanup()
	}
	return repo, mock, mr, cleanup
}

var userColumns = []string{
	"email", "nome", "cognome", "codice_fiscale",
	"iban_encrypted", "iban_hash", "request_id", "created_at", "updated_at",
}

func sampleUserRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns).AddRow(
		"mario@example.it", "Mario", "Rossi", "RSSMRA80A01H501U",
		"ciphertext", "hash", "req-1", now, now,
	)
}

func sampleRecord() *IdempotencyRecord {
	return &IdempotencyRecord{
		Key:        "abcd1234",
		RequestID:  "req-1",
		BodyDigest: "digest-1",
		StatusCode: 201,
		Response:   `{"email":"mario@example.it"}`,
	}
}

func TestUserRepo_CreateUserWithRecord(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	// User and record commit in the same transaction.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `idempotency_records`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := sampleRecord()
	saved, err := repo.CreateUserWithRecord(context.Background(), &User{
		Email:         "mario@example.it",
		Nome:          "Mario",
		Cognome:       "Rossi",
		CodiceFiscale: "RSSMRA80A01H501U",
		IBANEncrypted: "ciphertext",
		IBANHash:      "hash",
	}, rec)
	require.NoError(t, err)
	assert.Same(t, rec, saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_CreateUserWithRecord_RecordFailureRollsBackUser(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `idempotency_records`")).
		WillReturnError(&driver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})
	mock.ExpectRollback()

	_, err := repo.CreateUserWithRecord(context.Background(), &User{Email: "mario@example.it"}, sampleRecord())
	require.Error(t, err)
	// The user insert must not survive without its record.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_CreateUserWithRecord_RaceReplaysWinner(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	// A concurrent twin committed first: the user insert hits the email
	// primary key, the transaction rolls back, and the winner's record is
	// read back so both callers replay the same stored response.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnError(&driver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `idempotency_records`")).
		WithArgs("abcd1234", 1).
		WillReturnRows(sqlmock.NewRows(
			[]string{"idempotency_key", "request_id", "body_digest", "status_code", "response", "created_at"},
		).AddRow("abcd1234", "req-1", "digest-1", 201, `{"email":"winner@b.it"}`, time.Now()))

	saved, err := repo.CreateUserWithRecord(context.Background(), &User{Email: "mario@example.it"}, sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, `{"email":"winner@b.it"}`, saved.Response)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_CreateUserWithRecord_DuplicateWithoutRecordIsConflict(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	// The email is taken by a different registration: no record exists
	// under this idempotency key, so the duplicate is surfaced as such.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnError(&driver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `idempotency_records`")).
		WithArgs("abcd1234", 1).
		WillReturnRows(sqlmock.NewRows([]string{"idempotency_key"}))

	_, err := repo.CreateUserWithRecord(context.Background(), &User{Email: "mario@example.it"}, sampleRecord())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsDuplicateKeyError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetUser_CacheMissThenHit(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	ctx := context.Background()

	// First call misses the cache and hits the database.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users`")).
		WithArgs("mario@example.it", 1).
		WillReturnRows(sampleUserRow())

	user, err := repo.GetUser(ctx, "mario@example.it")
	require.NoError(t, err)
	assert.Equal(t, "Mario", user.Nome)

	// Second call is served from cache: no further query expected.
	cached, err := repo.GetUser(ctx, "mario@example.it")
	require.NoError(t, err)
	assert.Equal(t, user.CodiceFiscale, cached.CodiceFiscale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetUser_NotFound(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users`")).
		WithArgs("nobody@example.it", 1).
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := repo.GetUser(context.Background(), "nobody@example.it")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFoundError(err))
}

func TestUserRepo_ExistsUser(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `users`")).
		WithArgs("mario@example.it").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	exists, err := repo.ExistsUser(context.Background(), "mario@example.it")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `users`")).
		WithArgs("nobody@example.it").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	exists, err = repo.ExistsUser(context.Background(), "nobody@example.it")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserRepo_DeleteUser_InvalidatesCache(t *testing.T) {
	repo, mock, mr, cleanup := newTestUserRepo(t)
	defer cleanup()

	ctx := context.Background()

	// Warm the cache.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users`")).
		WithArgs("mario@example.it", 1).
		WillReturnRows(sampleUserRow())
	_, err := repo.GetUser(ctx, "mario@example.it")
	require.NoError(t, err)
	assert.True(t, mr.Exists("user:mario@example.it"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users`")).
		WithArgs("mario@example.it").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteUser(ctx, "mario@example.it"))
	assert.False(t, mr.Exists("user:mario@example.it"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_DeleteUser_NotFound(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users`")).
		WithArgs("nobody@example.it").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteUser(context.Background(), "nobody@example.it")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFoundError(err))
}

func TestUserRepo_ListUsers(t *testing.T) {
	repo, mock, _, cleanup := newTestUserRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"email", "nome", "cognome"}).
			AddRow("mario@example.it", "Mario", "Rossi").
			AddRow("luigi@example.it", "Luigi", "Verdi"))

	users, err := repo.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "mario@example.it", users[0].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}
