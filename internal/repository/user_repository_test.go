package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cliniclink-api/internal/models"
)

var userRowColumns = []string{"id", "email", "password_hash", "full_name", "role", "university_id", "active", "last_login", "created_at", "updated_at"}

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u-1", "preceptor@uni.edu", "hash", "Dr. Rivera", string(models.RolePreceptor), "uni-1", true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + userColumns + " FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("Preceptor@Uni.edu").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "Preceptor@Uni.edu")
	require.NoError(t, err)
	assert.Equal(t, "preceptor@uni.edu", user.Email)
	require.NotNil(t, user.UniversityID)
	assert.Equal(t, "uni-1", *user.UniversityID)
	assert.Nil(t, user.LastLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListScopesAndSorts(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	active := true
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+userColumns+" FROM users WHERE university_id = $1 AND role = $2 AND active = $3 AND (LOWER(email) LIKE $4 OR LOWER(full_name) LIKE $4) ORDER BY full_name ASC, id LIMIT 10 OFFSET 10")).
		WithArgs("uni-1", models.RoleStudent, true, "%lee%").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("s-1", "lee@uni.edu", "hash", "Sam Lee", string(models.RoleStudent), "uni-1", true, now, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE university_id = $1")).
		WithArgs("uni-1", models.RoleStudent, true, "%lee%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	users, total, err := repo.List(context.Background(), models.UserFilter{
		UniversityID: "uni-1",
		Role:         models.RoleStudent,
		Active:       &active,
		Search:       " Lee ",
		Page:         2,
		PageSize:     10,
		SortBy:       "full_name",
		SortOrder:    "asc",
	})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 11, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListIgnoresUnknownSort(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users ORDER BY created_at DESC, id LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(userRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.UserFilter{SortBy: "password_hash; DROP TABLE users", PageSize: 1000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryDeactivateMissing(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET active = FALSE")).
		WithArgs("u-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Deactivate(context.Background(), "u-9")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryLifecycle(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))
	token := &models.RefreshToken{UserID: "u-1", TokenHash: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(context.Background(), token))
	assert.NotEmpty(t, token.ID)
	assert.False(t, token.CreatedAt.IsZero())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL")).
		WithArgs("u-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := repo.RevokeAllForUser(context.Background(), "u-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByHash(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryRevokeHasSingleWinner(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)
	revokeSQL := regexp.QuoteMeta("UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL")

	mock.ExpectExec(revokeSQL).WithArgs("sess-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(revokeSQL).WithArgs("sess-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Revoke(context.Background(), "sess-1", time.Now()))
	assert.ErrorIs(t, repo.Revoke(context.Background(), "sess-1", time.Now()), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	entry := &models.AuditLog{Action: models.AuditActionLogin, Resource: "auth"}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
