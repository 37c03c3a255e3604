package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cliniclink-api/internal/models"
)

var templateColumns = []string{"id", "university_id", "type", "name", "is_active", "categories", "rating_scale", "created_by", "created_at", "updated_at"}

func newPostgresMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestEvaluationTemplateRepositoryList(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewEvaluationTemplateRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(templateColumns).
		AddRow("tpl-1", "uni-1", "final", "Surgery Final", true,
			[]byte(`[{"key":"clinical_skills","label":"Clinical Skills","weight":40}]`),
			[]byte(`[{"value":1,"label":"No"},{"value":2,"label":"Yes"}]`),
			"coord-1", now, now).
		AddRow("tpl-2", "uni-1", "final", "Medicine Final", true, []byte(`[]`), nil, nil, now, now)

	active := true
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+evaluationTemplateColumns+" FROM evaluation_templates WHERE university_id = $1 AND type = $2 AND is_active = $3 ORDER BY name ASC")).
		WithArgs("uni-1", models.EvaluationTypeFinal, true).
		WillReturnRows(rows)

	templates, err := repo.List(context.Background(), models.EvaluationTemplateFilter{UniversityID: "uni-1", Type: models.EvaluationTypeFinal, Active: &active})
	require.NoError(t, err)
	require.Len(t, templates, 2)
	require.Len(t, templates[0].Categories, 1)
	require.NotNil(t, templates[0].Categories[0].Weight)
	assert.Equal(t, 40.0, *templates[0].Categories[0].Weight)
	assert.Len(t, templates[0].RatingScale, 2)
	assert.Nil(t, templates[1].RatingScale)
	assert.Nil(t, templates[1].CreatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluationTemplateRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewEvaluationTemplateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM evaluation_templates WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEvaluationTemplateRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewEvaluationTemplateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO evaluation_templates")).
		WithArgs(sqlmock.AnyArg(), "uni-1", models.EvaluationTypeMidRotation, "Peds", true, sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tpl := &models.EvaluationTemplate{
		UniversityID: "uni-1",
		Type:         models.EvaluationTypeMidRotation,
		Name:         "Peds",
		IsActive:     true,
		Categories:   models.RubricCategories{{Key: "a", Label: "A"}},
	}
	require.NoError(t, repo.Create(context.Background(), tpl))
	assert.NotEmpty(t, tpl.ID)
	assert.False(t, tpl.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluationTemplateRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewEvaluationTemplateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE evaluation_templates SET type = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.EvaluationTemplate{ID: "tpl-x", Name: "x"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluationTemplateRepositorySetActiveAndDelete(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewEvaluationTemplateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE evaluation_templates SET is_active = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("tpl-1", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM evaluation_templates WHERE id = $1")).
		WithArgs("tpl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetActive(context.Background(), "tpl-1", false))
	require.NoError(t, repo.Delete(context.Background(), "tpl-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluationTemplateRepositoryCountEvaluations(t *testing.T) {
	db, mock, cleanup := newPostgresMock(t)
	defer cleanup()
	repo := NewEvaluationTemplateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM evaluations WHERE template_id = $1")).
		WithArgs("tpl-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountEvaluations(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
