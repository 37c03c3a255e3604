package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/cliniclink-api/internal/models"
)

const evaluationColumns = `id, type, template_id, student_id, slot_id, author_id, author_role, ratings, comments, overall_score, strengths, areas_for_improvement, is_submitted, submitted_at, created_at, updated_at`

// ErrDuplicateSubmission is returned when a write would leave two submitted
// evaluations in one scope (evaluations_one_submission index).
var ErrDuplicateSubmission = errors.New("evaluation already submitted for scope")

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// EvaluationRepository persists evaluations.
type EvaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository constructs the repository.
func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// List returns a page of evaluations and the total count.
func (r *EvaluationRepository) List(ctx context.Context, filter models.EvaluationFilter) ([]models.Evaluation, int, error) {
	var conditions []string
	var args []interface{}
	add := func(column string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}
	if filter.SlotID != "" {
		add("slot_id", filter.SlotID)
	}
	if filter.StudentID != "" {
		add("student_id", filter.StudentID)
	}
	if filter.AuthorID != "" {
		add("author_id", filter.AuthorID)
	}
	if filter.TemplateID != "" {
		add("template_id", filter.TemplateID)
	}
	if filter.Type != "" {
		add("type", filter.Type)
	}
	if filter.Submitted != nil {
		add("is_submitted", *filter.Submitted)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM evaluations"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count evaluations: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf("SELECT %s FROM evaluations%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", evaluationColumns, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, offset)

	var evaluations []models.Evaluation
	if err := r.db.SelectContext(ctx, &evaluations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list evaluations: %w", err)
	}
	return evaluations, total, nil
}

// FindByID returns an evaluation by identifier.
func (r *EvaluationRepository) FindByID(ctx context.Context, id string) (*models.Evaluation, error) {
	query := "SELECT " + evaluationColumns + " FROM evaluations WHERE id = $1"
	var evaluation models.Evaluation
	if err := r.db.GetContext(ctx, &evaluation, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find evaluation: %w", err)
	}
	return &evaluation, nil
}

// Create inserts an evaluation.
func (r *EvaluationRepository) Create(ctx context.Context, evaluation *models.Evaluation) error {
	if evaluation.ID == "" {
		evaluation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if evaluation.CreatedAt.IsZero() {
		evaluation.CreatedAt = now
	}
	evaluation.UpdatedAt = now
	const query = `INSERT INTO evaluations (id, type, template_id, student_id, slot_id, author_id, author_role, ratings, comments, overall_score, strengths, areas_for_improvement, is_submitted, submitted_at, created_at, updated_at)
VALUES (:id, :type, :template_id, :student_id, :slot_id, :author_id, :author_role, :ratings, :comments, :overall_score, :strengths, :areas_for_improvement, :is_submitted, :submitted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, evaluation); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

// Update rewrites a draft evaluation. Rows that were already submitted are left untouched.
func (r *EvaluationRepository) Update(ctx context.Context, evaluation *models.Evaluation) error {
	evaluation.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluations SET template_id = :template_id, student_id = :student_id, ratings = :ratings, comments = :comments, overall_score = :overall_score, strengths = :strengths, areas_for_improvement = :areas_for_improvement, is_submitted = :is_submitted, submitted_at = :submitted_at, updated_at = :updated_at
WHERE id = :id AND is_submitted = FALSE`
	res, err := r.db.NamedExecContext(ctx, query, evaluation)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("update evaluation: %w", err)
	}
	return requireAffected(res)
}

// ExistsSubmitted reports whether a submitted evaluation already covers the scope.
// excludeID skips the row being updated.
func (r *EvaluationRepository) ExistsSubmitted(ctx context.Context, scope models.EvaluationScope, excludeID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM evaluations WHERE type = $1 AND slot_id = $2 AND author_id = $3 AND student_id IS NOT DISTINCT FROM $4 AND is_submitted = TRUE`
	args := []interface{}{scope.Type, scope.SlotID, scope.AuthorID, scope.StudentID}
	if excludeID != "" {
		query += " AND id <> $5"
		args = append(args, excludeID)
	}
	query += ")"

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("check submitted evaluation: %w", err)
	}
	return exists, nil
}

// CategorySummary averages submitted ratings per category key for a template.
func (r *EvaluationRepository) CategorySummary(ctx context.Context, templateID string) ([]models.CategoryScoreSummary, error) {
	const query = `SELECT r.key AS category_key, AVG(r.value::numeric)::float8 AS average, COUNT(*) AS count
FROM evaluations e, jsonb_each_text(e.ratings) r
WHERE e.template_id = $1 AND e.is_submitted = TRUE
GROUP BY r.key ORDER BY r.key`
	var rows []models.CategoryScoreSummary
	if err := r.db.SelectContext(ctx, &rows, query, templateID); err != nil {
		return nil, fmt.Errorf("summarise evaluation ratings: %w", err)
	}
	return rows, nil
}
