package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cliniclink-api/internal/models"
)

const evaluationTemplateColumns = `id, university_id, type, name, is_active, categories, rating_scale, created_by, created_at, updated_at`

// EvaluationTemplateRepository persists evaluation rubrics.
type EvaluationTemplateRepository struct {
	db *sqlx.DB
}

// NewEvaluationTemplateRepository constructs the repository.
func NewEvaluationTemplateRepository(db *sqlx.DB) *EvaluationTemplateRepository {
	return &EvaluationTemplateRepository{db: db}
}

// List returns templates matching the filter ordered by name.
func (r *EvaluationTemplateRepository) List(ctx context.Context, filter models.EvaluationTemplateFilter) ([]models.EvaluationTemplate, error) {
	var conditions []string
	var args []interface{}

	if filter.UniversityID != "" {
		conditions = append(conditions, fmt.Sprintf("university_id = $%d", len(args)+1))
		args = append(args, filter.UniversityID)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	query := "SELECT " + evaluationTemplateColumns + " FROM evaluation_templates"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name ASC"

	var templates []models.EvaluationTemplate
	if err := r.db.SelectContext(ctx, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("list evaluation templates: %w", err)
	}
	return templates, nil
}

// FindByID returns a template by identifier.
func (r *EvaluationTemplateRepository) FindByID(ctx context.Context, id string) (*models.EvaluationTemplate, error) {
	query := "SELECT " + evaluationTemplateColumns + " FROM evaluation_templates WHERE id = $1"
	var tpl models.EvaluationTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find evaluation template: %w", err)
	}
	return &tpl, nil
}

// Create inserts a template, filling id and timestamps when empty.
func (r *EvaluationTemplateRepository) Create(ctx context.Context, tpl *models.EvaluationTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	const query = `INSERT INTO evaluation_templates (id, university_id, type, name, is_active, categories, rating_scale, created_by, created_at, updated_at)
VALUES (:id, :university_id, :type, :name, :is_active, :categories, :rating_scale, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("create evaluation template: %w", err)
	}
	return nil
}

// Update replaces the editable fields of a template.
func (r *EvaluationTemplateRepository) Update(ctx context.Context, tpl *models.EvaluationTemplate) error {
	tpl.UpdatedAt = time.Now().UTC()
	const query = `UPDATE evaluation_templates SET type = :type, name = :name, is_active = :is_active, categories = :categories, rating_scale = :rating_scale, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, tpl)
	if err != nil {
		return fmt.Errorf("update evaluation template: %w", err)
	}
	return requireAffected(res)
}

// SetActive flips the availability flag.
func (r *EvaluationTemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE evaluation_templates SET is_active = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set evaluation template active: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a template.
func (r *EvaluationTemplateRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM evaluation_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete evaluation template: %w", err)
	}
	return requireAffected(res)
}

// CountEvaluations returns how many evaluations reference the template.
func (r *EvaluationTemplateRepository) CountEvaluations(ctx context.Context, id string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM evaluations WHERE template_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count template evaluations: %w", err)
	}
	return count, nil
}

// requireAffected maps zero affected rows to sql.ErrNoRows.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
