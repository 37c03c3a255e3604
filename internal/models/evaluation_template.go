package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EvaluationType enumerates the evaluation kinds a template can score.
type EvaluationType string

const (
	EvaluationTypeMidRotation     EvaluationType = "mid_rotation"
	EvaluationTypeFinal           EvaluationType = "final"
	EvaluationTypeStudentFeedback EvaluationType = "student_feedback"
)

// Valid reports whether the type is one of the known evaluation kinds.
func (t EvaluationType) Valid() bool {
	switch t {
	case EvaluationTypeMidRotation, EvaluationTypeFinal, EvaluationTypeStudentFeedback:
		return true
	default:
		return false
	}
}

// RubricCriterion is a display-only sub item of a category.
type RubricCriterion struct {
	Key         string `json:"key" yaml:"key"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RubricCategory is a scored rubric row.
type RubricCategory struct {
	Key         string            `json:"key" yaml:"key"`
	Label       string            `json:"label" yaml:"label"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Weight      *float64          `json:"weight,omitempty" yaml:"weight,omitempty"`
	Criteria    []RubricCriterion `json:"criteria,omitempty" yaml:"criteria,omitempty"`
}

// RatingLevel is one discrete step of a rating scale.
type RatingLevel struct {
	Value       int    `json:"value" yaml:"value"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RubricCategories is stored as a JSONB array.
type RubricCategories []RubricCategory

// Value marshals categories for persistence.
func (c RubricCategories) Value() (driver.Value, error) {
	if c == nil {
		c = RubricCategories{}
	}
	data, err := json.Marshal([]RubricCategory(c))
	if err != nil {
		return nil, fmt.Errorf("marshal rubric categories: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB categories.
func (c *RubricCategories) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan rubric categories: %w", err)
	}
	if len(data) == 0 {
		*c = RubricCategories{}
		return nil
	}
	var out []RubricCategory
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal rubric categories: %w", err)
	}
	*c = out
	return nil
}

// RatingScale is stored as a nullable JSONB array.
type RatingScale []RatingLevel

// Value marshals the scale, writing NULL when no custom scale is set.
func (s RatingScale) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	data, err := json.Marshal([]RatingLevel(s))
	if err != nil {
		return nil, fmt.Errorf("marshal rating scale: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB rating scale.
func (s *RatingScale) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan rating scale: %w", err)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	var out []RatingLevel
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal rating scale: %w", err)
	}
	*s = out
	return nil
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

// EvaluationTemplate is a university scoped rubric for one evaluation type.
type EvaluationTemplate struct {
	ID           string           `db:"id" json:"id"`
	UniversityID string           `db:"university_id" json:"university_id"`
	Type         EvaluationType   `db:"type" json:"type"`
	Name         string           `db:"name" json:"name"`
	IsActive     bool             `db:"is_active" json:"is_active"`
	Categories   RubricCategories `db:"categories" json:"categories"`
	RatingScale  RatingScale      `db:"rating_scale" json:"rating_scale,omitempty"`
	CreatedBy    *string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// EvaluationTemplateFilter narrows template listings.
type EvaluationTemplateFilter struct {
	UniversityID string
	Type         EvaluationType
	Active       *bool
}
