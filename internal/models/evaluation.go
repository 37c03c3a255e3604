package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EvaluationRatings maps category keys to the chosen rating level value.
type EvaluationRatings map[string]int

// Value marshals ratings to JSONB.
func (r EvaluationRatings) Value() (driver.Value, error) {
	if r == nil {
		r = EvaluationRatings{}
	}
	data, err := json.Marshal(map[string]int(r))
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation ratings: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB ratings.
func (r *EvaluationRatings) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan evaluation ratings: %w", err)
	}
	out := map[string]int{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("unmarshal evaluation ratings: %w", err)
		}
	}
	*r = out
	return nil
}

// Evaluation is one scored evaluation of a rotation.
type Evaluation struct {
	ID                  string            `db:"id" json:"id"`
	Type                EvaluationType    `db:"type" json:"type"`
	TemplateID          *string           `db:"template_id" json:"template_id,omitempty"`
	StudentID           *string           `db:"student_id" json:"student_id,omitempty"`
	SlotID              string            `db:"slot_id" json:"slot_id"`
	AuthorID            string            `db:"author_id" json:"author_id"`
	AuthorRole          UserRole          `db:"author_role" json:"author_role"`
	Ratings             EvaluationRatings `db:"ratings" json:"ratings"`
	Comments            string            `db:"comments" json:"comments"`
	OverallScore        float64           `db:"overall_score" json:"overall_score"`
	Strengths           *string           `db:"strengths" json:"strengths,omitempty"`
	AreasForImprovement *string           `db:"areas_for_improvement" json:"areas_for_improvement,omitempty"`
	IsSubmitted         bool              `db:"is_submitted" json:"is_submitted"`
	SubmittedAt         *time.Time        `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// EvaluationFilter narrows evaluation listings.
type EvaluationFilter struct {
	SlotID     string
	StudentID  string
	AuthorID   string
	TemplateID string
	Type       EvaluationType
	Submitted  *bool
	Page       int
	PageSize   int
}

// EvaluationScope identifies the natural key used to detect duplicate submissions.
type EvaluationScope struct {
	Type      EvaluationType
	SlotID    string
	StudentID *string
	AuthorID  string
}

// CategoryScoreSummary aggregates ratings of one category across submitted evaluations.
type CategoryScoreSummary struct {
	CategoryKey string  `db:"category_key" json:"category_key"`
	Average     float64 `db:"average" json:"average"`
	Count       int     `db:"count" json:"count"`
}
