package dto

import "github.com/noah-isme/cliniclink-api/internal/models"

// EvaluationRequest is the body of evaluation create and update calls.
type EvaluationRequest struct {
	Type                models.EvaluationType `json:"type" validate:"omitempty,oneof=mid_rotation final student_feedback"`
	TemplateID          *string               `json:"template_id,omitempty"`
	SlotID              string                `json:"slot_id"`
	StudentID           *string               `json:"student_id,omitempty"`
	Ratings             map[string]int        `json:"ratings"`
	Comments            string                `json:"comments" validate:"max=5000"`
	Strengths           *string               `json:"strengths,omitempty"`
	AreasForImprovement *string               `json:"areas_for_improvement,omitempty"`
	IsSubmitted         bool                  `json:"is_submitted"`
}

// EvaluationQuery binds list filters.
type EvaluationQuery struct {
	SlotID     string `form:"slot_id"`
	StudentID  string `form:"student_id"`
	TemplateID string `form:"template_id"`
	Type       string `form:"type"`
	Submitted  *bool  `form:"submitted"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}
