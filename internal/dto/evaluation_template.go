package dto

import "github.com/noah-isme/cliniclink-api/internal/models"

// EvaluationTemplateRequest is the body of template create and update calls.
// UniversityID defaults to the caller's university on create and is ignored on update.
type EvaluationTemplateRequest struct {
	UniversityID string                  `json:"university_id"`
	Type         models.EvaluationType   `json:"type" validate:"required,oneof=mid_rotation final student_feedback"`
	Name         string                  `json:"name" validate:"required,max=200"`
	IsActive     *bool                   `json:"is_active,omitempty"`
	Categories   []models.RubricCategory `json:"categories" validate:"required,min=1"`
	RatingScale  []models.RatingLevel    `json:"rating_scale,omitempty" validate:"omitempty,min=2"`
}

// EvaluationTemplateQuery binds list filters.
type EvaluationTemplateQuery struct {
	UniversityID string `form:"university_id"`
	Type         string `form:"type"`
	Active       *bool  `form:"active"`
}

// SetTemplateActiveRequest toggles template availability.
type SetTemplateActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// TemplateDefaultsResponse describes what an author rates against when no template is chosen.
type TemplateDefaultsResponse struct {
	Role        models.UserRole                 `json:"role"`
	Categories  []models.RubricCategory         `json:"categories"`
	RatingScale []models.RatingLevel            `json:"rating_scale"`
	Presets     map[string][]models.RatingLevel `json:"presets"`
	PresetOrder []string                        `json:"preset_order"`
}
