package dto

import "github.com/noah-isme/cliniclink-api/internal/models"

// CreateUserRequest provisions an account. Coordinators may omit
// UniversityID; their own is used.
type CreateUserRequest struct {
	Email        string          `json:"email" validate:"required,email,max=254"`
	FullName     string          `json:"full_name" validate:"required,max=200"`
	Role         models.UserRole `json:"role" validate:"required,oneof=ADMIN COORDINATOR SITE_MANAGER PRECEPTOR STUDENT"`
	UniversityID *string         `json:"university_id,omitempty"`
	Password     string          `json:"password" validate:"required,min=8"`
	Active       *bool           `json:"active,omitempty"`
}

// UpdateUserRequest edits an account. Nil fields are left unchanged.
type UpdateUserRequest struct {
	FullName *string          `json:"full_name,omitempty" validate:"omitempty,min=1,max=200"`
	Role     *models.UserRole `json:"role,omitempty" validate:"omitempty,oneof=ADMIN COORDINATOR SITE_MANAGER PRECEPTOR STUDENT"`
	Active   *bool            `json:"active,omitempty"`
}

// UserQuery binds list filters.
type UserQuery struct {
	UniversityID string `form:"university_id"`
	Role         string `form:"role"`
	Active       *bool  `form:"active"`
	Search       string `form:"search"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
	SortBy       string `form:"sort_by"`
	SortOrder    string `form:"sort_order"`
}
