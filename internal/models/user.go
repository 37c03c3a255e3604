package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin       UserRole = "ADMIN"
	RoleCoordinator UserRole = "COORDINATOR"
	RoleSiteManager UserRole = "SITE_MANAGER"
	RolePreceptor   UserRole = "PRECEPTOR"
	RoleStudent     UserRole = "STUDENT"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleCoordinator, RoleSiteManager, RolePreceptor, RoleStudent:
		return true
	}
	return false
}

// CurrentUser is the authenticated actor passed explicitly into services.
type CurrentUser struct {
	ID           string
	Role         UserRole
	UniversityID string
}

// IsStaff reports whether the actor administers templates and sees every evaluation.
func (u CurrentUser) IsStaff() bool {
	return u.Role == RoleAdmin || u.Role == RoleCoordinator
}

// SameUniversity is false when either side has no university.
func (u CurrentUser) SameUniversity(universityID *string) bool {
	return u.UniversityID != "" && universityID != nil && *universityID == u.UniversityID
}

// User is an account in the users table. Admins have no university.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	UniversityID *string    `db:"university_id" json:"university_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Actor converts a stored user into the value services authorize against.
func (u *User) Actor() CurrentUser {
	actor := CurrentUser{ID: u.ID, Role: u.Role}
	if u.UniversityID != nil {
		actor.UniversityID = *u.UniversityID
	}
	return actor
}

// UserFilter narrows user listings. UniversityID is forced for coordinators.
type UserFilter struct {
	UniversityID string
	Role         UserRole
	Active       *bool
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
