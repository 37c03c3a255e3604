package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials authenticate a user by email and password.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest carries a refresh token for rotation or logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest updates the caller's own password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,nefield=CurrentPassword"`
}

// ClientMeta identifies where a request came from, for sessions and audit rows.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Profile is the public view of a user.
type Profile struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	Role         UserRole `json:"role"`
	UniversityID *string  `json:"university_id,omitempty"`
}

// ProfileOf builds the public view of u.
func ProfileOf(u *User) Profile {
	return Profile{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role, UniversityID: u.UniversityID}
}

// Session is returned by login and refresh.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Profile   `json:"user"`
}

// JWTClaims is the access token payload.
type JWTClaims struct {
	UserID       string   `json:"uid"`
	Role         UserRole `json:"role"`
	UniversityID string   `json:"uni,omitempty"`
	jwt.RegisteredClaims
}

// CurrentUser converts token claims into the actor value used by services.
func (c *JWTClaims) CurrentUser() CurrentUser {
	if c == nil {
		return CurrentUser{}
	}
	return CurrentUser{ID: c.UserID, Role: c.Role, UniversityID: c.UniversityID}
}
