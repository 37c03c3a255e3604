package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cliniclink-api/internal/middleware"
	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

type authServiceMock struct {
	session    *models.Session
	profile    *models.Profile
	err        error
	lastCreds  models.Credentials
	lastReq    models.RefreshRequest
	lastChange models.ChangePasswordRequest
	lastActor  models.CurrentUser
	lastMeta   models.ClientMeta
}

func (m *authServiceMock) Login(ctx context.Context, creds models.Credentials, meta models.ClientMeta) (*models.Session, error) {
	m.lastCreds, m.lastMeta = creds, meta
	return m.session, m.err
}

func (m *authServiceMock) Refresh(ctx context.Context, req models.RefreshRequest, meta models.ClientMeta) (*models.Session, error) {
	m.lastReq, m.lastMeta = req, meta
	return m.session, m.err
}

func (m *authServiceMock) Logout(ctx context.Context, actor models.CurrentUser, req models.RefreshRequest, meta models.ClientMeta) error {
	m.lastActor, m.lastReq = actor, req
	return m.err
}

func (m *authServiceMock) ChangePassword(ctx context.Context, actor models.CurrentUser, req models.ChangePasswordRequest, meta models.ClientMeta) error {
	m.lastActor, m.lastChange = actor, req
	return m.err
}

func (m *authServiceMock) Me(ctx context.Context, actor models.CurrentUser) (*models.Profile, error) {
	m.lastActor = actor
	return m.profile, m.err
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	return env.Error.Code
}

func TestAuthHandlerLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{session: &models.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         models.Profile{ID: "prec-1", Role: models.RolePreceptor},
	}}
	handler := NewAuthHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"ana@uni.edu","password":"secret123"}`))
	c.Request.Header.Set("User-Agent", "rubricctl/1.0")
	handler.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "ana@uni.edu", mockSvc.lastCreds.Email)
	assert.Equal(t, "rubricctl/1.0", mockSvc.lastMeta.UserAgent)

	var body struct {
		Data models.Session `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "refresh", body.Data.RefreshToken)
	assert.Equal(t, models.RolePreceptor, body.Data.User.Role)
}

func TestAuthHandlerLoginErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewAuthHandler(&authServiceMock{err: appErrors.ErrInvalidCredentials})
	c, w := newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"ana@uni.edu","password":"nope"}`))
	handler.Login(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, errorCode(t, w.Body.Bytes()))

	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":`))
	handler.Login(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(t, w.Body.Bytes()))
}

func TestAuthHandlerRefresh(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{session: &models.Session{AccessToken: "a2", RefreshToken: "r2"}}
	handler := NewAuthHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/auth/refresh", []byte(`{"refresh_token":"r1"}`))
	handler.Refresh(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", mockSvc.lastReq.RefreshToken)

	mockSvc.err = appErrors.Clone(appErrors.ErrUnauthorized, "refresh token revoked")
	c, w = newGinContext(http.MethodPost, "/auth/refresh", []byte(`{"refresh_token":"r1"}`))
	handler.Refresh(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLogoutAndChangePassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/auth/logout", []byte(`{"refresh_token":"r1"}`))
	withPreceptor(c)
	handler.Logout(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "prec-1", mockSvc.lastActor.ID)
	assert.Equal(t, "r1", mockSvc.lastReq.RefreshToken)

	c, w = newGinContext(http.MethodPost, "/auth/change-password", []byte(`{"current_password":"old-secret","new_password":"new-secret"}`))
	withPreceptor(c)
	handler.ChangePassword(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "new-secret", mockSvc.lastChange.NewPassword)

	mockSvc.err = appErrors.ErrInvalidCredentials
	c, w = newGinContext(http.MethodPost, "/auth/change-password", []byte(`{"current_password":"wrong","new_password":"new-secret"}`))
	withPreceptor(c)
	handler.ChangePassword(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	uni := "uni-1"
	mockSvc := &authServiceMock{profile: &models.Profile{ID: "prec-1", Email: "ana@uni.edu", Role: models.RolePreceptor, UniversityID: &uni}}
	handler := NewAuthHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/auth/me", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "prec-1", Role: models.RolePreceptor, UniversityID: "uni-1"})
	handler.Me(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.CurrentUser{ID: "prec-1", Role: models.RolePreceptor, UniversityID: "uni-1"}, mockSvc.lastActor)
	assert.Contains(t, w.Body.String(), `"university_id":"uni-1"`)
}
