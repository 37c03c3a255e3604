package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

type authUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type sessionStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	// SingleSession revokes a user's other sessions on login.
	SingleSession bool
}

// AuthService issues and validates sessions.
type AuthService struct {
	users     authUserStore
	sessions  sessionStore
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService. audit may be nil.
func NewAuthService(users authUserStore, sessions sessionStore, audit auditWriter, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 15 * time.Minute
	}
	if config.RefreshTokenExpiry <= 0 {
		config.RefreshTokenExpiry = 7 * 24 * time.Hour
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		audit:     audit,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login checks credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, creds models.Credentials, meta models.ClientMeta) (*models.Session, error) {
	if err := s.validator.Struct(creds); err != nil {
		return nil, appErrors.Invalid(err, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		s.record(ctx, user.ID, models.AuditActionLoginFailed, meta, map[string]interface{}{"reason": "password"})
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	now := s.now()
	if s.config.SingleSession {
		if _, err := s.sessions.RevokeAllForUser(ctx, user.ID, now); err != nil {
			s.logger.Warn("revoke previous sessions", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	session, err := s.issueSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.record(ctx, user.ID, models.AuditActionLogin, meta, nil)
	return session, nil
}

// Refresh rotates a refresh token. Presenting an already revoked token
// revokes every session of its owner.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest, meta models.ClientMeta) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid refresh payload")
	}
	stored, err := s.findSession(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if stored.RevokedAt != nil {
		return nil, s.rejectReuse(ctx, stored.UserID, now, meta)
	}
	if !stored.Usable(now) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	if err := s.sessions.Revoke(ctx, stored.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another request rotated this token after it was read.
			return nil, s.rejectReuse(ctx, stored.UserID, now, meta)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}
	return s.issueSession(ctx, user, meta)
}

// rejectReuse ends every session of a user whose refresh token was presented
// after being rotated.
func (s *AuthService) rejectReuse(ctx context.Context, userID string, now time.Time, meta models.ClientMeta) error {
	if n, err := s.sessions.RevokeAllForUser(ctx, userID, now); err != nil {
		s.logger.Warn("revoke sessions after token reuse", zap.String("user_id", userID), zap.Error(err))
	} else {
		s.logger.Warn("refresh token reused", zap.String("user_id", userID), zap.Int64("revoked", n))
	}
	s.record(ctx, userID, models.AuditActionTokenReuse, meta, nil)
	return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token is expired or revoked")
}

// Logout revokes one of the actor's sessions.
func (s *AuthService) Logout(ctx context.Context, actor models.CurrentUser, req models.RefreshRequest, meta models.ClientMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "refresh token required")
	}
	stored, err := s.findSession(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	if stored.UserID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")
	}
	if err := s.sessions.Revoke(ctx, stored.ID, s.now()); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	s.record(ctx, actor.ID, models.AuditActionLogout, meta, nil)
	return nil
}

// ChangePassword replaces the actor's password and ends all of their sessions.
func (s *AuthService) ChangePassword(ctx context.Context, actor models.CurrentUser, req models.ChangePasswordRequest, meta models.ClientMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid change password payload")
	}
	user, err := s.loadUser(ctx, actor.ID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "current password does not match")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	now := s.now()
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, user.ID, now); err != nil {
		s.logger.Warn("revoke sessions after password change", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.record(ctx, user.ID, models.AuditActionPasswordChange, meta, nil)
	return nil
}

// Me returns the actor's current profile from storage rather than the token.
func (s *AuthService) Me(ctx context.Context, actor models.CurrentUser) (*models.Profile, error) {
	user, err := s.loadUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	profile := models.ProfileOf(user)
	return &profile, nil
}

// ValidateToken parses and validates an access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "token expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if !token.Valid || claims.UserID == "" || !claims.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User, meta models.ClientMeta) (*models.Session, error) {
	now := s.now()
	expiresAt := now.Add(s.config.AccessTokenExpiry)
	actor := user.Actor()
	claims := &models.JWTClaims{
		UserID:       user.ID,
		Role:         user.Role,
		UniversityID: actor.UniversityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	refresh := base64.RawURLEncoding.EncodeToString(raw)
	if err := s.sessions.Create(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(refresh),
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedAt: now,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		User:         models.ProfileOf(user),
	}, nil
}

func (s *AuthService) findSession(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, err := s.sessions.FindByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}
	return stored, nil
}

func (s *AuthService) loadUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *AuthService) record(ctx context.Context, userID, action string, meta models.ClientMeta, values map[string]interface{}) {
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}, nil, values)
}

// writeAudit marshals old and new values and stores the entry. Failures are logged only.
func writeAudit(ctx context.Context, w auditWriter, logger *zap.Logger, entry *models.AuditLog, oldValues, newValues map[string]interface{}) {
	if w == nil {
		return
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := w.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("audit log write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
