package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
}

type sessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

// coordinatorManaged lists the roles a coordinator may create and edit inside their university.
var coordinatorManaged = map[models.UserRole]bool{
	models.RoleSiteManager: true,
	models.RolePreceptor:   true,
	models.RoleStudent:     true,
}

// UserService manages accounts. Admins manage everyone; coordinators
// manage site managers, preceptors and students of their own university.
type UserService struct {
	repo      userRepository
	sessions  sessionRevoker
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService. sessions and audit may be nil.
func NewUserService(repo userRepository, sessions sessionRevoker, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, sessions: sessions, audit: audit, validator: validate, logger: logger}
}

// List returns a page of users visible to the actor.
func (s *UserService) List(ctx context.Context, query dto.UserQuery, actor models.CurrentUser) ([]models.User, *models.Pagination, error) {
	filter := models.UserFilter{
		UniversityID: strings.TrimSpace(query.UniversityID),
		Role:         models.UserRole(strings.ToUpper(strings.TrimSpace(query.Role))),
		Active:       query.Active,
		Search:       query.Search,
		Page:         query.Page,
		PageSize:     query.PageSize,
		SortBy:       query.SortBy,
		SortOrder:    query.SortOrder,
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid role filter")
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCoordinator:
		if filter.UniversityID != "" && filter.UniversityID != actor.UniversityID {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "coordinators can only list users of their university")
		}
		filter.UniversityID = actor.UniversityID
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	if users == nil {
		users = []models.User{}
	}
	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a user the actor may see: themselves, anyone for admins,
// and users of the same university for coordinators.
func (s *UserService) Get(ctx context.Context, id string, actor models.CurrentUser) (*models.User, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ID == actor.ID || actor.Role == models.RoleAdmin {
		return user, nil
	}
	if actor.Role == models.RoleCoordinator && actor.SameUniversity(user.UniversityID) {
		return user, nil
	}
	// Hide existence from callers that may not see the account.
	return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
}

// Create provisions an account.
func (s *UserService) Create(ctx context.Context, req dto.CreateUserRequest, actor models.CurrentUser, meta models.ClientMeta) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid create user payload")
	}
	universityID := trimmedPtr(req.UniversityID)
	if actor.Role == models.RoleCoordinator && universityID == nil && actor.UniversityID != "" {
		own := actor.UniversityID
		universityID = &own
	}
	if err := checkUniversityForRole(req.Role, universityID); err != nil {
		return nil, err
	}
	if err := s.authorize(actor, req.Role, universityID); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := &models.User{
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		UniversityID: universityID,
		Active:       active,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	s.record(ctx, actor, user.ID, models.AuditActionUserCreate, meta, nil, map[string]interface{}{"email": user.Email, "role": user.Role, "university_id": user.UniversityID})
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)), zap.String("actor_id", actor.ID))
	return user, nil
}

// Update edits name, role and active flag.
func (s *UserService) Update(ctx context.Context, id string, req dto.UpdateUserRequest, actor models.CurrentUser, meta models.ClientMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid update payload")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, user.Role, user.UniversityID); err != nil {
		return nil, err
	}
	if user.ID == actor.ID && ((req.Role != nil && *req.Role != user.Role) || (req.Active != nil && !*req.Active)) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot change your own role or deactivate yourself")
	}

	before := map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active}
	if req.FullName != nil {
		user.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Role != nil && *req.Role != user.Role {
		if err := checkUniversityForRole(*req.Role, user.UniversityID); err != nil {
			return nil, err
		}
		if err := s.authorize(actor, *req.Role, user.UniversityID); err != nil {
			return nil, err
		}
		user.Role = *req.Role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	if !user.Active {
		s.revokeSessions(ctx, user.ID)
	}
	s.record(ctx, actor, user.ID, models.AuditActionUserUpdate, meta, before, map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active})
	return user, nil
}

// Deactivate disables an account and ends its sessions.
func (s *UserService) Deactivate(ctx context.Context, id string, actor models.CurrentUser, meta models.ClientMeta) error {
	if id == actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot deactivate yourself")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, user.Role, user.UniversityID); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	s.revokeSessions(ctx, id)
	s.record(ctx, actor, id, models.AuditActionUserDeactivate, meta, map[string]interface{}{"active": user.Active}, map[string]interface{}{"active": false})
	return nil
}

// authorize checks that actor may manage an account with role in universityID.
func (s *UserService) authorize(actor models.CurrentUser, role models.UserRole, universityID *string) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleCoordinator:
		if !coordinatorManaged[role] {
			return appErrors.Clone(appErrors.ErrForbidden, "coordinators cannot manage "+strings.ToLower(string(role))+" accounts")
		}
		if !actor.SameUniversity(universityID) {
			return appErrors.Clone(appErrors.ErrForbidden, "user belongs to another university")
		}
		return nil
	default:
		return appErrors.ErrForbidden
	}
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Warn("revoke sessions of inactive user", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *UserService) record(ctx context.Context, actor models.CurrentUser, targetID, action string, meta models.ClientMeta, before, after map[string]interface{}) {
	actorID := actor.ID
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &targetID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}, before, after)
}

// checkUniversityForRole enforces that admins have no university and everyone else has one.
func checkUniversityForRole(role models.UserRole, universityID *string) error {
	if role == models.RoleAdmin && universityID != nil {
		return appErrors.Clone(appErrors.ErrValidation, "admins are not bound to a university")
	}
	if role != models.RoleAdmin && universityID == nil {
		return appErrors.Clone(appErrors.ErrValidation, "university_id is required for "+strings.ToLower(string(role))+" accounts")
	}
	return nil
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
