package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/rubric"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

const templateCachePrefix = "evaluation_templates"

type evaluationTemplateRepository interface {
	List(ctx context.Context, filter models.EvaluationTemplateFilter) ([]models.EvaluationTemplate, error)
	FindByID(ctx context.Context, id string) (*models.EvaluationTemplate, error)
	Create(ctx context.Context, tpl *models.EvaluationTemplate) error
	Update(ctx context.Context, tpl *models.EvaluationTemplate) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	CountEvaluations(ctx context.Context, id string) (int, error)
}

type templateCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// EvaluationTemplateServiceConfig tunes template caching.
type EvaluationTemplateServiceConfig struct {
	CacheTTL time.Duration
}

// EvaluationTemplateService manages evaluation rubrics.
type EvaluationTemplateService struct {
	repo      evaluationTemplateRepository
	cache     templateCache
	validator *validator.Validate
	logger    *zap.Logger
	cfg       EvaluationTemplateServiceConfig
}

// NewEvaluationTemplateService constructs the service. cache may be nil.
func NewEvaluationTemplateService(repo evaluationTemplateRepository, cache templateCache, validate *validator.Validate, logger *zap.Logger, cfg EvaluationTemplateServiceConfig) *EvaluationTemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EvaluationTemplateService{repo: repo, cache: cache, validator: validate, logger: logger, cfg: cfg}
}

// List returns templates matching the filter. The boolean reports a cache hit.
func (s *EvaluationTemplateService) List(ctx context.Context, filter models.EvaluationTemplateFilter) ([]models.EvaluationTemplate, bool, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "invalid evaluation type")
	}
	key := templateListKey(filter)
	var cached []models.EvaluationTemplate
	if s.cacheGet(ctx, key, &cached) {
		return cached, true, nil
	}

	templates, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evaluation templates")
	}
	if templates == nil {
		templates = []models.EvaluationTemplate{}
	}
	s.cacheSet(ctx, key, templates)
	return templates, false, nil
}

// Get returns a template by id. The boolean reports a cache hit.
func (s *EvaluationTemplateService) Get(ctx context.Context, id string) (*models.EvaluationTemplate, bool, error) {
	key := fmt.Sprintf("%s:id:%s", templateCachePrefix, id)
	var cached models.EvaluationTemplate
	if s.cacheGet(ctx, key, &cached) {
		return &cached, true, nil
	}
	tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	s.cacheSet(ctx, key, tpl)
	return tpl, false, nil
}

// Create validates and stores a new template.
func (s *EvaluationTemplateService) Create(ctx context.Context, req dto.EvaluationTemplateRequest, actor models.CurrentUser) (*models.EvaluationTemplate, error) {
	universityID, err := templateUniversity(req.UniversityID, actor)
	if err != nil {
		return nil, err
	}
	categories, scale, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	actorID := actor.ID
	tpl := &models.EvaluationTemplate{
		UniversityID: universityID,
		Type:         req.Type,
		Name:         strings.TrimSpace(req.Name),
		IsActive:     active,
		Categories:   categories,
		RatingScale:  scale,
		CreatedBy:    &actorID,
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation template")
	}
	s.invalidate(ctx)
	s.logger.Info("evaluation template created", zap.String("template_id", tpl.ID), zap.String("actor_id", actor.ID))
	return tpl, nil
}

// Update replaces the rubric of an existing template. The university never changes.
func (s *EvaluationTemplateService) Update(ctx context.Context, id string, req dto.EvaluationTemplateRequest, actor models.CurrentUser) (*models.EvaluationTemplate, error) {
	existing, err := s.loadOwned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	categories, scale, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	existing.Type = req.Type
	existing.Name = strings.TrimSpace(req.Name)
	existing.Categories = categories
	existing.RatingScale = scale
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update evaluation template")
	}
	s.invalidate(ctx)
	s.logger.Info("evaluation template updated", zap.String("template_id", id), zap.String("actor_id", actor.ID))
	return existing, nil
}

// SetActive toggles whether authors may pick the template.
func (s *EvaluationTemplateService) SetActive(ctx context.Context, id string, active bool, actor models.CurrentUser) (*models.EvaluationTemplate, error) {
	if _, err := s.loadOwned(ctx, id, actor); err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update evaluation template")
	}
	s.invalidate(ctx)
	return s.load(ctx, id)
}

// Delete removes a template that no evaluation references.
func (s *EvaluationTemplateService) Delete(ctx context.Context, id string, actor models.CurrentUser) error {
	if _, err := s.loadOwned(ctx, id, actor); err != nil {
		return err
	}
	count, err := s.repo.CountEvaluations(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check template usage")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "evaluation template is used by existing evaluations; deactivate it instead")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "evaluation template not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete evaluation template")
	}
	s.invalidate(ctx)
	return nil
}

// Duplicate creates an active copy of a template named "<name> (Copy)".
func (s *EvaluationTemplateService) Duplicate(ctx context.Context, id string, actor models.CurrentUser) (*models.EvaluationTemplate, error) {
	source, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	form := rubric.Duplicate(source)
	form.IsActive = true
	payload := form.Payload()
	return s.Create(ctx, dto.EvaluationTemplateRequest{
		UniversityID: payload.UniversityID,
		Type:         payload.Type,
		Name:         payload.Name,
		IsActive:     payload.IsActive,
		Categories:   payload.Categories,
		RatingScale:  payload.RatingScale,
	}, actor)
}

// Defaults returns the rubric used when an author rates without a template.
func (s *EvaluationTemplateService) Defaults(role models.UserRole) dto.TemplateDefaultsResponse {
	presets := make(map[string][]models.RatingLevel, len(rubric.PresetNames))
	for _, name := range rubric.PresetNames {
		levels, _ := rubric.Preset(name)
		presets[name] = levels
	}
	return dto.TemplateDefaultsResponse{
		Role:        role,
		Categories:  rubric.ResolveCategories(nil, role),
		RatingScale: rubric.ResolveScale(nil),
		Presets:     presets,
		PresetOrder: append([]string(nil), rubric.PresetNames...),
	}
}

func (s *EvaluationTemplateService) normalize(req dto.EvaluationTemplateRequest) (models.RubricCategories, models.RatingScale, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Invalid(err, "invalid evaluation template payload")
	}
	categories := rubric.NormalizeCategories(req.Categories)
	var scale []models.RatingLevel
	if len(req.RatingScale) > 0 {
		scale = req.RatingScale
	}
	if err := rubric.CheckTemplate(categories, scale); err != nil {
		return nil, nil, err
	}
	return models.RubricCategories(categories), models.RatingScale(scale), nil
}

func (s *EvaluationTemplateService) load(ctx context.Context, id string) (*models.EvaluationTemplate, error) {
	tpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation template")
	}
	return tpl, nil
}

func (s *EvaluationTemplateService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("template cache get", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *EvaluationTemplateService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("template cache set", zap.String("key", key), zap.Error(err))
	}
}

func (s *EvaluationTemplateService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, templateCachePrefix+":*"); err != nil {
		s.logger.Warn("template cache invalidate", zap.Error(err))
	}
}

// loadOwned loads a template the actor may change. Only admins reach
// templates of other universities.
func (s *EvaluationTemplateService) loadOwned(ctx context.Context, id string, actor models.CurrentUser) (*models.EvaluationTemplate, error) {
	tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && tpl.UniversityID != actor.UniversityID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot manage templates of another university")
	}
	return tpl, nil
}

// templateUniversity picks the owning university for a new template.
// Coordinators may only create rubrics for their own university.
func templateUniversity(requested string, actor models.CurrentUser) (string, error) {
	requested = strings.TrimSpace(requested)
	own := actor.UniversityID
	if requested == "" {
		requested = own
	}
	if requested == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "university_id is required")
	}
	if actor.Role != models.RoleAdmin && own != requested {
		return "", appErrors.Clone(appErrors.ErrForbidden, "cannot manage templates of another university")
	}
	return requested, nil
}

func templateListKey(filter models.EvaluationTemplateFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("%s:list:%s:%s:%s", templateCachePrefix, filter.UniversityID, filter.Type, active)
}
