package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/repository"
	"github.com/noah-isme/cliniclink-api/internal/rubric"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

type evaluationRepository interface {
	List(ctx context.Context, filter models.EvaluationFilter) ([]models.Evaluation, int, error)
	FindByID(ctx context.Context, id string) (*models.Evaluation, error)
	Create(ctx context.Context, evaluation *models.Evaluation) error
	Update(ctx context.Context, evaluation *models.Evaluation) error
	ExistsSubmitted(ctx context.Context, scope models.EvaluationScope, excludeID string) (bool, error)
}

type templateReader interface {
	FindByID(ctx context.Context, id string) (*models.EvaluationTemplate, error)
}

type rotationSlotReader interface {
	FindByID(ctx context.Context, id string) (*models.RotationSlot, error)
	HasStudent(ctx context.Context, slotID, studentID string) (bool, error)
}

type submissionRecorder interface {
	RecordEvaluationSubmitted(evaluationType models.EvaluationType)
}

// EvaluationServiceConfig tunes submission rules.
type EvaluationServiceConfig struct {
	MinRatedCategories int
}

// EvaluationService records preceptor evaluations and student feedback.
type EvaluationService struct {
	repo      evaluationRepository
	templates templateReader
	slots     rotationSlotReader
	metrics   submissionRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       EvaluationServiceConfig
	now       func() time.Time
}

// NewEvaluationService constructs the service. metrics may be nil.
func NewEvaluationService(repo evaluationRepository, templates templateReader, slots rotationSlotReader, metrics submissionRecorder, validate *validator.Validate, logger *zap.Logger, cfg EvaluationServiceConfig) *EvaluationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MinRatedCategories <= 0 {
		cfg.MinRatedCategories = rubric.DefaultMinRated
	}
	return &EvaluationService{
		repo:      repo,
		templates: templates,
		slots:     slots,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Create stores a draft or submitted evaluation authored by actor.
func (s *EvaluationService) Create(ctx context.Context, req dto.EvaluationRequest, actor models.CurrentUser) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid evaluation payload")
	}
	evalType, err := resolveEvaluationType(req.Type, actor.Role)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent {
		self := actor.ID
		req.StudentID = &self
	}

	evaluation := &models.Evaluation{
		Type:       evalType,
		SlotID:     strings.TrimSpace(req.SlotID),
		AuthorID:   actor.ID,
		AuthorRole: actor.Role,
	}
	if err := s.apply(ctx, evaluation, req, actor); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, evaluation); err != nil {
		if errors.Is(err, repository.ErrDuplicateSubmission) {
			return nil, errAlreadySubmitted()
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save evaluation")
	}
	s.afterSave(evaluation)
	return evaluation, nil
}

// Update rewrites a draft owned by actor. Submitted evaluations are final.
func (s *EvaluationService) Update(ctx context.Context, id string, req dto.EvaluationRequest, actor models.CurrentUser) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid evaluation payload")
	}
	evaluation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if evaluation.AuthorID != actor.ID {
		return nil, appErrors.ErrForbidden
	}
	if evaluation.IsSubmitted {
		return nil, appErrors.Clone(appErrors.ErrFinalized, "evaluation already submitted")
	}
	if actor.Role == models.RoleStudent {
		self := actor.ID
		req.StudentID = &self
	}
	// the slot and type of an existing draft are fixed
	req.SlotID = evaluation.SlotID
	if err := s.apply(ctx, evaluation, req, actor); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, evaluation); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrFinalized, "evaluation already submitted")
		}
		if errors.Is(err, repository.ErrDuplicateSubmission) {
			return nil, errAlreadySubmitted()
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save evaluation")
	}
	s.afterSave(evaluation)
	return evaluation, nil
}

// Get returns an evaluation visible to actor.
func (s *EvaluationService) Get(ctx context.Context, id string, actor models.CurrentUser) (*models.Evaluation, error) {
	evaluation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(evaluation, actor) {
		return nil, appErrors.ErrForbidden
	}
	return evaluation, nil
}

// List returns evaluations visible to actor with pagination metadata.
func (s *EvaluationService) List(ctx context.Context, filter models.EvaluationFilter, actor models.CurrentUser) ([]models.Evaluation, *models.Pagination, error) {
	switch {
	case actor.IsStaff():
	case actor.Role == models.RoleStudent:
		// students see their own feedback and submitted evaluations written about them
		if filter.AuthorID != "" && filter.AuthorID != actor.ID {
			return nil, nil, appErrors.ErrForbidden
		}
		if filter.AuthorID == "" {
			filter.StudentID = actor.ID
			submitted := true
			filter.Submitted = &submitted
		}
	case actor.Role == models.RolePreceptor:
		filter.AuthorID = actor.ID
	default:
		return nil, nil, appErrors.ErrForbidden
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid evaluation type")
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evaluations")
	}
	if items == nil {
		items = []models.Evaluation{}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return items, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// apply loads the template and slot, checks access, scores the ratings and
// fills the mutable fields of evaluation.
func (s *EvaluationService) apply(ctx context.Context, evaluation *models.Evaluation, req dto.EvaluationRequest, actor models.CurrentUser) error {
	if evaluation.SlotID == "" {
		return rubric.ErrSlotRequired
	}

	var (
		tpl  *models.EvaluationTemplate
		slot *models.RotationSlot
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.TemplateID != nil && *req.TemplateID != "" {
		templateID := *req.TemplateID
		g.Go(func() error {
			found, err := s.templates.FindByID(gctx, templateID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.Clone(appErrors.ErrNotFound, "evaluation template not found")
				}
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation template")
			}
			tpl = found
			return nil
		})
	}
	g.Go(func() error {
		found, err := s.slots.FindByID(gctx, evaluation.SlotID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "rotation slot not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rotation slot")
		}
		slot = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if tpl != nil {
		if !tpl.IsActive {
			return appErrors.Clone(appErrors.ErrValidation, "evaluation template is inactive")
		}
		if tpl.Type != evaluation.Type {
			return appErrors.Clone(appErrors.ErrValidation, "evaluation template does not match the evaluation type")
		}
	}
	if err := s.checkSlotAccess(ctx, slot, req, actor); err != nil {
		return err
	}

	card := rubric.NewScorecard(tpl, actor.Role)
	card.MinRated = s.cfg.MinRatedCategories
	if err := card.Apply(req.Ratings); err != nil {
		return err
	}
	if req.IsSubmitted {
		if err := card.ValidateSubmission(rubric.Submission{
			SlotID:         evaluation.SlotID,
			StudentID:      deref(req.StudentID),
			Comments:       req.Comments,
			RequireStudent: actor.Role == models.RolePreceptor,
		}); err != nil {
			return err
		}
	}

	evaluation.TemplateID = nil
	if tpl != nil {
		id := tpl.ID
		evaluation.TemplateID = &id
	}
	evaluation.StudentID = nonEmpty(req.StudentID)
	evaluation.Ratings = card.Ratings()
	evaluation.OverallScore = card.OverallScore()
	evaluation.Comments = req.Comments
	evaluation.Strengths = nonEmpty(req.Strengths)
	evaluation.AreasForImprovement = nonEmpty(req.AreasForImprovement)

	if req.IsSubmitted {
		exists, err := s.repo.ExistsSubmitted(ctx, models.EvaluationScope{
			Type:      evaluation.Type,
			SlotID:    evaluation.SlotID,
			StudentID: evaluation.StudentID,
			AuthorID:  evaluation.AuthorID,
		}, evaluation.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing evaluations")
		}
		if exists {
			return errAlreadySubmitted()
		}
		now := s.now().UTC()
		evaluation.IsSubmitted = true
		evaluation.SubmittedAt = &now
	}
	return nil
}

func (s *EvaluationService) checkSlotAccess(ctx context.Context, slot *models.RotationSlot, req dto.EvaluationRequest, actor models.CurrentUser) error {
	switch actor.Role {
	case models.RolePreceptor:
		if slot.PreceptorID == nil || *slot.PreceptorID != actor.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "rotation is supervised by another preceptor")
		}
		if req.StudentID == nil || *req.StudentID == "" {
			return nil
		}
		placed, err := s.slots.HasStudent(ctx, slot.ID, *req.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check placement")
		}
		if !placed {
			return appErrors.Clone(appErrors.ErrValidation, "student is not placed on this rotation")
		}
	case models.RoleStudent:
		placed, err := s.slots.HasStudent(ctx, slot.ID, actor.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check placement")
		}
		if !placed {
			return appErrors.Clone(appErrors.ErrForbidden, "you are not placed on this rotation")
		}
	default:
		return appErrors.ErrForbidden
	}
	return nil
}

func (s *EvaluationService) afterSave(evaluation *models.Evaluation) {
	if !evaluation.IsSubmitted {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordEvaluationSubmitted(evaluation.Type)
	}
	s.logger.Info("evaluation submitted",
		zap.String("evaluation_id", evaluation.ID),
		zap.String("type", string(evaluation.Type)),
		zap.Float64("overall_score", evaluation.OverallScore),
	)
}

func (s *EvaluationService) load(ctx context.Context, id string) (*models.Evaluation, error) {
	evaluation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation")
	}
	return evaluation, nil
}

func resolveEvaluationType(requested models.EvaluationType, role models.UserRole) (models.EvaluationType, error) {
	switch role {
	case models.RoleStudent:
		if requested != "" && requested != models.EvaluationTypeStudentFeedback {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students may only submit rotation feedback")
		}
		return models.EvaluationTypeStudentFeedback, nil
	case models.RolePreceptor:
		switch requested {
		case "":
			return models.EvaluationTypeMidRotation, nil
		case models.EvaluationTypeMidRotation, models.EvaluationTypeFinal:
			return requested, nil
		default:
			return "", appErrors.Clone(appErrors.ErrForbidden, "preceptors submit mid-rotation or final evaluations")
		}
	default:
		return "", appErrors.Clone(appErrors.ErrForbidden, "only preceptors and students author evaluations")
	}
}

func canView(evaluation *models.Evaluation, actor models.CurrentUser) bool {
	if actor.IsStaff() || evaluation.AuthorID == actor.ID {
		return true
	}
	if actor.Role == models.RoleStudent && evaluation.IsSubmitted && evaluation.StudentID != nil && *evaluation.StudentID == actor.ID {
		return true
	}
	return false
}

func nonEmpty(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	v := *value
	return &v
}

// errAlreadySubmitted covers both the pre-check and the unique index, which
// catches submits racing past it.
func errAlreadySubmitted() error {
	return appErrors.Clone(appErrors.ErrConflict, "an evaluation has already been submitted for this rotation")
}
