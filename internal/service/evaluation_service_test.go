package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/repository"
	"github.com/noah-isme/cliniclink-api/internal/rubric"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

type evaluationRepoStub struct {
	items         map[string]*models.Evaluation
	created       []*models.Evaluation
	updated       []*models.Evaluation
	existing      bool
	scopes        []models.EvaluationScope
	lastFilter    models.EvaluationFilter
	listTotal     int
	createHandler func(*models.Evaluation)
	writeErr      error
}

func newEvaluationRepoStub() *evaluationRepoStub {
	return &evaluationRepoStub{items: map[string]*models.Evaluation{}}
}

func (s *evaluationRepoStub) List(ctx context.Context, filter models.EvaluationFilter) ([]models.Evaluation, int, error) {
	s.lastFilter = filter
	return nil, s.listTotal, nil
}

func (s *evaluationRepoStub) FindByID(ctx context.Context, id string) (*models.Evaluation, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *item
	return &clone, nil
}

func (s *evaluationRepoStub) Create(ctx context.Context, evaluation *models.Evaluation) error {
	if evaluation.ID == "" {
		evaluation.ID = "ev-new"
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.created = append(s.created, evaluation)
	return nil
}

func (s *evaluationRepoStub) Update(ctx context.Context, evaluation *models.Evaluation) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.updated = append(s.updated, evaluation)
	return nil
}

func (s *evaluationRepoStub) ExistsSubmitted(ctx context.Context, scope models.EvaluationScope, excludeID string) (bool, error) {
	s.scopes = append(s.scopes, scope)
	return s.existing, nil
}

type slotRepoStub struct {
	slots      map[string]*models.RotationSlot
	placements map[string]bool
}

func (s slotRepoStub) FindByID(ctx context.Context, id string) (*models.RotationSlot, error) {
	slot, ok := s.slots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return slot, nil
}

func (s slotRepoStub) HasStudent(ctx context.Context, slotID, studentID string) (bool, error) {
	return s.placements[slotID+"/"+studentID], nil
}

type submissionCounter struct {
	counts map[models.EvaluationType]int
}

func (c *submissionCounter) RecordEvaluationSubmitted(evaluationType models.EvaluationType) {
	if c.counts == nil {
		c.counts = map[models.EvaluationType]int{}
	}
	c.counts[evaluationType]++
}

var (
	preceptor = models.CurrentUser{ID: "prec-1", Role: models.RolePreceptor}
	student   = models.CurrentUser{ID: "stu-1", Role: models.RoleStudent}
)

type evaluationFixture struct {
	svc       *EvaluationService
	repo      *evaluationRepoStub
	templates *templateRepoStub
	slots     slotRepoStub
	counter   *submissionCounter
}

func newEvaluationFixture() evaluationFixture {
	prec := "prec-1"
	slots := slotRepoStub{
		slots: map[string]*models.RotationSlot{
			"slot-1": {ID: "slot-1", SiteID: "site-1", PreceptorID: &prec, Name: "Surgery A"},
			"slot-2": {ID: "slot-2", SiteID: "site-1", Name: "Unassigned"},
		},
		placements: map[string]bool{"slot-1/stu-1": true},
	}
	templates := newTemplateRepoStub(surgeryTemplate())
	repo := newEvaluationRepoStub()
	counter := &submissionCounter{}
	svc := NewEvaluationService(repo, templates, slots, counter, nil, zap.NewNop(), EvaluationServiceConfig{})
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return evaluationFixture{svc: svc, repo: repo, templates: templates, slots: slots, counter: counter}
}

func strPtr(v string) *string { return &v }

func TestEvaluationServiceCreateSubmittedPreceptorEvaluation(t *testing.T) {
	f := newEvaluationFixture()

	ev, err := f.svc.Create(context.Background(), dto.EvaluationRequest{
		Type:        models.EvaluationTypeMidRotation,
		SlotID:      "slot-1",
		StudentID:   strPtr("stu-1"),
		Ratings:     map[string]int{"clinical_knowledge": 4, "communication": 2, "teamwork": 5},
		Comments:    "Progressing well",
		Strengths:   strPtr("  "),
		IsSubmitted: true,
	}, preceptor)
	require.NoError(t, err)

	assert.Equal(t, 3.7, ev.OverallScore)
	assert.True(t, ev.IsSubmitted)
	require.NotNil(t, ev.SubmittedAt)
	assert.Nil(t, ev.Strengths)
	assert.Nil(t, ev.TemplateID)
	assert.Equal(t, models.RolePreceptor, ev.AuthorRole)
	assert.Equal(t, 1, f.counter.counts[models.EvaluationTypeMidRotation])
	require.Len(t, f.repo.scopes, 1)
	assert.Equal(t, "stu-1", *f.repo.scopes[0].StudentID)
}

func TestEvaluationServiceRecomputesScoreFromTemplate(t *testing.T) {
	f := newEvaluationFixture()

	ev, err := f.svc.Create(context.Background(), dto.EvaluationRequest{
		Type:       models.EvaluationTypeFinal,
		TemplateID: strPtr("tpl-1"),
		SlotID:     "slot-1",
		StudentID:  strPtr("stu-1"),
		Ratings:    map[string]int{"clinical_skills": 5, "professionalism": 4},
	}, preceptor)
	require.NoError(t, err)
	assert.False(t, ev.IsSubmitted)
	assert.Equal(t, 4.5, ev.OverallScore)
	require.NotNil(t, ev.TemplateID)
	assert.Equal(t, "tpl-1", *ev.TemplateID)
	assert.Empty(t, f.counter.counts)
	assert.Empty(t, f.repo.scopes)
}

func TestEvaluationServiceCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		actor models.CurrentUser
		req   dto.EvaluationRequest
		code  string
	}{
		{"draft without slot", preceptor, dto.EvaluationRequest{}, rubric.ErrSlotRequired.Code},
		{"submit without student", preceptor, dto.EvaluationRequest{SlotID: "slot-1", Ratings: map[string]int{"teamwork": 3, "communication": 3, "professionalism": 3}, Comments: "x", IsSubmitted: true}, rubric.ErrStudentRequired.Code},
		{"too few ratings", preceptor, dto.EvaluationRequest{SlotID: "slot-1", StudentID: strPtr("stu-1"), Ratings: map[string]int{"teamwork": 3}, Comments: "x", IsSubmitted: true}, rubric.ErrTooFewRatings.Code},
		{"missing comments", preceptor, dto.EvaluationRequest{SlotID: "slot-1", StudentID: strPtr("stu-1"), Ratings: map[string]int{"teamwork": 3, "communication": 3, "professionalism": 3}, IsSubmitted: true}, rubric.ErrCommentsRequired.Code},
		{"unknown category", preceptor, dto.EvaluationRequest{SlotID: "slot-1", Ratings: map[string]int{"bedside": 3}}, rubric.ErrUnknownCategory.Code},
		{"rating off scale", preceptor, dto.EvaluationRequest{SlotID: "slot-1", Ratings: map[string]int{"teamwork": 9}}, rubric.ErrRatingOutOfScale.Code},
		{"unknown slot", preceptor, dto.EvaluationRequest{SlotID: "slot-9"}, appErrors.ErrNotFound.Code},
		{"foreign slot", preceptor, dto.EvaluationRequest{SlotID: "slot-2"}, appErrors.ErrForbidden.Code},
		{"student not placed", preceptor, dto.EvaluationRequest{SlotID: "slot-1", StudentID: strPtr("stu-9")}, appErrors.ErrValidation.Code},
		{"template type mismatch", preceptor, dto.EvaluationRequest{Type: models.EvaluationTypeMidRotation, TemplateID: strPtr("tpl-1"), SlotID: "slot-1"}, appErrors.ErrValidation.Code},
		{"student picks preceptor type", student, dto.EvaluationRequest{Type: models.EvaluationTypeFinal, SlotID: "slot-1"}, appErrors.ErrForbidden.Code},
		{"coordinator cannot author", coordinator, dto.EvaluationRequest{SlotID: "slot-1"}, appErrors.ErrForbidden.Code},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newEvaluationFixture()
			_, err := f.svc.Create(context.Background(), tc.req, tc.actor)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
			assert.Empty(t, f.repo.created)
		})
	}
}

func TestEvaluationServiceRejectsInactiveTemplate(t *testing.T) {
	f := newEvaluationFixture()
	f.templates.templates["tpl-1"].IsActive = false

	_, err := f.svc.Create(context.Background(), dto.EvaluationRequest{Type: models.EvaluationTypeFinal, TemplateID: strPtr("tpl-1"), SlotID: "slot-1"}, preceptor)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEvaluationServiceRejectsDuplicateSubmission(t *testing.T) {
	f := newEvaluationFixture()
	f.repo.existing = true

	_, err := f.svc.Create(context.Background(), dto.EvaluationRequest{
		SlotID:      "slot-1",
		Ratings:     map[string]int{"preceptor_support": 5, "clinical_exposure": 4, "overall_experience": 5},
		Comments:    "Great rotation",
		IsSubmitted: true,
	}, student)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.created)
}

func TestEvaluationServiceConcurrentSubmitHitsUniqueIndex(t *testing.T) {
	f := newEvaluationFixture()
	// the pre-check passes but another submit committed first
	f.repo.writeErr = repository.ErrDuplicateSubmission
	req := dto.EvaluationRequest{
		SlotID:      "slot-1",
		Ratings:     map[string]int{"preceptor_support": 5, "clinical_exposure": 4, "overall_experience": 5},
		Comments:    "Great rotation",
		IsSubmitted: true,
	}

	_, err := f.svc.Create(context.Background(), req, student)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.created)

	f.repo.items["ev-1"] = &models.Evaluation{ID: "ev-1", Type: models.EvaluationTypeStudentFeedback, SlotID: "slot-1", AuthorID: "stu-1", AuthorRole: models.RoleStudent}
	_, err = f.svc.Update(context.Background(), "ev-1", req, student)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.counter.counts)
}

func TestEvaluationServiceStudentFeedbackForcesSelf(t *testing.T) {
	f := newEvaluationFixture()

	ev, err := f.svc.Create(context.Background(), dto.EvaluationRequest{
		SlotID:      "slot-1",
		StudentID:   strPtr("someone-else"),
		Ratings:     map[string]int{"preceptor_support": 5, "clinical_exposure": 4, "overall_experience": 5},
		Comments:    "Great rotation",
		IsSubmitted: true,
	}, student)
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationTypeStudentFeedback, ev.Type)
	require.NotNil(t, ev.StudentID)
	assert.Equal(t, "stu-1", *ev.StudentID)
	assert.Equal(t, 4.7, ev.OverallScore)
}

func TestEvaluationServiceStudentMustBePlaced(t *testing.T) {
	f := newEvaluationFixture()
	outsider := models.CurrentUser{ID: "stu-2", Role: models.RoleStudent}

	_, err := f.svc.Create(context.Background(), dto.EvaluationRequest{SlotID: "slot-1"}, outsider)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEvaluationServiceUpdateDraftOnly(t *testing.T) {
	f := newEvaluationFixture()
	f.repo.items["ev-1"] = &models.Evaluation{ID: "ev-1", Type: models.EvaluationTypeMidRotation, SlotID: "slot-1", AuthorID: "prec-1", AuthorRole: models.RolePreceptor}
	f.repo.items["ev-2"] = &models.Evaluation{ID: "ev-2", Type: models.EvaluationTypeMidRotation, SlotID: "slot-1", AuthorID: "prec-1", IsSubmitted: true}

	ev, err := f.svc.Update(context.Background(), "ev-1", dto.EvaluationRequest{
		SlotID:      "slot-2",
		StudentID:   strPtr("stu-1"),
		Ratings:     map[string]int{"teamwork": 4, "communication": 4, "professionalism": 5},
		Comments:    "Final notes",
		IsSubmitted: true,
	}, preceptor)
	require.NoError(t, err)
	assert.Equal(t, "slot-1", ev.SlotID)
	assert.True(t, ev.IsSubmitted)
	assert.Equal(t, 4.3, ev.OverallScore)
	require.Len(t, f.repo.updated, 1)

	_, err = f.svc.Update(context.Background(), "ev-2", dto.EvaluationRequest{}, preceptor)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErrors.FromError(err).Code)

	other := models.CurrentUser{ID: "prec-2", Role: models.RolePreceptor}
	_, err = f.svc.Update(context.Background(), "ev-1", dto.EvaluationRequest{}, other)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEvaluationServiceVisibility(t *testing.T) {
	f := newEvaluationFixture()
	f.repo.items["ev-1"] = &models.Evaluation{ID: "ev-1", AuthorID: "prec-1", StudentID: strPtr("stu-1"), IsSubmitted: true}
	f.repo.items["ev-2"] = &models.Evaluation{ID: "ev-2", AuthorID: "prec-1", StudentID: strPtr("stu-1")}

	_, err := f.svc.Get(context.Background(), "ev-1", student)
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), "ev-2", student)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	_, err = f.svc.Get(context.Background(), "ev-2", coordinator)
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), "missing", coordinator)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEvaluationServiceListScopesByRole(t *testing.T) {
	f := newEvaluationFixture()
	f.repo.listTotal = 3

	items, pagination, err := f.svc.List(context.Background(), models.EvaluationFilter{AuthorID: "prec-9", Page: 2, PageSize: 5}, preceptor)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Equal(t, "prec-1", f.repo.lastFilter.AuthorID)
	assert.Equal(t, models.Pagination{Page: 2, PageSize: 5, TotalCount: 3}, *pagination)

	_, _, err = f.svc.List(context.Background(), models.EvaluationFilter{}, student)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", f.repo.lastFilter.StudentID)
	require.NotNil(t, f.repo.lastFilter.Submitted)
	assert.True(t, *f.repo.lastFilter.Submitted)

	_, _, err = f.svc.List(context.Background(), models.EvaluationFilter{AuthorID: "prec-1"}, student)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	siteManager := models.CurrentUser{ID: "sm-1", Role: models.RoleSiteManager}
	_, _, err = f.svc.List(context.Background(), models.EvaluationFilter{}, siteManager)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
