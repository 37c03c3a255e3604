package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
	"github.com/noah-isme/cliniclink-api/pkg/response"
)

type evaluationService interface {
	List(ctx context.Context, filter models.EvaluationFilter, actor models.CurrentUser) ([]models.Evaluation, *models.Pagination, error)
	Get(ctx context.Context, id string, actor models.CurrentUser) (*models.Evaluation, error)
	Create(ctx context.Context, req dto.EvaluationRequest, actor models.CurrentUser) (*models.Evaluation, error)
	Update(ctx context.Context, id string, req dto.EvaluationRequest, actor models.CurrentUser) (*models.Evaluation, error)
}

// EvaluationHandler exposes rotation evaluation endpoints.
type EvaluationHandler struct {
	service evaluationService
}

// NewEvaluationHandler builds the handler.
func NewEvaluationHandler(service evaluationService) *EvaluationHandler {
	return &EvaluationHandler{service: service}
}

// List godoc
// @Summary List evaluations visible to the caller
// @Tags Evaluations
// @Produce json
// @Param slot_id query string false "Rotation slot ID"
// @Param student_id query string false "Student ID"
// @Param template_id query string false "Template ID"
// @Param type query string false "Evaluation type"
// @Param submitted query bool false "Submitted flag"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /evaluations [get]
func (h *EvaluationHandler) List(c *gin.Context) {
	var query dto.EvaluationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), models.EvaluationFilter{
		SlotID:     query.SlotID,
		StudentID:  query.StudentID,
		TemplateID: query.TemplateID,
		Type:       models.EvaluationType(query.Type),
		Submitted:  query.Submitted,
		Page:       query.Page,
		PageSize:   query.PageSize,
	}, currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get an evaluation
// @Tags Evaluations
// @Produce json
// @Param id path string true "Evaluation ID"
// @Success 200 {object} response.Envelope
// @Router /evaluations/{id} [get]
func (h *EvaluationHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Create godoc
// @Summary Save a draft or submit an evaluation
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param payload body dto.EvaluationRequest true "Evaluation payload"
// @Success 201 {object} response.Envelope
// @Router /evaluations [post]
func (h *EvaluationHandler) Create(c *gin.Context) {
	var req dto.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid evaluation payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), req, currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Update a draft evaluation
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param id path string true "Evaluation ID"
// @Param payload body dto.EvaluationRequest true "Evaluation payload"
// @Success 200 {object} response.Envelope
// @Router /evaluations/{id} [put]
func (h *EvaluationHandler) Update(c *gin.Context) {
	var req dto.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid evaluation payload"))
		return
	}
	item, err := h.service.Update(c.Request.Context(), c.Param("id"), req, currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
