package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/middleware"
	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
	"github.com/noah-isme/cliniclink-api/pkg/response"
)

type evaluationTemplateService interface {
	List(ctx context.Context, filter models.EvaluationTemplateFilter) ([]models.EvaluationTemplate, bool, error)
	Get(ctx context.Context, id string) (*models.EvaluationTemplate, bool, error)
	Create(ctx context.Context, req dto.EvaluationTemplateRequest, actor models.CurrentUser) (*models.EvaluationTemplate, error)
	Update(ctx context.Context, id string, req dto.EvaluationTemplateRequest, actor models.CurrentUser) (*models.EvaluationTemplate, error)
	SetActive(ctx context.Context, id string, active bool, actor models.CurrentUser) (*models.EvaluationTemplate, error)
	Delete(ctx context.Context, id string, actor models.CurrentUser) error
	Duplicate(ctx context.Context, id string, actor models.CurrentUser) (*models.EvaluationTemplate, error)
	Defaults(role models.UserRole) dto.TemplateDefaultsResponse
}

// EvaluationTemplateHandler exposes rubric template endpoints.
type EvaluationTemplateHandler struct {
	service evaluationTemplateService
}

// NewEvaluationTemplateHandler builds the handler.
func NewEvaluationTemplateHandler(service evaluationTemplateService) *EvaluationTemplateHandler {
	return &EvaluationTemplateHandler{service: service}
}

// List godoc
// @Summary List evaluation templates
// @Tags Evaluation Templates
// @Produce json
// @Param university_id query string false "University ID"
// @Param type query string false "Evaluation type"
// @Param active query bool false "Only active or inactive templates"
// @Success 200 {object} response.Envelope
// @Router /evaluation-templates [get]
func (h *EvaluationTemplateHandler) List(c *gin.Context) {
	var query dto.EvaluationTemplateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid query parameters"))
		return
	}
	universityID := query.UniversityID
	if user := currentUser(c); user.Role != models.RoleAdmin && user.UniversityID != "" {
		universityID = user.UniversityID
	}
	templates, hit, err := h.service.List(c.Request.Context(), models.EvaluationTemplateFilter{
		UniversityID: universityID,
		Type:         models.EvaluationType(query.Type),
		Active:       query.Active,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, templates, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get an evaluation template
// @Tags Evaluation Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /evaluation-templates/{id} [get]
func (h *EvaluationTemplateHandler) Get(c *gin.Context) {
	tpl, hit, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, tpl, nil, middleware.ExtractMeta(c))
}

// Defaults godoc
// @Summary Default rubric and rating presets for the caller's role
// @Tags Evaluation Templates
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /evaluation-templates/defaults [get]
func (h *EvaluationTemplateHandler) Defaults(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Defaults(currentUser(c).Role), nil)
}

// Create godoc
// @Summary Create an evaluation template
// @Tags Evaluation Templates
// @Accept json
// @Produce json
// @Param payload body dto.EvaluationTemplateRequest true "Template payload"
// @Success 201 {object} response.Envelope
// @Router /evaluation-templates [post]
func (h *EvaluationTemplateHandler) Create(c *gin.Context) {
	var req dto.EvaluationTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid evaluation template payload"))
		return
	}
	tpl, err := h.service.Create(c.Request.Context(), req, currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tpl)
}

// Update godoc
// @Summary Update an evaluation template
// @Tags Evaluation Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body dto.EvaluationTemplateRequest true "Template payload"
// @Success 200 {object} response.Envelope
// @Router /evaluation-templates/{id} [put]
func (h *EvaluationTemplateHandler) Update(c *gin.Context) {
	var req dto.EvaluationTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid evaluation template payload"))
		return
	}
	tpl, err := h.service.Update(c.Request.Context(), c.Param("id"), req, currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// SetActive godoc
// @Summary Activate or deactivate an evaluation template
// @Tags Evaluation Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body dto.SetTemplateActiveRequest true "Active flag"
// @Success 200 {object} response.Envelope
// @Router /evaluation-templates/{id}/active [patch]
func (h *EvaluationTemplateHandler) SetActive(c *gin.Context) {
	var req dto.SetTemplateActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "is_active is required"))
		return
	}
	tpl, err := h.service.SetActive(c.Request.Context(), c.Param("id"), *req.IsActive, currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tpl, nil)
}

// Duplicate godoc
// @Summary Copy an evaluation template
// @Tags Evaluation Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 201 {object} response.Envelope
// @Router /evaluation-templates/{id}/duplicate [post]
func (h *EvaluationTemplateHandler) Duplicate(c *gin.Context) {
	tpl, err := h.service.Duplicate(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tpl)
}

// Delete godoc
// @Summary Delete an unused evaluation template
// @Tags Evaluation Templates
// @Param id path string true "Template ID"
// @Success 204
// @Router /evaluation-templates/{id} [delete]
func (h *EvaluationTemplateHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
