package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/internal/service"
	"github.com/noah-isme/sma-grading-api/pkg/response"
)

type assessmentTypeService interface {
	List(ctx context.Context, classID string, includeInactive bool) (*service.AssessmentTypeList, error)
	Get(ctx context.Context, id string) (*models.AssessmentType, error)
	ValidateWeights(ctx context.Context, classID string) (*models.WeightSummary, error)
	Create(ctx context.Context, classID string, req service.CreateAssessmentTypeRequest, actor models.Actor) (*models.AssessmentType, error)
	Update(ctx context.Context, id string, req service.UpdateAssessmentTypeRequest, actor models.Actor) (*models.AssessmentType, error)
	Deactivate(ctx context.Context, id string, actor models.Actor) (*models.AssessmentType, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
	Reorder(ctx context.Context, classID string, req service.ReorderAssessmentTypesRequest) ([]models.AssessmentType, error)
	History(ctx context.Context, id string) ([]models.WeightHistory, error)
	Statistics(ctx context.Context, id string) (*models.AssessmentStatistics, error)
}

// AssessmentTypeHandler exposes the weighted assessment categories of a class.
type AssessmentTypeHandler struct {
	service assessmentTypeService
	access  accessPolicy
}

// NewAssessmentTypeHandler constructs the handler.
func NewAssessmentTypeHandler(svc assessmentTypeService, access accessPolicy) *AssessmentTypeHandler {
	return &AssessmentTypeHandler{service: svc, access: access}
}

// List godoc
// @Summary List assessment types of a class
// @Tags Assessment Types
// @Produce json
// @Param id path string true "Class ID"
// @Param include_inactive query bool false "Include deactivated types"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/assessment-types [get]
func (h *AssessmentTypeHandler) List(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	includeInactive := false
	if v := queryBool(c, "include_inactive"); v != nil {
		includeInactive = *v
	}
	list, err := h.service.List(c.Request.Context(), classID, includeInactive)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Create godoc
// @Summary Add an assessment type to a class
// @Description Rejected with WEIGHT_LIMIT_EXCEEDED when the active weights would pass 100
// @Tags Assessment Types
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.CreateAssessmentTypeRequest true "Assessment type"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/assessment-types [post]
func (h *AssessmentTypeHandler) Create(c *gin.Context) {
	classID, actor, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	var req service.CreateAssessmentTypeRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.service.Create(c.Request.Context(), classID, req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// ValidateWeights godoc
// @Summary Check the weight total of a class
// @Tags Assessment Types
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/assessment-types/validate [get]
func (h *AssessmentTypeHandler) ValidateWeights(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	summary, err := h.service.ValidateWeights(c.Request.Context(), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Reorder godoc
// @Summary Reorder assessment types
// @Tags Assessment Types
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.ReorderAssessmentTypesRequest true "New positions"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/assessment-types/order [put]
func (h *AssessmentTypeHandler) Reorder(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	var req service.ReorderAssessmentTypesRequest
	if !bindJSON(c, &req) {
		return
	}
	items, err := h.service.Reorder(c.Request.Context(), classID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get assessment type
// @Tags Assessment Types
// @Produce json
// @Param id path string true "Assessment type ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessment-types/{id} [get]
func (h *AssessmentTypeHandler) Get(c *gin.Context) {
	id, _, ok := h.authorizeType(c)
	if !ok {
		return
	}
	item, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Update godoc
// @Summary Update assessment type
// @Description Weight changes are recorded in the history and trigger a class recalculation
// @Tags Assessment Types
// @Accept json
// @Produce json
// @Param id path string true "Assessment type ID"
// @Param payload body service.UpdateAssessmentTypeRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /assessment-types/{id} [put]
func (h *AssessmentTypeHandler) Update(c *gin.Context) {
	id, actor, ok := h.authorizeType(c)
	if !ok {
		return
	}
	var req service.UpdateAssessmentTypeRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.service.Update(c.Request.Context(), id, req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Deactivate godoc
// @Summary Deactivate assessment type
// @Tags Assessment Types
// @Produce json
// @Param id path string true "Assessment type ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /assessment-types/{id}/deactivate [post]
func (h *AssessmentTypeHandler) Deactivate(c *gin.Context) {
	id, actor, ok := h.authorizeType(c)
	if !ok {
		return
	}
	item, err := h.service.Deactivate(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete assessment type
// @Description Rejected with CONFLICT while marks reference the type
// @Tags Assessment Types
// @Param id path string true "Assessment type ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /assessment-types/{id} [delete]
func (h *AssessmentTypeHandler) Delete(c *gin.Context) {
	id, actor, ok := h.authorizeType(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary Weight change history
// @Tags Assessment Types
// @Produce json
// @Param id path string true "Assessment type ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /assessment-types/{id}/history [get]
func (h *AssessmentTypeHandler) History(c *gin.Context) {
	id, _, ok := h.authorizeType(c)
	if !ok {
		return
	}
	items, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Statistics godoc
// @Summary Score statistics of an assessment type
// @Tags Assessment Types
// @Produce json
// @Param id path string true "Assessment type ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /assessment-types/{id}/statistics [get]
func (h *AssessmentTypeHandler) Statistics(c *gin.Context) {
	id, _, ok := h.authorizeType(c)
	if !ok {
		return
	}
	stats, err := h.service.Statistics(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

func (h *AssessmentTypeHandler) authorizeType(c *gin.Context) (string, models.Actor, bool) {
	actor, ok := currentActor(c)
	if !ok {
		return "", actor, false
	}
	id := c.Param("id")
	if !authorize(c, h.access.ManageAssessmentType(c.Request.Context(), actor, id)) {
		return "", actor, false
	}
	return id, actor, true
}
