package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/internal/service"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
	"github.com/noah-isme/sma-grading-api/pkg/response"
)

type markService interface {
	Get(ctx context.Context, id string) (*models.MarkDetail, error)
	List(ctx context.Context, filter models.MarkFilter) ([]models.MarkDetail, *models.Pagination, error)
	Create(ctx context.Context, classID string, req service.CreateMarkRequest, actor models.Actor) (*models.Mark, error)
	BulkCreate(ctx context.Context, classID string, req service.BulkMarkRequest, actor models.Actor) (*service.BulkMarkResult, error)
	Update(ctx context.Context, id string, req service.UpdateMarkRequest, actor models.Actor) (*models.Mark, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
}

// MarkHandler exposes mark endpoints. Every write recalculates the affected grade before
// responding.
type MarkHandler struct {
	service markService
	access  accessPolicy
}

// NewMarkHandler constructs the handler.
func NewMarkHandler(svc markService, access accessPolicy) *MarkHandler {
	return &MarkHandler{service: svc, access: access}
}

// List godoc
// @Summary List marks of a class
// @Tags Marks
// @Produce json
// @Param id path string true "Class ID"
// @Param student_id query string false "Student filter"
// @Param assessment_type_id query string false "Assessment type filter"
// @Param status query string false "draft or published"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/marks [get]
func (h *MarkHandler) List(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	filter := models.MarkFilter{
		ClassID:          classID,
		StudentID:        c.Query("student_id"),
		AssessmentTypeID: c.Query("assessment_type_id"),
		Page:             queryInt(c, "page", 1),
		PageSize:         queryInt(c, "page_size", 50),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.MarkStatus(raw)
		if status != models.MarkStatusDraft && status != models.MarkStatusPublished {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status must be draft or published"))
			return
		}
		filter.Status = &status
	}

	marks, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, marks, pagination)
}

// Create godoc
// @Summary Record a mark
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.CreateMarkRequest true "Mark"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/marks [post]
func (h *MarkHandler) Create(c *gin.Context) {
	classID, actor, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	var req service.CreateMarkRequest
	if !bindJSON(c, &req) {
		return
	}
	mark, err := h.service.Create(c.Request.Context(), classID, req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, mark)
}

// BulkCreate godoc
// @Summary Record several marks atomically
// @Description Either every mark is stored or none; rejected items are listed in error.details.failures
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.BulkMarkRequest true "Marks"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/marks/bulk [post]
func (h *MarkHandler) BulkCreate(c *gin.Context) {
	classID, actor, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	var req service.BulkMarkRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.BulkCreate(c.Request.Context(), classID, req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Get godoc
// @Summary Get mark
// @Tags Marks
// @Produce json
// @Param id path string true "Mark ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [get]
func (h *MarkHandler) Get(c *gin.Context) {
	id, _, ok := h.authorizeMark(c)
	if !ok {
		return
	}
	mark, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mark, nil)
}

// Update godoc
// @Summary Update mark
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Mark ID"
// @Param payload body service.UpdateMarkRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [put]
func (h *MarkHandler) Update(c *gin.Context) {
	id, actor, ok := h.authorizeMark(c)
	if !ok {
		return
	}
	var req service.UpdateMarkRequest
	if !bindJSON(c, &req) {
		return
	}
	mark, err := h.service.Update(c.Request.Context(), id, req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mark, nil)
}

// Delete godoc
// @Summary Delete mark
// @Tags Marks
// @Param id path string true "Mark ID"
// @Success 204 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [delete]
func (h *MarkHandler) Delete(c *gin.Context) {
	id, actor, ok := h.authorizeMark(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *MarkHandler) authorizeMark(c *gin.Context) (string, models.Actor, bool) {
	actor, ok := currentActor(c)
	if !ok {
		return "", actor, false
	}
	id := c.Param("id")
	if !authorize(c, h.access.ManageMark(c.Request.Context(), actor, id)) {
		return "", actor, false
	}
	return id, actor, true
}
