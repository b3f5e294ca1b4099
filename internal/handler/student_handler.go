package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/internal/service"
	"github.com/noah-isme/sma-grading-api/pkg/response"
)

type studentService interface {
	studentResolver
	Get(ctx context.Context, id string) (*models.StudentDetail, error)
	ListChildren(ctx context.Context, parentID string) ([]models.StudentDetail, error)
	Create(ctx context.Context, req service.CreateStudentRequest, actor models.Actor) (*models.StudentDetail, error)
	AssignClass(ctx context.Context, id string, req service.AssignClassRequest, actor models.Actor) (*models.StudentDetail, error)
	LinkParent(ctx context.Context, id string, req service.LinkParentRequest) (*models.StudentDetail, error)
	SetParentAccess(ctx context.Context, id string, req service.ParentAccessRequest) (*models.StudentDetail, error)
}

// StudentHandler exposes student records. The :id path parameter accepts "me" for students.
type StudentHandler struct {
	service studentService
	access  accessPolicy
}

// NewStudentHandler constructs the handler.
func NewStudentHandler(svc studentService, access accessPolicy) *StudentHandler {
	return &StudentHandler{service: svc, access: access}
}

// Create godoc
// @Summary Register a student
// @Description Creates the STUDENT user account and the student record together
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.CreateStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.service.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Get godoc
// @Summary Get student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	id, _, ok := studentFromPath(c, h.service, h.access)
	if !ok {
		return
	}
	student, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// AssignClass godoc
// @Summary Move a student to another class
// @Description The grade in the new class is recalculated in the same transaction
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.AssignClassRequest true "Class"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/class [put]
func (h *StudentHandler) AssignClass(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.AssignClassRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.service.AssignClass(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// LinkParent godoc
// @Summary Link a parent account
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.LinkParentRequest true "Parent"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/parent [put]
func (h *StudentHandler) LinkParent(c *gin.Context) {
	var req service.LinkParentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.service.LinkParent(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// SetParentAccess godoc
// @Summary Grant or revoke parent access to grades
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID or me"
// @Param payload body service.ParentAccessRequest true "Access flag"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/parent-access [put]
func (h *StudentHandler) SetParentAccess(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id, err := h.service.Resolve(ctx, c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !authorize(c, h.access.ManageStudentPrivacy(ctx, actor, id)) {
		return
	}
	var req service.ParentAccessRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.service.SetParentAccess(ctx, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Children godoc
// @Summary List the children linked to the current parent
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /parents/me/children [get]
func (h *StudentHandler) Children(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	children, err := h.service.ListChildren(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, children, nil)
}
