package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-grading-api/internal/middleware"
	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
	"github.com/noah-isme/sma-grading-api/pkg/response"
)

// accessPolicy is the subset of service.AccessPolicy the handlers consult before acting.
type accessPolicy interface {
	ManageClass(ctx context.Context, actor models.Actor, classID string) error
	ViewStudent(ctx context.Context, actor models.Actor, studentID string) error
	ManageStudentPrivacy(ctx context.Context, actor models.Actor, studentID string) error
	ManageAssessmentType(ctx context.Context, actor models.Actor, id string) error
	ManageMark(ctx context.Context, actor models.Actor, id string) error
}

type studentResolver interface {
	Resolve(ctx context.Context, ref string, actor models.Actor) (string, error)
}

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

// currentActor returns the caller or writes 401 when the request is anonymous.
func currentActor(c *gin.Context) (models.Actor, bool) {
	if claims := claimsFromContext(c); claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return middleware.Actor(c), true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if value, err := strconv.Atoi(c.Query(key)); err == nil {
		return value
	}
	return fallback
}

func queryBool(c *gin.Context, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}

// authorize runs a policy check and renders its error.
func authorize(c *gin.Context, err error) bool {
	if err != nil {
		response.Error(c, err)
		return false
	}
	return true
}

// studentFromPath resolves the :id path parameter (which may be "me") and checks the caller may
// read that student.
func studentFromPath(c *gin.Context, resolver studentResolver, access accessPolicy) (string, models.Actor, bool) {
	actor, ok := currentActor(c)
	if !ok {
		return "", actor, false
	}
	ctx := c.Request.Context()
	id, err := resolver.Resolve(ctx, c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return "", actor, false
	}
	if !authorize(c, access.ViewStudent(ctx, actor, id)) {
		return "", actor, false
	}
	return id, actor, true
}

// classFromPath checks the caller manages the class in the :id path parameter.
func classFromPath(c *gin.Context, access accessPolicy) (string, models.Actor, bool) {
	actor, ok := currentActor(c)
	if !ok {
		return "", actor, false
	}
	classID := c.Param("id")
	if !authorize(c, access.ManageClass(c.Request.Context(), actor, classID)) {
		return "", actor, false
	}
	return classID, actor, true
}
