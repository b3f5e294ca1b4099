package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/middleware"
	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/internal/service"
	"github.com/noah-isme/sma-grading-api/pkg/response"
)

type gradeService interface {
	StudentGrade(ctx context.Context, studentID string) (*models.StudentGrade, error)
	DetectTrend(ctx context.Context, studentID string, lookback int) (*grading.TrendResult, error)
	StudentPrediction(ctx context.Context, studentID string) (*grading.Prediction, error)
	Dashboard(ctx context.Context, studentID string) (*models.StudentDashboard, error)
	StudentMarks(ctx context.Context, studentID string, publishedOnly bool, limit int) ([]models.MarkDetail, error)
	ListAlerts(ctx context.Context, studentID string, includeDismissed bool) ([]models.Alert, error)
	DismissAlert(ctx context.Context, studentID, alertID string) error
	ClassGrades(ctx context.Context, classID string) ([]models.GradeSnapshotDetail, error)
	RecalculateClass(ctx context.Context, classID string) (*models.RecalculationSummary, error)
	ClassStatisticsCached(ctx context.Context, classID string) (*models.ClassStatistics, bool, error)
}

type gradebookExporter interface {
	Gradebook(ctx context.Context, classID, format string) (*service.ExportedFile, error)
}

// GradeHandler serves computed grades, trends, predictions, alerts and class reports.
type GradeHandler struct {
	grades   gradeService
	students studentResolver
	access   accessPolicy
	exporter gradebookExporter
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(grades gradeService, students studentResolver, access accessPolicy, exporter gradebookExporter) *GradeHandler {
	return &GradeHandler{grades: grades, students: students, access: access, exporter: exporter}
}

// StudentGrade godoc
// @Summary Current grade of a student
// @Description Weighted total, percentage, letter and per-assessment breakdown
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/grade [get]
func (h *GradeHandler) StudentGrade(c *gin.Context) {
	studentID, _, ok := studentFromPath(c, h.students, h.access)
	if !ok {
		return
	}
	grade, err := h.grades.StudentGrade(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Trend godoc
// @Summary Score trend of a student
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID or me"
// @Param lookback query int false "Number of recent marks to inspect"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/trend [get]
func (h *GradeHandler) Trend(c *gin.Context) {
	studentID, _, ok := studentFromPath(c, h.students, h.access)
	if !ok {
		return
	}
	trend, err := h.grades.DetectTrend(c.Request.Context(), studentID, queryInt(c, "lookback", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trend, nil)
}

// Prediction godoc
// @Summary Predicted final grade of a student
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/prediction [get]
func (h *GradeHandler) Prediction(c *gin.Context) {
	studentID, _, ok := studentFromPath(c, h.students, h.access)
	if !ok {
		return
	}
	prediction, err := h.grades.StudentPrediction(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prediction, nil)
}

// Dashboard godoc
// @Summary Student dashboard
// @Description Grade, trend, prediction, recent marks and open alerts in one payload
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/dashboard [get]
func (h *GradeHandler) Dashboard(c *gin.Context) {
	studentID, _, ok := studentFromPath(c, h.students, h.access)
	if !ok {
		return
	}
	dashboard, err := h.grades.Dashboard(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// Marks godoc
// @Summary Marks of a student
// @Description Students and parents only see published marks
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID or me"
// @Param published_only query bool false "Hide drafts (staff only)"
// @Param limit query int false "Maximum number of marks"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/marks [get]
func (h *GradeHandler) Marks(c *gin.Context) {
	studentID, actor, ok := studentFromPath(c, h.students, h.access)
	if !ok {
		return
	}
	publishedOnly := !actor.Role.IsStaff()
	if v := queryBool(c, "published_only"); v != nil && *v {
		publishedOnly = true
	}
	marks, err := h.grades.StudentMarks(c.Request.Context(), studentID, publishedOnly, queryInt(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, marks, nil)
}

// Alerts godoc
// @Summary Grade alerts of a student
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID or me"
// @Param include_dismissed query bool false "Include dismissed alerts"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/alerts [get]
func (h *GradeHandler) Alerts(c *gin.Context) {
	studentID, _, ok := studentFromPath(c, h.students, h.access)
	if !ok {
		return
	}
	includeDismissed := false
	if v := queryBool(c, "include_dismissed"); v != nil {
		includeDismissed = *v
	}
	alerts, err := h.grades.ListAlerts(c.Request.Context(), studentID, includeDismissed)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, nil)
}

// DismissAlert godoc
// @Summary Dismiss an alert
// @Tags Grades
// @Param id path string true "Student ID or me"
// @Param alertId path string true "Alert ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/alerts/{alertId}/dismiss [post]
func (h *GradeHandler) DismissAlert(c *gin.Context) {
	studentID, _, ok := studentFromPath(c, h.students, h.access)
	if !ok {
		return
	}
	if err := h.grades.DismissAlert(c.Request.Context(), studentID, c.Param("alertId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ClassGrades godoc
// @Summary Grade snapshots of a class
// @Tags Grades
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/grades [get]
func (h *GradeHandler) ClassGrades(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	grades, err := h.grades.ClassGrades(c.Request.Context(), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}

// Recalculate godoc
// @Summary Recalculate every grade of a class
// @Description Students are processed independently; failures are reported per student
// @Tags Grades
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/recalculate [post]
func (h *GradeHandler) Recalculate(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	summary, err := h.grades.RecalculateClass(c.Request.Context(), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Statistics godoc
// @Summary Class statistics
// @Description Average, spread, letter distribution and students at risk; served from cache when warm
// @Tags Grades
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/statistics [get]
func (h *GradeHandler) Statistics(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	stats, hit, err := h.grades.ClassStatisticsCached(c.Request.Context(), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export the class gradebook
// @Tags Grades
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Class ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /classes/{id}/export [get]
func (h *GradeHandler) Export(c *gin.Context) {
	classID, _, ok := classFromPath(c, h.access)
	if !ok {
		return
	}
	file, err := h.exporter.Gradebook(c.Request.Context(), classID, c.DefaultQuery("format", service.ExportFormatCSV))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Data)
}
