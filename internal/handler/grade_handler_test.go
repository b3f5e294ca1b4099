package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/middleware"
	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/internal/service"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type gradeServiceFake struct {
	lookback      int
	publishedOnly bool
	dismissed     []string
	statsHit      bool
	recalculated  string
}

func (f *gradeServiceFake) StudentGrade(ctx context.Context, studentID string) (*models.StudentGrade, error) {
	total := 17.2
	return &models.StudentGrade{StudentID: studentID, ClassID: "class-a", Result: grading.Result{CurrentTotal: &total}}, nil
}

func (f *gradeServiceFake) DetectTrend(ctx context.Context, studentID string, lookback int) (*grading.TrendResult, error) {
	f.lookback = lookback
	return &grading.TrendResult{Trend: grading.TrendStable}, nil
}

func (f *gradeServiceFake) StudentPrediction(ctx context.Context, studentID string) (*grading.Prediction, error) {
	return &grading.Prediction{}, nil
}

func (f *gradeServiceFake) Dashboard(ctx context.Context, studentID string) (*models.StudentDashboard, error) {
	return &models.StudentDashboard{Student: models.StudentDetail{Student: models.Student{ID: studentID}}}, nil
}

func (f *gradeServiceFake) StudentMarks(ctx context.Context, studentID string, publishedOnly bool, limit int) ([]models.MarkDetail, error) {
	f.publishedOnly = publishedOnly
	return []models.MarkDetail{}, nil
}

func (f *gradeServiceFake) ListAlerts(ctx context.Context, studentID string, includeDismissed bool) ([]models.Alert, error) {
	return []models.Alert{{ID: "alert-1", StudentID: studentID, AlertType: models.AlertTypeLowGrade}}, nil
}

func (f *gradeServiceFake) DismissAlert(ctx context.Context, studentID, alertID string) error {
	if alertID != "alert-1" {
		return appErrors.Clone(appErrors.ErrNotFound, "alert not found")
	}
	f.dismissed = append(f.dismissed, studentID+"/"+alertID)
	return nil
}

func (f *gradeServiceFake) ClassGrades(ctx context.Context, classID string) ([]models.GradeSnapshotDetail, error) {
	return []models.GradeSnapshotDetail{}, nil
}

func (f *gradeServiceFake) RecalculateClass(ctx context.Context, classID string) (*models.RecalculationSummary, error) {
	f.recalculated = classID
	return &models.RecalculationSummary{ClassID: classID, Total: 3, Updated: 3, Errors: []models.RecalculationError{}}, nil
}

func (f *gradeServiceFake) ClassStatisticsCached(ctx context.Context, classID string) (*models.ClassStatistics, bool, error) {
	return &models.ClassStatistics{ClassID: classID, StudentCount: 3}, f.statsHit, nil
}

type exporterFake struct {
	format string
}

func (f *exporterFake) Gradebook(ctx context.Context, classID, format string) (*service.ExportedFile, error) {
	f.format = format
	if format == "xlsx" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	return &service.ExportedFile{Filename: "gradebook-x-ipa-1-20241105.csv", ContentType: "text/csv; charset=utf-8", Data: []byte("Student Number,Name\n")}, nil
}

func newGradeHandlerFixture(policy *policyFake) (*GradeHandler, *gradeServiceFake, *exporterFake) {
	grades := &gradeServiceFake{}
	exporter := &exporterFake{}
	return NewGradeHandler(grades, meResolver{"user-1": "stu-1"}, policy, exporter), grades, exporter
}

func TestGradeHandlerStudentGradeForMe(t *testing.T) {
	h, _, _ := newGradeHandlerFixture(denyPolicy())

	c, rec := newTestContext(http.MethodGet, "/students/me/grade", nil)
	withUser(c, "user-1", models.RoleStudent)
	withParams(c, "id", "me")
	h.StudentGrade(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var grade models.StudentGrade
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &grade))
	assert.Equal(t, "stu-1", grade.StudentID)
	require.NotNil(t, grade.Result.CurrentTotal)
	assert.Equal(t, 17.2, *grade.Result.CurrentTotal)
}

func TestGradeHandlerParentWithoutConsentIsForbidden(t *testing.T) {
	h, _, _ := newGradeHandlerFixture(denyPolicy("stu-2"))

	c, rec := newTestContext(http.MethodGet, "/students/stu-2/dashboard", nil)
	withUser(c, "parent-1", models.RoleParent)
	withParams(c, "id", "stu-2")
	h.Dashboard(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGradeHandlerTrendLookback(t *testing.T) {
	h, grades, _ := newGradeHandlerFixture(denyPolicy())

	c, rec := newTestContext(http.MethodGet, "/students/stu-1/trend?lookback=5", nil)
	withUser(c, "teacher-a", models.RoleTeacher)
	withParams(c, "id", "stu-1")
	h.Trend(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, grades.lookback)
}

func TestGradeHandlerMarksHideDraftsFromFamilies(t *testing.T) {
	cases := []struct {
		role models.UserRole
		want bool
	}{
		{models.RoleParent, true},
		{models.RoleStudent, true},
		{models.RoleTeacher, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			h, grades, _ := newGradeHandlerFixture(denyPolicy())
			c, rec := newTestContext(http.MethodGet, "/students/stu-1/marks", nil)
			withUser(c, "user-x", tc.role)
			withParams(c, "id", "stu-1")
			h.Marks(c)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.want, grades.publishedOnly)
		})
	}
}

func TestGradeHandlerDismissAlert(t *testing.T) {
	h, grades, _ := newGradeHandlerFixture(denyPolicy())

	c, _ := newTestContext(http.MethodPost, "/students/stu-1/alerts/alert-1/dismiss", nil)
	withUser(c, "user-1", models.RoleStudent)
	withParams(c, "id", "stu-1", "alertId", "alert-1")
	h.DismissAlert(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, []string{"stu-1/alert-1"}, grades.dismissed)

	c, rec := newTestContext(http.MethodPost, "/students/stu-1/alerts/other/dismiss", nil)
	withUser(c, "user-1", models.RoleStudent)
	withParams(c, "id", "stu-1", "alertId", "other")
	h.DismissAlert(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGradeHandlerStatisticsReportsCacheHit(t *testing.T) {
	h, grades, _ := newGradeHandlerFixture(denyPolicy())
	grades.statsHit = true

	c, rec := newTestContext(http.MethodGet, "/classes/class-a/statistics", nil)
	middleware.WithResponseMeta()(c)
	withUser(c, "teacher-a", models.RoleTeacher)
	withParams(c, "id", "class-a")
	h.Statistics(c)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Contains(t, env.Meta, "processing_time_ms")
}

func TestGradeHandlerRecalculate(t *testing.T) {
	h, grades, _ := newGradeHandlerFixture(denyPolicy("class-b"))

	c, rec := newTestContext(http.MethodPost, "/classes/class-b/recalculate", nil)
	withUser(c, "teacher-a", models.RoleTeacher)
	withParams(c, "id", "class-b")
	h.Recalculate(c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, grades.recalculated)

	c, rec = newTestContext(http.MethodPost, "/classes/class-a/recalculate", nil)
	withUser(c, "teacher-a", models.RoleTeacher)
	withParams(c, "id", "class-a")
	h.Recalculate(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "class-a", grades.recalculated)
}

func TestGradeHandlerExport(t *testing.T) {
	h, _, exporter := newGradeHandlerFixture(denyPolicy())

	c, rec := newTestContext(http.MethodGet, "/classes/class-a/export", nil)
	withUser(c, "teacher-a", models.RoleTeacher)
	withParams(c, "id", "class-a")
	h.Export(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, `attachment; filename="gradebook-x-ipa-1-20241105.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	c, rec = newTestContext(http.MethodGet, "/classes/class-a/export?format=xlsx", nil)
	withUser(c, "teacher-a", models.RoleTeacher)
	withParams(c, "id", "class-a")
	h.Export(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
