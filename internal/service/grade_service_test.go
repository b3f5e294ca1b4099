package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

func newTxDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func expectLockedTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
}

type markStoreFake struct {
	published map[string][]models.PublishedMark
	details   []models.MarkDetail
	err       error
}

func (f *markStoreFake) ListPublishedForStudent(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) ([]models.PublishedMark, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.published[studentID], nil
}

func (f *markStoreFake) ListRecentPublished(ctx context.Context, studentID string, limit int) ([]models.PublishedMark, error) {
	marks := f.published[studentID]
	if len(marks) > limit {
		marks = marks[:limit]
	}
	return marks, nil
}

func (f *markStoreFake) ListByStudent(ctx context.Context, studentID string, publishedOnly bool, limit int) ([]models.MarkDetail, error) {
	return f.details, nil
}

type assessmentReaderFake struct {
	types []models.AssessmentType
}

func (f *assessmentReaderFake) ListActive(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.AssessmentType, error) {
	return f.types, nil
}

func (f *assessmentReaderFake) SumActiveWeights(ctx context.Context, exec sqlx.ExtContext, classID, excludeID string) (float64, error) {
	var total float64
	for _, t := range f.types {
		if t.ID != excludeID && t.Active {
			total += t.Weight
		}
	}
	return total, nil
}

type snapshotStoreFake struct {
	rows    map[string]*models.GradeSnapshot
	inserts int
	updates int
	deletes int
	details []models.GradeSnapshotDetail
}

func newSnapshotStoreFake() *snapshotStoreFake {
	return &snapshotStoreFake{rows: map[string]*models.GradeSnapshot{}}
}

func (f *snapshotStoreFake) Get(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, forUpdate bool) (*models.GradeSnapshot, error) {
	snap, ok := f.rows[studentID+"/"+classID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *snap
	return &copied, nil
}

func (f *snapshotStoreFake) Insert(ctx context.Context, exec sqlx.ExtContext, snap *models.GradeSnapshot) error {
	f.inserts++
	snap.ID = "snap-" + snap.StudentID
	copied := *snap
	f.rows[snap.StudentID+"/"+snap.ClassID] = &copied
	return nil
}

func (f *snapshotStoreFake) Update(ctx context.Context, exec sqlx.ExtContext, snap *models.GradeSnapshot) error {
	f.updates++
	copied := *snap
	f.rows[snap.StudentID+"/"+snap.ClassID] = &copied
	return nil
}

func (f *snapshotStoreFake) Delete(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) error {
	f.deletes++
	delete(f.rows, studentID+"/"+classID)
	return nil
}

func (f *snapshotStoreFake) ListByClass(ctx context.Context, classID string) ([]models.GradeSnapshotDetail, error) {
	return f.details, nil
}

type rosterFake struct {
	students map[string]*models.StudentDetail
	ids      []string
}

func (f *rosterFake) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (f *rosterFake) ListIDsByClass(ctx context.Context, classID string) ([]string, error) {
	return f.ids, nil
}

type alertStoreFake struct {
	open      []models.Alert
	created   []models.Alert
	dismissed []string
}

func (f *alertStoreFake) ExistsOpen(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, alertType models.AlertType, severity string) (bool, error) {
	for _, a := range f.open {
		if a.StudentID == studentID && a.ClassID == classID && a.AlertType == alertType && a.Severity == severity {
			return true, nil
		}
	}
	return false, nil
}

func (f *alertStoreFake) Create(ctx context.Context, exec sqlx.ExtContext, alert *models.Alert) error {
	f.created = append(f.created, *alert)
	f.open = append(f.open, *alert)
	return nil
}

func (f *alertStoreFake) ResolveOpen(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, alertType models.AlertType, keepSeverity string) error {
	kept := f.open[:0]
	for _, a := range f.open {
		if a.StudentID == studentID && a.ClassID == classID && a.AlertType == alertType && a.Severity != keepSeverity {
			f.dismissed = append(f.dismissed, string(a.AlertType)+":"+a.Severity)
			continue
		}
		kept = append(kept, a)
	}
	f.open = kept
	return nil
}

func (f *alertStoreFake) ListByStudent(ctx context.Context, studentID string, includeDismissed bool) ([]models.Alert, error) {
	return f.open, nil
}

func (f *alertStoreFake) Dismiss(ctx context.Context, studentID, id string) error {
	if id != "alert-1" {
		return sql.ErrNoRows
	}
	return nil
}

func classAssessments() []models.AssessmentType {
	return []models.AssessmentType{
		{ID: "mid", Name: "Midterm", Weight: 30, MaxScore: 20, DisplayOrder: 1, Active: true},
		{ID: "fin", Name: "Final", Weight: 40, MaxScore: 20, DisplayOrder: 2, Active: true},
		{ID: "hw", Name: "Homework", Weight: 15, MaxScore: 20, DisplayOrder: 3, Active: true},
		{ID: "quiz", Name: "Quiz", Weight: 15, MaxScore: 20, DisplayOrder: 4, Active: true},
	}
}

func publishedMark(typeID string, score float64, daysAgo int) models.PublishedMark {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysAgo)
	return models.PublishedMark{AssessmentTypeID: typeID, Score: score, MaxScore: 20, AssessmentDate: day, EnteredAt: day}
}

type gradeFixture struct {
	db        *sqlx.DB
	mock      sqlmock.Sqlmock
	marks     *markStoreFake
	types     *assessmentReaderFake
	snapshots *snapshotStoreFake
	roster    *rosterFake
	alerts    *alertStoreFake
	svc       *GradeService
}

func newGradeFixture(t *testing.T) *gradeFixture {
	db, mock := newTxDB(t)
	classID := "class-1"
	f := &gradeFixture{
		db:        db,
		mock:      mock,
		marks:     &markStoreFake{published: map[string][]models.PublishedMark{}},
		types:     &assessmentReaderFake{types: classAssessments()},
		snapshots: newSnapshotStoreFake(),
		roster: &rosterFake{students: map[string]*models.StudentDetail{
			"stu-1": {Student: models.Student{ID: "stu-1", ClassID: &classID}, FullName: "Student One"},
		}, ids: []string{"stu-1"}},
		alerts: &alertStoreFake{},
	}
	f.svc = NewGradeService(db, f.marks, f.types, f.snapshots, f.roster, f.alerts, grading.NewCalculator(grading.DefaultConfig()), nil, NewMetricsService(), nil)
	return f
}

func TestComputeGradeWeightedTotal(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.published["stu-1"] = []models.PublishedMark{
		publishedMark("mid", 18, 30), publishedMark("fin", 16, 1), publishedMark("hw", 19, 20), publishedMark("quiz", 17, 10),
	}

	result, err := f.svc.ComputeGrade(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	require.NotNil(t, result.CurrentTotal)
	assert.InDelta(t, 17.2, *result.CurrentTotal, 0.001)
	assert.True(t, result.HasAllMarks)
	assert.Equal(t, "B", *result.GradeLetter)
}

func TestComputeGradeUsesLatestMarkPerType(t *testing.T) {
	f := newGradeFixture(t)
	f.types.types = f.types.types[2:3]
	f.marks.published["stu-1"] = []models.PublishedMark{publishedMark("hw", 20, 1), publishedMark("hw", 8, 10)}

	result, err := f.svc.ComputeGrade(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, *result.CurrentTotal)
}

func TestComputeGradeFailureIsOpaque(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.err = errors.New("connection reset")

	_, err := f.svc.ComputeGrade(context.Background(), "stu-1", "class-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrComputation.Code, appErr.Code)
	assert.NotContains(t, appErr.Message, "connection reset")
}

func TestRecalculateStudentCreatesThenUpdatesSnapshot(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.published["stu-1"] = []models.PublishedMark{publishedMark("hw", 20, 1)}

	expectLockedTx(f.mock)
	f.mock.ExpectCommit()
	expectLockedTx(f.mock)
	f.mock.ExpectCommit()

	first, err := f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 20.0, *first.CurrentTotal)
	assert.False(t, first.HasAllMarks)
	assert.Equal(t, 15.0, first.TotalWeightCompleted)

	second, err := f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.snapshots.inserts)
	assert.Equal(t, 1, f.snapshots.updates)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, *first.CurrentTotal, *second.CurrentTotal)
	assert.Equal(t, *first.Percentage, *second.Percentage)
	assert.JSONEq(t, string(first.Breakdown), string(second.Breakdown))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRecalculateStudentDeletesSnapshotWithoutMarks(t *testing.T) {
	f := newGradeFixture(t)
	total := 15.0
	f.snapshots.rows["stu-1/class-1"] = &models.GradeSnapshot{ID: "old", StudentID: "stu-1", ClassID: "class-1", CurrentTotal: &total}

	expectLockedTx(f.mock)
	f.mock.ExpectCommit()

	snap, err := f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Equal(t, 1, f.snapshots.deletes)
	assert.Empty(t, f.snapshots.rows)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRecalculateStudentRollsBackOnFailure(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.err = errors.New("boom")

	expectLockedTx(f.mock)
	f.mock.ExpectRollback()

	_, err := f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrComputation.Code, appErrors.FromError(err).Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRecalculateStudentRaisesAndResolvesLowGradeAlerts(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.published["stu-1"] = []models.PublishedMark{publishedMark("hw", 8, 1)}

	expectLockedTx(f.mock)
	f.mock.ExpectCommit()
	_, err := f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	require.Len(t, f.alerts.created, 1)
	assert.Equal(t, models.AlertTypeLowGrade, f.alerts.created[0].AlertType)
	assert.Equal(t, models.AlertSeverityCritical, f.alerts.created[0].Severity)

	expectLockedTx(f.mock)
	f.mock.ExpectCommit()
	_, err = f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Len(t, f.alerts.created, 1, "identical open alert must not be duplicated")

	f.marks.published["stu-1"] = []models.PublishedMark{publishedMark("hw", 19, 1)}
	expectLockedTx(f.mock)
	f.mock.ExpectCommit()
	_, err = f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Empty(t, f.alerts.open)
	assert.Contains(t, f.alerts.dismissed, "LOW_GRADE:critical")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRecalculateStudentRaisesDecliningAlert(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.published["stu-1"] = []models.PublishedMark{
		publishedMark("quiz", 14, 1), publishedMark("hw", 16, 5), publishedMark("mid", 18, 10),
	}

	expectLockedTx(f.mock)
	f.mock.ExpectCommit()
	_, err := f.svc.RecalculateStudent(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	require.Len(t, f.alerts.created, 1)
	assert.Equal(t, models.AlertTypeDeclining, f.alerts.created[0].AlertType)
	assert.Equal(t, models.AlertSeverityWarning, f.alerts.created[0].Severity)
}

func TestRecalculateClassIsolatesFailures(t *testing.T) {
	f := newGradeFixture(t)
	f.roster.ids = []string{"stu-1", "stu-2", "stu-3"}
	f.marks.published["stu-1"] = []models.PublishedMark{publishedMark("hw", 18, 1)}

	expectLockedTx(f.mock)
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectExec("pg_advisory_xact_lock").WillReturnError(errors.New("lock timeout"))
	f.mock.ExpectRollback()
	expectLockedTx(f.mock)
	f.mock.ExpectCommit()

	summary, err := f.svc.RecalculateClass(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Cleared)
	assert.Equal(t, summary.Total, summary.Updated+len(summary.Errors))
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "stu-2", summary.Errors[0].StudentID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDetectTrendNormalizesRecentMarks(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.published["stu-1"] = []models.PublishedMark{
		{AssessmentTypeID: "a", Score: 7, MaxScore: 10},
		{AssessmentTypeID: "b", Score: 16, MaxScore: 20},
		{AssessmentTypeID: "c", Score: 18, MaxScore: 20},
		{AssessmentTypeID: "d", Score: 2, MaxScore: 20},
	}

	trend, err := f.svc.DetectTrend(context.Background(), "stu-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{14, 16, 18}, trend.RecentScores)
	assert.True(t, trend.IsDeclining)
	assert.Equal(t, grading.TrendConsistentDecline, trend.Trend)
}

func TestPredictFinalWithoutMarks(t *testing.T) {
	f := newGradeFixture(t)

	prediction, err := f.svc.PredictFinal(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Nil(t, prediction.PredictedTotal)
	assert.Equal(t, grading.ConfidenceLow, prediction.Confidence)
}

func TestStudentGradeRequiresClass(t *testing.T) {
	f := newGradeFixture(t)
	f.roster.students["stu-2"] = &models.StudentDetail{Student: models.Student{ID: "stu-2"}}

	_, err := f.svc.StudentGrade(context.Background(), "stu-2")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.StudentGrade(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestDashboardAggregates(t *testing.T) {
	f := newGradeFixture(t)
	f.marks.published["stu-1"] = []models.PublishedMark{publishedMark("mid", 15, 1)}
	f.alerts.open = []models.Alert{{ID: "alert-1", StudentID: "stu-1", AlertType: models.AlertTypeLowGrade, Severity: models.AlertSeverityWarning}}

	dashboard, err := f.svc.Dashboard(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NotNil(t, dashboard.Grade)
	assert.Equal(t, 15.0, *dashboard.Grade.CurrentTotal)
	require.NotNil(t, dashboard.Prediction)
	assert.Equal(t, grading.ConfidenceLow, dashboard.Prediction.Confidence)
	assert.Equal(t, grading.TrendInsufficientData, dashboard.Trend.Trend)
	assert.Empty(t, dashboard.RecentMarks)
	assert.Len(t, dashboard.Alerts, 1)
}

func TestClassStatisticsSummarisesSnapshots(t *testing.T) {
	f := newGradeFixture(t)
	f.roster.ids = []string{"stu-1", "stu-2", "stu-3"}
	t1, t2 := 18.5, 9.0
	f.snapshots.details = []models.GradeSnapshotDetail{
		{GradeSnapshot: models.GradeSnapshot{StudentID: "stu-1", CurrentTotal: &t1}, StudentName: "Ana"},
		{GradeSnapshot: models.GradeSnapshot{StudentID: "stu-2", CurrentTotal: &t2}, StudentName: "Ben"},
	}

	stats, err := f.svc.ClassStatistics(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.StudentCount)
	assert.Equal(t, 2, stats.GradedCount)
	assert.Equal(t, 13.75, *stats.Summary.Average)
	require.Len(t, stats.AtRisk, 1)
	assert.Equal(t, "Ben", stats.AtRisk[0].StudentName)
	assert.Equal(t, grading.RiskCritical, stats.AtRisk[0].Severity)
	assert.True(t, stats.WeightSummary.IsValid)
	assert.Equal(t, 0.0, stats.WeightSummary.Remaining)
}

func TestDismissAlertNotFound(t *testing.T) {
	f := newGradeFixture(t)
	require.NoError(t, f.svc.DismissAlert(context.Background(), "stu-1", "alert-1"))
	assert.ErrorIs(t, f.svc.DismissAlert(context.Background(), "stu-1", "other"), appErrors.ErrNotFound)
}

func TestClassStatisticsCachedReportsHits(t *testing.T) {
	f := newGradeFixture(t)
	f.svc.cache = NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	total := 15.0
	f.snapshots.details = []models.GradeSnapshotDetail{
		{GradeSnapshot: models.GradeSnapshot{StudentID: "stu-1", CurrentTotal: &total}, StudentName: "Ana"},
	}

	first, hit, err := f.svc.ClassStatisticsCached(context.Background(), "class-1")
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := f.svc.ClassStatisticsCached(context.Background(), "class-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.GradedCount, second.GradedCount)
	assert.Equal(t, *first.Summary.Average, *second.Summary.Average)
}

type unwritableCacheRepo struct {
	*memoryCacheRepo
}

func (unwritableCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("redis: connection pool timeout")
}

func TestClassStatisticsCacheWriteFailureIsLogged(t *testing.T) {
	f := newGradeFixture(t)
	core, logs := observer.New(zapcore.DebugLevel)
	f.svc.logger = zap.New(core)
	f.svc.cache = NewCacheService(unwritableCacheRepo{newMemoryCacheRepo()}, nil, time.Minute, nil, true)
	total := 15.0
	f.snapshots.details = []models.GradeSnapshotDetail{
		{GradeSnapshot: models.GradeSnapshot{StudentID: "stu-1", CurrentTotal: &total}, StudentName: "Ana"},
	}

	stats, hit, err := f.svc.ClassStatisticsCached(context.Background(), "class-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, stats.GradedCount)

	entries := logs.FilterMessage("class statistics not cached").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "class-1", entries[0].ContextMap()["class_id"])
}

func TestStudentMarksNeverNil(t *testing.T) {
	f := newGradeFixture(t)

	marks, err := f.svc.StudentMarks(context.Background(), "stu-1", true, 0)
	require.NoError(t, err)
	assert.NotNil(t, marks)
	assert.Empty(t, marks)

	f.marks.details = []models.MarkDetail{{Mark: models.Mark{ID: "m1", StudentID: "stu-1"}}}
	marks, err = f.svc.StudentMarks(context.Background(), "stu-1", false, 50)
	require.NoError(t, err)
	assert.Len(t, marks, 1)
}
