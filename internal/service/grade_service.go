package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/pkg/database"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

const dashboardRecentMarks = 5

type gradeMarkReader interface {
	ListPublishedForStudent(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) ([]models.PublishedMark, error)
	ListRecentPublished(ctx context.Context, studentID string, limit int) ([]models.PublishedMark, error)
	ListByStudent(ctx context.Context, studentID string, publishedOnly bool, limit int) ([]models.MarkDetail, error)
}

type gradeAssessmentReader interface {
	ListActive(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.AssessmentType, error)
	SumActiveWeights(ctx context.Context, exec sqlx.ExtContext, classID, excludeID string) (float64, error)
}

type snapshotStore interface {
	Get(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, forUpdate bool) (*models.GradeSnapshot, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, snap *models.GradeSnapshot) error
	Update(ctx context.Context, exec sqlx.ExtContext, snap *models.GradeSnapshot) error
	Delete(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) error
	ListByClass(ctx context.Context, classID string) ([]models.GradeSnapshotDetail, error)
}

type rosterReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ListIDsByClass(ctx context.Context, classID string) ([]string, error)
}

type alertStore interface {
	ExistsOpen(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, alertType models.AlertType, severity string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, alert *models.Alert) error
	ResolveOpen(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, alertType models.AlertType, keepSeverity string) error
	ListByStudent(ctx context.Context, studentID string, includeDismissed bool) ([]models.Alert, error)
	Dismiss(ctx context.Context, studentID, id string) error
}

// GradeService computes, persists and reports derived student grades. Every snapshot
// write happens inside a transaction holding a per (student, class) advisory lock.
type GradeService struct {
	db          database.TxBeginner
	marks       gradeMarkReader
	assessments gradeAssessmentReader
	snapshots   snapshotStore
	students    rosterReader
	alerts      alertStore
	calc        *grading.Calculator
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	statsTTL    time.Duration
	now         func() time.Time
}

// NewGradeService constructs GradeService.
func NewGradeService(db database.TxBeginner, marks gradeMarkReader, assessments gradeAssessmentReader, snapshots snapshotStore, students rosterReader, alerts alertStore, calc *grading.Calculator, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *GradeService {
	if calc == nil {
		calc = grading.NewCalculator(grading.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		db:          db,
		marks:       marks,
		assessments: assessments,
		snapshots:   snapshots,
		students:    students,
		alerts:      alerts,
		calc:        calc,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Calculator exposes the grading engine shared with other services.
func (s *GradeService) Calculator() *grading.Calculator {
	return s.calc
}

// SetStatisticsTTL overrides the cache lifetime of class statistics.
func (s *GradeService) SetStatisticsTTL(ttl time.Duration) {
	s.statsTTL = ttl
}

func gradeLockKey(studentID, classID string) string {
	return fmt.Sprintf("grade:student:%s:class:%s", studentID, classID)
}

// ComputeGrade returns the live grade of a student in a class without persisting it.
func (s *GradeService) ComputeGrade(ctx context.Context, studentID, classID string) (*grading.Result, error) {
	result, _, err := s.compute(ctx, nil, studentID, classID)
	if err != nil {
		return nil, s.computationError(err, "compute grade", studentID, classID)
	}
	return &result, nil
}

// compute loads active assessment types and published marks through exec and runs the engine.
// The most recent published mark per assessment type is used.
func (s *GradeService) compute(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) (grading.Result, []models.PublishedMark, error) {
	active, err := s.assessments.ListActive(ctx, exec, classID)
	if err != nil {
		return grading.Result{}, nil, err
	}
	marks, err := s.marks.ListPublishedForStudent(ctx, exec, studentID, classID)
	if err != nil {
		return grading.Result{}, nil, err
	}

	components := make([]grading.Component, 0, len(active))
	for _, t := range active {
		components = append(components, grading.Component{
			ID:           t.ID,
			Name:         t.Name,
			Weight:       t.Weight,
			MaxScore:     t.MaxScore,
			DisplayOrder: t.DisplayOrder,
		})
	}
	latest := make(map[string]grading.MarkInput, len(marks))
	for _, m := range marks {
		if _, seen := latest[m.AssessmentTypeID]; seen {
			continue
		}
		latest[m.AssessmentTypeID] = grading.MarkInput{Score: m.Score, MaxScore: m.MaxScore}
	}

	result, err := s.calc.Compute(components, latest)
	if err != nil {
		return grading.Result{}, nil, err
	}
	return result, marks, nil
}

// RecalculateStudent recomputes and persists the snapshot of a student in a class. A nil
// snapshot means the student has no graded marks and any previous snapshot was removed.
func (s *GradeService) RecalculateStudent(ctx context.Context, studentID, classID string) (*models.GradeSnapshot, error) {
	start := time.Now()
	var snap *models.GradeSnapshot
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		snap, err = s.RecalculateStudentTx(ctx, tx, studentID, classID)
		return err
	})
	if err != nil {
		s.metrics.ObserveRecalculation(RecalcScopeStudent, RecalcOutcomeFailed, time.Since(start))
		return nil, s.computationError(err, "recalculate student", studentID, classID)
	}
	s.metrics.ObserveRecalculation(RecalcScopeStudent, recalcOutcome(snap), time.Since(start))
	s.cache.InvalidateClass(ctx, classID)
	return snap, nil
}

// RecalculateStudentTx performs the recalculation inside a caller-owned transaction so a mark
// write and the snapshot it affects commit or roll back together. Callers invalidate the class
// cache once the transaction commits.
func (s *GradeService) RecalculateStudentTx(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.GradeSnapshot, error) {
	if err := database.LockKey(ctx, tx, gradeLockKey(studentID, classID)); err != nil {
		return nil, err
	}

	result, marks, err := s.compute(ctx, tx, studentID, classID)
	if err != nil {
		return nil, err
	}

	existing, err := s.snapshots.Get(ctx, tx, studentID, classID, true)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var snap *models.GradeSnapshot
	if !result.HasData() {
		if existing != nil {
			if err := s.snapshots.Delete(ctx, tx, studentID, classID); err != nil {
				return nil, err
			}
		}
	} else {
		breakdown, err := json.Marshal(result.Breakdown)
		if err != nil {
			return nil, fmt.Errorf("encode breakdown: %w", err)
		}
		snap = &models.GradeSnapshot{
			StudentID:            studentID,
			ClassID:              classID,
			CurrentTotal:         result.CurrentTotal,
			Percentage:           result.Percentage,
			GradeLetter:          result.GradeLetter,
			Breakdown:            types.JSONText(breakdown),
			HasAllMarks:          result.HasAllMarks,
			TotalWeightCompleted: result.TotalWeightCompleted,
			ComputedAt:           s.now(),
		}
		if existing != nil {
			snap.ID = existing.ID
			err = s.snapshots.Update(ctx, tx, snap)
		} else {
			err = s.snapshots.Insert(ctx, tx, snap)
		}
		if err != nil {
			return nil, err
		}
	}

	trend := grading.DetectTrend(s.normalizedScores(marks), s.calc.Config().Trend())
	if err := s.syncAlerts(ctx, tx, studentID, classID, result, trend); err != nil {
		return nil, err
	}
	return snap, nil
}

// RecalculateClass recalculates every student of a class, one transaction per student.
// A failing student is reported in the summary and never aborts the others.
func (s *GradeService) RecalculateClass(ctx context.Context, classID string) (*models.RecalculationSummary, error) {
	start := time.Now()
	ids, err := s.students.ListIDsByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}

	summary := &models.RecalculationSummary{ClassID: classID, Total: len(ids), Errors: []models.RecalculationError{}}
	for _, studentID := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var snap *models.GradeSnapshot
		err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
			var err error
			snap, err = s.RecalculateStudentTx(ctx, tx, studentID, classID)
			return err
		})
		if err != nil {
			s.logger.Error("student recalculation failed",
				zap.String("class_id", classID),
				zap.String("student_id", studentID),
				zap.Error(err))
			summary.Errors = append(summary.Errors, models.RecalculationError{StudentID: studentID, Error: appErrors.ErrComputation.Message})
			continue
		}
		summary.Updated++
		if snap == nil {
			summary.Cleared++
		}
	}

	outcome := RecalcOutcomeUpdated
	if len(summary.Errors) > 0 {
		outcome = RecalcOutcomeFailed
	}
	s.metrics.ObserveRecalculation(RecalcScopeClass, outcome, time.Since(start))
	s.cache.InvalidateClass(ctx, classID)
	s.logger.Info("class recalculated",
		zap.String("class_id", classID),
		zap.Int("total", summary.Total),
		zap.Int("updated", summary.Updated),
		zap.Int("cleared", summary.Cleared),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

// DetectTrend classifies the trajectory of a student's most recent published marks.
// A lookback below two falls back to the configured window.
func (s *GradeService) DetectTrend(ctx context.Context, studentID string, lookback int) (*grading.TrendResult, error) {
	cfg := s.calc.Config().Trend()
	if lookback >= 2 {
		cfg.Lookback = lookback
	}
	marks, err := s.marks.ListRecentPublished(ctx, studentID, cfg.Lookback)
	if err != nil {
		return nil, s.computationError(err, "detect trend", studentID, "")
	}
	result := grading.DetectTrend(s.normalizedScores(marks), cfg)
	return &result, nil
}

// PredictFinal extrapolates the current grade of a student to the end of term.
func (s *GradeService) PredictFinal(ctx context.Context, studentID, classID string) (*grading.Prediction, error) {
	result, err := s.ComputeGrade(ctx, studentID, classID)
	if err != nil {
		return nil, err
	}
	prediction := s.calc.Predict(*result)
	return &prediction, nil
}

// StudentGrade computes the live grade of a student in the class they are assigned to.
func (s *GradeService) StudentGrade(ctx context.Context, studentID string) (*models.StudentGrade, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.ClassID == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not assigned to a class")
	}
	result, err := s.ComputeGrade(ctx, student.ID, *student.ClassID)
	if err != nil {
		return nil, err
	}
	return &models.StudentGrade{StudentID: student.ID, ClassID: *student.ClassID, Result: *result}, nil
}

// StudentPrediction predicts the final grade of a student in their current class.
func (s *GradeService) StudentPrediction(ctx context.Context, studentID string) (*grading.Prediction, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.ClassID == nil {
		prediction := s.calc.Predict(grading.Result{})
		return &prediction, nil
	}
	return s.PredictFinal(ctx, student.ID, *student.ClassID)
}

// Dashboard assembles the grade, trend, prediction, recent marks and open alerts of a student.
func (s *GradeService) Dashboard(ctx context.Context, studentID string) (*models.StudentDashboard, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	dashboard := &models.StudentDashboard{Student: *student}
	if student.ClassID != nil {
		result, err := s.ComputeGrade(ctx, student.ID, *student.ClassID)
		if err != nil {
			return nil, err
		}
		prediction := s.calc.Predict(*result)
		dashboard.Grade = result
		dashboard.Prediction = &prediction
	}

	trend, err := s.DetectTrend(ctx, student.ID, 0)
	if err != nil {
		return nil, err
	}
	dashboard.Trend = *trend

	recent, err := s.marks.ListByStudent(ctx, student.ID, true, dashboardRecentMarks)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recent marks")
	}
	alerts, err := s.alerts.ListByStudent(ctx, student.ID, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load alerts")
	}
	dashboard.RecentMarks = nonNilMarks(recent)
	dashboard.Alerts = nonNilAlerts(alerts)
	return dashboard, nil
}

// ClassGrades lists the persisted snapshots of the students of a class.
func (s *GradeService) ClassGrades(ctx context.Context, classID string) ([]models.GradeSnapshotDetail, error) {
	snaps, err := s.snapshots.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class grades")
	}
	if snaps == nil {
		snaps = []models.GradeSnapshotDetail{}
	}
	return snaps, nil
}

// ClassStatistics summarises the snapshots of a class. Results are cached until the next
// recalculation touching the class.
func (s *GradeService) ClassStatistics(ctx context.Context, classID string) (*models.ClassStatistics, error) {
	stats, _, err := s.ClassStatisticsCached(ctx, classID)
	return stats, err
}

// ClassStatisticsCached is ClassStatistics that also reports whether the cache served the result.
func (s *GradeService) ClassStatisticsCached(ctx context.Context, classID string) (*models.ClassStatistics, bool, error) {
	key := classStatisticsKey(classID)
	var cached models.ClassStatistics
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	snaps, err := s.ClassGrades(ctx, classID)
	if err != nil {
		return nil, false, err
	}
	ids, err := s.students.ListIDsByClass(ctx, classID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	weights, err := s.assessments.SumActiveWeights(ctx, nil, classID, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum assessment weights")
	}

	totals := make([]float64, 0, len(snaps))
	atRisk := []models.AtRiskStudent{}
	for _, snap := range snaps {
		if snap.CurrentTotal == nil {
			continue
		}
		total := *snap.CurrentTotal
		totals = append(totals, total)
		if level := s.calc.RiskLevel(total); level != grading.RiskNone {
			atRisk = append(atRisk, models.AtRiskStudent{
				StudentID:    snap.StudentID,
				StudentName:  snap.StudentName,
				CurrentTotal: total,
				Severity:     level,
			})
		}
	}

	stats := &models.ClassStatistics{
		ClassID:       classID,
		StudentCount:  len(ids),
		GradedCount:   len(totals),
		Summary:       s.calc.Summarize(totals),
		AtRisk:        atRisk,
		WeightSummary: weightSummary(s.calc.Config(), weights),
		GeneratedAt:   s.now(),
	}
	if err := s.cache.Set(ctx, key, stats, s.statsTTL); err != nil {
		s.logger.Debug("class statistics not cached", zap.String("class_id", classID), zap.Error(err))
	}
	return stats, false, nil
}

// StudentMarks lists the marks of a student, newest first. Drafts are hidden when publishedOnly is set.
func (s *GradeService) StudentMarks(ctx context.Context, studentID string, publishedOnly bool, limit int) ([]models.MarkDetail, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	marks, err := s.marks.ListByStudent(ctx, studentID, publishedOnly, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marks")
	}
	return nonNilMarks(marks), nil
}

// ListAlerts returns the alerts of a student.
func (s *GradeService) ListAlerts(ctx context.Context, studentID string, includeDismissed bool) ([]models.Alert, error) {
	alerts, err := s.alerts.ListByStudent(ctx, studentID, includeDismissed)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list alerts")
	}
	return nonNilAlerts(alerts), nil
}

// DismissAlert hides one alert of a student.
func (s *GradeService) DismissAlert(ctx context.Context, studentID, alertID string) error {
	if err := s.alerts.Dismiss(ctx, studentID, alertID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "alert not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dismiss alert")
	}
	return nil
}

// syncAlerts raises LOW_GRADE and DECLINING_TREND alerts for the new state and dismisses
// the open ones that no longer apply. An identical open alert is never duplicated.
// Alerts are per class: the trend is taken from the student's marks in classID only, unlike
// DetectTrend which looks at the newest marks across all classes.
func (s *GradeService) syncAlerts(ctx context.Context, tx sqlx.ExtContext, studentID, classID string, result grading.Result, trend grading.TrendResult) error {
	level := grading.RiskNone
	if result.CurrentTotal != nil {
		level = s.calc.RiskLevel(*result.CurrentTotal)
	}
	if err := s.alerts.ResolveOpen(ctx, tx, studentID, classID, models.AlertTypeLowGrade, level); err != nil {
		return err
	}
	if level != grading.RiskNone {
		threshold := s.calc.Config().WarningThreshold
		if level == grading.RiskCritical {
			threshold = s.calc.Config().CriticalThreshold
		}
		msg := fmt.Sprintf("Current grade %s/%s is below %s", formatScore(*result.CurrentTotal), formatScore(s.calc.Config().MaxScore), formatScore(threshold))
		if err := s.raiseAlert(ctx, tx, studentID, classID, models.AlertTypeLowGrade, level, msg); err != nil {
			return err
		}
	}

	if !trend.IsDeclining {
		return s.alerts.ResolveOpen(ctx, tx, studentID, classID, models.AlertTypeDeclining, grading.RiskNone)
	}
	msg := fmt.Sprintf("Recent marks are declining (%s)", trend.Trend)
	return s.raiseAlert(ctx, tx, studentID, classID, models.AlertTypeDeclining, models.AlertSeverityWarning, msg)
}

func (s *GradeService) raiseAlert(ctx context.Context, tx sqlx.ExtContext, studentID, classID string, alertType models.AlertType, severity, message string) error {
	exists, err := s.alerts.ExistsOpen(ctx, tx, studentID, classID, alertType, severity)
	if err != nil || exists {
		return err
	}
	if err := s.alerts.Create(ctx, tx, &models.Alert{
		StudentID: studentID,
		ClassID:   classID,
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
		CreatedAt: s.now(),
	}); err != nil {
		return err
	}
	s.metrics.RecordAlert(string(alertType), severity)
	return nil
}

func (s *GradeService) normalizedScores(marks []models.PublishedMark) []float64 {
	scale := s.calc.Config().MaxScore
	scores := make([]float64, 0, len(marks))
	for _, m := range marks {
		maxScore := m.MaxScore
		if maxScore <= 0 {
			maxScore = scale
		}
		v, err := grading.Normalize(m.Score, maxScore, scale)
		if err != nil {
			continue
		}
		scores = append(scores, v)
	}
	return scores
}

func (s *GradeService) loadStudent(ctx context.Context, studentID string) (*models.StudentDetail, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// computationError logs unexpected failures and hides them behind an opaque ComputationError.
// Typed errors pass through untouched.
func (s *GradeService) computationError(err error, op, studentID, classID string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error("grade computation failed",
		zap.String("op", op),
		zap.String("student_id", studentID),
		zap.String("class_id", classID),
		zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrComputation.Code, appErrors.ErrComputation.Status, appErrors.ErrComputation.Message)
}

func recalcOutcome(snap *models.GradeSnapshot) string {
	if snap == nil {
		return RecalcOutcomeCleared
	}
	return RecalcOutcomeUpdated
}

func weightSummary(cfg grading.Config, total float64) models.WeightSummary {
	total = grading.Round2(total)
	return models.WeightSummary{
		IsValid:     cfg.WeightComplete(total),
		TotalWeight: total,
		Remaining:   grading.Round2(grading.FullWeight - total),
	}
}

func formatScore(v float64) string {
	return fmt.Sprintf("%g", grading.Round2(v))
}

func nonNilMarks(marks []models.MarkDetail) []models.MarkDetail {
	if marks == nil {
		return []models.MarkDetail{}
	}
	return marks
}

func nonNilAlerts(alerts []models.Alert) []models.Alert {
	if alerts == nil {
		return []models.Alert{}
	}
	return alerts
}
