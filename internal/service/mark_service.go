package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/pkg/database"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

const markDateLayout = "2006-01-02"

type markStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MarkDetail, error)
	List(ctx context.Context, filter models.MarkFilter) ([]models.MarkDetail, int, error)
	ExistsDuplicate(ctx context.Context, exec sqlx.ExtContext, studentID, assessmentTypeID string, date time.Time, excludeID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, mark *models.Mark) error
	Update(ctx context.Context, exec sqlx.ExtContext, mark *models.Mark) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type markAssessmentReader interface {
	FindByID(ctx context.Context, id string) (*models.AssessmentType, error)
}

type markStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type gradeRecalculator interface {
	RecalculateStudentTx(ctx context.Context, tx *sqlx.Tx, studentID, classID string) (*models.GradeSnapshot, error)
}

// CreateMarkRequest is the payload for recording a mark.
type CreateMarkRequest struct {
	StudentID        string            `json:"student_id" validate:"required"`
	AssessmentTypeID string            `json:"assessment_type_id" validate:"required"`
	Score            *float64          `json:"score" validate:"required"`
	AssessmentDate   string            `json:"assessment_date" validate:"required,datetime=2006-01-02"`
	Status           models.MarkStatus `json:"status" validate:"omitempty,oneof=draft published"`
	Comments         *string           `json:"comments" validate:"omitempty,max=1000"`
}

// UpdateMarkRequest changes the mutable fields of a mark; nil fields are kept.
type UpdateMarkRequest struct {
	Score          *float64           `json:"score"`
	AssessmentDate *string            `json:"assessment_date" validate:"omitempty,datetime=2006-01-02"`
	Status         *models.MarkStatus `json:"status" validate:"omitempty,oneof=draft published"`
	Comments       *string            `json:"comments" validate:"omitempty,max=1000"`
}

// BulkMarkRequest records several marks of one class atomically.
type BulkMarkRequest struct {
	Marks []CreateMarkRequest `json:"marks" validate:"required,min=1,max=500,dive"`
}

// BulkMarkFailure reports why one item of a bulk request was rejected.
type BulkMarkFailure struct {
	Index     int    `json:"index"`
	StudentID string `json:"student_id"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

// BulkMarkResult lists the marks created by a bulk request.
type BulkMarkResult struct {
	Created int           `json:"created"`
	Marks   []models.Mark `json:"marks"`
}

// MarkService records marks and keeps grade snapshots consistent with them. Each write and
// the recalculation it triggers share one transaction.
type MarkService struct {
	db          database.TxBeginner
	marks       markStore
	assessments markAssessmentReader
	students    markStudentReader
	grades      gradeRecalculator
	cache       *CacheService
	audit       auditLogWriter
	cfg         grading.Config
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewMarkService constructs MarkService.
func NewMarkService(db database.TxBeginner, marks markStore, assessments markAssessmentReader, students markStudentReader, grades gradeRecalculator, cache *CacheService, audit auditLogWriter, cfg grading.Config, validate *validator.Validate, logger *zap.Logger) *MarkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkService{
		db:          db,
		marks:       marks,
		assessments: assessments,
		students:    students,
		grades:      grades,
		cache:       cache,
		audit:       audit,
		cfg:         cfg.WithDefaults(),
		validator:   validate,
		logger:      logger,
	}
}

// Get returns a mark by ID.
func (s *MarkService) Get(ctx context.Context, id string) (*models.MarkDetail, error) {
	mark, err := s.marks.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "mark not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mark")
	}
	return mark, nil
}

// List returns the marks of a class with pagination metadata.
func (s *MarkService) List(ctx context.Context, filter models.MarkFilter) ([]models.MarkDetail, *models.Pagination, error) {
	if filter.Status != nil && *filter.Status != models.MarkStatusDraft && *filter.Status != models.MarkStatusPublished {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "status must be draft or published")
	}
	marks, total, err := s.marks.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marks")
	}
	if marks == nil {
		marks = []models.MarkDetail{}
	}
	return marks, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Create validates and stores a mark, then recalculates the student's grade in the same transaction.
func (s *MarkService) Create(ctx context.Context, classID string, req CreateMarkRequest, actor models.Actor) (*models.Mark, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	mark, err := s.prepare(ctx, classID, req, actor)
	if err != nil {
		return nil, err
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return s.insert(ctx, tx, classID, mark)
	})
	if err != nil {
		return nil, s.writeError(err, "failed to create mark")
	}

	s.cache.InvalidateClass(ctx, classID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionMarkCreate, "marks", mark.ID, nil,
		map[string]interface{}{"student_id": mark.StudentID, "assessment_type_id": mark.AssessmentTypeID, "score": mark.Score, "status": mark.Status})
	return mark, nil
}

// BulkCreate records every mark or none. Items are validated up front and all failures are
// reported together; the writes and recalculations then run in a single transaction.
func (s *MarkService) BulkCreate(ctx context.Context, classID string, req BulkMarkRequest, actor models.Actor) (*BulkMarkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk mark payload")
	}

	marks := make([]*models.Mark, 0, len(req.Marks))
	failures := []BulkMarkFailure{}
	seen := make(map[string]int, len(req.Marks))
	for i, item := range req.Marks {
		mark, err := s.prepare(ctx, classID, item, actor)
		if err != nil {
			appErr := appErrors.FromError(err)
			failures = append(failures, BulkMarkFailure{Index: i, StudentID: item.StudentID, Code: appErr.Code, Reason: appErr.Message})
			continue
		}
		key := fmt.Sprintf("%s/%s/%s", mark.StudentID, mark.AssessmentTypeID, mark.AssessmentDate.Format(markDateLayout))
		if first, dup := seen[key]; dup {
			failures = append(failures, BulkMarkFailure{Index: i, StudentID: item.StudentID, Code: appErrors.ErrDuplicateMark.Code, Reason: fmt.Sprintf("duplicates item %d", first)})
			continue
		}
		seen[key] = i
		marks = append(marks, mark)
	}
	if len(failures) > 0 {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "bulk mark payload rejected"), map[string]interface{}{"failures": failures})
	}

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		recalculated := make(map[string]struct{}, len(marks))
		for _, mark := range marks {
			if err := s.write(ctx, tx, mark); err != nil {
				return err
			}
		}
		for _, mark := range marks {
			if _, done := recalculated[mark.StudentID]; done {
				continue
			}
			recalculated[mark.StudentID] = struct{}{}
			if _, err := s.grades.RecalculateStudentTx(ctx, tx, mark.StudentID, classID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.writeError(err, "failed to create marks")
	}

	s.cache.InvalidateClass(ctx, classID)
	result := &BulkMarkResult{Created: len(marks), Marks: make([]models.Mark, 0, len(marks))}
	for _, mark := range marks {
		result.Marks = append(result.Marks, *mark)
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionMarkCreate, "marks", "", nil,
		map[string]interface{}{"class_id": classID, "count": len(marks)})
	return result, nil
}

// Update changes a mark and recalculates the affected grade atomically.
func (s *MarkService) Update(ctx context.Context, id string, req UpdateMarkRequest, actor models.Actor) (*models.Mark, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	mark := current.Mark
	old := map[string]interface{}{"score": mark.Score, "assessment_date": mark.AssessmentDate.Format(markDateLayout), "status": mark.Status}
	if req.Score != nil {
		if !s.cfg.ScoreInRange(*req.Score) {
			return nil, s.scoreError(*req.Score)
		}
		mark.Score = grading.Round2(*req.Score)
	}
	dateChanged := false
	if req.AssessmentDate != nil {
		date, err := time.Parse(markDateLayout, *req.AssessmentDate)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment_date")
		}
		dateChanged = !date.Equal(mark.AssessmentDate)
		mark.AssessmentDate = date
	}
	if req.Status != nil {
		mark.Status = *req.Status
	}
	if req.Comments != nil {
		mark.Comments = req.Comments
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if dateChanged {
			dup, err := s.marks.ExistsDuplicate(ctx, tx, mark.StudentID, mark.AssessmentTypeID, mark.AssessmentDate, mark.ID)
			if err != nil {
				return err
			}
			if dup {
				return appErrors.Clone(appErrors.ErrDuplicateMark, "")
			}
		}
		if err := s.marks.Update(ctx, tx, &mark); err != nil {
			return err
		}
		_, err := s.grades.RecalculateStudentTx(ctx, tx, mark.StudentID, current.ClassID)
		return err
	})
	if err != nil {
		return nil, s.writeError(err, "failed to update mark")
	}

	s.cache.InvalidateClass(ctx, current.ClassID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionMarkUpdate, "marks", mark.ID, old,
		map[string]interface{}{"score": mark.Score, "assessment_date": mark.AssessmentDate.Format(markDateLayout), "status": mark.Status})
	return &mark, nil
}

// Delete removes a mark and recalculates the affected grade atomically.
func (s *MarkService) Delete(ctx context.Context, id string, actor models.Actor) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.marks.Delete(ctx, tx, id); err != nil {
			return err
		}
		_, err := s.grades.RecalculateStudentTx(ctx, tx, current.StudentID, current.ClassID)
		return err
	})
	if err != nil {
		return s.writeError(err, "failed to delete mark")
	}

	s.cache.InvalidateClass(ctx, current.ClassID)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionMarkDelete, "marks", id,
		map[string]interface{}{"student_id": current.StudentID, "score": current.Score}, nil)
	return nil
}

// prepare checks a create request against the class, assessment type and student and
// builds the mark to persist. It performs no writes.
func (s *MarkService) prepare(ctx context.Context, classID string, req CreateMarkRequest, actor models.Actor) (*models.Mark, error) {
	if req.Score == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score is required")
	}
	if !s.cfg.ScoreInRange(*req.Score) {
		return nil, s.scoreError(*req.Score)
	}
	date, err := time.Parse(markDateLayout, req.AssessmentDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment_date")
	}

	assessment, err := s.assessments.FindByID(ctx, req.AssessmentTypeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment type")
	}
	if assessment.ClassID != classID {
		return nil, appErrors.Clone(appErrors.ErrAssessmentClassMismatch, "")
	}
	if !assessment.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assessment type is inactive")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.ClassID == nil || *student.ClassID != classID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not assigned to this class")
	}

	status := req.Status
	if status == "" {
		status = models.MarkStatusPublished
	}
	mark := &models.Mark{
		StudentID:        student.ID,
		AssessmentTypeID: assessment.ID,
		Score:            grading.Round2(*req.Score),
		AssessmentDate:   date,
		Status:           status,
		Comments:         req.Comments,
	}
	if actor.UserID != "" {
		enteredBy := actor.UserID
		mark.EnteredBy = &enteredBy
	}
	return mark, nil
}

func (s *MarkService) insert(ctx context.Context, tx *sqlx.Tx, classID string, mark *models.Mark) error {
	if err := s.write(ctx, tx, mark); err != nil {
		return err
	}
	_, err := s.grades.RecalculateStudentTx(ctx, tx, mark.StudentID, classID)
	return err
}

func (s *MarkService) write(ctx context.Context, tx *sqlx.Tx, mark *models.Mark) error {
	dup, err := s.marks.ExistsDuplicate(ctx, tx, mark.StudentID, mark.AssessmentTypeID, mark.AssessmentDate, "")
	if err != nil {
		return err
	}
	if dup {
		return appErrors.Clone(appErrors.ErrDuplicateMark, "")
	}
	return s.marks.Create(ctx, tx, mark)
}

func (s *MarkService) scoreError(score float64) error {
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrScoreOutOfRange, fmt.Sprintf("score must be between %g and %g", s.cfg.MinScore, s.cfg.MaxScore)),
		map[string]interface{}{"score": score, "min": s.cfg.MinScore, "max": s.cfg.MaxScore})
}

// writeError maps transaction failures; a unique violation means a concurrent duplicate won the race.
func (s *MarkService) writeError(err error, message string) error {
	if database.IsUniqueViolation(err) {
		return appErrors.Clone(appErrors.ErrDuplicateMark, "")
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "mark not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func paginationFor(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}
