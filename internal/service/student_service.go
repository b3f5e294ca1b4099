package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-grading-api/internal/models"
	"github.com/noah-isme/sma-grading-api/pkg/database"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	UpdateClass(ctx context.Context, exec sqlx.ExtContext, id string, classID *string) error
	UpdateParent(ctx context.Context, id string, parentID *string) error
	UpdateParentAccess(ctx context.Context, id string, allow bool) error
}

type studentUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
}

type classFinder interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

// CreateStudentRequest registers a STUDENT account together with its student record.
type CreateStudentRequest struct {
	Email             string  `json:"email" validate:"required,email"`
	Password          string  `json:"password" validate:"required,min=8"`
	FullName          string  `json:"full_name" validate:"required,max=255"`
	StudentNumber     string  `json:"student_number" validate:"required,max=50"`
	ClassID           *string `json:"class_id"`
	ParentID          *string `json:"parent_id"`
	AllowParentAccess bool    `json:"allow_parent_access"`
}

// AssignClassRequest moves a student into a class. A nil class removes the assignment.
type AssignClassRequest struct {
	ClassID *string `json:"class_id"`
}

// LinkParentRequest links or unlinks a PARENT user.
type LinkParentRequest struct {
	ParentID *string `json:"parent_id"`
}

// ParentAccessRequest toggles parent visibility of grades.
type ParentAccessRequest struct {
	Allow *bool `json:"allow" validate:"required"`
}

// StudentService manages student records and their links to classes and parents.
type StudentService struct {
	db        database.TxBeginner
	repo      studentRepository
	users     studentUserStore
	classes   classFinder
	grades    gradeRecalculator
	cache     *CacheService
	audit     auditLogWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(db database.TxBeginner, repo studentRepository, users studentUserStore, classes classFinder, grades gradeRecalculator, cache *CacheService, audit auditLogWriter, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		db:        db,
		repo:      repo,
		users:     users,
		classes:   classes,
		grades:    grades,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// List returns students filtered by class or parent.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if students == nil {
		students = []models.StudentDetail{}
	}
	return students, paginationFor(filter.Page, filter.PageSize, total), nil
}

// ListChildren returns the students linked to a parent account.
func (s *StudentService) ListChildren(ctx context.Context, parentID string) ([]models.StudentDetail, error) {
	students, _, err := s.repo.List(ctx, models.StudentFilter{ParentID: parentID, Page: 1, PageSize: 100})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list children")
	}
	if students == nil {
		students = []models.StudentDetail{}
	}
	return students, nil
}

// Get returns detailed student information.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Resolve maps a path reference to a student id. "me" resolves to the caller's own record.
func (s *StudentService) Resolve(ctx context.Context, ref string, actor models.Actor) (string, error) {
	if ref != "me" {
		return ref, nil
	}
	if actor.Role != models.RoleStudent {
		return "", appErrors.Clone(appErrors.ErrValidation, "only students can use the me reference")
	}
	student, err := s.repo.FindByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "student record not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	return student.ID, nil
}

// Create stores the user account and the student row in one transaction.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actor models.Actor) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	number := strings.TrimSpace(req.StudentNumber)

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	}
	if exists, err = s.repo.ExistsByNumber(ctx, number); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student number already exists")
	}
	if req.ClassID != nil {
		if _, err := s.loadClass(ctx, *req.ClassID); err != nil {
			return nil, err
		}
	}
	if req.ParentID != nil {
		if err := s.ensureParent(ctx, *req.ParentID); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         models.RoleStudent,
		Active:       true,
	}
	student := &models.Student{
		StudentNumber:     number,
		ClassID:           req.ClassID,
		ParentID:          req.ParentID,
		AllowParentAccess: req.AllowParentAccess,
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.users.Create(ctx, tx, user); err != nil {
			return err
		}
		student.UserID = user.ID
		return s.repo.Create(ctx, tx, student)
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email or student number already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionStudentCreate, "students", student.ID, nil,
		map[string]interface{}{"user_id": user.ID, "student_number": student.StudentNumber, "class_id": student.ClassID})

	return &models.StudentDetail{Student: *student, FullName: user.FullName, Email: user.Email}, nil
}

// AssignClass moves a student and computes their grade in the new class within the same transaction.
func (s *StudentService) AssignClass(ctx context.Context, id string, req AssignClassRequest, actor models.Actor) (*models.StudentDetail, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ClassID != nil {
		if _, err := s.loadClass(ctx, *req.ClassID); err != nil {
			return nil, err
		}
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.repo.UpdateClass(ctx, tx, id, req.ClassID); err != nil {
			return err
		}
		if req.ClassID == nil {
			return nil
		}
		_, err := s.grades.RecalculateStudentTx(ctx, tx, id, *req.ClassID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign class")
	}

	if current.ClassID != nil {
		s.cache.InvalidateClass(ctx, *current.ClassID)
	}
	if req.ClassID != nil {
		s.cache.InvalidateClass(ctx, *req.ClassID)
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionClassChange, "students", id,
		map[string]interface{}{"class_id": current.ClassID}, map[string]interface{}{"class_id": req.ClassID})

	return s.Get(ctx, id)
}

// LinkParent sets or clears the parent of a student.
func (s *StudentService) LinkParent(ctx context.Context, id string, req LinkParentRequest) (*models.StudentDetail, error) {
	if req.ParentID != nil {
		if err := s.ensureParent(ctx, *req.ParentID); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateParent(ctx, id, req.ParentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link parent")
	}
	return s.Get(ctx, id)
}

// SetParentAccess lets a student decide whether the linked parent may read their grades.
func (s *StudentService) SetParentAccess(ctx context.Context, id string, req ParentAccessRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid parent access payload")
	}
	if err := s.repo.UpdateParentAccess(ctx, id, *req.Allow); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update parent access")
	}
	return s.Get(ctx, id)
}

func (s *StudentService) loadClass(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !class.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class is inactive")
	}
	return class, nil
}

func (s *StudentService) ensureParent(ctx context.Context, id string) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "parent not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
	}
	if user.Role != models.RoleParent {
		return appErrors.Clone(appErrors.ErrValidation, "parent_id must reference a PARENT user")
	}
	return nil
}
