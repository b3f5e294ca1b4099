package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-grading-api/internal/grading"
	"github.com/noah-isme/sma-grading-api/internal/models"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error)
	ExistsByName(ctx context.Context, teacherID, name, academicYear, excludeID string) (bool, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

type userLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type weightReader interface {
	SumActiveWeights(ctx context.Context, exec sqlx.ExtContext, classID, excludeID string) (float64, error)
}

// CreateClassRequest captures creation payload. Teachers always own the classes they create;
// admins must name the teacher.
type CreateClassRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Subject      string `json:"subject" validate:"required,max=100"`
	AcademicYear string `json:"academic_year" validate:"required,max=20"`
	TeacherID    string `json:"teacher_id"`
}

// UpdateClassRequest modifies class fields.
type UpdateClassRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Subject      string `json:"subject" validate:"required,max=100"`
	AcademicYear string `json:"academic_year" validate:"required,max=20"`
	TeacherID    string `json:"teacher_id"`
	Active       *bool  `json:"active"`
}

// ClassService coordinates class operations.
type ClassService struct {
	repo      classRepository
	users     userLookup
	weights   weightReader
	cfg       grading.Config
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, users userLookup, weights weightReader, cfg grading.Config, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, users: users, weights: weights, cfg: cfg.WithDefaults(), validator: validate, logger: logger}
}

// List returns classes with pagination metadata. Teachers only see their own classes.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter, actor models.Actor) ([]models.ClassDetail, *models.Pagination, error) {
	if actor.Role == models.RoleTeacher {
		filter.TeacherID = actor.UserID
	}
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	if classes == nil {
		classes = []models.ClassDetail{}
	}
	return classes, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns detailed class information including its weight summary.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	total, err := s.weights.SumActiveWeights(ctx, nil, id, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum assessment weights")
	}
	summary := weightSummary(s.cfg, total)
	detail.WeightSummary = &summary
	return detail, nil
}

// Create adds a new class.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest, actor models.Actor) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	teacherID, err := s.resolveTeacher(ctx, req.TeacherID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, teacherID, req.Name, req.AcademicYear, ""); err != nil {
		return nil, err
	}

	class := &models.Class{
		Name:         strings.TrimSpace(req.Name),
		Subject:      strings.TrimSpace(req.Subject),
		AcademicYear: strings.TrimSpace(req.AcademicYear),
		TeacherID:    teacherID,
		Active:       true,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	return class, nil
}

// Update modifies a class record. Only admins may hand a class over to another teacher.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest, actor models.Actor) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	teacherID := class.TeacherID
	if req.TeacherID != "" && req.TeacherID != class.TeacherID {
		if actor.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can reassign classes")
		}
		if teacherID, err = s.resolveTeacher(ctx, req.TeacherID, actor); err != nil {
			return nil, err
		}
	}
	if err := s.ensureUniqueName(ctx, teacherID, req.Name, req.AcademicYear, id); err != nil {
		return nil, err
	}

	class.Name = strings.TrimSpace(req.Name)
	class.Subject = strings.TrimSpace(req.Subject)
	class.AcademicYear = strings.TrimSpace(req.AcademicYear)
	class.TeacherID = teacherID
	if req.Active != nil {
		class.Active = *req.Active
	}
	if err := s.repo.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	return class, nil
}

// Delete removes a class together with its assessment types, snapshots and alerts.
func (s *ClassService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	return nil
}

func (s *ClassService) resolveTeacher(ctx context.Context, requested string, actor models.Actor) (string, error) {
	if actor.Role == models.RoleTeacher {
		if requested != "" && requested != actor.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "teachers can only own their classes")
		}
		return actor.UserID, nil
	}
	if requested == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "teacher_id is required")
	}
	user, err := s.users.FindByID(ctx, requested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if user.Role != models.RoleTeacher || !user.Active {
		return "", appErrors.Clone(appErrors.ErrValidation, "teacher_id must reference an active teacher")
	}
	return user.ID, nil
}

func (s *ClassService) ensureUniqueName(ctx context.Context, teacherID, name, year, excludeID string) error {
	exists, err := s.repo.ExistsByName(ctx, teacherID, strings.TrimSpace(name), strings.TrimSpace(year), excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class name")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "class name already exists for this academic year")
	}
	return nil
}
