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
	"github.com/noah-isme/sma-grading-api/pkg/database"
	appErrors "github.com/noah-isme/sma-grading-api/pkg/errors"
)

type assessmentTypeStore interface {
	ListByClass(ctx context.Context, classID string, includeInactive bool) ([]models.AssessmentType, error)
	FindByID(ctx context.Context, id string) (*models.AssessmentType, error)
	FindByIDForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.AssessmentType, error)
	SumActiveWeights(ctx context.Context, exec sqlx.ExtContext, classID, excludeID string) (float64, error)
	NextDisplayOrder(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error)
	Create(ctx context.Context, exec sqlx.ExtContext, item *models.AssessmentType) error
	Update(ctx context.Context, exec sqlx.ExtContext, item *models.AssessmentType) error
	UpdateDisplayOrder(ctx context.Context, exec sqlx.ExtContext, classID, id string, order int) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	HasMarks(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	CreateWeightHistory(ctx context.Context, exec sqlx.ExtContext, entry *models.WeightHistory) error
	ListWeightHistory(ctx context.Context, id string) ([]models.WeightHistory, error)
	Statistics(ctx context.Context, id string, excellentMin, warningBelow float64) (*models.AssessmentStatistics, error)
}

type classLocker interface {
	LockForUpdate(ctx context.Context, tx sqlx.QueryerContext, id string) error
}

type classRecalculator interface {
	RecalculateClass(ctx context.Context, classID string) (*models.RecalculationSummary, error)
}

// CreateAssessmentTypeRequest is the payload for adding an assessment type to a class.
type CreateAssessmentTypeRequest struct {
	Name         string  `json:"name" validate:"required,max=100"`
	Description  *string `json:"description" validate:"omitempty,max=500"`
	Weight       float64 `json:"weight" validate:"gt=0,lte=100"`
	DisplayOrder *int    `json:"display_order" validate:"omitempty,gte=0"`
}

// UpdateAssessmentTypeRequest changes an assessment type; nil fields are kept.
type UpdateAssessmentTypeRequest struct {
	Name         *string  `json:"name" validate:"omitempty,min=1,max=100"`
	Description  *string  `json:"description" validate:"omitempty,max=500"`
	Weight       *float64 `json:"weight" validate:"omitempty,gt=0,lte=100"`
	DisplayOrder *int     `json:"display_order" validate:"omitempty,gte=0"`
	Active       *bool    `json:"active"`
}

// ReorderAssessmentTypesRequest assigns display positions within a class.
type ReorderAssessmentTypesRequest struct {
	Items []models.AssessmentOrder `json:"items" validate:"required,min=1,dive"`
}

// AssessmentTypeList bundles the assessment types of a class with its weight summary.
type AssessmentTypeList struct {
	Items         []models.AssessmentType `json:"items"`
	WeightSummary models.WeightSummary    `json:"weight_summary"`
}

// AssessmentTypeService manages weighted assessment categories. Weight checks run under a
// lock on the class row so concurrent changes cannot jointly exceed 100%.
type AssessmentTypeService struct {
	db        database.TxBeginner
	repo      assessmentTypeStore
	classes   classLocker
	grades    classRecalculator
	audit     auditLogWriter
	cfg       grading.Config
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAssessmentTypeService constructs AssessmentTypeService.
func NewAssessmentTypeService(db database.TxBeginner, repo assessmentTypeStore, classes classLocker, grades classRecalculator, audit auditLogWriter, cfg grading.Config, validate *validator.Validate, logger *zap.Logger) *AssessmentTypeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssessmentTypeService{db: db, repo: repo, classes: classes, grades: grades, audit: audit, cfg: cfg.WithDefaults(), validator: validate, logger: logger}
}

// List returns the assessment types of a class and how far their weights are from 100%.
func (s *AssessmentTypeService) List(ctx context.Context, classID string, includeInactive bool) (*AssessmentTypeList, error) {
	items, err := s.repo.ListByClass(ctx, classID, includeInactive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessment types")
	}
	if items == nil {
		items = []models.AssessmentType{}
	}
	summary, err := s.ValidateWeights(ctx, classID)
	if err != nil {
		return nil, err
	}
	return &AssessmentTypeList{Items: items, WeightSummary: *summary}, nil
}

// Get returns an assessment type by ID.
func (s *AssessmentTypeService) Get(ctx context.Context, id string) (*models.AssessmentType, error) {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment type")
	}
	return item, nil
}

// ValidateWeights reports whether the active weights of a class add up to 100%.
func (s *AssessmentTypeService) ValidateWeights(ctx context.Context, classID string) (*models.WeightSummary, error) {
	total, err := s.repo.SumActiveWeights(ctx, nil, classID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum assessment weights")
	}
	summary := weightSummary(s.cfg, total)
	return &summary, nil
}

// Create adds an active assessment type to a class.
func (s *AssessmentTypeService) Create(ctx context.Context, classID string, req CreateAssessmentTypeRequest, actor models.Actor) (*models.AssessmentType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment type payload")
	}
	item := &models.AssessmentType{
		ClassID:     classID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Weight:      grading.Round2(req.Weight),
		MaxScore:    s.cfg.MaxScore,
		Active:      true,
	}

	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.classes.LockForUpdate(ctx, tx, classID); err != nil {
			return err
		}
		if err := s.checkWeight(ctx, tx, classID, "", item.Weight); err != nil {
			return err
		}
		if req.DisplayOrder != nil {
			item.DisplayOrder = *req.DisplayOrder
		} else {
			next, err := s.repo.NextDisplayOrder(ctx, tx, classID)
			if err != nil {
				return err
			}
			item.DisplayOrder = next
		}
		return s.repo.Create(ctx, tx, item)
	})
	if err != nil {
		return nil, s.mapError(err, "class not found", "failed to create assessment type")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionWeightChange, "assessment_types", item.ID, nil,
		map[string]interface{}{"class_id": classID, "name": item.Name, "weight": item.Weight})
	s.recalculate(ctx, classID)
	return item, nil
}

// Update changes an assessment type. Weight changes are recorded in the history and, like
// activation changes, trigger a recalculation of the whole class.
func (s *AssessmentTypeService) Update(ctx context.Context, id string, req UpdateAssessmentTypeRequest, actor models.Actor) (*models.AssessmentType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment type payload")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		item          *models.AssessmentType
		oldWeight     float64
		affectsGrades bool
	)
	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.classes.LockForUpdate(ctx, tx, current.ClassID); err != nil {
			return err
		}
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		item = locked
		oldWeight = locked.Weight
		wasActive := locked.Active

		if req.Name != nil {
			item.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			item.Description = req.Description
		}
		if req.Weight != nil {
			item.Weight = grading.Round2(*req.Weight)
		}
		if req.DisplayOrder != nil {
			item.DisplayOrder = *req.DisplayOrder
		}
		if req.Active != nil {
			item.Active = *req.Active
		}

		weightChanged := item.Weight != oldWeight
		affectsGrades = wasActive != item.Active || (item.Active && weightChanged)
		if item.Active && (weightChanged || !wasActive) {
			if err := s.checkWeight(ctx, tx, item.ClassID, item.ID, item.Weight); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		if weightChanged {
			entry := &models.WeightHistory{AssessmentTypeID: item.ID, OldWeight: oldWeight, NewWeight: item.Weight}
			if actor.UserID != "" {
				changedBy := actor.UserID
				entry.ChangedBy = &changedBy
			}
			return s.repo.CreateWeightHistory(ctx, tx, entry)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, "assessment type not found", "failed to update assessment type")
	}

	if affectsGrades {
		recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionWeightChange, "assessment_types", item.ID,
			map[string]interface{}{"weight": oldWeight}, map[string]interface{}{"weight": item.Weight, "active": item.Active})
		s.recalculate(ctx, item.ClassID)
	}
	return item, nil
}

// Deactivate removes an assessment type from grade computation while keeping its marks.
func (s *AssessmentTypeService) Deactivate(ctx context.Context, id string, actor models.Actor) (*models.AssessmentType, error) {
	inactive := false
	return s.Update(ctx, id, UpdateAssessmentTypeRequest{Active: &inactive}, actor)
}

// Delete removes an assessment type that has no marks.
func (s *AssessmentTypeService) Delete(ctx context.Context, id string, actor models.Actor) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		hasMarks, err := s.repo.HasMarks(ctx, tx, id)
		if err != nil {
			return err
		}
		if hasMarks {
			return appErrors.Clone(appErrors.ErrConflict, "assessment type has marks; deactivate it instead")
		}
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "assessment type has marks; deactivate it instead")
		}
		return s.mapError(err, "assessment type not found", "failed to delete assessment type")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionWeightChange, "assessment_types", id,
		map[string]interface{}{"name": current.Name, "weight": current.Weight}, nil)
	if current.Active {
		s.recalculate(ctx, current.ClassID)
	}
	return nil
}

// Reorder updates display positions of several assessment types of a class at once.
func (s *AssessmentTypeService) Reorder(ctx context.Context, classID string, req ReorderAssessmentTypesRequest) ([]models.AssessmentType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reorder payload")
	}
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for _, item := range req.Items {
			if err := s.repo.UpdateDisplayOrder(ctx, tx, classID, item.ID, item.DisplayOrder); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, "assessment type not found in class", "failed to reorder assessment types")
	}
	items, err := s.repo.ListByClass(ctx, classID, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessment types")
	}
	return items, nil
}

// History returns the weight changes of an assessment type, newest first.
func (s *AssessmentTypeService) History(ctx context.Context, id string) ([]models.WeightHistory, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListWeightHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load weight history")
	}
	if entries == nil {
		entries = []models.WeightHistory{}
	}
	return entries, nil
}

// Statistics aggregates the published marks of an assessment type. Excellent marks reach the
// A band; marks under the warning threshold need improvement.
func (s *AssessmentTypeService) Statistics(ctx context.Context, id string) (*models.AssessmentStatistics, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	stats, err := s.repo.Statistics(ctx, id, s.cfg.BandA, s.cfg.WarningThreshold)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute assessment statistics")
	}
	for _, v := range []*float64{stats.Average, stats.Min, stats.Max} {
		if v != nil {
			*v = grading.Round2(*v)
		}
	}
	return stats, nil
}

// checkWeight rejects a change that would push the active weights of the class over 100%.
// It must run inside the transaction holding the class lock.
func (s *AssessmentTypeService) checkWeight(ctx context.Context, tx sqlx.ExtContext, classID, excludeID string, weight float64) error {
	current, err := s.repo.SumActiveWeights(ctx, tx, classID, excludeID)
	if err != nil {
		return err
	}
	resulting := grading.Round2(current + weight)
	if s.cfg.WeightWithinLimit(resulting) {
		return nil
	}
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrWeightLimitExceeded, ""), map[string]interface{}{
		"current_total":   grading.Round2(current),
		"attempted":       weight,
		"resulting_total": resulting,
	})
}

func (s *AssessmentTypeService) recalculate(ctx context.Context, classID string) {
	if s.grades == nil {
		return
	}
	summary, err := s.grades.RecalculateClass(ctx, classID)
	if err != nil {
		s.logger.Error("class recalculation after assessment change failed", zap.String("class_id", classID), zap.Error(err))
		return
	}
	if len(summary.Errors) > 0 {
		s.logger.Warn("class recalculation finished with errors", zap.String("class_id", classID), zap.Int("errors", len(summary.Errors)))
	}
}

func (s *AssessmentTypeService) mapError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	s.logger.Error(internal, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
