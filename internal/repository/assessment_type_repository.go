package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-grading-api/internal/models"
)

const assessmentTypeColumns = `id, class_id, name, description, weight, max_score, display_order, active, created_at, updated_at`

// AssessmentTypeRepository persists weighted assessment categories of a class.
type AssessmentTypeRepository struct {
	db *sqlx.DB
}

// NewAssessmentTypeRepository constructs the repository.
func NewAssessmentTypeRepository(db *sqlx.DB) *AssessmentTypeRepository {
	return &AssessmentTypeRepository{db: db}
}

func (r *AssessmentTypeRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByClass returns the assessment types of a class in display order.
func (r *AssessmentTypeRepository) ListByClass(ctx context.Context, classID string, includeInactive bool) ([]models.AssessmentType, error) {
	query := `SELECT ` + assessmentTypeColumns + ` FROM assessment_types WHERE class_id = $1`
	if !includeInactive {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY display_order, created_at`
	var items []models.AssessmentType
	if err := r.db.SelectContext(ctx, &items, query, classID); err != nil {
		return nil, fmt.Errorf("list assessment types: %w", err)
	}
	return items, nil
}

// ListActive returns the active assessment types used for grade computation.
func (r *AssessmentTypeRepository) ListActive(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.AssessmentType, error) {
	query := `SELECT ` + assessmentTypeColumns + ` FROM assessment_types WHERE class_id = $1 AND active = TRUE ORDER BY display_order, created_at`
	var items []models.AssessmentType
	if err := sqlx.SelectContext(ctx, r.exec(exec), &items, query, classID); err != nil {
		return nil, fmt.Errorf("list active assessment types: %w", err)
	}
	return items, nil
}

// FindByID fetches an assessment type.
func (r *AssessmentTypeRepository) FindByID(ctx context.Context, id string) (*models.AssessmentType, error) {
	var item models.AssessmentType
	if err := r.db.GetContext(ctx, &item, `SELECT `+assessmentTypeColumns+` FROM assessment_types WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByIDForUpdate fetches and row-locks an assessment type inside tx.
func (r *AssessmentTypeRepository) FindByIDForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.AssessmentType, error) {
	var item models.AssessmentType
	if err := sqlx.GetContext(ctx, tx, &item, `SELECT `+assessmentTypeColumns+` FROM assessment_types WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// SumActiveWeights totals the active weights of a class, optionally ignoring one type.
func (r *AssessmentTypeRepository) SumActiveWeights(ctx context.Context, exec sqlx.ExtContext, classID, excludeID string) (float64, error) {
	query := `SELECT COALESCE(SUM(weight), 0) FROM assessment_types WHERE class_id = $1 AND active = TRUE`
	args := []interface{}{classID}
	if excludeID != "" {
		query += ` AND id <> $2`
		args = append(args, excludeID)
	}
	var total float64
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, args...); err != nil {
		return 0, fmt.Errorf("sum assessment weights: %w", err)
	}
	return total, nil
}

// NextDisplayOrder returns the position after the last assessment type of the class.
func (r *AssessmentTypeRepository) NextDisplayOrder(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error) {
	var next int
	if err := sqlx.GetContext(ctx, r.exec(exec), &next, `SELECT COALESCE(MAX(display_order), 0) + 1 FROM assessment_types WHERE class_id = $1`, classID); err != nil {
		return 0, fmt.Errorf("next display order: %w", err)
	}
	return next, nil
}

// Create inserts an assessment type.
func (r *AssessmentTypeRepository) Create(ctx context.Context, exec sqlx.ExtContext, item *models.AssessmentType) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	const query = `INSERT INTO assessment_types (id, class_id, name, description, weight, max_score, display_order, active, created_at, updated_at)
        VALUES (:id, :class_id, :name, :description, :weight, :max_score, :display_order, :active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, item); err != nil {
		return fmt.Errorf("create assessment type: %w", err)
	}
	return nil
}

// Update writes the mutable fields of an assessment type.
func (r *AssessmentTypeRepository) Update(ctx context.Context, exec sqlx.ExtContext, item *models.AssessmentType) error {
	item.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assessment_types SET name = :name, description = :description, weight = :weight, display_order = :display_order, active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, item)
	if err != nil {
		return fmt.Errorf("update assessment type: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateDisplayOrder repositions one assessment type of a class.
func (r *AssessmentTypeRepository) UpdateDisplayOrder(ctx context.Context, exec sqlx.ExtContext, classID, id string, order int) error {
	res, err := r.exec(exec).ExecContext(ctx, `UPDATE assessment_types SET display_order = $3, updated_at = $4 WHERE id = $1 AND class_id = $2`, id, classID, order, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update display order: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an assessment type.
func (r *AssessmentTypeRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM assessment_types WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete assessment type: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HasMarks reports whether any mark references the assessment type.
func (r *AssessmentTypeRepository) HasMarks(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, `SELECT EXISTS(SELECT 1 FROM marks WHERE assessment_type_id = $1)`, id); err != nil {
		return false, fmt.Errorf("check assessment marks: %w", err)
	}
	return exists, nil
}

// CreateWeightHistory records a weight change.
func (r *AssessmentTypeRepository) CreateWeightHistory(ctx context.Context, exec sqlx.ExtContext, entry *models.WeightHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	const query = `INSERT INTO assessment_weight_history (id, assessment_type_id, old_weight, new_weight, changed_by, changed_at)
        VALUES (:id, :assessment_type_id, :old_weight, :new_weight, :changed_by, :changed_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, entry); err != nil {
		return fmt.Errorf("create weight history: %w", err)
	}
	return nil
}

// ListWeightHistory returns weight changes of an assessment type, newest first.
func (r *AssessmentTypeRepository) ListWeightHistory(ctx context.Context, id string) ([]models.WeightHistory, error) {
	const query = `SELECT h.id, h.assessment_type_id, h.old_weight, h.new_weight, h.changed_by, u.full_name AS changed_by_name, h.changed_at
        FROM assessment_weight_history h LEFT JOIN users u ON u.id = h.changed_by
        WHERE h.assessment_type_id = $1 ORDER BY h.changed_at DESC`
	var entries []models.WeightHistory
	if err := r.db.SelectContext(ctx, &entries, query, id); err != nil {
		return nil, fmt.Errorf("list weight history: %w", err)
	}
	return entries, nil
}

// Statistics aggregates the published marks of an assessment type.
func (r *AssessmentTypeRepository) Statistics(ctx context.Context, id string, excellentMin, warningBelow float64) (*models.AssessmentStatistics, error) {
	const query = `SELECT $1::text AS assessment_type_id, COUNT(*) AS mark_count, AVG(score) AS average, MIN(score) AS min_score, MAX(score) AS max_score,
        COUNT(*) FILTER (WHERE score >= $2) AS excellent, COUNT(*) FILTER (WHERE score < $3) AS needs_improvement
        FROM marks WHERE assessment_type_id = $1 AND status = 'published'`
	var stats models.AssessmentStatistics
	if err := r.db.GetContext(ctx, &stats, query, id, excellentMin, warningBelow); err != nil {
		return nil, fmt.Errorf("assessment statistics: %w", err)
	}
	return &stats, nil
}
