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

const markDetailSelect = `SELECT m.id, m.student_id, m.assessment_type_id, m.score, m.assessment_date, m.status, m.comments, m.entered_by, m.entered_at, m.updated_at,
        at.class_id, u.full_name AS student_name, s.student_number, at.name AS assessment_name, at.weight, at.max_score
        FROM marks m
        JOIN assessment_types at ON at.id = m.assessment_type_id
        JOIN students s ON s.id = m.student_id
        JOIN users u ON u.id = s.user_id`

// MarkRepository persists student marks.
type MarkRepository struct {
	db *sqlx.DB
}

// NewMarkRepository constructs the repository.
func NewMarkRepository(db *sqlx.DB) *MarkRepository {
	return &MarkRepository{db: db}
}

func (r *MarkRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID returns a mark with its class and student context.
func (r *MarkRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MarkDetail, error) {
	var mark models.MarkDetail
	if err := sqlx.GetContext(ctx, r.exec(exec), &mark, markDetailSelect+" WHERE m.id = $1", id); err != nil {
		return nil, err
	}
	return &mark, nil
}

// List returns the marks of a class matching the filter.
func (r *MarkRepository) List(ctx context.Context, filter models.MarkFilter) ([]models.MarkDetail, int, error) {
	where := " WHERE at.class_id = $1"
	args := []interface{}{filter.ClassID}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where += fmt.Sprintf(" AND m.student_id = $%d", len(args))
	}
	if filter.AssessmentTypeID != "" {
		args = append(args, filter.AssessmentTypeID)
		where += fmt.Sprintf(" AND m.assessment_type_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where += fmt.Sprintf(" AND m.status = $%d", len(args))
	}
	limit, offset := pageWindow(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY m.assessment_date DESC, m.entered_at DESC LIMIT %d OFFSET %d", markDetailSelect, where, limit, offset)
	var marks []models.MarkDetail
	if err := r.db.SelectContext(ctx, &marks, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list marks: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM marks m JOIN assessment_types at ON at.id = m.assessment_type_id" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count marks: %w", err)
	}
	return marks, total, nil
}

// ListByStudent returns a student's marks, newest first. Limit <= 0 returns all of them.
func (r *MarkRepository) ListByStudent(ctx context.Context, studentID string, publishedOnly bool, limit int) ([]models.MarkDetail, error) {
	query := markDetailSelect + " WHERE m.student_id = $1"
	if publishedOnly {
		query += " AND m.status = 'published'"
	}
	query += " ORDER BY m.assessment_date DESC, m.entered_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var marks []models.MarkDetail
	if err := r.db.SelectContext(ctx, &marks, query, studentID); err != nil {
		return nil, fmt.Errorf("list student marks: %w", err)
	}
	return marks, nil
}

// ListPublishedForStudent returns the published marks of a student in a class ordered by
// assessment date then entry time, newest first.
func (r *MarkRepository) ListPublishedForStudent(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) ([]models.PublishedMark, error) {
	const query = `SELECT m.assessment_type_id, m.score, at.max_score, m.assessment_date, m.entered_at
        FROM marks m JOIN assessment_types at ON at.id = m.assessment_type_id
        WHERE m.student_id = $1 AND at.class_id = $2 AND m.status = 'published'
        ORDER BY m.assessment_date DESC, m.entered_at DESC`
	var marks []models.PublishedMark
	if err := sqlx.SelectContext(ctx, r.exec(exec), &marks, query, studentID, classID); err != nil {
		return nil, fmt.Errorf("list published marks: %w", err)
	}
	return marks, nil
}

// ListRecentPublished returns the newest published marks of a student across classes.
func (r *MarkRepository) ListRecentPublished(ctx context.Context, studentID string, limit int) ([]models.PublishedMark, error) {
	const query = `SELECT m.assessment_type_id, m.score, at.max_score, m.assessment_date, m.entered_at
        FROM marks m JOIN assessment_types at ON at.id = m.assessment_type_id
        WHERE m.student_id = $1 AND m.status = 'published'
        ORDER BY m.assessment_date DESC, m.entered_at DESC
        LIMIT $2`
	var marks []models.PublishedMark
	if err := r.db.SelectContext(ctx, &marks, query, studentID, limit); err != nil {
		return nil, fmt.Errorf("list recent marks: %w", err)
	}
	return marks, nil
}

// ExistsDuplicate reports whether another mark holds the same student, type and date.
func (r *MarkRepository) ExistsDuplicate(ctx context.Context, exec sqlx.ExtContext, studentID, assessmentTypeID string, date time.Time, excludeID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM marks WHERE student_id = $1 AND assessment_type_id = $2 AND assessment_date = $3`
	args := []interface{}{studentID, assessmentTypeID, date}
	if excludeID != "" {
		query += ` AND id <> $4`
		args = append(args, excludeID)
	}
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query+`)`, args...); err != nil {
		return false, fmt.Errorf("check duplicate mark: %w", err)
	}
	return exists, nil
}

// Create inserts a mark.
func (r *MarkRepository) Create(ctx context.Context, exec sqlx.ExtContext, mark *models.Mark) error {
	if mark.ID == "" {
		mark.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	mark.EnteredAt = now
	mark.UpdatedAt = now
	const query = `INSERT INTO marks (id, student_id, assessment_type_id, score, assessment_date, status, comments, entered_by, entered_at, updated_at)
        VALUES (:id, :student_id, :assessment_type_id, :score, :assessment_date, :status, :comments, :entered_by, :entered_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, mark); err != nil {
		return fmt.Errorf("create mark: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a mark.
func (r *MarkRepository) Update(ctx context.Context, exec sqlx.ExtContext, mark *models.Mark) error {
	mark.UpdatedAt = time.Now().UTC()
	const query = `UPDATE marks SET score = :score, assessment_date = :assessment_date, status = :status, comments = :comments, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, mark)
	if err != nil {
		return fmt.Errorf("update mark: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a mark.
func (r *MarkRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM marks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mark: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
