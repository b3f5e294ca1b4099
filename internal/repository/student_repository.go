package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-grading-api/internal/models"
)

const studentDetailSelect = `SELECT s.id, s.user_id, s.student_number, s.class_id, s.parent_id, s.allow_parent_access, s.created_at, s.updated_at,
        u.full_name, u.email, c.name AS class_name
        FROM students s JOIN users u ON u.id = s.user_id LEFT JOIN classes c ON c.id = s.class_id`

// StudentRepository handles persistence of student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns students matching the filter with their user and class context.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		where += fmt.Sprintf(" AND s.class_id = $%d", len(args))
	}
	if filter.ParentID != "" {
		args = append(args, filter.ParentID)
		where += fmt.Sprintf(" AND s.parent_id = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		where += fmt.Sprintf(" AND (LOWER(u.full_name) LIKE $%d OR LOWER(s.student_number) LIKE $%d)", len(args), len(args))
	}

	sortBy := sanitizeSort(filter.SortBy, "full_name", "full_name", "student_number", "created_at")
	sortColumn := "u.full_name"
	if sortBy != "full_name" {
		sortColumn = "s." + sortBy
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "DESC" {
		order = "ASC"
	}
	limit, offset := pageWindow(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", studentDetailSelect, where, sortColumn, order, limit, offset)
	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM students s JOIN users u ON u.id = s.user_id" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID retrieves a student with user and class context.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, studentDetailSelect+" WHERE s.id = $1", id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByUserID resolves the student record of a STUDENT user.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	var student models.StudentDetail
	if err := r.db.GetContext(ctx, &student, studentDetailSelect+" WHERE s.user_id = $1", userID); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListIDsByClass returns the ids of every student currently assigned to the class.
func (r *StudentRepository) ListIDsByClass(ctx context.Context, classID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM students WHERE class_id = $1 ORDER BY id`, classID); err != nil {
		return nil, fmt.Errorf("list class roster: %w", err)
	}
	return ids, nil
}

// ExistsByNumber checks whether a student number is already used.
func (r *StudentRepository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM students WHERE student_number = $1)`, number); err != nil {
		return false, fmt.Errorf("check student number: %w", err)
	}
	return exists, nil
}

// Create inserts a new student row. A non-nil exec enlists the insert in a caller transaction.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now

	const query = `INSERT INTO students (id, user_id, student_number, class_id, parent_id, allow_parent_access, created_at, updated_at)
        VALUES (:id, :user_id, :student_number, :class_id, :parent_id, :allow_parent_access, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateClass moves a student to another class (or none).
func (r *StudentRepository) UpdateClass(ctx context.Context, exec sqlx.ExtContext, id string, classID *string) error {
	res, err := r.exec(exec).ExecContext(ctx, `UPDATE students SET class_id = $2, updated_at = $3 WHERE id = $1`, id, classID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update student class: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateParent links a PARENT user to the student.
func (r *StudentRepository) UpdateParent(ctx context.Context, id string, parentID *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET parent_id = $2, updated_at = $3 WHERE id = $1`, id, parentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update student parent: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateParentAccess toggles whether the linked parent may read grades.
func (r *StudentRepository) UpdateParentAccess(ctx context.Context, id string, allow bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET allow_parent_access = $2, updated_at = $3 WHERE id = $1`, id, allow, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update parent access: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
