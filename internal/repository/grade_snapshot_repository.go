package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-grading-api/internal/models"
)

const snapshotColumns = `id, student_id, class_id, current_total, percentage, grade_letter, breakdown, has_all_marks, total_weight_completed, computed_at`

// GradeSnapshotRepository persists derived student grades. Callers decide between insert,
// update and delete after reading the current row; there is no implicit upsert.
type GradeSnapshotRepository struct {
	db *sqlx.DB
}

// NewGradeSnapshotRepository constructs the repository.
func NewGradeSnapshotRepository(db *sqlx.DB) *GradeSnapshotRepository {
	return &GradeSnapshotRepository{db: db}
}

func (r *GradeSnapshotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Get returns the snapshot of a (student, class) pair, locking it when forUpdate is set.
// sql.ErrNoRows is returned untouched when none exists.
func (r *GradeSnapshotRepository) Get(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, forUpdate bool) (*models.GradeSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM grade_snapshots WHERE student_id = $1 AND class_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var snap models.GradeSnapshot
	if err := sqlx.GetContext(ctx, r.exec(exec), &snap, query, studentID, classID); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Insert stores a new snapshot.
func (r *GradeSnapshotRepository) Insert(ctx context.Context, exec sqlx.ExtContext, snap *models.GradeSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	const query = `INSERT INTO grade_snapshots (` + snapshotColumns + `)
        VALUES (:id, :student_id, :class_id, :current_total, :percentage, :grade_letter, :breakdown, :has_all_marks, :total_weight_completed, :computed_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, snap); err != nil {
		return fmt.Errorf("insert grade snapshot: %w", err)
	}
	return nil
}

// Update overwrites an existing snapshot.
func (r *GradeSnapshotRepository) Update(ctx context.Context, exec sqlx.ExtContext, snap *models.GradeSnapshot) error {
	const query = `UPDATE grade_snapshots SET current_total = :current_total, percentage = :percentage, grade_letter = :grade_letter,
        breakdown = :breakdown, has_all_marks = :has_all_marks, total_weight_completed = :total_weight_completed, computed_at = :computed_at
        WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, snap); err != nil {
		return fmt.Errorf("update grade snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot of a (student, class) pair.
func (r *GradeSnapshotRepository) Delete(ctx context.Context, exec sqlx.ExtContext, studentID, classID string) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM grade_snapshots WHERE student_id = $1 AND class_id = $2`, studentID, classID); err != nil {
		return fmt.Errorf("delete grade snapshot: %w", err)
	}
	return nil
}

// ListByClass returns the snapshots of students currently assigned to the class.
func (r *GradeSnapshotRepository) ListByClass(ctx context.Context, classID string) ([]models.GradeSnapshotDetail, error) {
	const query = `SELECT g.id, g.student_id, g.class_id, g.current_total, g.percentage, g.grade_letter, g.breakdown, g.has_all_marks, g.total_weight_completed, g.computed_at,
        u.full_name AS student_name, s.student_number
        FROM grade_snapshots g
        JOIN students s ON s.id = g.student_id AND s.class_id = g.class_id
        JOIN users u ON u.id = s.user_id
        WHERE g.class_id = $1
        ORDER BY u.full_name`
	var snaps []models.GradeSnapshotDetail
	if err := r.db.SelectContext(ctx, &snaps, query, classID); err != nil {
		return nil, fmt.Errorf("list grade snapshots: %w", err)
	}
	return snaps, nil
}
