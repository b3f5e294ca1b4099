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

// AlertRepository persists at-risk notifications.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository constructs the repository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ExistsOpen reports whether an undismissed alert of that type and severity exists.
func (r *AlertRepository) ExistsOpen(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, alertType models.AlertType, severity string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM alerts WHERE student_id = $1 AND class_id = $2 AND alert_type = $3 AND severity = $4 AND is_dismissed = FALSE)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, studentID, classID, alertType, severity); err != nil {
		return false, fmt.Errorf("check open alert: %w", err)
	}
	return exists, nil
}

// Create stores an alert.
func (r *AlertRepository) Create(ctx context.Context, exec sqlx.ExtContext, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO alerts (id, student_id, class_id, alert_type, severity, message, is_dismissed, created_at)
        VALUES (:id, :student_id, :class_id, :alert_type, :severity, :message, :is_dismissed, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, alert); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// ResolveOpen dismisses open alerts of a type, except those with keepSeverity.
func (r *AlertRepository) ResolveOpen(ctx context.Context, exec sqlx.ExtContext, studentID, classID string, alertType models.AlertType, keepSeverity string) error {
	const query = `UPDATE alerts SET is_dismissed = TRUE WHERE student_id = $1 AND class_id = $2 AND alert_type = $3 AND severity <> $4 AND is_dismissed = FALSE`
	if _, err := r.exec(exec).ExecContext(ctx, query, studentID, classID, alertType, keepSeverity); err != nil {
		return fmt.Errorf("resolve alerts: %w", err)
	}
	return nil
}

// ListByStudent returns alerts of a student, critical and newest first.
func (r *AlertRepository) ListByStudent(ctx context.Context, studentID string, includeDismissed bool) ([]models.Alert, error) {
	query := `SELECT id, student_id, class_id, alert_type, severity, message, is_dismissed, created_at FROM alerts WHERE student_id = $1`
	if !includeDismissed {
		query += ` AND is_dismissed = FALSE`
	}
	query += ` ORDER BY CASE severity WHEN 'critical' THEN 0 ELSE 1 END, created_at DESC`
	var alerts []models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, studentID); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// Dismiss marks one alert of the student as dismissed.
func (r *AlertRepository) Dismiss(ctx context.Context, studentID, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET is_dismissed = TRUE WHERE id = $1 AND student_id = $2`, id, studentID)
	if err != nil {
		return fmt.Errorf("dismiss alert: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
