package models

import "time"

// AlertType classifies a student alert.
type AlertType string

const (
	AlertTypeLowGrade  AlertType = "LOW_GRADE"
	AlertTypeDeclining AlertType = "DECLINING_TREND"
)

// Alert severities.
const (
	AlertSeverityWarning  = "warning"
	AlertSeverityCritical = "critical"
)

// Alert notifies a student, their parent and teacher about an at-risk grade.
type Alert struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	AlertType   AlertType `db:"alert_type" json:"alert_type"`
	Severity    string    `db:"severity" json:"severity"`
	Message     string    `db:"message" json:"message"`
	IsDismissed bool      `db:"is_dismissed" json:"is_dismissed"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
