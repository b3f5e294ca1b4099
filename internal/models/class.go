package models

import "time"

// Class is a teaching group owned by one teacher; assessment weights are configured per class.
type Class struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Subject      string    `db:"subject" json:"subject"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ClassDetail extends Class with teacher and roster information.
type ClassDetail struct {
	Class
	TeacherName   string         `db:"teacher_name" json:"teacher_name"`
	StudentCount  int            `db:"student_count" json:"student_count"`
	WeightSummary *WeightSummary `db:"-" json:"weight_summary,omitempty"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	TeacherID string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
