package models

import "time"

// MarkStatus controls whether a mark feeds grade calculation.
type MarkStatus string

const (
	MarkStatusDraft     MarkStatus = "draft"
	MarkStatusPublished MarkStatus = "published"
)

// Mark is one student's score on one assessment type on one date.
type Mark struct {
	ID               string     `db:"id" json:"id"`
	StudentID        string     `db:"student_id" json:"student_id"`
	AssessmentTypeID string     `db:"assessment_type_id" json:"assessment_type_id"`
	Score            float64    `db:"score" json:"score"`
	AssessmentDate   time.Time  `db:"assessment_date" json:"assessment_date"`
	Status           MarkStatus `db:"status" json:"status"`
	Comments         *string    `db:"comments" json:"comments,omitempty"`
	EnteredBy        *string    `db:"entered_by" json:"entered_by,omitempty"`
	EnteredAt        time.Time  `db:"entered_at" json:"entered_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// MarkDetail joins a mark with its student and assessment type.
type MarkDetail struct {
	Mark
	ClassID        string  `db:"class_id" json:"class_id"`
	StudentName    string  `db:"student_name" json:"student_name"`
	StudentNumber  string  `db:"student_number" json:"student_number"`
	AssessmentName string  `db:"assessment_name" json:"assessment_name"`
	Weight         float64 `db:"weight" json:"weight"`
	MaxScore       float64 `db:"max_score" json:"max_score"`
}

// PublishedMark is the projection the grading engine reads.
type PublishedMark struct {
	AssessmentTypeID string    `db:"assessment_type_id"`
	Score            float64   `db:"score"`
	MaxScore         float64   `db:"max_score"`
	AssessmentDate   time.Time `db:"assessment_date"`
	EnteredAt        time.Time `db:"entered_at"`
}

// MarkFilter narrows mark listings of a class.
type MarkFilter struct {
	ClassID          string
	StudentID        string
	AssessmentTypeID string
	Status           *MarkStatus
	Page             int
	PageSize         int
}
