package models

import "time"

// AssessmentType is a weighted evaluation category of a class, e.g. "Midterm Exam".
type AssessmentType struct {
	ID           string    `db:"id" json:"id"`
	ClassID      string    `db:"class_id" json:"class_id"`
	Name         string    `db:"name" json:"name"`
	Description  *string   `db:"description" json:"description,omitempty"`
	Weight       float64   `db:"weight" json:"weight"`
	MaxScore     float64   `db:"max_score" json:"max_score"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// WeightHistory records a weight change of an assessment type.
type WeightHistory struct {
	ID               string    `db:"id" json:"id"`
	AssessmentTypeID string    `db:"assessment_type_id" json:"assessment_type_id"`
	OldWeight        float64   `db:"old_weight" json:"old_weight"`
	NewWeight        float64   `db:"new_weight" json:"new_weight"`
	ChangedBy        *string   `db:"changed_by" json:"changed_by,omitempty"`
	ChangedByName    *string   `db:"changed_by_name" json:"changed_by_name,omitempty"`
	ChangedAt        time.Time `db:"changed_at" json:"changed_at"`
}

// WeightSummary reports how far the active weights of a class are from 100%.
type WeightSummary struct {
	IsValid     bool    `json:"is_valid"`
	TotalWeight float64 `json:"total_weight"`
	Remaining   float64 `json:"remaining"`
}

// AssessmentStatistics aggregates the published marks of one assessment type.
type AssessmentStatistics struct {
	AssessmentTypeID string   `db:"assessment_type_id" json:"assessment_type_id"`
	MarkCount        int      `db:"mark_count" json:"mark_count"`
	Average          *float64 `db:"average" json:"average"`
	Min              *float64 `db:"min_score" json:"min"`
	Max              *float64 `db:"max_score" json:"max"`
	Excellent        int      `db:"excellent" json:"excellent_count"`
	NeedsImprovement int      `db:"needs_improvement" json:"needs_improvement_count"`
}

// AssessmentOrder assigns a display position to an assessment type.
type AssessmentOrder struct {
	ID           string `json:"id" validate:"required"`
	DisplayOrder int    `json:"display_order" validate:"gte=0"`
}
