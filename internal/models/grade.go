package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sma-grading-api/internal/grading"
)

// GradeSnapshot is the persisted current grade of a student in a class. It is always
// derived from marks and assessment types and never edited by hand.
type GradeSnapshot struct {
	ID                   string         `db:"id" json:"id"`
	StudentID            string         `db:"student_id" json:"student_id"`
	ClassID              string         `db:"class_id" json:"class_id"`
	CurrentTotal         *float64       `db:"current_total" json:"current_total"`
	Percentage           *float64       `db:"percentage" json:"percentage"`
	GradeLetter          *string        `db:"grade_letter" json:"grade_letter"`
	Breakdown            types.JSONText `db:"breakdown" json:"breakdown"`
	HasAllMarks          bool           `db:"has_all_marks" json:"has_all_marks"`
	TotalWeightCompleted float64        `db:"total_weight_completed" json:"total_weight_completed"`
	ComputedAt           time.Time      `db:"computed_at" json:"computed_at"`
}

// GradeSnapshotDetail adds student identity for class listings.
type GradeSnapshotDetail struct {
	GradeSnapshot
	StudentName   string `db:"student_name" json:"student_name"`
	StudentNumber string `db:"student_number" json:"student_number"`
}

// RecalculationError captures the failure of one student in a batch.
type RecalculationError struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
}

// RecalculationSummary reports a class-wide recalculation. Updated counts every student
// recalculated without error; Cleared is the subset left without a snapshot.
type RecalculationSummary struct {
	ClassID string               `json:"class_id"`
	Total   int                  `json:"total"`
	Updated int                  `json:"updated"`
	Cleared int                  `json:"cleared"`
	Errors  []RecalculationError `json:"errors"`
}

// AtRiskStudent is a student whose total is under the warning threshold.
type AtRiskStudent struct {
	StudentID    string  `json:"student_id"`
	StudentName  string  `json:"student_name"`
	CurrentTotal float64 `json:"current_total"`
	Severity     string  `json:"severity"`
}

// ClassStatistics summarises the snapshots of a class.
type ClassStatistics struct {
	ClassID       string          `json:"class_id"`
	StudentCount  int             `json:"student_count"`
	GradedCount   int             `json:"graded_count"`
	Summary       grading.Summary `json:"summary"`
	AtRisk        []AtRiskStudent `json:"at_risk"`
	WeightSummary WeightSummary   `json:"weight_summary"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// StudentGrade is the live grade of a student in their class.
type StudentGrade struct {
	StudentID string         `json:"student_id"`
	ClassID   string         `json:"class_id"`
	Result    grading.Result `json:"grade"`
}

// StudentDashboard gathers everything a student or parent sees on their landing page.
type StudentDashboard struct {
	Student     StudentDetail       `json:"student"`
	Grade       *grading.Result     `json:"grade"`
	Trend       grading.TrendResult `json:"trend"`
	Prediction  *grading.Prediction `json:"prediction"`
	RecentMarks []MarkDetail        `json:"recent_marks"`
	Alerts      []Alert             `json:"alerts"`
}
