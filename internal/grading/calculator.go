package grading

import (
	"fmt"
	"sort"
)

// Component is an active assessment type taking part in a class grade.
type Component struct {
	ID           string
	Name         string
	Weight       float64
	MaxScore     float64
	DisplayOrder int
}

// MarkInput is the published score a student holds for one component.
type MarkInput struct {
	Score    float64
	MaxScore float64
}

// BreakdownItem describes the contribution of one component. Score and
// Contribution are nil when the student has no published mark for it.
type BreakdownItem struct {
	AssessmentTypeID string   `json:"assessment_type_id"`
	Name             string   `json:"name"`
	Weight           float64  `json:"weight"`
	Score            *float64 `json:"score"`
	Contribution     *float64 `json:"contribution"`
}

// Result is the outcome of a grade computation. A nil CurrentTotal means there is no data yet.
type Result struct {
	CurrentTotal         *float64        `json:"current_total"`
	Percentage           *float64        `json:"percentage"`
	GradeLetter          *string         `json:"grade_letter"`
	GradeDescription     *string         `json:"grade_description"`
	Breakdown            []BreakdownItem `json:"breakdown"`
	HasAllMarks          bool            `json:"has_all_marks"`
	TotalWeightCompleted float64         `json:"total_weight_completed"`
}

// HasData reports whether a total could be computed.
func (r Result) HasData() bool {
	return r.CurrentTotal != nil
}

// Calculator aggregates weighted component scores into a running grade.
type Calculator struct {
	cfg   Config
	bands Bands
}

// NewCalculator constructs a calculator; zero config values fall back to defaults.
func NewCalculator(cfg Config) *Calculator {
	cfg = cfg.WithDefaults()
	return &Calculator{cfg: cfg, bands: cfg.Bands()}
}

// Config exposes the effective configuration.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Bands exposes the classification table.
func (c *Calculator) Bands() Bands {
	return c.bands
}

// Classify maps a total onto its band.
func (c *Calculator) Classify(total float64) Band {
	return c.bands.Classify(total)
}

// Compute aggregates the student's marks over the active components of a class.
//
// When only part of the weight has been marked the running total is extrapolated as if
// the completed weight were the whole grade: total / (completedWeight / 100). A single
// 20/20 on a 15% component therefore yields 20.0, not 3.0. This keeps early-term grades
// on the same scale as final ones; it also means one outlier mark dominates until more
// weight is completed.
func (c *Calculator) Compute(components []Component, marks map[string]MarkInput) (Result, error) {
	result := Result{Breakdown: []BreakdownItem{}}
	if len(components) == 0 {
		return result, nil
	}

	ordered := make([]Component, len(components))
	copy(ordered, components)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})

	var weighted, completed float64
	hasAll := true
	for _, comp := range ordered {
		item := BreakdownItem{AssessmentTypeID: comp.ID, Name: comp.Name, Weight: comp.Weight}
		mark, ok := marks[comp.ID]
		if !ok {
			hasAll = false
			result.Breakdown = append(result.Breakdown, item)
			continue
		}
		maxScore := mark.MaxScore
		if maxScore == 0 {
			maxScore = comp.MaxScore
		}
		if maxScore == 0 {
			maxScore = c.cfg.MaxScore
		}
		normalized, err := Normalize(mark.Score, maxScore, c.cfg.MaxScore)
		if err != nil {
			return Result{}, fmt.Errorf("normalize %s: %w", comp.Name, err)
		}
		contribution := normalized * (comp.Weight / FullWeight)
		weighted += contribution
		completed += comp.Weight

		item.Score = round2Ptr(normalized)
		item.Contribution = round2Ptr(contribution)
		result.Breakdown = append(result.Breakdown, item)
	}

	result.HasAllMarks = hasAll
	result.TotalWeightCompleted = Round2(completed)
	if completed == 0 {
		result.HasAllMarks = false
		return result, nil
	}

	total := weighted
	if !hasAll {
		total = weighted / (completed / FullWeight)
	}
	percentage := total / c.cfg.MaxScore * 100

	result.CurrentTotal = round2Ptr(total)
	result.Percentage = round2Ptr(percentage)
	// Rounding is for display only; the band comes from the exact total.
	band := c.bands.Classify(total)
	result.GradeLetter = &band.Letter
	result.GradeDescription = &band.Description
	return result, nil
}
