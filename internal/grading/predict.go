package grading

import "fmt"

// Confidence qualifies a prediction by how much of the grade weight is completed.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Prediction is a flat extrapolation of the current grade to the end of term.
type Prediction struct {
	PredictedTotal       *float64   `json:"predicted_grade"`
	PredictedLetter      *string    `json:"predicted_letter,omitempty"`
	PredictedDescription *string    `json:"predicted_description,omitempty"`
	CurrentCompletion    float64    `json:"current_completion"`
	Confidence           Confidence `json:"confidence"`
	Message              string     `json:"message"`
}

// Predict assumes the student keeps the current total for the remaining weight.
func (c *Calculator) Predict(result Result) Prediction {
	if result.CurrentTotal == nil {
		return Prediction{Confidence: ConfidenceLow, Message: "Insufficient data for prediction"}
	}

	total := *result.CurrentTotal
	completion := result.TotalWeightCompleted
	band := c.bands.Classify(total)
	if result.GradeLetter != nil && result.GradeDescription != nil {
		band = Band{Letter: *result.GradeLetter, Description: *result.GradeDescription}
	}

	confidence := ConfidenceLow
	switch {
	case completion >= c.cfg.ConfidenceHigh:
		confidence = ConfidenceHigh
	case completion >= c.cfg.ConfidenceMedium:
		confidence = ConfidenceMedium
	}

	return Prediction{
		PredictedTotal:       &total,
		PredictedLetter:      &band.Letter,
		PredictedDescription: &band.Description,
		CurrentCompletion:    completion,
		Confidence:           confidence,
		Message: fmt.Sprintf("Based on %s%% completion, predicted final grade: %s (%s/%s)",
			formatNumber(completion), band.Letter, formatNumber(total), formatNumber(c.cfg.MaxScore)),
	}
}

func formatNumber(v float64) string {
	return fmt.Sprintf("%g", Round2(v))
}
