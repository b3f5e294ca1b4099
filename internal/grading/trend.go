package grading

// Trend labels a student's recent trajectory.
type Trend string

const (
	TrendInsufficientData  Trend = "insufficient_data"
	TrendStable            Trend = "stable"
	TrendDeclining         Trend = "declining"
	TrendConsistentDecline Trend = "consistent_decline"
)

// TrendConfig configures the decline heuristic.
type TrendConfig struct {
	// Lookback is the number of most recent marks inspected.
	Lookback int
	// DeclineThreshold is the average drop, in points, above which a window counts as declining.
	DeclineThreshold float64
}

// TrendResult is the outcome of DetectTrend.
type TrendResult struct {
	IsDeclining   bool      `json:"is_declining"`
	Trend         Trend     `json:"trend"`
	AverageChange *float64  `json:"average_change,omitempty"`
	RecentScores  []float64 `json:"recent_scores"`
	RecentCount   int       `json:"recent_count"`
}

// DetectTrend classifies the trajectory of scores ordered newest first. Only the
// first Lookback entries are inspected. The average change is the mean of
// (older - newer) over adjacent pairs, so a positive value means the scores fell.
func DetectTrend(newestFirst []float64, cfg TrendConfig) TrendResult {
	if cfg.Lookback < 2 {
		cfg.Lookback = DefaultTrendLookback
	}
	if cfg.DeclineThreshold <= 0 {
		cfg.DeclineThreshold = DefaultDeclineThreshold
	}

	window := newestFirst
	if len(window) > cfg.Lookback {
		window = window[:cfg.Lookback]
	}
	recent := make([]float64, len(window))
	copy(recent, window)

	if len(recent) < 2 {
		return TrendResult{Trend: TrendInsufficientData, RecentScores: recent, RecentCount: len(recent)}
	}

	consistent := true
	var sum float64
	for i := 0; i < len(recent)-1; i++ {
		newer, older := recent[i], recent[i+1]
		if newer >= older {
			consistent = false
		}
		sum += older - newer
	}
	avg := sum / float64(len(recent)-1)

	res := TrendResult{
		AverageChange: round2Ptr(avg),
		RecentScores:  recent,
		RecentCount:   len(recent),
	}
	switch {
	case consistent:
		res.IsDeclining = true
		res.Trend = TrendConsistentDecline
	case avg > cfg.DeclineThreshold:
		res.IsDeclining = true
		res.Trend = TrendDeclining
	default:
		res.Trend = TrendStable
	}
	return res
}
