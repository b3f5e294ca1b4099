package grading

// Risk levels for a running total.
const (
	RiskNone     = ""
	RiskWarning  = "warning"
	RiskCritical = "critical"
)

// RiskLevel reports whether a total is under the warning or critical threshold.
func (c *Calculator) RiskLevel(total float64) string {
	switch {
	case total < c.cfg.CriticalThreshold:
		return RiskCritical
	case total < c.cfg.WarningThreshold:
		return RiskWarning
	default:
		return RiskNone
	}
}

// DistributionBucket counts totals falling into one band.
type DistributionBucket struct {
	Letter     string  `json:"letter"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Summary aggregates a set of totals.
type Summary struct {
	Count        int                  `json:"count"`
	Average      *float64             `json:"average"`
	Min          *float64             `json:"min"`
	Max          *float64             `json:"max"`
	Distribution []DistributionBucket `json:"distribution"`
}

// Summarize computes count, average, extremes and the letter distribution of totals.
func (c *Calculator) Summarize(totals []float64) Summary {
	summary := Summary{Count: len(totals), Distribution: make([]DistributionBucket, len(c.bands))}
	index := make(map[string]int, len(c.bands))
	for i, band := range c.bands {
		summary.Distribution[i] = DistributionBucket{Letter: band.Letter}
		index[band.Letter] = i
	}
	if len(totals) == 0 {
		return summary
	}

	lo, hi, sum := totals[0], totals[0], 0.0
	for _, total := range totals {
		sum += total
		if total < lo {
			lo = total
		}
		if total > hi {
			hi = total
		}
		summary.Distribution[index[c.bands.Classify(total).Letter]].Count++
	}
	for i := range summary.Distribution {
		summary.Distribution[i].Percentage = Round2(float64(summary.Distribution[i].Count) / float64(len(totals)) * 100)
	}
	summary.Average = round2Ptr(sum / float64(len(totals)))
	summary.Min = round2Ptr(lo)
	summary.Max = round2Ptr(hi)
	return summary
}
