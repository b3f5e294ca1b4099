package grading

// Config carries the constants recognised by the grading engine.
type Config struct {
	MaxScore          float64
	MinScore          float64
	BandA             float64
	BandB             float64
	BandC             float64
	BandD             float64
	TrendLookback     int
	DeclineThreshold  float64
	WarningThreshold  float64
	CriticalThreshold float64
	ConfidenceHigh    float64
	ConfidenceMedium  float64
	WeightTolerance   float64
}

// Default grading constants.
const (
	DefaultMaxScore          = 20.0
	DefaultMinScore          = 0.0
	DefaultBandA             = 18.0
	DefaultBandB             = 16.0
	DefaultBandC             = 14.0
	DefaultBandD             = 12.0
	DefaultTrendLookback     = 3
	DefaultDeclineThreshold  = 1.0
	DefaultWarningThreshold  = 12.0
	DefaultCriticalThreshold = 10.0
	DefaultConfidenceHigh    = 75.0
	DefaultConfidenceMedium  = 50.0
	DefaultWeightTolerance   = 0.01

	// FullWeight is the percentage all active weights of a class add up to.
	FullWeight = 100.0
)

// DefaultConfig returns the stock 0-20 configuration.
func DefaultConfig() Config {
	return Config{
		MaxScore:          DefaultMaxScore,
		MinScore:          DefaultMinScore,
		BandA:             DefaultBandA,
		BandB:             DefaultBandB,
		BandC:             DefaultBandC,
		BandD:             DefaultBandD,
		TrendLookback:     DefaultTrendLookback,
		DeclineThreshold:  DefaultDeclineThreshold,
		WarningThreshold:  DefaultWarningThreshold,
		CriticalThreshold: DefaultCriticalThreshold,
		ConfidenceHigh:    DefaultConfidenceHigh,
		ConfidenceMedium:  DefaultConfidenceMedium,
		WeightTolerance:   DefaultWeightTolerance,
	}
}

// WithDefaults fills zero values with the stock constants.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxScore <= 0 {
		c.MaxScore = def.MaxScore
	}
	if c.MinScore < 0 || c.MinScore >= c.MaxScore {
		c.MinScore = def.MinScore
	}
	if c.BandA <= 0 {
		c.BandA = def.BandA
	}
	if c.BandB <= 0 {
		c.BandB = def.BandB
	}
	if c.BandC <= 0 {
		c.BandC = def.BandC
	}
	if c.BandD <= 0 {
		c.BandD = def.BandD
	}
	if c.TrendLookback < 2 {
		c.TrendLookback = def.TrendLookback
	}
	if c.DeclineThreshold <= 0 {
		c.DeclineThreshold = def.DeclineThreshold
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = def.WarningThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = def.CriticalThreshold
	}
	if c.ConfidenceHigh <= 0 {
		c.ConfidenceHigh = def.ConfidenceHigh
	}
	if c.ConfidenceMedium <= 0 {
		c.ConfidenceMedium = def.ConfidenceMedium
	}
	if c.WeightTolerance <= 0 {
		c.WeightTolerance = def.WeightTolerance
	}
	return c
}

// Bands builds the classification table for the configured thresholds.
func (c Config) Bands() Bands {
	return NewBands(c.MinScore, c.MaxScore, c.BandA, c.BandB, c.BandC, c.BandD)
}

// Trend returns the trend detector settings.
func (c Config) Trend() TrendConfig {
	return TrendConfig{Lookback: c.TrendLookback, DeclineThreshold: c.DeclineThreshold}
}

// WeightWithinLimit reports whether a total weight stays under 100 plus tolerance.
func (c Config) WeightWithinLimit(total float64) bool {
	return Round2(total) <= Round2(FullWeight+c.WeightTolerance)
}

// WeightComplete reports whether a total weight equals 100 within tolerance.
func (c Config) WeightComplete(total float64) bool {
	diff := total - FullWeight
	if diff < 0 {
		diff = -diff
	}
	return diff < c.WeightTolerance
}

// ScoreInRange reports whether a raw score lies within [MinScore, MaxScore].
func (c Config) ScoreInRange(score float64) bool {
	return score >= c.MinScore && score <= c.MaxScore
}
