package grading

// Band is one row of the letter grade table. Max is exclusive except for the top band.
type Band struct {
	Letter      string  `json:"letter"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Description string  `json:"description"`
}

// Bands is ordered from the highest threshold to the lowest.
type Bands []Band

// NewBands builds the A-F table. F covers everything below the D threshold.
func NewBands(minScore, maxScore, a, b, c, d float64) Bands {
	return Bands{
		{Letter: "A", Min: a, Max: maxScore, Description: "Excellent"},
		{Letter: "B", Min: b, Max: a, Description: "Very Good"},
		{Letter: "C", Min: c, Max: b, Description: "Good"},
		{Letter: "D", Min: d, Max: c, Description: "Satisfactory"},
		{Letter: "F", Min: minScore, Max: d, Description: "Needs Improvement"},
	}
}

// Classify returns the first band whose minimum the total meets. Totals outside the
// table range are clamped to it first, so the function is total.
func (b Bands) Classify(total float64) Band {
	if len(b) == 0 {
		return Band{}
	}
	lowest := b[len(b)-1]
	total = clamp(total, lowest.Min, b[0].Max)
	for _, band := range b {
		if total >= band.Min {
			return band
		}
	}
	return lowest
}

// Letters lists the band letters in table order.
func (b Bands) Letters() []string {
	letters := make([]string, len(b))
	for i, band := range b {
		letters[i] = band.Letter
	}
	return letters
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
