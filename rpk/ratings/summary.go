package ratings

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds descriptive statistics over rating values.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes a Summary over values. NaN values are skipped. An empty
// input yields a zero Count and NaN statistics.
func Summarize(values []float64) Summary {
	clean := values
	for _, v := range values {
		if math.IsNaN(v) {
			clean = make([]float64, 0, len(values))
			for _, w := range values {
				if !math.IsNaN(w) {
					clean = append(clean, w)
				}
			}
			break
		}
	}
	if len(clean) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, StdDev: nan, Min: nan, Max: nan}
	}
	s := Summary{
		Count: len(clean),
		Min:   floats.Min(clean),
		Max:   floats.Max(clean),
	}
	if len(clean) == 1 {
		s.Mean = clean[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(clean, nil)
	return s
}
