package analytics

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile (0..100) of sorted using linear
// interpolation between closest ranks: rank = p/100 * (n-1). An empty
// sample yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// summarize sorts a copy of sample and returns p50 and p90.
func summarize(sample []float64) (p50, p90 float64) {
	s := append([]float64(nil), sample...)
	sort.Float64s(s)
	return Percentile(s, 50), Percentile(s, 90)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
