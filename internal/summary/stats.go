// Package summary reduces posterior sample matrices to the quantities a
// reader of a fit looks at: credible envelopes on the count scale, noise
// standard deviations, the precision correlation and chain diagnostics.
package summary

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Default credible interval probabilities.
const (
	LowerProb  = 0.025
	MedianProb = 0.5
	UpperProb  = 0.975
)

// #region quantile
// Interval is a (2.5%, 50%, 97.5%) triple.
type Interval struct {
	Lower  float64 `json:"lower"`
	Median float64 `json:"median"`
	Upper  float64 `json:"upper"`
}

// Contains reports whether v lies inside [Lower, Upper].
func (i Interval) Contains(v float64) bool {
	return v >= i.Lower && v <= i.Upper
}

// Map applies f to every bound. f must be monotone increasing.
func (i Interval) Map(f func(float64) float64) Interval {
	return Interval{Lower: f(i.Lower), Median: f(i.Median), Upper: f(i.Upper)}
}

// Quantiles returns the default credible triple of draws. The input is not
// modified.
func Quantiles(draws []float64) (Interval, error) {
	if len(draws) == 0 {
		return Interval{}, fmt.Errorf("quantiles: no draws")
	}
	sorted := append([]float64(nil), draws...)
	sort.Float64s(sorted)
	return Interval{
		Lower:  stat.Quantile(LowerProb, stat.Empirical, sorted, nil),
		Median: stat.Quantile(MedianProb, stat.Empirical, sorted, nil),
		Upper:  stat.Quantile(UpperProb, stat.Empirical, sorted, nil),
	}, nil
}

// #endregion quantile

// #region precision
// PrecisionToSD converts a precision to a standard deviation, 1/sqrt(p).
func PrecisionToSD(p float64) float64 {
	return 1 / math.Sqrt(p)
}

// SDToPrecision converts a standard deviation to a precision, 1/sd².
func SDToPrecision(sd float64) float64 {
	return 1 / (sd * sd)
}

// SDs converts every precision draw to a standard deviation.
func SDs(precisions []float64) []float64 {
	out := make([]float64, len(precisions))
	for i, p := range precisions {
		out[i] = PrecisionToSD(p)
	}
	return out
}

// #endregion precision

// #region correlation
// Correlation returns the Pearson correlation of two equally long draw
// vectors. A constant vector yields NaN.
func Correlation(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("correlation: length mismatch %d vs %d", len(a), len(b))
	}
	if len(a) < 2 {
		return 0, fmt.Errorf("correlation: need at least 2 draws, got %d", len(a))
	}
	return stat.Correlation(a, b, nil), nil
}

// #endregion correlation
