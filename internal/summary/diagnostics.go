package summary

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// #region warning
// ConvergenceWarning is a non-fatal diagnostic attached to a fit.
type ConvergenceWarning struct {
	Parameter string  `json:"parameter"`
	Check     string  `json:"check"`
	Value     float64 `json:"value"`
	Reason    string  `json:"reason"`
}

func (w ConvergenceWarning) Error() string {
	return fmt.Sprintf("convergence warning: %s %s: %s", w.Parameter, w.Check, w.Reason)
}

// CorrelationWarning flags strong correlation between the two precisions,
// a sign the data cannot separate process from observation noise.
func CorrelationWarning(r, threshold float64) *ConvergenceWarning {
	if math.IsNaN(r) || math.Abs(r) < threshold {
		return nil
	}
	return &ConvergenceWarning{
		Parameter: "tau_add,tau_obs",
		Check:     "correlation",
		Value:     r,
		Reason:    fmt.Sprintf("|r| = %.3f >= %.2f, process and observation noise are weakly identified", math.Abs(r), threshold),
	}
}

// #endregion warning

// #region rhat
// RHat is the split-chain potential scale reduction factor. Each chain is
// cut in half so within-chain drift inflates the statistic. Values near 1
// indicate the chains agree.
func RHat(chains [][]float64) (float64, error) {
	halves, err := split(chains)
	if err != nil {
		return 0, err
	}
	n := float64(len(halves[0]))
	means := make([]float64, len(halves))
	vars := make([]float64, len(halves))
	for i, h := range halves {
		means[i], vars[i] = stat.MeanVariance(h, nil)
	}
	w := stat.Mean(vars, nil)
	b := n * stat.Variance(means, nil)
	if w == 0 {
		if b == 0 {
			return 1, nil
		}
		return math.Inf(1), nil
	}
	varPlus := (n-1)/n*w + b/n
	return math.Sqrt(varPlus / w), nil
}

func split(chains [][]float64) ([][]float64, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("diagnostics: no chains")
	}
	n := len(chains[0])
	for _, c := range chains {
		if len(c) != n {
			return nil, fmt.Errorf("diagnostics: chains differ in length")
		}
	}
	if n < 4 {
		return nil, fmt.Errorf("diagnostics: need at least 4 draws per chain, got %d", n)
	}
	half := n / 2
	out := make([][]float64, 0, 2*len(chains))
	for _, c := range chains {
		out = append(out, c[:half], c[n-half:])
	}
	return out, nil
}

// #endregion rhat

// #region ess
// EffectiveSize estimates the number of independent draws across chains
// from the multi-chain variogram, truncating the autocorrelation sum at the
// first negative pair of lags.
func EffectiveSize(chains [][]float64) (float64, error) {
	if len(chains) == 0 {
		return 0, fmt.Errorf("effective size: no chains")
	}
	n := len(chains[0])
	for _, c := range chains {
		if len(c) != n {
			return 0, fmt.Errorf("effective size: chains differ in length")
		}
	}
	if n < 4 {
		return 0, fmt.Errorf("effective size: need at least 4 draws per chain, got %d", n)
	}
	m := float64(len(chains))
	total := m * float64(n)

	means := make([]float64, len(chains))
	vars := make([]float64, len(chains))
	for i, c := range chains {
		means[i], vars[i] = stat.MeanVariance(c, nil)
	}
	w := stat.Mean(vars, nil)
	b := 0.0
	if len(chains) > 1 {
		b = float64(n) * stat.Variance(means, nil)
	}
	varPlus := (float64(n)-1)/float64(n)*w + b/float64(n)
	if varPlus == 0 {
		return total, nil
	}

	rho := func(lag int) float64 {
		v := 0.0
		for _, c := range chains {
			d := make([]float64, n-lag)
			floats.SubTo(d, c[lag:], c[:n-lag])
			v += floats.Dot(d, d)
		}
		v /= m * float64(n-lag)
		return 1 - v/(2*varPlus)
	}

	sum := 0.0
	for lag := 1; lag+1 < n; lag += 2 {
		pair := rho(lag) + rho(lag+1)
		if pair < 0 {
			break
		}
		sum += pair
	}
	ess := total / (1 + 2*sum)
	return math.Min(ess, total), nil
}

// #endregion ess

// #region stationarity
// Stationarity compares the first and second half of the pooled chains with
// a z-score scaled by the effective size of each half.
func Stationarity(chains [][]float64) (float64, error) {
	halves, err := split(chains)
	if err != nil {
		return 0, err
	}
	var first, second [][]float64
	for i, h := range halves {
		if i%2 == 0 {
			first = append(first, h)
		} else {
			second = append(second, h)
		}
	}
	m1, v1, e1, err := pooledMoments(first)
	if err != nil {
		return 0, err
	}
	m2, v2, e2, err := pooledMoments(second)
	if err != nil {
		return 0, err
	}
	se := math.Sqrt(v1/e1 + v2/e2)
	if se == 0 {
		if m1 == m2 {
			return 0, nil
		}
		return math.Inf(1), nil
	}
	return (m1 - m2) / se, nil
}

func pooledMoments(chains [][]float64) (mean, variance, ess float64, err error) {
	var all []float64
	for _, c := range chains {
		all = append(all, c...)
	}
	mean, variance = stat.MeanVariance(all, nil)
	ess, err = EffectiveSize(chains)
	if err != nil || ess < 1 {
		ess = 1
		err = nil
	}
	return mean, variance, ess, err
}

// #endregion stationarity
