package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region simulate
// SimulationParams are the true values used to generate a synthetic series.
type SimulationParams struct {
	X0      float64 `json:"x0"`
	TauAdd  float64 `json:"tau_add"`
	TauObs  float64 `json:"tau_obs"`
	Missing []int   `json:"missing,omitempty"` // 1-based steps to blank out
}

// Simulation is a synthetic series together with its latent truth.
type Simulation struct {
	Series series.Series
	Latent []float64
}

// Simulate draws a series of n steps from the state-space model with a
// random walk process. Counts are exp(y) rounded to whole birds; rounding to
// zero is kept as a zero count.
func Simulate(n, startYear int, p SimulationParams, seed uint64) (Simulation, error) {
	if n < 2 {
		return Simulation{}, fmt.Errorf("simulate: need at least 2 steps, got %d", n)
	}
	if !(p.TauAdd > 0) || !(p.TauObs > 0) {
		return Simulation{}, fmt.Errorf("simulate: precisions must be positive")
	}
	rng := NewSource(seed)
	process := distuv.Normal{Mu: 0, Sigma: 1 / math.Sqrt(p.TauAdd), Src: rng}
	observe := distuv.Normal{Mu: 0, Sigma: 1 / math.Sqrt(p.TauObs), Src: rng}

	skip := make(map[int]bool, len(p.Missing))
	for _, t := range p.Missing {
		skip[t] = true
	}

	latent := make([]float64, n)
	counts := make([]float64, n)
	for t := range n {
		if t == 0 {
			latent[t] = p.X0
		} else {
			latent[t] = latent[t-1] + process.Rand()
		}
		y := latent[t] + observe.Rand()
		counts[t] = math.Round(math.Exp(y))
		if skip[t+1] {
			counts[t] = math.NaN()
		}
	}
	return Simulation{Series: series.FromCounts("sim", startYear, counts), Latent: latent}, nil
}

// #endregion simulate
