package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

const (
	// RecommendedChains is the smallest chain count for which split R-hat is
	// informative.
	RecommendedChains = 3
	// maxRedraws bounds the bootstrap retries for a degenerate resample.
	maxRedraws = 100
	// obsPrecisionScale is the numerator of the initial tau_obs guess.
	obsPrecisionScale = 5.0
)

// ErrIdenticalInits is returned when two chains start from the same point.
var ErrIdenticalInits = errors.New("chains share identical initial values")

// #region chain-init
// ChainInit is the starting point of one MCMC chain.
type ChainInit struct {
	Chain  int       `json:"chain"`
	Seed   uint64    `json:"seed,string"`
	TauAdd float64   `json:"tau_add"`
	TauObs float64   `json:"tau_obs"`
	X      []float64 `json:"x"`
	Beta   []float64 `json:"beta,omitempty"`
}

// ChainSeed derives the per-chain seed from the fit seed.
func ChainSeed(seed uint64, chain int) uint64 {
	return seed + uint64(chain)*0x9E3779B97F4A7C15
}

// NewSource returns the PCG source for a chain seed. Every random draw in a
// fit goes through a source built here.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xDA3E39CB94B95BDB))
}

// InitChains draws one bootstrap initialisation per chain. Each chain
// resamples the observed counts with replacement to the length of the
// series; tau_add starts at 1/var(diff(ln resample)) and tau_obs at
// 5/var(ln resample). Degenerate resamples are redrawn, and after
// maxRedraws the prior mean is used with a per-chain jitter.
func InitChains(s series.Series, spec *Specification, chains int, seed uint64) ([]ChainInit, error) {
	if chains < 1 {
		return nil, fmt.Errorf("init chains: need at least 1 chain, got %d", chains)
	}
	logs := s.ObservedLogs()
	if len(logs) < 2 {
		return nil, series.NewDataError("init chains", "series %s has %d observed counts, need at least 2", s.Key(), len(logs))
	}
	n := s.Len()
	x0 := InterpolatedLogCounts(s)

	inits := make([]ChainInit, chains)
	for c := range chains {
		cs := ChainSeed(seed, c)
		rng := NewSource(cs)
		jitter := distuv.Normal{Mu: 0, Sigma: 0.5, Src: rng}

		var tauAdd, tauObs float64
		ok := false
		for range maxRedraws {
			tauAdd, tauObs, ok = bootstrapPrecisions(logs, n, rng)
			if !ok || !taken(inits[:c], tauAdd, tauObs) {
				break
			}
			ok = false
		}
		if !ok {
			tauAdd = spec.Priors.ProcessPrecision.Mean() * math.Exp(jitter.Rand())
			tauObs = spec.Priors.ObservationPrecision.Mean() * math.Exp(jitter.Rand())
		}

		beta := make([]float64, spec.Coefficients)
		for k := range beta {
			beta[k] = spec.Priors.Coefficient.Mean + 0.01*jitter.Rand()
		}
		inits[c] = ChainInit{
			Chain:  c,
			Seed:   cs,
			TauAdd: tauAdd,
			TauObs: tauObs,
			X:      append([]float64(nil), x0...),
			Beta:   beta,
		}
	}
	if err := DistinctInits(inits); err != nil {
		return nil, err
	}
	return inits, nil
}

// bootstrapPrecisions resamples the observed y values (ln count, offset
// included) to length n.
func bootstrapPrecisions(observed []float64, n int, rng *rand.Rand) (float64, float64, bool) {
	resample := make([]float64, n)
	diffs := make([]float64, n-1)
	for range maxRedraws {
		for i := range resample {
			resample[i] = observed[rng.IntN(len(observed))]
		}
		for i := range diffs {
			diffs[i] = resample[i+1] - resample[i]
		}
		vd := stat.Variance(diffs, nil)
		vl := stat.Variance(resample, nil)
		if vd > 0 && vl > 0 && !math.IsNaN(vd) && !math.IsNaN(vl) && !math.IsInf(vd, 0) {
			return 1 / vd, obsPrecisionScale / vl, true
		}
	}
	return 0, 0, false
}

func taken(prev []ChainInit, tauAdd, tauObs float64) bool {
	for _, p := range prev {
		if p.TauAdd == tauAdd && p.TauObs == tauObs {
			return true
		}
	}
	return false
}

// DistinctInits rejects initialisations where two chains share both
// precision starting values.
func DistinctInits(inits []ChainInit) error {
	for i := range inits {
		for j := i + 1; j < len(inits); j++ {
			if inits[i].TauAdd == inits[j].TauAdd && inits[i].TauObs == inits[j].TauObs &&
				floats.Equal(inits[i].Beta, inits[j].Beta) {
				return fmt.Errorf("%w: chains %d and %d", ErrIdenticalInits, inits[i].Chain, inits[j].Chain)
			}
		}
	}
	return nil
}

// #endregion chain-init

// #region latent-init
// InterpolatedLogCounts returns ln counts with missing slots filled by linear
// interpolation between neighbouring observed steps; leading and trailing
// gaps carry the nearest observed value.
func InterpolatedLogCounts(s series.Series) []float64 {
	y := s.LogCounts()
	n := len(y)
	out := make([]float64, n)
	prev := -1
	for i := range n {
		if math.IsNaN(y[i]) {
			continue
		}
		out[i] = y[i]
		switch {
		case prev < 0:
			for k := 0; k < i; k++ {
				out[k] = y[i]
			}
		case i-prev > 1:
			step := (y[i] - y[prev]) / float64(i-prev)
			for k := prev + 1; k < i; k++ {
				out[k] = y[prev] + step*float64(k-prev)
			}
		}
		prev = i
	}
	if prev >= 0 {
		for k := prev + 1; k < n; k++ {
			out[k] = y[prev]
		}
	}
	return out
}

// #endregion latent-init
