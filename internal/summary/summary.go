package summary

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// DefaultCorrelationThreshold is the |r| above which the precision
// correlation is reported.
const DefaultCorrelationThreshold = 0.7

// #region diagnostic
// Diagnostic holds the chain statistics of one scalar column.
type Diagnostic struct {
	Column        string  `json:"column"`
	Mean          float64 `json:"mean"`
	RHat          float64 `json:"rhat"`
	EffectiveSize float64 `json:"ess"`
	Stationarity  float64 `json:"z"`
}

// Diagnose computes R-hat, effective size and the half-split z-score for
// each named column.
func Diagnose(s *engine.Samples, columns []string) ([]Diagnostic, error) {
	out := make([]Diagnostic, 0, len(columns))
	for _, c := range columns {
		chains, err := s.PerChain(c)
		if err != nil {
			return nil, err
		}
		d := Diagnostic{Column: c}
		pooled, _ := s.Column(c)
		d.Mean = stat.Mean(pooled, nil)
		if d.RHat, err = RHat(chains); err != nil {
			return nil, fmt.Errorf("diagnose %s: %w", c, err)
		}
		if d.EffectiveSize, err = EffectiveSize(chains); err != nil {
			return nil, fmt.Errorf("diagnose %s: %w", c, err)
		}
		if d.Stationarity, err = Stationarity(chains); err != nil {
			return nil, fmt.Errorf("diagnose %s: %w", c, err)
		}
		d.RHat, d.Stationarity = clampInf(d.RHat), clampInf(d.Stationarity)
		out = append(out, d)
	}
	return out, nil
}

// clampInf keeps diagnostics JSON-encodable.
func clampInf(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

// ScalarColumns returns the non-latent columns of a sample matrix.
func ScalarColumns(s *engine.Samples) []string {
	var out []string
	prefix := model.VarX + "["
	for _, c := range s.Columns {
		if !strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// #endregion diagnostic

// #region summary
// Options controls Summarize.
type Options struct {
	CorrelationThreshold float64
	Seed                 uint64 // drives the predictive noise draws
}

// Summary is everything reported about a production run.
type Summary struct {
	Chains        int                  `json:"chains"`
	Draws         int                  `json:"draws"`
	Latent        Envelope             `json:"latent"`
	Predictive    Envelope             `json:"predictive"`
	ProcessSD     Interval             `json:"process_sd"`
	ObservationSD Interval             `json:"observation_sd"`
	Coefficients  []Interval           `json:"coefficients,omitempty"`
	Correlation   float64              `json:"correlation"`
	Coverage      float64              `json:"coverage"`
	LatentCover   float64              `json:"latent_coverage"`
	Diagnostics   []Diagnostic         `json:"diagnostics,omitempty"`
	Warnings      []ConvergenceWarning `json:"warnings,omitempty"`
}

// Summarize reduces a production sample matrix for series s.
func Summarize(samples *engine.Samples, s series.Series, opts Options) (*Summary, error) {
	if opts.CorrelationThreshold <= 0 {
		opts.CorrelationThreshold = DefaultCorrelationThreshold
	}
	n := s.Len()
	if got := samples.VectorLen(model.VarX); got != n {
		return nil, fmt.Errorf("summarize: sample matrix has %d latent columns, series has %d steps", got, n)
	}

	out := &Summary{Chains: len(samples.Chains), Draws: samples.Draws()}

	latent, err := LatentEnvelope(samples, n)
	if err != nil {
		return nil, err
	}
	out.Latent = latent.Attach(s)
	out.LatentCover = out.Latent.Coverage()

	predictive, err := PredictiveEnvelope(samples, n, opts.Seed)
	if err != nil {
		return nil, err
	}
	out.Predictive = predictive.Attach(s)
	out.Coverage = out.Predictive.Coverage()

	tauAdd, err := samples.Column(model.VarTauAdd)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	tauObs, err := samples.Column(model.VarTauObs)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	if out.ProcessSD, err = Quantiles(SDs(tauAdd)); err != nil {
		return nil, fmt.Errorf("summarize process sd: %w", err)
	}
	if out.ObservationSD, err = Quantiles(SDs(tauObs)); err != nil {
		return nil, fmt.Errorf("summarize observation sd: %w", err)
	}

	for k := 1; k <= samples.VectorLen(model.VarBeta); k++ {
		col, err := samples.Column(engine.Indexed(model.VarBeta, k))
		if err != nil {
			return nil, fmt.Errorf("summarize: %w", err)
		}
		q, err := Quantiles(col)
		if err != nil {
			return nil, fmt.Errorf("summarize beta[%d]: %w", k, err)
		}
		out.Coefficients = append(out.Coefficients, q)
	}

	if out.Correlation, err = Correlation(tauAdd, tauObs); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	if math.IsNaN(out.Correlation) {
		out.Correlation = 0
		out.Warnings = append(out.Warnings, ConvergenceWarning{
			Parameter: "tau_add,tau_obs", Check: "correlation",
			Reason: "a precision chain is constant, correlation undefined",
		})
	} else if w := CorrelationWarning(out.Correlation, opts.CorrelationThreshold); w != nil {
		out.Warnings = append(out.Warnings, *w)
	}
	return out, nil
}

// #endregion summary
