package summary

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region envelope
// Step is the credible envelope of one time step on the linear count scale,
// alongside the observed count when there is one.
type Step struct {
	T        int      `json:"t"`
	Date     string   `json:"date,omitempty"`
	Interval Interval `json:"interval"`
	Count    float64  `json:"count,omitempty"`
	Observed bool     `json:"observed"`
}

// Envelope is the per-step 95% credible band of a fit.
type Envelope []Step

// LatentEnvelope computes quantiles of every x[t] column over the pooled
// draws and exponentiates them back to the count scale.
func LatentEnvelope(s *engine.Samples, n int) (Envelope, error) {
	env := make(Envelope, n)
	for t := 1; t <= n; t++ {
		col, err := s.Column(engine.Indexed(model.VarX, t))
		if err != nil {
			return nil, fmt.Errorf("latent envelope: %w", err)
		}
		q, err := Quantiles(col)
		if err != nil {
			return nil, fmt.Errorf("latent envelope x[%d]: %w", t, err)
		}
		env[t-1] = Step{T: t, Interval: q.Map(math.Exp)}
	}
	return env, nil
}

// PredictiveEnvelope adds observation noise to every latent draw,
// y = x + N(0, 1/sqrt(tau_obs)), before taking quantiles. This is the band
// a new count is expected to fall in.
func PredictiveEnvelope(s *engine.Samples, n int, seed uint64) (Envelope, error) {
	tau, err := s.Column(model.VarTauObs)
	if err != nil {
		return nil, fmt.Errorf("predictive envelope: %w", err)
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: model.NewSource(seed)}
	env := make(Envelope, n)
	for t := 1; t <= n; t++ {
		col, err := s.Column(engine.Indexed(model.VarX, t))
		if err != nil {
			return nil, fmt.Errorf("predictive envelope: %w", err)
		}
		for i := range col {
			col[i] += PrecisionToSD(tau[i]) * norm.Rand()
		}
		q, err := Quantiles(col)
		if err != nil {
			return nil, fmt.Errorf("predictive envelope x[%d]: %w", t, err)
		}
		env[t-1] = Step{T: t, Interval: q.Map(math.Exp)}
	}
	return env, nil
}

// Attach copies dates and observed counts from the series onto the envelope.
// With a zero offset the band estimates count+offset; the offset is
// subtracted, floored at zero.
func (e Envelope) Attach(s series.Series) Envelope {
	out := make(Envelope, len(e))
	copy(out, e)
	if off := s.ZeroOffset; off > 0 {
		for i := range out {
			out[i].Interval = out[i].Interval.Map(func(v float64) float64 { return math.Max(0, v-off) })
		}
	}
	for i := range out {
		if i >= s.Len() {
			break
		}
		o := s.Observations[i]
		out[i].Date = o.Date.Format("2006-01-02")
		out[i].Count = o.Count
		out[i].Observed = o.Observed
	}
	return out
}

// Coverage returns the fraction of observed steps whose count lies inside
// the envelope. Envelopes without observed steps have coverage NaN.
func (e Envelope) Coverage() float64 {
	inside, total := 0, 0
	for _, st := range e {
		if !st.Observed {
			continue
		}
		total++
		if st.Interval.Contains(st.Count) {
			inside++
		}
	}
	if total == 0 {
		return math.NaN()
	}
	return float64(inside) / float64(total)
}

// Medians returns the per-step medians.
func (e Envelope) Medians() []float64 {
	out := make([]float64, len(e))
	for i, st := range e {
		out[i] = st.Interval.Median
	}
	return out
}

// #endregion envelope

// #region csv
// WriteEnvelopeCSV writes t,date,lower,median,upper,count rows; count is
// empty for unobserved steps.
func WriteEnvelopeCSV(w io.Writer, e Envelope) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"t", "date", "lower", "median", "upper", "count"}); err != nil {
		return err
	}
	for _, st := range e {
		count := ""
		if st.Observed {
			count = strconv.FormatFloat(st.Count, 'f', -1, 64)
		}
		row := []string{
			strconv.Itoa(st.T),
			st.Date,
			strconv.FormatFloat(st.Interval.Lower, 'f', 4, 64),
			strconv.FormatFloat(st.Interval.Median, 'f', 4, 64),
			strconv.FormatFloat(st.Interval.Upper, 'f', 4, 64),
			count,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// #endregion csv
