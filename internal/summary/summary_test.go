package summary

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

func TestPrecisionSDRoundTrip(t *testing.T) {
	for _, p := range []float64{1e-6, 0.01, 0.5, 1, 3.7, 250, 1e6} {
		assert.InEpsilon(t, p, SDToPrecision(PrecisionToSD(p)), 1e-12, "precision %g", p)
	}
	assert.Equal(t, 0.5, PrecisionToSD(4))
	assert.Equal(t, []float64{1, 0.5}, SDs([]float64{1, 4}))
}

func TestQuantiles(t *testing.T) {
	draws := make([]float64, 100)
	for i := range draws {
		draws[99-i] = float64(i + 1)
	}
	q, err := Quantiles(draws)
	require.NoError(t, err)
	assert.Equal(t, Interval{Lower: 3, Median: 50, Upper: 98}, q)
	assert.Equal(t, 100.0, draws[0], "input must not be sorted in place")
	assert.True(t, q.Contains(50))
	assert.False(t, q.Contains(99))

	_, err = Quantiles(nil)
	assert.Error(t, err)
}

func TestCorrelationWarning(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10.5}
	r, err := Correlation(a, b)
	require.NoError(t, err)
	assert.Greater(t, r, 0.99)

	w := CorrelationWarning(r, DefaultCorrelationThreshold)
	require.NotNil(t, w)
	assert.Equal(t, "correlation", w.Check)
	assert.Contains(t, w.Error(), "tau_add,tau_obs")

	assert.Nil(t, CorrelationWarning(-0.2, DefaultCorrelationThreshold))
	assert.NotNil(t, CorrelationWarning(-0.9, DefaultCorrelationThreshold))
	assert.Nil(t, CorrelationWarning(math.NaN(), DefaultCorrelationThreshold))

	_, err = Correlation(a, b[:3])
	assert.Error(t, err)
}

func normalChains(m, n int, shift float64, seed uint64) [][]float64 {
	d := distuv.Normal{Mu: 0, Sigma: 1, Src: model.NewSource(seed)}
	out := make([][]float64, m)
	for c := range out {
		out[c] = make([]float64, n)
		for i := range out[c] {
			out[c][i] = d.Rand() + shift*float64(c)
		}
	}
	return out
}

func TestRHat(t *testing.T) {
	mixed, err := RHat(normalChains(3, 1000, 0, 1))
	require.NoError(t, err)
	assert.Less(t, mixed, 1.05)

	apart, err := RHat(normalChains(3, 1000, 5, 1))
	require.NoError(t, err)
	assert.Greater(t, apart, 1.5)

	constant, err := RHat([][]float64{{1, 1, 1, 1}, {1, 1, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, constant)

	_, err = RHat([][]float64{{1, 2}})
	assert.Error(t, err)
}

func TestEffectiveSize(t *testing.T) {
	iid := normalChains(3, 1000, 0, 2)
	essIID, err := EffectiveSize(iid)
	require.NoError(t, err)
	assert.Greater(t, essIID, 1500.0)

	// AR(1) with strong autocorrelation
	ar := make([][]float64, 3)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: model.NewSource(3)}
	for c := range ar {
		ar[c] = make([]float64, 1000)
		for i := 1; i < 1000; i++ {
			ar[c][i] = 0.95*ar[c][i-1] + noise.Rand()
		}
	}
	essAR, err := EffectiveSize(ar)
	require.NoError(t, err)
	assert.Less(t, essAR, 500.0)
}

func TestStationarity(t *testing.T) {
	z, err := Stationarity(normalChains(3, 1000, 0, 4))
	require.NoError(t, err)
	assert.Less(t, math.Abs(z), 3.0)

	drift := normalChains(3, 1000, 0, 4)
	for _, c := range drift {
		for i := range c {
			c[i] += float64(i) / 100
		}
	}
	z, err = Stationarity(drift)
	require.NoError(t, err)
	assert.Greater(t, math.Abs(z), 3.0)
}

func TestHistogram(t *testing.T) {
	h, err := NewHistogram([]float64{0, 1, 1, 2, 3, 4, 4, 4}, 4)
	require.NoError(t, err)
	assert.Len(t, h.Edges, 5)
	assert.Equal(t, 8.0, floats.Sum(h.Counts))
	assert.Equal(t, 4.0, h.Counts[3])

	flat, err := NewHistogram([]float64{7, 7, 7}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, floats.Sum(flat.Counts))

	_, err = NewHistogram(nil, 3)
	assert.Error(t, err)
}

// fakeSamples builds draws where x[t] is centred on ln(count_t) with a tight
// spread and precisions are independent.
func fakeSamples(counts []float64, draws int) *engine.Samples {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: model.NewSource(9)}
	cols := []string{model.VarTauAdd, model.VarTauObs}
	for t := range counts {
		cols = append(cols, engine.Indexed(model.VarX, t+1))
	}
	s := &engine.Samples{Columns: cols}
	for range 2 {
		var chain [][]float64
		for range draws {
			row := []float64{50 + norm.Rand(), 100 + 5*norm.Rand()}
			for _, c := range counts {
				centre := math.Log(100)
				if !math.IsNaN(c) {
					centre = math.Log(c)
				}
				row = append(row, centre+0.05*norm.Rand())
			}
			chain = append(chain, row)
		}
		s.Chains = append(s.Chains, chain)
	}
	return s
}

func TestSummarize(t *testing.T) {
	counts := []float64{100, 110, math.NaN(), 95, 105}
	s := series.FromCounts("a", 2000, counts)
	samples := fakeSamples(counts, 500)

	sum, err := Summarize(samples, s, Options{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Chains)
	assert.Equal(t, 500, sum.Draws)
	require.Len(t, sum.Latent, 5)
	assert.InEpsilon(t, 110, sum.Latent[1].Interval.Median, 0.02)
	assert.False(t, sum.Latent[2].Observed)
	assert.Equal(t, 1.0, sum.Coverage)
	assert.InDelta(t, PrecisionToSD(50), sum.ProcessSD.Median, 0.01)
	assert.Less(t, math.Abs(sum.Correlation), 0.2)
	assert.Empty(t, sum.Warnings)
	assert.Empty(t, sum.Coefficients)

	for i := range sum.Predictive {
		assert.GreaterOrEqual(t, sum.Latent[i].Interval.Lower, sum.Predictive[i].Interval.Lower)
	}
}

func TestSummarizeRejectsMissingLatentColumns(t *testing.T) {
	counts := []float64{100, 110, 95}
	samples := fakeSamples(counts, 10)
	_, err := Summarize(samples, series.FromCounts("a", 2000, []float64{1, 2, 3, 4}), Options{})
	assert.Error(t, err)
}

func TestDiagnoseScalarColumns(t *testing.T) {
	samples := fakeSamples([]float64{100, 110, 95}, 200)
	cols := ScalarColumns(samples)
	assert.Equal(t, []string{model.VarTauAdd, model.VarTauObs}, cols)

	diags, err := Diagnose(samples, cols)
	require.NoError(t, err)
	require.Len(t, diags, 2)
	assert.Less(t, diags[0].RHat, 1.1)
	assert.InDelta(t, 50, diags[0].Mean, 0.5)
}

func TestWriteEnvelopeCSV(t *testing.T) {
	env := Envelope{
		{T: 1, Date: "2000-01-01", Interval: Interval{1, 2, 3}, Count: 2, Observed: true},
		{T: 2, Date: "2000-06-01", Interval: Interval{1.5, 2.5, 3.5}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteEnvelopeCSV(&buf, env))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "t,date,lower,median,upper,count", lines[0])
	assert.Equal(t, "1,2000-01-01,1.0000,2.0000,3.0000,2", lines[1])
	assert.Equal(t, "2,2000-06-01,1.5000,2.5000,3.5000,", lines[2])
	assert.Equal(t, 1.0, env.Coverage())
}

func TestAttachRemovesZeroOffset(t *testing.T) {
	env := Envelope{
		{T: 1, Interval: Interval{1.5, 2, 3}},
		{T: 2, Interval: Interval{0.5, 2.5, 4}},
	}
	s := series.FromCounts("a", 2000, []float64{1, 2})

	plain := env.Attach(s)
	assert.InDelta(t, 0.5, plain.Coverage(), 1e-12)
	assert.Equal(t, Interval{1.5, 2, 3}, plain[0].Interval)

	s.ZeroOffset = 1
	shifted := env.Attach(s)
	assert.InDelta(t, 1.0, shifted.Coverage(), 1e-12)
	assert.Equal(t, Interval{0.5, 1, 2}, shifted[0].Interval)
	assert.Equal(t, Interval{0, 1.5, 3}, shifted[1].Interval)
	// the input envelope is left alone
	assert.Equal(t, Interval{1.5, 2, 3}, env[0].Interval)
}
