package gibbs

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

func request(t *testing.T, s series.Series, opts model.BuildOptions, seed uint64) *engine.Request {
	t.Helper()
	spec, err := model.Build(s, opts)
	require.NoError(t, err)
	inits, err := model.InitChains(s, spec, 3, seed)
	require.NoError(t, err)
	return &engine.Request{Spec: spec, Inits: inits, Iterations: 1000, Discard: 500}
}

func simulated(t *testing.T) model.Simulation {
	t.Helper()
	sim, err := model.Simulate(30, 1990, model.SimulationParams{
		X0: math.Log(800), TauAdd: 40, TauObs: 30, Missing: []int{4, 11, 12},
	}, 99)
	require.NoError(t, err)
	return sim
}

func TestSampleShapeAndPositivity(t *testing.T) {
	sim := simulated(t)
	req := request(t, sim.Series, model.BuildOptions{}, 1)
	req.Thin = 2

	out, err := New().Sample(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, out.Validate())

	assert.Len(t, out.Chains, 3)
	assert.Equal(t, 500, out.Draws())
	assert.Equal(t, 30, out.VectorLen(model.VarX))
	assert.Equal(t, 2+30, len(out.Columns))

	for _, name := range []string{model.VarTauAdd, model.VarTauObs} {
		col, err := out.Column(name)
		require.NoError(t, err)
		for _, v := range col {
			require.Greater(t, v, 0.0)
		}
	}
	rows, cols := out.Pooled().Dims()
	assert.Equal(t, 1500, rows)
	assert.Equal(t, 32, cols)
}

func TestSampleRetainsOnlyRequestedVariables(t *testing.T) {
	sim := simulated(t)
	req := request(t, sim.Series, model.BuildOptions{}, 1)
	req.Variables = []string{model.VarTauAdd, model.VarTauObs}

	out, err := New().Sample(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{model.VarTauAdd, model.VarTauObs}, out.Columns)
}

func TestSampleIsReproducible(t *testing.T) {
	sim := simulated(t)
	req := request(t, sim.Series, model.BuildOptions{}, 5)
	req.Iterations, req.Discard = 100, 10

	a, err := New().Sample(context.Background(), req)
	require.NoError(t, err)
	b, err := New().Sample(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.Chains, b.Chains)
}

func TestSampleTracksLatentTruth(t *testing.T) {
	sim := simulated(t)
	req := request(t, sim.Series, model.BuildOptions{}, 3)
	req.Iterations, req.Discard = 2000, 1000

	out, err := New().Sample(context.Background(), req)
	require.NoError(t, err)

	inside := 0
	for i, truth := range sim.Latent {
		col, err := out.Column(engine.Indexed(model.VarX, i+1))
		require.NoError(t, err)
		lo := stat.Quantile(0.005, stat.Empirical, sorted(col), nil)
		hi := stat.Quantile(0.995, stat.Empirical, sorted(col), nil)
		if truth >= lo && truth <= hi {
			inside++
		}
	}
	assert.GreaterOrEqual(t, float64(inside)/float64(len(sim.Latent)), 0.85)
}

func TestSampleRecoversCovariateEffect(t *testing.T) {
	// covariate-driven growth; rounding is the only observation noise
	n := 40
	counts := make([]float64, n)
	cov := make([]float64, n)
	x := math.Log(500)
	for i := range n {
		cov[i] = math.Sin(float64(i))
		if i > 0 {
			x += 0.3 * cov[i]
		}
		counts[i] = math.Round(math.Exp(x))
	}
	s := series.FromCounts("cov", 1980, counts)
	for i := range s.Observations {
		s.Observations[i].Covariate = cov[i]
		s.Observations[i].HasCovariate = true
	}
	req := request(t, s, model.BuildOptions{Link: model.LinearCovariate{}}, 11)
	req.Iterations, req.Discard = 2000, 1000

	out, err := New().Sample(context.Background(), req)
	require.NoError(t, err)
	beta, err := out.Column(engine.Indexed(model.VarBeta, 1))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, stat.Mean(beta, nil), 0.1)
}

func TestSampleHonorsCancellation(t *testing.T) {
	sim := simulated(t)
	req := request(t, sim.Series, model.BuildOptions{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := New().Sample(ctx, req)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSampleRejectsInvalidRequests(t *testing.T) {
	sim := simulated(t)
	req := request(t, sim.Series, model.BuildOptions{}, 1)

	bad := *req
	bad.Iterations = 0
	_, err := New().Sample(context.Background(), &bad)
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)

	bad = *req
	bad.Variables = []string{"sigma"}
	_, err = New().Sample(context.Background(), &bad)
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)

	bad = *req
	bad.Inits = nil
	_, err = New().Sample(context.Background(), &bad)
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)
}

func TestInterpolate(t *testing.T) {
	got := interpolate([]bool{false, true, false, true, false}, []float64{0, 2, 0, 4, 0})
	assert.Equal(t, []float64{2, 2, 3, 4, 4}, got)
}

func sorted(v []float64) []float64 {
	out := append([]float64(nil), v...)
	sort.Float64s(out)
	return out
}
