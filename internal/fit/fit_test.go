package fit

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine/gibbs"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/gate"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/logging"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/store"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

func simulated(t *testing.T, seed uint64) model.Simulation {
	t.Helper()
	sim, err := model.Simulate(30, 1995, model.SimulationParams{
		X0: math.Log(1200), TauAdd: 40, TauObs: 30, Missing: []int{5, 17},
	}, seed)
	require.NoError(t, err)
	return sim
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.BurnIn = 1000
	cfg.Iterations = 2000
	cfg.MaxExtensions = 0
	return cfg
}

// countingEngine records the requests it sees and delegates to inner.
type countingEngine struct {
	inner    engine.Engine
	requests []*engine.Request
}

func (c *countingEngine) Sample(ctx context.Context, req *engine.Request) (*engine.Samples, error) {
	c.requests = append(c.requests, req)
	return c.inner.Sample(ctx, req)
}

type failingEngine struct{ err error }

func (f failingEngine) Sample(context.Context, *engine.Request) (*engine.Samples, error) {
	return nil, f.err
}

// scriptedEngine answers burn-in requests from a queue of prepared samples
// and hands production requests to inner.
type scriptedEngine struct {
	inner   engine.Engine
	burnIns []*engine.Samples
}

func (e *scriptedEngine) Sample(ctx context.Context, req *engine.Request) (*engine.Samples, error) {
	if len(req.Variables) > 0 && len(e.burnIns) > 0 {
		next := e.burnIns[0]
		e.burnIns = e.burnIns[1:]
		return next, nil
	}
	return e.inner.Sample(ctx, req)
}

// burnInDraws builds 3 chains of tau_add, tau_obs. shift moves each chain's
// tau_add mean apart; couple mixes tau_add into tau_obs.
func burnInDraws(draws int, shift, couple float64) *engine.Samples {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: model.NewSource(17)}
	s := &engine.Samples{Columns: []string{model.VarTauAdd, model.VarTauObs}}
	for c := range 3 {
		var chain [][]float64
		for range draws {
			a := 5 + 0.5*norm.Rand() + shift*float64(c)
			o := 8 + 0.5*norm.Rand() + couple*(a-5)
			chain = append(chain, []float64{a, o})
		}
		s.Chains = append(s.Chains, chain)
	}
	return s
}

func provenanceTriggers(t *testing.T, st *store.Store, fitID string) []string {
	t.Helper()
	rows, err := st.DB().Query(`SELECT trigger_type FROM provenance_log WHERE fit_id = ? ORDER BY id`, fitID)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tr string
		require.NoError(t, rows.Scan(&tr))
		out = append(out, tr)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StageInitialized, m.Stage())

	err := m.Advance(StageProduction)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	for _, s := range []Stage{StageBurnIn, StageConvergenceChecked, StageBurnIn, StageConvergenceChecked, StageProduction, StageSummarized} {
		require.NoError(t, m.Advance(s))
	}
	assert.True(t, m.Stage().Terminal())
	assert.ErrorIs(t, m.Advance(StageFailed), ErrInvalidTransition)
	assert.Len(t, m.History(), 7)

	assert.False(t, CanTransition(StageBurnIn, StageProduction))
	assert.True(t, CanTransition(StageConvergenceChecked, StageBurnIn))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Chains = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Link = "quadratic"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Priors = &model.Priors{}
	assert.ErrorIs(t, bad.Validate(), model.ErrInvalidSpec)

	_, err := NewFitter(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestFitRunsTwoPhaseProtocol(t *testing.T) {
	sim := simulated(t, 3)
	eng := &countingEngine{inner: gibbs.New()}
	f, err := NewFitter(eng, smallConfig())
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), sim.Series)
	require.NoError(t, err)
	assert.Equal(t, StageSummarized, res.Stage)
	assert.Equal(t, []Stage{StageInitialized, StageBurnIn, StageConvergenceChecked, StageProduction, StageSummarized}, res.History)
	assert.Equal(t, res.Converged(), !res.Attempts[0].Decision.Vetoed)

	require.Len(t, eng.requests, 2)
	burn, prod := eng.requests[0], eng.requests[1]
	assert.Equal(t, []string{model.VarTauAdd, model.VarTauObs}, burn.Variables)
	assert.Equal(t, 1000, burn.Iterations)
	assert.Equal(t, 1000, prod.Discard)
	assert.Empty(t, prod.Variables)

	assert.Equal(t, 30, res.Samples.VectorLen(model.VarX))
	assert.True(t, res.Eval.Passed, res.Eval.Reason)
	require.Len(t, res.Summary.Latent, 30)
}

func TestFitEnvelopeCoversObservedCounts(t *testing.T) {
	sim := simulated(t, 7)
	f, err := NewFitter(gibbs.New(), smallConfig())
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), sim.Series)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Summary.Coverage, 0.9)
	cov, ok := res.Eval.Metric("coverage")
	require.True(t, ok)
	assert.True(t, cov.Pass)
}

func TestFitMediansStableAcrossSeeds(t *testing.T) {
	sim := simulated(t, 11)
	run := func(seed uint64) *Result {
		cfg := smallConfig()
		cfg.Iterations = 5000
		cfg.Seed = seed
		f, err := NewFitter(gibbs.New(), cfg)
		require.NoError(t, err)
		res, err := f.Fit(context.Background(), sim.Series)
		require.NoError(t, err)
		return res
	}
	a, b := run(1), run(2)
	for i := range a.Summary.Latent {
		ma, mb := a.Summary.Latent[i].Interval.Median, b.Summary.Latent[i].Interval.Median
		assert.InEpsilon(t, ma, mb, 0.05, "step %d", i+1)
	}
}

func TestFitExtendsThenProceedsProvisionally(t *testing.T) {
	sim := simulated(t, 3)
	cfg := smallConfig()
	cfg.BurnIn = 100
	cfg.MaxExtensions = 1
	cfg.Gate.MinEffectiveSize = 1e9
	eng := &countingEngine{inner: gibbs.New()}
	f, err := NewFitter(eng, cfg)
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), sim.Series)
	require.NoError(t, err)
	assert.Equal(t, StageSummarized, res.Stage)
	assert.True(t, res.Provisional)
	assert.False(t, res.Converged())
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, 100, res.Attempts[0].BurnIn)
	assert.Equal(t, 200, res.Attempts[1].BurnIn)
	assert.NotEqual(t, res.Attempts[0].Seed, res.Attempts[1].Seed)
	assert.NotEmpty(t, res.Warnings)

	require.Len(t, eng.requests, 3)
	assert.Equal(t, 200, eng.requests[2].Discard)
	assert.NotEqual(t, eng.requests[0].Inits[0].Seed, eng.requests[1].Inits[0].Seed)
}

func TestFitStrictFailsWithoutConvergence(t *testing.T) {
	sim := simulated(t, 3)
	cfg := smallConfig()
	cfg.BurnIn = 100
	cfg.MaxExtensions = 0
	cfg.Strict = true
	cfg.Gate.MinEffectiveSize = 1e9
	f, err := NewFitter(gibbs.New(), cfg)
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), sim.Series)
	assert.ErrorIs(t, err, ErrNotConverged)
	require.NotNil(t, res)
	assert.Equal(t, StageFailed, res.Stage)
	assert.Nil(t, res.Samples)
}

func TestFitPassesEngineErrorsThrough(t *testing.T) {
	sentinel := errors.New("engine exploded")
	f, err := NewFitter(failingEngine{err: sentinel}, smallConfig())
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), simulated(t, 3).Series)
	assert.Same(t, sentinel, err)
	assert.Equal(t, StageFailed, res.Stage)
	assert.Equal(t, []Stage{StageInitialized, StageBurnIn, StageFailed}, res.History)
}

func TestFitRejectsUnusableSeries(t *testing.T) {
	f, err := NewFitter(failingEngine{err: errors.New("must not be called")}, smallConfig())
	require.NoError(t, err)

	s := series.FromCounts("dry", 2000, []float64{math.NaN(), math.NaN(), math.NaN()})
	res, err := f.Fit(context.Background(), s)
	assert.ErrorIs(t, err, series.ErrData)
	assert.Equal(t, StageFailed, res.Stage)
}

func TestFitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := NewFitter(gibbs.New(), smallConfig())
	require.NoError(t, err)

	_, err = f.Fit(ctx, simulated(t, 3).Series)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitCommitsToStore(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "fits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sim := simulated(t, 3)
	f, err := NewFitter(gibbs.New(), smallConfig(), WithStore(st))
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), sim.Series)
	require.NoError(t, err)

	active, err := st.GetActive(sim.Series.Key())
	require.NoError(t, err)
	assert.Equal(t, res.FitID, active.FitID)
	assert.Equal(t, store.StageSummarized, active.Stage)
	assert.Contains(t, active.SeriesJSON, `"counts"`)

	withProv, err := st.GetFitWithProvenance(res.FitID)
	require.NoError(t, err)
	assert.Equal(t, "commit", withProv.Decision)

	var rows int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM provenance_log WHERE fit_id = ?`, res.FitID).Scan(&rows))
	assert.Equal(t, 2, rows)
}

func TestRunAllIsolatesFailures(t *testing.T) {
	f, err := NewFitter(gibbs.New(), smallConfig())
	require.NoError(t, err)

	good := simulated(t, 3).Series
	other := simulated(t, 4).Series
	other.Site = "north"
	bad := series.FromCounts("dry", 2000, []float64{math.NaN(), math.NaN()})

	out, err := f.RunAll(context.Background(), []series.Series{good, bad, other}, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.NoError(t, out[0].Err)
	assert.ErrorIs(t, out[1].Err, series.ErrData)
	assert.NoError(t, out[2].Err)
	assert.Equal(t, "north/", out[2].Key)
	assert.NotEqual(t, out[0].Result.FitID, out[2].Result.FitID)
}

func TestExtensionSeedDiffers(t *testing.T) {
	assert.NotEqual(t, ExtensionSeed(1, 1), ExtensionSeed(1, 2))
	assert.Equal(t, uint64(5), ExtensionSeed(5, 0))
}

func TestFitDropsWarningsOfSupersededAttempts(t *testing.T) {
	cfg := smallConfig()
	cfg.BurnIn = 100
	cfg.MaxExtensions = 1
	eng := &scriptedEngine{
		inner:   gibbs.New(),
		burnIns: []*engine.Samples{burnInDraws(1000, 3, 3), burnInDraws(1000, 0, 0)},
	}
	f, err := NewFitter(eng, cfg)
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), simulated(t, 3).Series)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	first := res.Attempts[0].Decision
	require.True(t, first.Vetoed)
	require.NotEmpty(t, first.Warnings, "first attempt should carry a correlation warning")
	assert.True(t, res.Converged())
	assert.Equal(t, 200, res.BurnIn)

	assert.Equal(t, res.Summary.Warnings, res.Warnings)
	assert.Equal(t, len(res.Summary.Warnings) > 0, res.Provisional)
	for _, w := range res.Warnings {
		assert.NotEqual(t, string(gate.VetoRHat), w.Check)
	}
}

func TestMergeWarningsKeepsOnePerCheck(t *testing.T) {
	corr := summary.ConvergenceWarning{Parameter: "tau_add,tau_obs", Check: "correlation", Reason: "burn-in"}
	rhat := summary.ConvergenceWarning{Parameter: "tau_add", Check: "rhat", Reason: "r"}
	later := summary.ConvergenceWarning{Parameter: "tau_add,tau_obs", Check: "correlation", Reason: "production"}

	out := mergeWarnings([]summary.ConvergenceWarning{corr, rhat}, []summary.ConvergenceWarning{later})
	require.Len(t, out, 2)
	assert.Equal(t, "production", out[0].Reason)
	assert.Equal(t, rhat, out[1])
	assert.Nil(t, mergeWarnings(nil, nil))
}

func TestFitLogsFailureUnderFailingStage(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "fits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f, err := NewFitter(failingEngine{err: errors.New("engine down")}, smallConfig(), WithStore(st))
	require.NoError(t, err)

	res, err := f.Fit(context.Background(), simulated(t, 3).Series)
	require.Error(t, err)
	assert.Equal(t, []string{logging.TriggerBurnIn}, provenanceTriggers(t, st, res.FitID))

	dry := series.FromCounts("dry", 2000, []float64{math.NaN(), math.NaN(), math.NaN()})
	res, err = f.Fit(context.Background(), dry)
	require.ErrorIs(t, err, series.ErrData)
	assert.Equal(t, []string{logging.TriggerInit}, provenanceTriggers(t, st, res.FitID))

	assert.Equal(t, logging.TriggerProduction, triggerFor(StageProduction))
}
