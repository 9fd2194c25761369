package fit

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/eval"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/gate"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/logging"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/store"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

// #region fitter
// Fitter runs the burn-in, gate, production and summary protocol for one
// series at a time. A Fitter holds no per-fit state and is safe for
// concurrent use.
type Fitter struct {
	engine engine.Engine
	config Config
	gate   *gate.Gate
	eval   *eval.EvalHarness
	store  *store.Store
	logger *zap.Logger
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fitter) { f.logger = l }
}

// WithStore persists gate decisions and summarized fits.
func WithStore(s *store.Store) Option {
	return func(f *Fitter) { f.store = s }
}

// NewFitter validates cfg and wires the gate and eval harness.
func NewFitter(eng engine.Engine, cfg Config, opts ...Option) (*Fitter, error) {
	if eng == nil {
		return nil, fmt.Errorf("new fitter: nil engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Fitter{
		engine: eng,
		config: cfg,
		gate:   gate.NewGate(cfg.Gate),
		eval:   eval.NewEvalHarness(cfg.Eval),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Config returns the fit configuration.
func (f *Fitter) Config() Config {
	return f.config
}

// #endregion fitter

// #region fit
// Fit runs the full protocol for s. Data and specification problems fail
// before any sampling; engine errors are returned unmodified. The returned
// Result is non-nil whenever the fit got past initialisation, including on
// failure, so callers can inspect how far it went.
func (f *Fitter) Fit(ctx context.Context, s series.Series) (*Result, error) {
	cfg := f.config
	m := NewMachine()
	res := &Result{FitID: uuid.New().String(), Series: s, Stage: m.Stage()}
	log := f.logger.With(zap.String("fit_id", res.FitID), zap.String("series", s.Key()))

	advance := func(to Stage) error {
		if err := m.Advance(to); err != nil {
			return err
		}
		res.Stage = to
		return nil
	}
	fail := func(err error) (*Result, error) {
		trigger := triggerFor(m.Stage())
		_ = advance(StageFailed)
		res.History = m.History()
		log.Error("fit failed", zap.String("trigger", trigger), zap.Error(err))
		f.logDecision(res, trigger, "fail", err.Error(), nil)
		return res, err
	}

	// 1. Initialized: specification and chain starts
	link, err := model.LinkByName(cfg.Link)
	if err != nil {
		return fail(err)
	}
	spec, err := model.Build(s, model.BuildOptions{Link: link, Priors: cfg.Priors, InitialScale: cfg.InitialScale})
	if err != nil {
		return fail(err)
	}
	res.Spec = spec
	inits, err := model.InitChains(s, spec, cfg.Chains, cfg.Seed)
	if err != nil {
		return fail(err)
	}
	res.Inits = inits
	log.Info("fit initialized",
		zap.Int("n", spec.N),
		zap.Int("observed", spec.Count(model.KindLikelihood)),
		zap.String("link", spec.Link),
		zap.Int("chains", cfg.Chains))

	// 2-3. Burn-in and gate, extended until the gate passes or extensions run out
	burnIn, seed := cfg.BurnIn, cfg.Seed
	var accepted []summary.ConvergenceWarning
	for attempt := 0; ; attempt++ {
		if err := advance(StageBurnIn); err != nil {
			return fail(err)
		}
		samples, err := f.engine.Sample(ctx, &engine.Request{
			Spec:       spec,
			Inits:      inits,
			Iterations: burnIn,
			Variables:  scalarVariables(spec),
		})
		if err != nil {
			return fail(err)
		}
		if err := advance(StageConvergenceChecked); err != nil {
			return fail(err)
		}
		decision, err := f.gate.Evaluate(samples)
		if err != nil {
			return fail(err)
		}
		res.Attempts = append(res.Attempts, Attempt{Number: attempt, BurnIn: burnIn, Seed: seed, Decision: decision})
		res.BurnIn = burnIn
		record := logging.NewGateRecord(attempt, burnIn, cfg.Chains, seed, cfg.Gate, decision)
		f.logDecision(res, logging.TriggerBurnIn, decision.Action, decision.Reason, record)

		log.Info("burn-in checked",
			zap.Int("attempt", attempt),
			zap.Int("burn_in", burnIn),
			zap.String("action", decision.Action),
			zap.Float64("soft_score", decision.SoftScore),
			zap.Float64("correlation", decision.Correlation))
		// a superseded attempt's warnings do not carry over
		accepted = decision.Warnings

		if decision.Converged() {
			break
		}
		if attempt >= cfg.MaxExtensions {
			if cfg.Strict {
				return fail(fmt.Errorf("%w after %d attempts: %s", ErrNotConverged, attempt+1, decision.Reason))
			}
			accepted = append(slices.Clone(accepted), gate.AsWarnings(decision.VetoSignals)...)
			log.Warn("proceeding without convergence", zap.String("reason", decision.Reason))
			break
		}

		burnIn *= 2
		seed = ExtensionSeed(cfg.Seed, attempt+1)
		if inits, err = model.InitChains(s, spec, cfg.Chains, seed); err != nil {
			return fail(err)
		}
		res.Inits = inits
	}
	res.Warnings = accepted

	// 4. Production: discard the accepted burn-in, keep every latent state
	if err := advance(StageProduction); err != nil {
		return fail(err)
	}
	samples, err := f.engine.Sample(ctx, &engine.Request{
		Spec:       spec,
		Inits:      inits,
		Iterations: cfg.Iterations,
		Discard:    burnIn,
		Thin:       cfg.Thin,
	})
	if err != nil {
		return fail(err)
	}
	res.Samples = samples

	// 5. Summarized
	sum, err := summary.Summarize(samples, s, summary.Options{CorrelationThreshold: cfg.Gate.CorrelationThreshold, Seed: seed})
	if err != nil {
		return fail(err)
	}
	sum.Diagnostics, err = summary.Diagnose(samples, summary.ScalarColumns(samples))
	if err != nil {
		return fail(err)
	}
	res.Summary = sum
	res.Warnings = mergeWarnings(res.Warnings, sum.Warnings)
	res.Eval = f.eval.Run(spec, samples, sum)
	if !res.Eval.Passed {
		return fail(fmt.Errorf("%w: %s", ErrEvalFailed, res.Eval.Reason))
	}
	if cov, ok := res.Eval.Metric("coverage"); ok && !cov.Pass {
		log.Warn("low envelope coverage", zap.Float64("coverage", cov.Value), zap.Float64("min", cfg.Eval.MinCoverage))
	}
	if err := advance(StageSummarized); err != nil {
		return fail(err)
	}
	res.History = m.History()
	res.Provisional = len(res.Warnings) > 0
	for _, w := range res.Warnings {
		log.Warn("convergence warning", zap.String("parameter", w.Parameter), zap.String("check", w.Check), zap.String("reason", w.Reason))
	}

	if err := f.commit(res); err != nil {
		return res, err
	}
	f.logDecision(res, logging.TriggerProduction, "commit", res.Eval.Reason, res.Eval)
	log.Info("fit summarized",
		zap.Bool("provisional", res.Provisional),
		zap.Int("draws", sum.Draws),
		zap.Float64("coverage", sum.Coverage),
		zap.Float64("process_sd", sum.ProcessSD.Median),
		zap.Float64("observation_sd", sum.ObservationSD.Median))
	return res, nil
}

// #endregion fit

// #region helpers
// ExtensionSeed derives the seed of the n-th burn-in extension.
func ExtensionSeed(seed uint64, n int) uint64 {
	return seed ^ (uint64(n) * 0xBF58476D1CE4E5B9)
}

// mergeWarnings appends later to earlier, one warning per parameter and
// check; a later warning replaces an earlier one with the same key.
func mergeWarnings(earlier, later []summary.ConvergenceWarning) []summary.ConvergenceWarning {
	out := slices.Clone(earlier)
	for _, w := range later {
		i := slices.IndexFunc(out, func(e summary.ConvergenceWarning) bool {
			return e.Parameter == w.Parameter && e.Check == w.Check
		})
		if i >= 0 {
			out[i] = w
			continue
		}
		out = append(out, w)
	}
	return out
}

func triggerFor(stage Stage) string {
	switch stage {
	case StageInitialized:
		return logging.TriggerInit
	case StageBurnIn, StageConvergenceChecked:
		return logging.TriggerBurnIn
	}
	return logging.TriggerProduction
}

func scalarVariables(spec *model.Specification) []string {
	vars := []string{model.VarTauAdd, model.VarTauObs}
	if spec.Coefficients > 0 {
		vars = append(vars, model.VarBeta)
	}
	return vars
}

func (f *Fitter) commit(res *Result) error {
	if f.store == nil {
		return nil
	}
	seriesJSON, _ := json.Marshal(res.Series.Snapshot())
	configJSON, _ := json.Marshal(f.config)
	specJSON, _ := json.Marshal(res.Spec)
	initsJSON, _ := json.Marshal(res.Inits)
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	diagJSON, _ := json.Marshal(res.Attempts)

	_, err = f.store.CommitFit(store.FitRecord{
		FitID:           res.FitID,
		SeriesKey:       res.Series.Key(),
		Site:            res.Series.Site,
		Taxon:           res.Series.Taxon,
		Link:            res.Spec.Link,
		Stage:           store.StageSummarized,
		Provisional:     res.Provisional,
		Seed:            f.config.Seed,
		SeriesJSON:      string(seriesJSON),
		ConfigJSON:      string(configJSON),
		SpecJSON:        string(specJSON),
		InitsJSON:       string(initsJSON),
		SummaryJSON:     string(summaryJSON),
		DiagnosticsJSON: string(diagJSON),
	})
	if err != nil {
		return fmt.Errorf("commit fit %s: %w", res.FitID, err)
	}
	return nil
}

// logDecision writes a provenance row when a store is configured. Logging
// failures are reported but never fail the fit.
func (f *Fitter) logDecision(res *Result, trigger, decision, reason string, detail any) {
	if f.store == nil {
		return
	}
	var detailJSON string
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			detailJSON = string(b)
		}
	}
	err := logging.LogDecision(f.store.DB(), logging.ProvenanceEntry{
		FitID:           res.FitID,
		SeriesKey:       res.Series.Key(),
		Stage:           string(res.Stage),
		TriggerType:     trigger,
		DiagnosticsJSON: detailJSON,
		Decision:        decision,
		Reason:          reason,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		f.logger.Warn("provenance write failed", zap.String("fit_id", res.FitID), zap.Error(err))
	}
}

// #endregion helpers
