package replay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region types

// ReplayResult captures the outcome of a single replayed scenario.
type ReplayResult struct {
	Scenario    string    `json:"scenario"`
	Expected    fit.Stage `json:"expected"`
	Stage       fit.Stage `json:"stage"`
	Provisional bool      `json:"provisional"`
	Coverage    float64   `json:"coverage"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason,omitempty"`
	Match       bool      `json:"match"`
	Diffs       []string  `json:"diffs,omitempty"`
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total       int
	Matches     int
	Diverged    int
	Summarized  int
	Failed      int
	Provisional int
}

// #endregion types

// #region replay

// Replay fits every scenario of the fixture with eng and compares each
// outcome with its expectation. Only cancellation of ctx is returned as an
// error; fit failures are outcomes to compare.
func Replay(ctx context.Context, f *Fixture, eng engine.Engine, logger *zap.Logger) ([]ReplayResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]ReplayResult, 0, len(f.Scenarios))
	for _, sc := range f.Scenarios {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := ReplayResult{Scenario: sc.Name, Expected: expectedStage(sc.Expected)}

		s, err := sc.ToSeries()
		if err != nil {
			r.Stage, r.Reason = fit.StageFailed, err.Error()
			r.compare(sc.Expected, err)
			results = append(results, r)
			continue
		}
		fitter, err := fit.NewFitter(eng, f.ConfigFor(sc), fit.WithLogger(logger))
		if err != nil {
			return results, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}

		res, err := fitter.Fit(ctx, s)
		if err != nil && ctx.Err() != nil {
			return results, ctx.Err()
		}
		r.Stage = fit.StageFailed
		if res != nil {
			r.Stage = res.Stage
			r.Provisional = res.Provisional
			r.Attempts = len(res.Attempts)
			if res.Summary != nil {
				r.Coverage = res.Summary.Coverage
			}
		}
		if err != nil {
			r.Reason = err.Error()
		}
		r.compare(sc.Expected, err)
		results = append(results, r)
	}
	return results, nil
}

func expectedStage(e FixtureExpected) fit.Stage {
	if e.Stage == "" {
		return fit.StageSummarized
	}
	return e.Stage
}

func (r *ReplayResult) compare(e FixtureExpected, err error) {
	if r.Stage != r.Expected {
		r.Diffs = append(r.Diffs, fmt.Sprintf("stage %s, want %s", r.Stage, r.Expected))
	}
	if e.Provisional != nil && r.Stage == fit.StageSummarized && r.Provisional != *e.Provisional {
		r.Diffs = append(r.Diffs, fmt.Sprintf("provisional %v, want %v", r.Provisional, *e.Provisional))
	}
	if e.MinCoverage > 0 && r.Coverage < e.MinCoverage {
		r.Diffs = append(r.Diffs, fmt.Sprintf("coverage %.3f below %.3f", r.Coverage, e.MinCoverage))
	}
	if e.DataError && !errors.Is(err, series.ErrData) {
		r.Diffs = append(r.Diffs, fmt.Sprintf("want data error, got %v", err))
	}
	if e.NotConverged && !errors.Is(err, fit.ErrNotConverged) {
		r.Diffs = append(r.Diffs, fmt.Sprintf("want not converged, got %v", err))
	}
	r.Match = len(r.Diffs) == 0
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{Total: len(results)}
	for _, r := range results {
		if r.Match {
			s.Matches++
		} else {
			s.Diverged++
		}
		switch r.Stage {
		case fit.StageSummarized:
			s.Summarized++
			if r.Provisional {
				s.Provisional++
			}
		case fit.StageFailed:
			s.Failed++
		}
	}
	return s
}

// #endregion replay
