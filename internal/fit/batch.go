package fit

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region batch
// Outcome is the result of one series in a batch.
type Outcome struct {
	Key    string
	Result *Result
	Err    error
}

// RunAll fits every series with at most parallel fits in flight (parallel
// < 1 means one). A failed fit is recorded on its Outcome and does not stop
// the others; only cancellation of ctx aborts the batch. Outcomes keep the
// order of jobs.
func (f *Fitter) RunAll(ctx context.Context, jobs []series.Series, parallel int) ([]Outcome, error) {
	if parallel < 1 {
		parallel = 1
	}
	out := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, s := range jobs {
		out[i].Key = s.Key()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return err
			}
			res, err := f.Fit(gctx, s)
			out[i].Result, out[i].Err = res, err
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	err := g.Wait()

	failed := 0
	for _, o := range out {
		if o.Err != nil {
			failed++
		}
	}
	f.logger.Info("batch complete", zap.Int("series", len(jobs)), zap.Int("failed", failed), zap.Int("parallel", parallel))
	return out, err
}

// #endregion batch
