package covariate

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// #region csv-provider
// CSVProvider serves covariates from a local year,month,value CSV export.
type CSVProvider struct {
	path string
}

// NewCSVProvider returns a provider reading path on every call.
func NewCSVProvider(path string) *CSVProvider {
	return &CSVProvider{path: path}
}

// Covariates returns the records within [fromYear, toYear].
func (p *CSVProvider) Covariates(ctx context.Context, fromYear, toYear int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open covariates %s: %w", p.path, err)
	}
	defer f.Close()
	all, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read covariates %s: %w", p.path, err)
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Year >= fromYear && r.Year <= toYear {
			out = append(out, r)
		}
	}
	return out, nil
}

// #endregion csv-provider

// #region cached-provider
// CachedProvider serves covariates from a cache and only asks the upstream
// provider when some month of the requested span is missing. Upstream
// results are written back to the cache.
type CachedProvider struct {
	upstream Provider
	cache    Cache
	logger   *zap.Logger
}

// NewCachedProvider wraps upstream with cache. A nil logger disables logging.
func NewCachedProvider(upstream Provider, cache Cache, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{upstream: upstream, cache: cache, logger: logger}
}

// Covariates returns cached records when the span is fully covered.
func (p *CachedProvider) Covariates(ctx context.Context, fromYear, toYear int) ([]Record, error) {
	cached, err := p.cache.Load(ctx, fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("load covariate cache: %w", err)
	}
	gaps := Missing(cached, fromYear, toYear)
	if len(gaps) == 0 {
		p.logger.Debug("covariate cache hit",
			zap.Int("from_year", fromYear), zap.Int("to_year", toYear), zap.Int("records", len(cached)))
		return cached, nil
	}

	p.logger.Info("covariate cache miss",
		zap.Int("from_year", fromYear), zap.Int("to_year", toYear), zap.Int("missing_months", len(gaps)))
	fresh, err := p.upstream.Covariates(ctx, fromYear, toYear)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Store(ctx, fresh); err != nil {
		p.logger.Warn("covariate cache write failed", zap.Error(err))
	}
	return fresh, nil
}

// #endregion cached-provider
