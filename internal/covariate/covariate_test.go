package covariate

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

func monthly(fromYear, toYear int, value func(y, m int) float64) []Record {
	var out []Record
	for y := fromYear; y <= toYear; y++ {
		for m := 1; m <= 12; m++ {
			out = append(out, Record{Year: y, Month: m, Value: value(y, m)})
		}
	}
	return out
}

func TestJoinMatchesYearMonth(t *testing.T) {
	s := series.FromCounts("a", 2000, []float64{10, 20, 30, 40})
	records := monthly(2000, 2001, func(y, m int) float64 { return float64(y*100 + m) })

	joined, err := Join(s, records, true)
	require.NoError(t, err)
	for _, o := range joined.Observations {
		require.True(t, o.HasCovariate)
		assert.Equal(t, float64(o.Date.Year()*100+int(o.Date.Month())), o.Covariate)
	}
	for _, o := range s.Observations {
		assert.False(t, o.HasCovariate, "join must not mutate its input")
	}
}

func TestJoinLeftKeepsNullWhenOptional(t *testing.T) {
	s := series.FromCounts("a", 2000, []float64{10, 20, 30})
	records := []Record{{Year: 2000, Month: 1, Value: 1.5}}

	joined, err := Join(s, records, false)
	require.NoError(t, err)
	assert.True(t, joined.Observations[0].HasCovariate)
	assert.False(t, joined.Observations[1].HasCovariate)
	assert.False(t, joined.Observations[2].HasCovariate)
}

func TestJoinMandatoryMissingIsDataError(t *testing.T) {
	s := series.FromCounts("a", 2000, []float64{10, 20, 30})
	_, err := Join(s, []Record{{Year: 2000, Month: 1, Value: 1}}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, series.ErrData))
}

func TestMissing(t *testing.T) {
	records := monthly(2000, 2000, func(int, int) float64 { return 0 })
	records = records[:11]
	gaps := Missing(records, 2000, 2001)
	require.Len(t, gaps, 13)
	assert.Equal(t, Key{Year: 2000, Month: 12}, gaps[0])
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, Key{Year: 1999, Month: 7}, KeyOf(time.Date(1999, time.July, 31, 0, 0, 0, 0, time.UTC)))
}

func TestFileCacheRoundTripIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewFileCache(filepath.Join(t.TempDir(), "cov.csv"))

	empty, err := c.Load(ctx, 2000, 2001)
	require.NoError(t, err)
	assert.Empty(t, empty)

	records := monthly(2000, 2001, func(y, m int) float64 { return float64(m) / 10 })
	require.NoError(t, c.Store(ctx, records))
	require.NoError(t, c.Store(ctx, records))

	got, err := c.Load(ctx, 2000, 2001)
	require.NoError(t, err)
	assert.Len(t, got, 24)

	only2001, err := c.Load(ctx, 2001, 2001)
	require.NoError(t, err)
	assert.Len(t, only2001, 12)
	assert.InDelta(t, 0.3, only2001[2].Value, 1e-12)
}

type countingProvider struct {
	calls   int
	records []Record
	err     error
}

func (p *countingProvider) Covariates(_ context.Context, from, to int) ([]Record, error) {
	p.calls++
	return p.records, p.err
}

func TestCachedProviderFallsThroughOnce(t *testing.T) {
	ctx := context.Background()
	upstream := &countingProvider{records: monthly(2000, 2002, func(y, m int) float64 { return math.Sin(float64(m)) })}
	p := NewCachedProvider(upstream, NewFileCache(filepath.Join(t.TempDir(), "cov.csv")), nil)

	first, err := p.Covariates(ctx, 2000, 2002)
	require.NoError(t, err)
	assert.Len(t, first, 36)

	second, err := p.Covariates(ctx, 2000, 2002)
	require.NoError(t, err)
	assert.Len(t, second, 36)
	assert.Equal(t, 1, upstream.calls)
}

func TestCachedProviderPropagatesUpstreamError(t *testing.T) {
	upstream := &countingProvider{err: errors.New("upstream down")}
	p := NewCachedProvider(upstream, NewFileCache(filepath.Join(t.TempDir(), "cov.csv")), nil)
	_, err := p.Covariates(context.Background(), 2000, 2000)
	assert.ErrorIs(t, err, upstream.err)
}
