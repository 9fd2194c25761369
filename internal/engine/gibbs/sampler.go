// Package gibbs is the in-process sampling engine. It runs a conjugate Gibbs
// sampler for the local-level state-space model: forward filtering backward
// sampling for the latent block, Gamma updates for the two precisions and a
// multivariate Normal update for covariate coefficients.
package gibbs

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
)

// minPrecision keeps precisions strictly positive when a Gamma draw
// underflows.
const minPrecision = 1e-12

// #region sampler
// Sampler implements engine.Engine.
type Sampler struct {
	logger *zap.Logger
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger used for per-chain debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Gibbs sampler.
func New(opts ...Option) *Sampler {
	s := &Sampler{logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sample runs every chain concurrently. A failed or cancelled chain fails
// the whole call.
func (s *Sampler) Sample(ctx context.Context, req *engine.Request) (*engine.Samples, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cols := req.Columns()
	refs, err := resolveColumns(cols)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidRequest, err)
	}
	out := &engine.Samples{Columns: cols, Chains: make([][][]float64, len(req.Inits))}

	g, gctx := errgroup.WithContext(ctx)
	for c, init := range req.Inits {
		g.Go(func() error {
			draws, err := s.runChain(gctx, req, init, refs)
			if err != nil {
				return err
			}
			out.Chains[c] = draws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion sampler

// #region chain
type chain struct {
	spec   *model.Specification
	rng    *rand.Rand
	mask   []bool
	y      []float64
	nObs   int
	x      []float64
	off    []float64
	tauAdd float64
	tauObs float64
	beta   []float64

	// filter scratch
	m []float64
	p []float64
}

func newChain(spec *model.Specification, init model.ChainInit) *chain {
	mask, y := spec.Observed()
	ch := &chain{
		spec:   spec,
		rng:    model.NewSource(init.Seed),
		mask:   mask,
		y:      y,
		nObs:   len(spec.Observations),
		tauAdd: init.TauAdd,
		tauObs: init.TauObs,
		off:    make([]float64, spec.N),
		m:      make([]float64, spec.N),
		p:      make([]float64, spec.N),
	}
	if len(init.X) == spec.N {
		ch.x = append([]float64(nil), init.X...)
	} else {
		ch.x = interpolate(mask, y)
	}
	ch.beta = make([]float64, spec.Coefficients)
	if len(init.Beta) == spec.Coefficients {
		copy(ch.beta, init.Beta)
	}
	ch.updateOffsets()
	return ch
}

func (s *Sampler) runChain(ctx context.Context, req *engine.Request, init model.ChainInit, refs []colRef) ([][]float64, error) {
	ch := newChain(req.Spec, init)
	thin := req.ThinOrOne()
	total := req.Discard + req.Iterations
	draws := make([][]float64, 0, (req.Iterations+thin-1)/thin)

	for it := range total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ch.step(); err != nil {
			return nil, fmt.Errorf("chain %d iteration %d: %w", init.Chain, it, err)
		}
		if it >= req.Discard && (it-req.Discard)%thin == 0 {
			draws = append(draws, ch.record(refs))
		}
	}
	s.logger.Debug("chain finished",
		zap.Int("chain", init.Chain),
		zap.Int("iterations", total),
		zap.Int("draws", len(draws)),
		zap.Float64("tau_add", ch.tauAdd),
		zap.Float64("tau_obs", ch.tauObs))
	return draws, nil
}

// step performs one full Gibbs sweep.
func (ch *chain) step() error {
	ch.sampleLatent()
	ch.sampleObsPrecision()
	ch.sampleAddPrecision()
	if ch.spec.Coefficients > 0 {
		if err := ch.sampleBeta(); err != nil {
			return err
		}
		ch.updateOffsets()
	}
	return nil
}

// colRef locates a sample column inside the chain state.
type colRef struct {
	kind byte // 'a' tau_add, 'o' tau_obs, 'x' latent, 'b' beta
	idx  int
}

func resolveColumns(cols []string) ([]colRef, error) {
	refs := make([]colRef, len(cols))
	for j, c := range cols {
		var idx int
		switch {
		case c == model.VarTauAdd:
			refs[j] = colRef{kind: 'a'}
		case c == model.VarTauObs:
			refs[j] = colRef{kind: 'o'}
		case strings.HasPrefix(c, model.VarX+"["):
			if _, err := fmt.Sscanf(c, model.VarX+"[%d]", &idx); err != nil {
				return nil, fmt.Errorf("column %q: %w", c, err)
			}
			refs[j] = colRef{kind: 'x', idx: idx - 1}
		case strings.HasPrefix(c, model.VarBeta+"["):
			if _, err := fmt.Sscanf(c, model.VarBeta+"[%d]", &idx); err != nil {
				return nil, fmt.Errorf("column %q: %w", c, err)
			}
			refs[j] = colRef{kind: 'b', idx: idx - 1}
		default:
			return nil, fmt.Errorf("unsupported column %q", c)
		}
	}
	return refs, nil
}

func (ch *chain) record(refs []colRef) []float64 {
	row := make([]float64, len(refs))
	for j, r := range refs {
		switch r.kind {
		case 'a':
			row[j] = ch.tauAdd
		case 'o':
			row[j] = ch.tauObs
		case 'x':
			row[j] = ch.x[r.idx]
		case 'b':
			row[j] = ch.beta[r.idx]
		}
	}
	return row
}

// #endregion chain

// #region ffbs
// sampleLatent draws x | tau_add, tau_obs, beta, y by forward Kalman
// filtering followed by backward sampling.
func (ch *chain) sampleLatent() {
	n := ch.spec.N
	q := 1 / ch.tauAdd
	v := 1 / ch.tauObs
	ic := ch.spec.Priors.InitialState

	for t := range n {
		var a, r float64
		if t == 0 {
			a, r = ic.Mean, 1/ic.Precision
		} else {
			a, r = ch.m[t-1]+ch.off[t], ch.p[t-1]+q
		}
		if ch.mask[t] {
			k := r / (r + v)
			ch.m[t] = a + k*(ch.y[t]-a)
			ch.p[t] = r * v / (r + v)
		} else {
			ch.m[t], ch.p[t] = a, r
		}
	}

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: ch.rng}
	ch.x[n-1] = ch.m[n-1] + math.Sqrt(ch.p[n-1])*norm.Rand()
	for t := n - 2; t >= 0; t-- {
		j := ch.p[t] / (ch.p[t] + q)
		mean := ch.m[t] + j*(ch.x[t+1]-ch.off[t+1]-ch.m[t])
		variance := ch.p[t] * q / (ch.p[t] + q)
		ch.x[t] = mean + math.Sqrt(variance)*norm.Rand()
	}
}

// #endregion ffbs

// #region precisions
func (ch *chain) sampleObsPrecision() {
	prior := ch.spec.Priors.ObservationPrecision
	ss := 0.0
	for t, ok := range ch.mask {
		if ok {
			d := ch.y[t] - ch.x[t]
			ss += d * d
		}
	}
	ch.tauObs = drawGamma(prior.Shape+float64(ch.nObs)/2, prior.Rate+ss/2, ch.rng)
}

func (ch *chain) sampleAddPrecision() {
	prior := ch.spec.Priors.ProcessPrecision
	ss := 0.0
	for t := 1; t < ch.spec.N; t++ {
		d := ch.x[t] - ch.x[t-1] - ch.off[t]
		ss += d * d
	}
	ch.tauAdd = drawGamma(prior.Shape+float64(ch.spec.N-1)/2, prior.Rate+ss/2, ch.rng)
}

func drawGamma(shape, rate float64, src rand.Source) float64 {
	v := distuv.Gamma{Alpha: shape, Beta: rate, Src: src}.Rand()
	if !(v > minPrecision) {
		return minPrecision
	}
	return v
}

// #endregion precisions

// interpolate fills unobserved steps linearly between observed neighbours.
func interpolate(mask []bool, y []float64) []float64 {
	n := len(mask)
	out := make([]float64, n)
	prev := -1
	for i := range n {
		if !mask[i] {
			continue
		}
		out[i] = y[i]
		if prev < 0 {
			for k := range i {
				out[k] = y[i]
			}
		} else {
			for k := prev + 1; k < i; k++ {
				out[k] = y[prev] + (y[i]-y[prev])*float64(k-prev)/float64(i-prev)
			}
		}
		prev = i
	}
	for k := prev + 1; prev >= 0 && k < n; k++ {
		out[k] = y[prev]
	}
	return out
}
