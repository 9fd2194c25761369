package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
)

// ErrInvalidRequest is wrapped by request validation failures.
var ErrInvalidRequest = errors.New("invalid sampling request")

// #region engine
// Engine runs MCMC for a model specification. Implementations must either
// return a complete sample matrix or an error; partial results are never
// returned.
type Engine interface {
	Sample(ctx context.Context, req *Request) (*Samples, error)
}

// #endregion engine

// #region request
// Request asks an engine for draws. Iterations counts post-discard draws per
// chain before thinning.
type Request struct {
	Spec       *model.Specification `json:"spec"`
	Inits      []model.ChainInit    `json:"inits"`
	Iterations int                  `json:"iterations"`
	Discard    int                  `json:"discard"`
	Thin       int                  `json:"thin"`
	Variables  []string             `json:"variables"`
}

// Validate checks the request before any sampling work starts.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := r.Spec.Validate(); err != nil {
		return err
	}
	if r.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidRequest, r.Iterations)
	}
	if r.Discard < 0 {
		return fmt.Errorf("%w: negative discard %d", ErrInvalidRequest, r.Discard)
	}
	if r.Thin < 0 {
		return fmt.Errorf("%w: negative thin %d", ErrInvalidRequest, r.Thin)
	}
	if len(r.Inits) == 0 {
		return fmt.Errorf("%w: no chain initialisations", ErrInvalidRequest)
	}
	for _, in := range r.Inits {
		if !(in.TauAdd > 0) || !(in.TauObs > 0) {
			return fmt.Errorf("%w: chain %d has non-positive initial precision", ErrInvalidRequest, in.Chain)
		}
		if len(in.X) != 0 && len(in.X) != r.Spec.N {
			return fmt.Errorf("%w: chain %d has %d latent inits, want %d", ErrInvalidRequest, in.Chain, len(in.X), r.Spec.N)
		}
		if len(in.Beta) != 0 && len(in.Beta) != r.Spec.Coefficients {
			return fmt.Errorf("%w: chain %d has %d coefficient inits, want %d", ErrInvalidRequest, in.Chain, len(in.Beta), r.Spec.Coefficients)
		}
	}
	known := r.Spec.Variables()
	for _, v := range r.Variables {
		if !slices.Contains(known, v) {
			return fmt.Errorf("%w: unknown variable %q", ErrInvalidRequest, v)
		}
	}
	return nil
}

// ThinOrOne returns the effective thinning interval.
func (r *Request) ThinOrOne() int {
	if r.Thin < 1 {
		return 1
	}
	return r.Thin
}

// Columns expands the requested variables into sample column names.
func (r *Request) Columns() []string {
	vars := r.Variables
	if len(vars) == 0 {
		vars = r.Spec.Variables()
	}
	var cols []string
	for _, v := range vars {
		switch v {
		case model.VarX:
			for t := 1; t <= r.Spec.N; t++ {
				cols = append(cols, Indexed(model.VarX, t))
			}
		case model.VarBeta:
			for k := 1; k <= r.Spec.Coefficients; k++ {
				cols = append(cols, Indexed(model.VarBeta, k))
			}
		default:
			cols = append(cols, v)
		}
	}
	return cols
}

// Indexed renders a vector element column name such as x[3].
func Indexed(name string, i int) string {
	return name + "[" + strconv.Itoa(i) + "]"
}

// #endregion request

// #region samples
// Samples is the posterior sample matrix: one draws×columns block per chain.
type Samples struct {
	Columns []string      `json:"columns"`
	Chains  [][][]float64 `json:"chains"`
}

// Draws returns the number of retained draws per chain.
func (s *Samples) Draws() int {
	if len(s.Chains) == 0 {
		return 0
	}
	return len(s.Chains[0])
}

// Index returns the position of a column or -1.
func (s *Samples) Index(column string) int {
	return slices.Index(s.Columns, column)
}

// ChainColumn returns one chain's draws of a column.
func (s *Samples) ChainColumn(chain int, column string) ([]float64, error) {
	j := s.Index(column)
	if j < 0 {
		return nil, fmt.Errorf("samples: no column %q", column)
	}
	if chain < 0 || chain >= len(s.Chains) {
		return nil, fmt.Errorf("samples: no chain %d", chain)
	}
	out := make([]float64, len(s.Chains[chain]))
	for i, row := range s.Chains[chain] {
		out[i] = row[j]
	}
	return out, nil
}

// Column returns a column pooled across chains in chain order.
func (s *Samples) Column(column string) ([]float64, error) {
	j := s.Index(column)
	if j < 0 {
		return nil, fmt.Errorf("samples: no column %q", column)
	}
	out := make([]float64, 0, len(s.Chains)*s.Draws())
	for _, chain := range s.Chains {
		for _, row := range chain {
			out = append(out, row[j])
		}
	}
	return out, nil
}

// PerChain returns a column split by chain.
func (s *Samples) PerChain(column string) ([][]float64, error) {
	out := make([][]float64, len(s.Chains))
	for c := range s.Chains {
		col, err := s.ChainColumn(c, column)
		if err != nil {
			return nil, err
		}
		out[c] = col
	}
	return out, nil
}

// VectorLen counts the columns name[1..k] present for a vector variable.
func (s *Samples) VectorLen(name string) int {
	prefix := name + "["
	n := 0
	for _, c := range s.Columns {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Pooled stacks every chain into one draws×columns matrix.
func (s *Samples) Pooled() *mat.Dense {
	rows := len(s.Chains) * s.Draws()
	if rows == 0 || len(s.Columns) == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(rows, len(s.Columns), nil)
	r := 0
	for _, chain := range s.Chains {
		for _, row := range chain {
			m.SetRow(r, row)
			r++
		}
	}
	return m
}

// Validate checks the shape of the matrix.
func (s *Samples) Validate() error {
	for c, chain := range s.Chains {
		if len(chain) != s.Draws() {
			return fmt.Errorf("samples: chain %d has %d draws, want %d", c, len(chain), s.Draws())
		}
		for i, row := range chain {
			if len(row) != len(s.Columns) {
				return fmt.Errorf("samples: chain %d draw %d has %d values, want %d", c, i, len(row), len(s.Columns))
			}
		}
	}
	return nil
}

// #endregion samples
