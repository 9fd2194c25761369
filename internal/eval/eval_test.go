package eval

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

func makeRun(n int) (*model.Specification, *engine.Samples) {
	spec := &model.Specification{N: n}
	cols := []string{model.VarTauAdd, model.VarTauObs}
	for t := 1; t <= n; t++ {
		cols = append(cols, engine.Indexed(model.VarX, t))
	}
	s := &engine.Samples{Columns: cols}
	for c := 0; c < 2; c++ {
		var chain [][]float64
		for i := 0; i < 10; i++ {
			row := []float64{1 + float64(i), 2 + float64(c)}
			for t := 0; t < n; t++ {
				row = append(row, 4.5)
			}
			chain = append(chain, row)
		}
		s.Chains = append(s.Chains, chain)
	}
	return spec, s
}

func TestEvalPassesOnCleanRun(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	spec, samples := makeRun(5)

	result := h.Run(spec, samples, &summary.Summary{Coverage: 1, Correlation: 0.1})

	if !result.Passed {
		t.Fatalf("expected pass, got fail: %s", result.Reason)
	}
	if len(result.Metrics) != 6 {
		t.Fatalf("expected 6 metrics, got %d", len(result.Metrics))
	}
}

func TestEvalFailsOnLatentColumnMismatch(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	_, samples := makeRun(5)

	result := h.Run(&model.Specification{N: 6}, samples, nil)

	if result.Passed {
		t.Fatal("expected fail on latent column mismatch")
	}
	m, ok := result.Metric("latent_columns")
	if !ok || m.Pass || m.Value != 5 {
		t.Fatalf("unexpected latent_columns metric %+v", m)
	}
}

func TestEvalFailsOnNonPositivePrecision(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	spec, samples := makeRun(3)
	samples.Chains[0][3][0] = -0.5

	result := h.Run(spec, samples, nil)

	if result.Passed {
		t.Fatal("expected fail on negative tau_add")
	}
	m, _ := result.Metric("tau_add_min")
	if m.Value != -0.5 {
		t.Fatalf("expected min -0.5, got %f", m.Value)
	}
}

func TestEvalFailsOnNaN(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	spec, samples := makeRun(3)
	samples.Chains[1][0][4] = math.NaN()

	result := h.Run(spec, samples, nil)

	if result.Passed {
		t.Fatal("expected fail on NaN draw")
	}
}

func TestEvalCoverageInformationalOnly(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	spec, samples := makeRun(3)

	result := h.Run(spec, samples, &summary.Summary{Coverage: 0.5, Correlation: -0.95})

	if !result.Passed {
		t.Fatalf("coverage should be informational, not blocking: %s", result.Reason)
	}
	for _, name := range []string{"coverage", "precision_correlation"} {
		m, ok := result.Metric(name)
		if !ok || m.Pass || !m.Informational {
			t.Fatalf("expected informational failing %s metric, got %+v", name, m)
		}
	}
}
