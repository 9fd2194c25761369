package gibbs

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// #region coefficients
// sampleBeta draws beta | x, tau_add from its Normal full conditional. With
// increments z_t = x_t - x_{t-1} and design matrix D, the posterior
// precision is tau_add·D'D + b_prec·I and the mean solves
// P·mu = tau_add·D'z + b_prec·b_mean.
func (ch *chain) sampleBeta() error {
	k := ch.spec.Coefficients
	prior := ch.spec.Priors.Coefficient

	prec := mat.NewSymDense(k, nil)
	rhs := mat.NewVecDense(k, nil)
	for _, tr := range ch.spec.Transitions {
		t := tr.T - 1
		z := ch.x[t] - ch.x[t-1]
		for i := range k {
			rhs.SetVec(i, rhs.AtVec(i)+ch.tauAdd*tr.Design[i]*z)
			for j := i; j < k; j++ {
				prec.SetSym(i, j, prec.At(i, j)+ch.tauAdd*tr.Design[i]*tr.Design[j])
			}
		}
	}
	for i := range k {
		prec.SetSym(i, i, prec.At(i, i)+prior.Precision)
		rhs.SetVec(i, rhs.AtVec(i)+prior.Precision*prior.Mean)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(prec); !ok {
		return fmt.Errorf("coefficient precision is not positive definite")
	}
	var mean mat.VecDense
	if err := chol.SolveVecTo(&mean, rhs); err != nil {
		return fmt.Errorf("solve coefficient mean: %w", err)
	}

	// P = U'U, so U·v = z with z ~ N(0, I) gives v ~ N(0, P^-1).
	var u mat.TriDense
	chol.UTo(&u)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: ch.rng}
	z := mat.NewVecDense(k, nil)
	for i := range k {
		z.SetVec(i, norm.Rand())
	}
	var v mat.VecDense
	if err := v.SolveVec(&u, z); err != nil {
		return fmt.Errorf("solve coefficient noise: %w", err)
	}
	for i := range k {
		ch.beta[i] = mean.AtVec(i) + v.AtVec(i)
	}
	return nil
}

// updateOffsets recomputes d_t = beta·Design_t for every transition.
func (ch *chain) updateOffsets() {
	for _, tr := range ch.spec.Transitions {
		s := 0.0
		for i, d := range tr.Design {
			s += ch.beta[i] * d
		}
		ch.off[tr.T-1] = s
	}
}

// #endregion coefficients
