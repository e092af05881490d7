package laplace

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Posterior holds the state an update produces: the dual variable alpha, the
// posterior mean mu, the log-likelihood derivatives at mu and the precision
// weights W = -d2lp and sW.
//
// alpha survives between updates and is the warm start of the next one.
type Posterior struct {
	alpha *mat.VecDense
	mu    *mat.VecDense

	dlp  *mat.VecDense
	d2lp *mat.VecDense
	d3lp *mat.VecDense

	w  *mat.VecDense
	sw *mat.VecDense
}

// initialize prepares alpha and mu for an update and returns the starting
// objective. A stored alpha of the wrong length is replaced by zeros. A
// warm start is discarded when alpha = 0 is strictly better.
func initialize(obj *Objective, post *Posterior) (psi float64, warm bool) {
	n := obj.Len()
	if post.alpha == nil || post.alpha.Len() != n {
		post.alpha = mat.NewVecDense(n, nil)
		post.mu = mat.VecDenseCopyOf(obj.mean)
		return obj.DefaultPsi(), false
	}

	mu := obj.PosteriorMean(post.alpha)
	psiNew := obj.psi(post.alpha, mu)
	psiDef := obj.DefaultPsi()
	if psiDef < psiNew {
		post.alpha.Zero()
		post.mu = mat.VecDenseCopyOf(obj.mean)
		return psiDef, false
	}
	post.mu = mu
	return psiNew, true
}

// finalize recomputes mu from the converged alpha and derives the
// likelihood derivatives and precision weights there.
func finalize(obj *Objective, post *Posterior) {
	post.mu = obj.PosteriorMean(post.alpha)
	post.dlp = obj.model.LogProbabilityDerivative(obj.y, post.mu, 1)
	post.d2lp = obj.model.LogProbabilityDerivative(obj.y, post.mu, 2)
	post.d3lp = obj.model.LogProbabilityDerivative(obj.y, post.mu, 3)
	post.w, post.sw = precisionWeights(post.d2lp)
}

// precisionWeights returns W = -d2lp and sW = sqrt(W). sW is the zero
// vector unless every entry of W is strictly positive.
func precisionWeights(d2lp *mat.VecDense) (w, sw *mat.VecDense) {
	n := d2lp.Len()
	w = mat.NewVecDense(n, nil)
	w.ScaleVec(-1, d2lp)

	sw = mat.NewVecDense(n, nil)
	if mat.Min(w) <= 0 {
		return w, sw
	}
	for i := 0; i < n; i++ {
		sw.SetVec(i, math.Sqrt(w.AtVec(i)))
	}
	return w, sw
}

func copyOf(v *mat.VecDense) *mat.VecDense {
	if v == nil {
		return nil
	}
	return mat.VecDenseCopyOf(v)
}
