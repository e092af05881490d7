package laplace

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// NegativeLogMarginalLikelihood returns the Laplace approximation of
// -log p(y):
//
//	psi(alpha) + 0.5 * log|I + Ks * diag(W)|
//
// It requires a previous successful Update.
func (inf *Inference) NegativeLogMarginalLikelihood() (float64, error) {
	const op = "Inference.NegativeLogMarginalLikelihood"

	if !inf.updated {
		return 0, optimization.WrapError(optimization.ErrNotFitted, "laplace: "+op)
	}
	obj, err := inf.objective()
	if err != nil {
		return 0, optimization.WrapError(err, "laplace: "+op)
	}

	lu, err := inf.factorizeA(obj)
	if err != nil {
		return 0, optimization.WrapError(err, "laplace: "+op)
	}
	logDet, _ := lu.LogDet()
	return obj.psi(inf.post.alpha, inf.post.mu) + 0.5*logDet, nil
}

// Predict returns the latent predictive mean and variance at m test points,
// given kStar (m x n) = k(X*, X), kss (m) = k(x*, x*) and the prior mean at
// the test points:
//
//	mean = meanStar + Ks* * alpha
//	var  = scale^2 * kss - diag(Ks* W (I + Ks W)^-1 Ks*^T)
//
// Variances are clamped at zero.
func (inf *Inference) Predict(kStar mat.Matrix, kss, meanStar *mat.VecDense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "Inference.Predict"

	if !inf.updated {
		return nil, nil, optimization.WrapError(optimization.ErrNotFitted, "laplace: "+op)
	}
	if kStar == nil || kss == nil || meanStar == nil {
		return nil, nil, optimization.WrapError(errors.New("test covariances and mean must not be nil"), "laplace: "+op)
	}
	m, n := kStar.Dims()
	if n != inf.Len() {
		return nil, nil, optimization.DimensionError(op, "test covariance columns", n, inf.Len()).WithComponent("laplace")
	}
	if kss.Len() != m {
		return nil, nil, optimization.DimensionError(op, "test variances", kss.Len(), m).WithComponent("laplace")
	}
	if meanStar.Len() != m {
		return nil, nil, optimization.DimensionError(op, "test mean", meanStar.Len(), m).WithComponent("laplace")
	}

	obj, err := inf.objective()
	if err != nil {
		return nil, nil, optimization.WrapError(err, "laplace: "+op)
	}
	s2 := obj.s2

	mu := mat.NewVecDense(m, nil)
	mu.MulVec(kStar, inf.post.alpha)
	mu.AddScaledVec(meanStar, s2, mu)

	lu, err := inf.factorizeA(obj)
	if err != nil {
		return nil, nil, optimization.WrapError(err, "laplace: "+op)
	}
	var x mat.Dense
	if err := lu.SolveTo(&x, false, kStar.T()); err != nil {
		return nil, nil, optimization.WrapError(err, "laplace: "+op)
	}

	w := inf.post.w
	variance := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		var reduction float64
		for j := 0; j < n; j++ {
			reduction += kStar.At(i, j) * w.AtVec(j) * x.At(j, i)
		}
		variance.SetVec(i, math.Max(0, s2*kss.AtVec(i)-s2*s2*reduction))
	}
	return mu, variance, nil
}

// factorizeA computes the LU factorization of I + Ks * diag(W).
func (inf *Inference) factorizeA(obj *Objective) (*mat.LU, error) {
	n := obj.Len()
	w := inf.post.w
	if w == nil || w.Len() != n {
		return nil, optimization.WrapError(optimization.ErrNotFitted, "precision weights")
	}

	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := obj.s2 * obj.k.At(i, j) * w.AtVec(j)
			if i == j {
				v++
			}
			a.Set(i, j, v)
		}
	}

	var lu mat.LU
	lu.Factorize(a)
	if logDet, _ := lu.LogDet(); math.IsInf(logDet, -1) || math.IsNaN(logDet) {
		return nil, errors.New("I + K*W is singular")
	}
	return &lu, nil
}
