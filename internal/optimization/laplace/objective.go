package laplace

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/laplace/internal/optimization"
	"github.com/copyleftdev/laplace/internal/optimization/likelihood"
)

// Objective is the evaluation context of one update: the penalised negative
// log-posterior psi and its gradient with respect to alpha, for a fixed
// kernel matrix, scale, prior mean, labels and likelihood.
//
//	f     = scale^2 * K * alpha + mean
//	psi   = 0.5 * alpha . (f - mean) - sum(log p(y | f))
//	dpsi  = scale^2 * K * (alpha - dlp(f))
//
// An Objective never modifies its inputs. It is created at the start of an
// update and dropped when the update returns.
type Objective struct {
	k     *mat.SymDense
	s2    float64
	mean  *mat.VecDense
	y     *mat.VecDense
	model likelihood.Model

	pool *matrixPool
}

// NewObjective validates the inputs and returns the evaluation context.
func NewObjective(K *mat.SymDense, scale float64, mean, labels *mat.VecDense, model likelihood.Model) (*Objective, error) {
	const op = "NewObjective"

	if K == nil || mean == nil || labels == nil || model == nil {
		return nil, optimization.WrapError(errors.New("kernel matrix, mean, labels and likelihood must not be nil"), "laplace: "+op)
	}
	n := K.SymmetricDim()
	if n == 0 {
		return nil, optimization.WrapError(errors.New("kernel matrix must not be empty"), "laplace: "+op)
	}
	if mean.Len() != n {
		return nil, optimization.DimensionError(op, "mean", mean.Len(), n).WithComponent("laplace")
	}
	if labels.Len() != n {
		return nil, optimization.DimensionError(op, "labels", labels.Len(), n).WithComponent("laplace")
	}
	if math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, optimization.WrapError(fmt.Errorf("scale must be finite, got %v", scale), "laplace: "+op)
	}

	return &Objective{
		k:     K,
		s2:    scale * scale,
		mean:  mean,
		y:     labels,
		model: model,
		pool:  newMatrixPool(),
	}, nil
}

// Len is the number of observations.
func (o *Objective) Len() int {
	return o.mean.Len()
}

// covMulVec sets dst = scale^2 * K * v.
func (o *Objective) covMulVec(dst *mat.VecDense, v mat.Vector) {
	dst.MulVec(o.k, v)
	dst.ScaleVec(o.s2, dst)
}

// PosteriorMean returns f = scale^2 * K * alpha + mean.
func (o *Objective) PosteriorMean(alpha mat.Vector) *mat.VecDense {
	f := mat.NewVecDense(o.Len(), nil)
	o.covMulVec(f, alpha)
	f.AddVec(f, o.mean)
	return f
}

// Psi returns the objective at alpha.
func (o *Objective) Psi(alpha mat.Vector) float64 {
	return o.psi(alpha, o.PosteriorMean(alpha))
}

// psi evaluates the objective when f = PosteriorMean(alpha) is already known.
func (o *Objective) psi(alpha mat.Vector, f *mat.VecDense) float64 {
	centered := o.pool.getVecDense(o.Len())
	centered.SubVec(f, o.mean)
	quad := mat.Dot(alpha, centered)
	o.pool.putVecDense(centered)

	return 0.5*quad - mat.Sum(o.model.LogProbability(o.y, f))
}

// DefaultPsi is the objective at alpha = 0, where f equals the mean.
func (o *Objective) DefaultPsi() float64 {
	return -mat.Sum(o.model.LogProbability(o.y, o.mean))
}

// Gradient returns the gradient of psi at alpha.
func (o *Objective) Gradient(alpha mat.Vector) *mat.VecDense {
	grad := mat.NewVecDense(o.Len(), nil)
	o.gradient(grad, alpha, o.PosteriorMean(alpha))
	return grad
}

func (o *Objective) gradient(dst *mat.VecDense, alpha mat.Vector, f *mat.VecDense) {
	dlp := o.model.LogProbabilityDerivative(o.y, f, 1)
	r := o.pool.getVecDense(o.Len())
	r.SubVec(alpha, dlp)
	o.covMulVec(dst, r)
	o.pool.putVecDense(r)
}

// Evaluate implements lbfgs.Evaluator. It computes f once and uses it for
// both psi and the gradient.
func (o *Objective) Evaluate(x, grad []float64) float64 {
	n := o.Len()
	alpha := mat.NewVecDense(n, x)
	f := o.PosteriorMean(alpha)
	o.gradient(mat.NewVecDense(n, grad), alpha, f)
	return o.psi(alpha, f)
}
