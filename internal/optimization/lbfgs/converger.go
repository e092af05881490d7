package lbfgs

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// converger implements optimize.Converger with the two L-BFGS stopping
// tests: the gradient test ||g|| <= epsilon*max(1, ||x||), reported as
// GradientThreshold, and the delta test on the relative decrease of f over
// the last past iterations, reported as FunctionConvergence.
type converger struct {
	epsilon float64
	past    int
	delta   float64

	k  int
	pf []float64
}

func newConverger(p *Parameters) *converger {
	return &converger{
		epsilon: p.Epsilon,
		past:    p.Past,
		delta:   p.Delta,
	}
}

func (c *converger) Init(dim int) {
	c.k = 0
	if c.past > 0 {
		c.pf = make([]float64, c.past)
	}
}

func (c *converger) Converged(loc *optimize.Location) optimize.Status {
	if gradientConverged(loc.X, loc.Gradient, c.epsilon) {
		return optimize.GradientThreshold
	}

	if c.past > 0 {
		if c.k >= c.past {
			rate := (c.pf[c.k%c.past] - loc.F) / loc.F
			if math.Abs(rate) < c.delta {
				return optimize.FunctionConvergence
			}
		}
		c.pf[c.k%c.past] = loc.F
	}
	c.k++
	return optimize.NotTerminated
}

func gradientConverged(x, grad []float64, epsilon float64) bool {
	if grad == nil {
		return false
	}
	xnorm := math.Max(1, floats.Norm(x, 2))
	return floats.Norm(grad, 2)/xnorm <= epsilon
}
