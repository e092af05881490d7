package lbfgs

import "math"

// orthantwise adds c*sum(|x_i|) over [start, end) to an objective and
// replaces its gradient by the pseudo-gradient of the penalised function.
// It does not project steps onto an orthant, so the L1 solution is approximate.
type orthantwise struct {
	Evaluator

	c          float64
	start, end int
}

func (o orthantwise) Evaluate(x, grad []float64) float64 {
	f := o.Evaluator.Evaluate(x, grad)
	for i := o.start; i < o.end; i++ {
		f += o.c * math.Abs(x[i])
		grad[i] = o.pseudoGradient(x[i], grad[i])
	}
	return f
}

func (o orthantwise) pseudoGradient(x, g float64) float64 {
	switch {
	case x < 0:
		return g - o.c
	case x > 0:
		return g + o.c
	case g < -o.c:
		return g + o.c
	case g > o.c:
		return g - o.c
	}
	return 0
}
