// Package lbfgs provides a limited-memory BFGS minimizer with the
// parameter set, status codes and single-callback protocol of the classic
// L-BFGS library, implemented on top of gonum's optimize package.
package lbfgs

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// Evaluator computes the objective at x and writes its gradient into grad.
// len(grad) == len(x). Implementations must not modify x.
type Evaluator interface {
	Evaluate(x, grad []float64) float64
}

// EvaluatorFunc adapts an ordinary function to the Evaluator interface.
type EvaluatorFunc func(x, grad []float64) float64

// Evaluate calls f(x, grad).
func (f EvaluatorFunc) Evaluate(x, grad []float64) float64 {
	return f(x, grad)
}

// Result describes a finished minimization.
type Result struct {
	// Status is the termination code.
	Status Status
	// F is the objective at the returned x.
	F float64
	// Iterations is the number of L-BFGS steps taken from the start point.
	Iterations int
	// Evaluations is the number of objective evaluations.
	Evaluations int
}

// Minimize minimizes the objective starting from x, which is overwritten
// with the best point found. A nil p selects DefaultParameters.
//
// The returned error is non-nil exactly when Result.Status.Failed(). On
// failure x still holds the best point the minimizer reached, and F its
// objective value, so callers may use the partial result.
func Minimize(x []float64, eval Evaluator, p *Parameters) (Result, error) {
	const op = "lbfgs.Minimize"

	if p == nil {
		def := DefaultParameters()
		p = &def
	}
	if err := p.Validate(len(x)); err != nil {
		return Result{Status: InvalidParameters, F: math.NaN()}, err
	}
	if p.OrthantwiseC != 0 {
		start, end := p.orthantRange(len(x))
		eval = orthantwise{Evaluator: eval, c: p.OrthantwiseC, start: start, end: end}
	}

	cache := newCachedEvaluator(eval, len(x))
	f0 := cache.Func(x)
	if !isFinite(f0) || !allFinite(cache.grad) {
		return Result{Status: NonFiniteValue, F: f0, Evaluations: cache.evaluations},
			failure(op, NonFiniteValue, nil)
	}
	if gradientConverged(x, cache.grad, p.Epsilon) {
		return Result{Status: AlreadyMinimized, F: f0, Evaluations: cache.evaluations}, nil
	}

	problem := optimize.Problem{
		Func: cache.Func,
		Grad: cache.Grad,
	}
	// gonum counts the initial location as a major iteration.
	settings := &optimize.Settings{
		Converger: newConverger(p),
	}
	if p.MaxIterations > 0 {
		settings.MajorIterations = p.MaxIterations + 1
	}
	method := &optimize.LBFGS{
		Linesearcher: newLinesearcher(p),
		Store:        p.M,
	}

	res, err := optimize.Minimize(problem, x, settings, method)
	if res == nil {
		return Result{Status: UnknownError, F: f0, Evaluations: cache.evaluations},
			failure(op, UnknownError, err)
	}

	result := Result{
		Status:      classify(res.Status, err),
		F:           res.F,
		Iterations:  iterations(res.Stats.MajorIterations),
		Evaluations: cache.evaluations,
	}
	if len(res.X) == len(x) && allFinite(res.X) {
		copy(x, res.X)
	}
	if result.Status.Failed() {
		return result, failure(op, result.Status, err)
	}
	return result, nil
}

// iterations converts gonum's major iteration count, which includes the
// initial location, into the number of L-BFGS steps taken.
func iterations(major int) int {
	if major > 0 {
		return major - 1
	}
	return 0
}

// classify maps gonum's termination onto Status.
func classify(status optimize.Status, err error) Status {
	if err != nil {
		switch {
		case errors.Is(err, errTooManyTrials):
			return MaximumLinesearch
		case errors.Is(err, optimize.ErrLinesearcherFailure),
			errors.Is(err, optimize.ErrNoProgress),
			errors.Is(err, optimize.ErrNonDescentDirection):
			return LinesearchFailure
		}
		var ferr optimize.ErrFunc
		var gerr optimize.ErrGrad
		if errors.As(err, &ferr) || errors.As(err, &gerr) {
			return NonFiniteValue
		}
		return UnknownError
	}

	switch status {
	case optimize.GradientThreshold, optimize.MethodConverge:
		return Success
	case optimize.FunctionConvergence:
		return Stop
	case optimize.IterationLimit:
		return MaximumIteration
	case optimize.FunctionNegativeInfinity:
		return NonFiniteValue
	}
	return UnknownError
}

func failure(op string, status Status, err error) error {
	if err == nil {
		return optimization.NewError(status.String()).WithOperation(op).WithComponent("lbfgs")
	}
	return optimization.WrapError(err, status.String()).WithOperation(op).WithComponent("lbfgs")
}

// cachedEvaluator answers gonum's separate Func and Grad requests with a
// single Evaluator call per distinct point.
type cachedEvaluator struct {
	eval Evaluator

	x     []float64
	f     float64
	grad  []float64
	valid bool

	evaluations int
}

func newCachedEvaluator(eval Evaluator, dim int) *cachedEvaluator {
	return &cachedEvaluator{
		eval: eval,
		x:    make([]float64, dim),
		grad: make([]float64, dim),
	}
}

func (c *cachedEvaluator) compute(x []float64) {
	if c.valid && floats.Equal(c.x, x) {
		return
	}
	copy(c.x, x)
	c.f = c.eval.Evaluate(c.x, c.grad)
	c.valid = true
	c.evaluations++
}

func (c *cachedEvaluator) Func(x []float64) float64 {
	c.compute(x)
	return c.f
}

func (c *cachedEvaluator) Grad(grad, x []float64) {
	c.compute(x)
	copy(grad, c.grad)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
