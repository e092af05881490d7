package lbfgs

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/laplace/internal/optimization"
)

func rosenbrock(offset float64) EvaluatorFunc {
	return func(x, grad []float64) float64 {
		a, b := 1-x[0], x[1]-x[0]*x[0]
		grad[0] = -2*a - 400*x[0]*b
		grad[1] = 200 * b
		return a*a + 100*b*b + offset
	}
}

// quadratic is 0.5 * sum(d_i * (x_i - c_i)^2).
func quadratic(d, c []float64) EvaluatorFunc {
	return func(x, grad []float64) float64 {
		var f float64
		for i := range x {
			r := x[i] - c[i]
			f += 0.5 * d[i] * r * r
			grad[i] = d[i] * r
		}
		return f
	}
}

func TestMinimize_Rosenbrock(t *testing.T) {
	x := []float64{-1.2, 1}
	res, err := Minimize(x, rosenbrock(0), nil)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Status)
	assert.InDelta(t, 1.0, x[0], 1e-4)
	assert.InDelta(t, 1.0, x[1], 1e-4)
	assert.InDelta(t, 0.0, res.F, 1e-8)
	assert.Greater(t, res.Iterations, 0)
	assert.GreaterOrEqual(t, res.Evaluations, res.Iterations)
}

func TestMinimize_LineSearches(t *testing.T) {
	d := []float64{1, 10, 100, 3}
	c := []float64{1, -2, 0.5, 4}

	for _, ls := range []LineSearch{MoreThuente, BacktrackingArmijo, BacktrackingWolfe, BacktrackingStrongWolfe} {
		t.Run(ls.String(), func(t *testing.T) {
			p := DefaultParameters()
			p.LineSearch = ls

			x := make([]float64, len(c))
			res, err := Minimize(x, quadratic(d, c), &p)
			require.NoError(t, err)
			assert.False(t, res.Status.Failed())
			optimization.AssertFloat64SlicesEqual(t, x, c, 1e-4)
		})
	}
}

func TestMinimize_AlreadyMinimized(t *testing.T) {
	c := []float64{2, -1}
	x := []float64{2, -1}

	calls := 0
	eval := EvaluatorFunc(func(x, grad []float64) float64 {
		calls++
		return quadratic([]float64{1, 1}, c)(x, grad)
	})

	res, err := Minimize(x, eval, nil)
	require.NoError(t, err)
	assert.Equal(t, AlreadyMinimized, res.Status)
	assert.False(t, res.Status.Failed())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, []float64{2, -1}, x)
}

func TestMinimize_IterationLimit(t *testing.T) {
	start := []float64{-1.2, 1}
	f0 := rosenbrock(0)(append([]float64(nil), start...), make([]float64, 2))

	prev := f0
	for _, limit := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("max_iterations=%d", limit), func(t *testing.T) {
			p := DefaultParameters()
			p.MaxIterations = limit

			x := append([]float64(nil), start...)
			res, err := Minimize(x, rosenbrock(0), &p)
			require.Error(t, err)
			assert.Equal(t, MaximumIteration, res.Status)
			assert.True(t, res.Status.Failed())
			_, ok := optimization.IsOptimizationError(err)
			assert.True(t, ok)

			// Every allowed iteration takes a step, so the partial result
			// improves on the start point and on the shorter runs.
			assert.Equal(t, limit, res.Iterations)
			assert.Greater(t, res.Evaluations, limit)
			assert.NotEqual(t, start, x)
			assert.Less(t, res.F, f0)
			assert.Less(t, res.F, prev)
			prev = res.F
		})
	}
}

func TestMinimize_DeltaTest(t *testing.T) {
	p := DefaultParameters()
	p.Past = 1
	p.Delta = 10

	x := []float64{-1.2, 1}
	res, err := Minimize(x, rosenbrock(10), &p)
	require.Error(t, err)
	assert.Equal(t, Stop, res.Status)
	assert.True(t, res.Status.Failed())
}

func TestMinimize_NonFiniteStart(t *testing.T) {
	eval := EvaluatorFunc(func(x, grad []float64) float64 {
		grad[0] = 1
		return math.NaN()
	})

	x := []float64{0}
	res, err := Minimize(x, eval, nil)
	require.Error(t, err)
	assert.Equal(t, NonFiniteValue, res.Status)
}

func TestMinimize_InvalidParameters(t *testing.T) {
	p := DefaultParameters()
	p.M = 0

	x := []float64{1, 2}
	res, err := Minimize(x, quadratic([]float64{1, 1}, []float64{0, 0}), &p)
	require.Error(t, err)
	assert.Equal(t, InvalidParameters, res.Status)
	assert.True(t, errors.Is(err, optimization.ErrInvalidParameter))
	assert.Equal(t, []float64{1, 2}, x)
}

func TestMinimize_Orthantwise(t *testing.T) {
	p := DefaultParameters()
	p.LineSearch = BacktrackingWolfe
	p.OrthantwiseC = 1
	p.OrthantwiseEnd = 0

	// argmin (x-3)^2 + (y+2)^2 + |x| + |y| is (2.5, -1.5).
	c := []float64{3, -2}
	x := []float64{1, -1}
	res, err := Minimize(x, quadratic([]float64{2, 2}, c), &p)
	require.NoError(t, err)
	assert.False(t, res.Status.Failed())
	assert.InDelta(t, 2.5, x[0], 1e-4)
	assert.InDelta(t, -1.5, x[1], 1e-4)
	assert.InDelta(t, 0.25+0.25+2.5+1.5, res.F, 1e-6)
}

func TestOrthantwise_PseudoGradient(t *testing.T) {
	o := orthantwise{c: 1}

	tests := []struct {
		name string
		x, g float64
		want float64
	}{
		{"positive x", 2, 0.5, 1.5},
		{"negative x", -2, 0.5, -0.5},
		{"zero x steep negative", 0, -3, -2},
		{"zero x steep positive", 0, 3, 2},
		{"zero x flat", 0, 0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.pseudoGradient(tt.x, tt.g))
		})
	}
}

// stubbornLinesearcher never accepts a step.
type stubbornLinesearcher struct{}

func (stubbornLinesearcher) Init(value, derivative, step float64) optimize.Operation {
	return optimize.FuncEvaluation
}

func (stubbornLinesearcher) Iterate(value, derivative float64) (optimize.Operation, float64, error) {
	return optimize.FuncEvaluation, 0.5, nil
}

func TestBoundedLinesearcher(t *testing.T) {
	b := &boundedLinesearcher{Linesearcher: stubbornLinesearcher{}, max: 3}

	b.Init(1, -1, 1)
	for i := 0; i < 2; i++ {
		_, _, err := b.Iterate(1, -1)
		require.NoError(t, err)
	}
	_, _, err := b.Iterate(1, -1)
	assert.ErrorIs(t, err, errTooManyTrials)

	// A new line search resets the budget.
	b.Init(1, -1, 1)
	_, _, err = b.Iterate(1, -1)
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status optimize.Status
		err    error
		want   Status
	}{
		{"gradient threshold", optimize.GradientThreshold, nil, Success},
		{"method converge", optimize.MethodConverge, nil, Success},
		{"function convergence", optimize.FunctionConvergence, nil, Stop},
		{"iteration limit", optimize.IterationLimit, nil, MaximumIteration},
		{"negative infinity", optimize.FunctionNegativeInfinity, nil, NonFiniteValue},
		{"too many trials", optimize.Failure, errTooManyTrials, MaximumLinesearch},
		{"linesearch failure", optimize.Failure, optimize.ErrLinesearcherFailure, LinesearchFailure},
		{"no progress", optimize.Failure, optimize.ErrNoProgress, LinesearchFailure},
		{"bad function value", optimize.Failure, optimize.ErrFunc(math.NaN()), NonFiniteValue},
		{"other error", optimize.Failure, errors.New("boom"), UnknownError},
		{"runtime limit", optimize.RuntimeLimit, nil, UnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.status, tt.err))
		})
	}
}

func TestCachedEvaluator(t *testing.T) {
	calls := 0
	c := newCachedEvaluator(EvaluatorFunc(func(x, grad []float64) float64 {
		calls++
		grad[0] = 2 * x[0]
		return x[0] * x[0]
	}), 1)

	grad := make([]float64, 1)
	assert.Equal(t, 9.0, c.Func([]float64{3}))
	c.Grad(grad, []float64{3})
	assert.Equal(t, 6.0, grad[0])
	assert.Equal(t, 1, calls)

	c.Grad(grad, []float64{1})
	assert.Equal(t, 2.0, grad[0])
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, c.evaluations)
}
