package laplace

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/laplace/internal/optimization"
	"github.com/copyleftdev/laplace/internal/optimization/lbfgs"
	"github.com/copyleftdev/laplace/internal/optimization/likelihood"
)

// Newton finds the mode with damped Newton steps on psi:
//
//	b      = W .* (mu - mean) + dlp
//	B      = I + sW * Ks * sW
//	dalpha = b - sW .* (B \ (sW .* (Ks * b))) - alpha
//
// followed by a one-dimensional search for the step length along dalpha.
// It stops when psi decreases by no more than Tolerance.
type Newton struct {
	params NewtonParameters
	logger *zap.Logger
}

// NewNewton returns the Newton solver.
func NewNewton(params NewtonParameters, logger *zap.Logger) *Newton {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Newton{
		params: params,
		logger: logger.Named("newton"),
	}
}

func (nw *Newton) Name() string { return string(MethodNewton) }

// UpdateAlpha implements Solver.
func (nw *Newton) UpdateAlpha(obj *Objective, post *Posterior) (Report, error) {
	const op = "Newton.UpdateAlpha"

	psi0, warm := initialize(obj, post)
	report := Report{
		Solver:     nw.Name(),
		Status:     lbfgs.MaximumIteration,
		InitialPsi: psi0,
		WarmStart:  warm,
	}

	n := obj.Len()
	alpha, mu := post.alpha, post.mu
	psiOld, psiNew := math.Inf(1), psi0
	dof, heavyTailed := heavyTailedDOF(obj.model)

	for report.Iterations < nw.params.MaxIterations && psiOld-psiNew > nw.params.Tolerance {
		psiOld = psiNew

		dlp := obj.model.LogProbabilityDerivative(obj.y, mu, 1)
		d2lp := obj.model.LogProbabilityDerivative(obj.y, mu, 2)
		w := stabilizedWeights(d2lp, dlp, dof, heavyTailed)

		sw := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			sw.SetVec(i, math.Sqrt(w.AtVec(i)))
		}

		// b = W .* (mu - mean) + dlp
		b := mat.NewVecDense(n, nil)
		b.SubVec(mu, obj.mean)
		b.MulElemVec(w, b)
		b.AddVec(b, dlp)

		chol, err := nw.factorizeB(obj, sw)
		if err != nil {
			return report, optimization.WrapError(err, "laplace: "+op)
		}

		// v = sW .* (Ks * b), solved against B
		v := mat.NewVecDense(n, nil)
		obj.covMulVec(v, b)
		v.MulElemVec(sw, v)
		sol := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(sol, v); err != nil {
			return report, optimization.WrapError(err, "laplace: "+op)
		}

		dalpha := mat.NewVecDense(n, nil)
		dalpha.MulElemVec(sw, sol)
		dalpha.SubVec(b, dalpha)
		dalpha.SubVec(dalpha, alpha)

		step, psi, evals := nw.lineSearch(obj, alpha, dalpha, psiOld)
		report.Evaluations += evals
		if step > 0 {
			alpha.AddScaledVec(alpha, step, dalpha)
			mu = obj.PosteriorMean(alpha)
		}
		psiNew = psi
		report.Iterations++

		nw.logger.Debug("Newton step",
			zap.Int("iteration", report.Iterations),
			zap.Float64("step", step),
			zap.Float64("psi", psiNew),
		)
	}

	if psiOld-psiNew <= nw.params.Tolerance {
		report.Status = lbfgs.Success
	}

	post.alpha = alpha
	finalize(obj, post)
	report.Psi = obj.psi(post.alpha, post.mu)
	return report, nil
}

// lineSearch minimizes psi(alpha + s*dalpha) over s in [0, MaxStep]. The
// returned step never increases psi above psiOld; zero means no move.
func (nw *Newton) lineSearch(obj *Objective, alpha, dalpha *mat.VecDense, psiOld float64) (step, psi float64, evals int) {
	n := obj.Len()
	trial := mat.NewVecDense(n, nil)
	psiAt := func(s float64) float64 {
		evals++
		s = math.Max(0, math.Min(s, nw.params.MaxStep))
		trial.AddScaledVec(alpha, s, dalpha)
		return obj.Psi(trial)
	}

	bestStep, bestPsi := 0.0, psiOld
	consider := func(s, psi float64) {
		if !math.IsNaN(psi) && psi < bestPsi {
			bestStep, bestPsi = s, psi
		}
	}

	// The full Newton step is the natural candidate.
	consider(math.Min(1, nw.params.MaxStep), psiAt(1))

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return psiAt(x[0])
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 20,
		},
		FuncEvaluations: 200,
	}
	method := &optimize.NelderMead{
		SimplexSize: 0.5,
	}
	result, err := optimize.Minimize(problem, []float64{1}, settings, method)
	if err != nil {
		nw.logger.Debug("Step search stopped early", zap.Error(err))
	}
	if result != nil && len(result.X) == 1 {
		s := math.Max(0, math.Min(result.X[0], nw.params.MaxStep))
		consider(s, psiAt(s))
	}

	return bestStep, bestPsi, evals
}

// factorizeB computes the Cholesky factor of B = I + sW * Ks * sW, adding
// increasing jitter to the diagonal if the factorization fails.
func (nw *Newton) factorizeB(obj *Objective, sw *mat.VecDense) (*mat.Cholesky, error) {
	n := obj.Len()
	B := obj.pool.getSymDense(n)
	defer obj.pool.putSymDense(B)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := obj.s2 * sw.AtVec(i) * obj.k.At(i, j) * sw.AtVec(j)
			if i == j {
				v++
			}
			B.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if chol.Factorize(B) {
		return &chol, nil
	}

	jitter := 1e-12
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		nw.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))
		for i := 0; i < n; i++ {
			B.SetSym(i, i, B.At(i, i)+jitter)
		}
		if chol.Factorize(B) {
			return &chol, nil
		}
		jitter *= 10
	}
	return nil, optimization.NewErrorf("B = I + sW*K*sW is not positive definite after %d jitter attempts", maxAttempts).
		WithOperation("Newton.factorizeB")
}

// stabilizedWeights returns W = -d2lp made non-negative. Heavy-tailed
// likelihoods first get W += 2/dof * dlp^2 when W has negative entries;
// whatever is still negative is set to zero.
func stabilizedWeights(d2lp, dlp *mat.VecDense, dof float64, heavyTailed bool) *mat.VecDense {
	n := d2lp.Len()
	w := mat.NewVecDense(n, nil)
	w.ScaleVec(-1, d2lp)

	if heavyTailed && mat.Min(w) < 0 {
		for i := 0; i < n; i++ {
			g := dlp.AtVec(i)
			w.SetVec(i, w.AtVec(i)+2/dof*g*g)
		}
	}
	for i := 0; i < n; i++ {
		if w.AtVec(i) < 0 {
			w.SetVec(i, 0)
		}
	}
	return w
}

func heavyTailedDOF(model likelihood.Model) (float64, bool) {
	ht, ok := model.(likelihood.HeavyTailed)
	if !ok {
		return 0, false
	}
	return ht.DegreesOfFreedom(), true
}
