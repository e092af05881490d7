package laplace

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/laplace/internal/optimization"
	"github.com/copyleftdev/laplace/internal/optimization/lbfgs"
)

// QuasiNewton finds the mode by minimizing psi with L-BFGS. When L-BFGS
// reports anything other than success or an already minimized start and a
// fallback is set, the whole update is redone by the fallback from the
// alpha the call started with.
type QuasiNewton struct {
	params   lbfgs.Parameters
	fallback Solver
	logger   *zap.Logger
}

// NewQuasiNewton returns the L-BFGS solver. fallback may be nil.
func NewQuasiNewton(params lbfgs.Parameters, fallback Solver, logger *zap.Logger) *QuasiNewton {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuasiNewton{
		params:   params,
		fallback: fallback,
		logger:   logger.Named("lbfgs"),
	}
}

func (q *QuasiNewton) Name() string { return string(MethodLBFGS) }

// UpdateAlpha implements Solver.
func (q *QuasiNewton) UpdateAlpha(obj *Objective, post *Posterior) (Report, error) {
	const op = "QuasiNewton.UpdateAlpha"

	start := copyOf(post.alpha)
	psi0, warm := initialize(obj, post)

	q.logger.Debug("Starting L-BFGS",
		zap.Int("n", obj.Len()),
		zap.Bool("warm_start", warm),
		zap.Float64("psi", psi0),
	)

	params := q.params
	x := make([]float64, obj.Len())
	copy(x, post.alpha.RawVector().Data)
	res, err := lbfgs.Minimize(x, obj, &params)
	if res.Status == lbfgs.InvalidParameters {
		return Report{Solver: q.Name(), Status: res.Status}, optimization.WrapError(err, "laplace: "+op)
	}
	post.alpha = mat.NewVecDense(len(x), x)

	report := Report{
		Solver:      q.Name(),
		Status:      res.Status,
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
		InitialPsi:  psi0,
		WarmStart:   warm,
	}

	if res.Status.Failed() {
		if q.fallback != nil {
			q.logger.Warn("L-BFGS did not converge, switching to fallback solver",
				zap.String("status", res.Status.String()),
				zap.Int("iterations", res.Iterations),
				zap.String("fallback", q.fallback.Name()),
			)
			post.alpha = start
			fb, err := q.fallback.UpdateAlpha(obj, post)
			if err != nil {
				return fb, optimization.WrapError(err, "laplace: "+op)
			}
			fb.Status = res.Status
			fb.FellBack = true
			return fb, nil
		}
		q.logger.Debug("L-BFGS did not converge, keeping partial result",
			zap.String("status", res.Status.String()),
			zap.Float64("psi", res.F),
		)
	}

	finalize(obj, post)
	report.Psi = obj.psi(post.alpha, post.mu)

	q.logger.Debug("L-BFGS finished",
		zap.String("status", res.Status.String()),
		zap.Int("iterations", res.Iterations),
		zap.Int("evaluations", res.Evaluations),
		zap.Float64("psi", report.Psi),
	)
	return report, nil
}
