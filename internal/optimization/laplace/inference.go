// Package laplace implements Laplace-approximation inference for Gaussian
// process models: it finds the mode of the latent posterior in the dual
// representation alpha and derives the quantities needed for the model
// evidence and for prediction.
package laplace

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/laplace/internal/optimization"
	"github.com/copyleftdev/laplace/internal/optimization/likelihood"
	"github.com/copyleftdev/laplace/internal/optimization/mean"
)

// Inference is a Laplace approximation over fixed training data. Updates are
// not safe for concurrent use; callers serialise access to one Inference.
type Inference struct {
	k        *mat.SymDense
	features mat.Matrix
	meanFn   mean.Function
	labels   *mat.VecDense
	model    likelihood.Model

	scale  float64
	config Config
	solver Solver

	post    Posterior
	updated bool

	logger *zap.Logger
}

// New creates an inference over the n x n kernel matrix K, the n training
// inputs in the rows of features, and n labels.
func New(K *mat.SymDense, features mat.Matrix, meanFn mean.Function, labels *mat.VecDense, model likelihood.Model) (*Inference, error) {
	const op = "Inference.New"

	if K == nil || features == nil || meanFn == nil || labels == nil || model == nil {
		return nil, optimization.WrapError(errors.New("kernel matrix, features, mean, labels and likelihood must not be nil"), "laplace: "+op)
	}
	n := K.SymmetricDim()
	if n == 0 {
		return nil, optimization.WrapError(errors.New("kernel matrix must not be empty"), "laplace: "+op)
	}
	if labels.Len() != n {
		return nil, optimization.DimensionError(op, "labels", labels.Len(), n).WithComponent("laplace")
	}
	if rows, _ := features.Dims(); rows != n {
		return nil, optimization.DimensionError(op, "features", rows, n).WithComponent("laplace")
	}

	logger := zap.NewNop()
	cfg := DefaultConfig()
	return &Inference{
		k:        K,
		features: features,
		meanFn:   meanFn,
		labels:   labels,
		model:    model,
		scale:    1,
		config:   cfg,
		solver:   NewSolver(cfg, logger),
		logger:   logger,
	}, nil
}

// Len is the number of training observations.
func (inf *Inference) Len() int {
	return inf.labels.Len()
}

// Scale returns the kernel scale; the effective covariance is scale^2 * K.
func (inf *Inference) Scale() float64 {
	return inf.scale
}

// SetScale sets the kernel scale. It must be positive and finite.
func (inf *Inference) SetScale(scale float64) error {
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return optimization.WrapErrorf(optimization.ErrInvalidParameter, "scale must be positive, got %v", scale).
			WithOperation("Inference.SetScale").WithComponent("laplace")
	}
	inf.scale = scale
	return nil
}

// Config returns a copy of the solver configuration.
func (inf *Inference) Config() Config {
	return inf.config
}

// SetConfig validates cfg and uses it for subsequent updates.
func (inf *Inference) SetConfig(cfg Config) error {
	if err := cfg.Validate(inf.Len()); err != nil {
		return err
	}
	if cfg.Method == "" {
		cfg.Method = MethodLBFGS
	}
	inf.config = cfg
	inf.solver = NewSolver(cfg, inf.logger)
	return nil
}

// SetLogger sets the logger used by the solvers.
func (inf *Inference) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	inf.logger = logger.Named("laplace")
	inf.solver = NewSolver(inf.config, inf.logger)
}

// WarmStart sets the alpha the next update starts from. A vector whose
// length differs from the number of observations leads to a cold start.
func (inf *Inference) WarmStart(alpha *mat.VecDense) {
	inf.post.alpha = copyOf(alpha)
}

// Update finds the posterior mode for the current data, scale and
// configuration. L-BFGS failures are handled by the configured fallback or
// by accepting the partial result; errors are returned only for invalid
// inputs.
func (inf *Inference) Update() (Report, error) {
	const op = "Inference.Update"

	obj, err := inf.objective()
	if err != nil {
		return Report{}, optimization.WrapError(err, "laplace: "+op)
	}

	report, err := inf.solver.UpdateAlpha(obj, &inf.post)
	if err != nil {
		return report, optimization.WrapError(err, "laplace: "+op)
	}
	inf.updated = true

	inf.logger.Debug("Updated posterior",
		zap.String("solver", report.Solver),
		zap.Bool("fell_back", report.FellBack),
		zap.Int("iterations", report.Iterations),
		zap.Float64("psi", report.Psi),
	)
	return report, nil
}

// objective builds the evaluation context for the current state.
func (inf *Inference) objective() (*Objective, error) {
	m := inf.meanFn.Mean(inf.features)
	if m == nil || m.Len() != inf.Len() {
		got := 0
		if m != nil {
			got = m.Len()
		}
		return nil, optimization.DimensionError("Inference.objective", "mean", got, inf.Len()).WithComponent("laplace")
	}
	return NewObjective(inf.k, inf.scale, m, inf.labels, inf.model)
}

// Updated reports whether Update has succeeded at least once.
func (inf *Inference) Updated() bool {
	return inf.updated
}

// Alpha returns a copy of the dual variable.
func (inf *Inference) Alpha() *mat.VecDense { return copyOf(inf.post.alpha) }

// PosteriorMean returns a copy of the posterior mode mu.
func (inf *Inference) PosteriorMean() *mat.VecDense { return copyOf(inf.post.mu) }

// Dlp returns the first derivative of the log-likelihood at mu.
func (inf *Inference) Dlp() *mat.VecDense { return copyOf(inf.post.dlp) }

// D2lp returns the second derivative of the log-likelihood at mu.
func (inf *Inference) D2lp() *mat.VecDense { return copyOf(inf.post.d2lp) }

// D3lp returns the third derivative of the log-likelihood at mu.
func (inf *Inference) D3lp() *mat.VecDense { return copyOf(inf.post.d3lp) }

// W returns -d2lp.
func (inf *Inference) W() *mat.VecDense { return copyOf(inf.post.w) }

// SW returns sqrt(W), or zeros when W has a non-positive entry.
func (inf *Inference) SW() *mat.VecDense { return copyOf(inf.post.sw) }

func (inf *Inference) String() string {
	return fmt.Sprintf("Inference(n=%d, scale=%g, method=%s)", inf.Len(), inf.scale, inf.config.Method)
}
