package laplace

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/laplace/internal/optimization"
	"github.com/copyleftdev/laplace/internal/optimization/lbfgs"
)

// Method selects the solver that updates alpha.
type Method string

const (
	// MethodLBFGS minimizes psi with L-BFGS, optionally falling back to Newton.
	MethodLBFGS Method = "lbfgs"
	// MethodNewton runs the Newton fixed-point iteration only.
	MethodNewton Method = "newton"
)

// Solver updates the dual variable held in post for the objective obj and
// finalizes post.
type Solver interface {
	Name() string
	UpdateAlpha(obj *Objective, post *Posterior) (Report, error)
}

// Report describes one update.
type Report struct {
	// Solver names the solver that produced the final alpha.
	Solver string `json:"solver"`
	// Status is the termination code of the solver that ran first.
	Status lbfgs.Status `json:"-"`
	// Iterations and Evaluations count the work of the final solver.
	Iterations  int `json:"iterations"`
	Evaluations int `json:"evaluations"`
	// InitialPsi is the objective at the starting alpha.
	InitialPsi float64 `json:"initial_psi"`
	// Psi is the objective at the returned alpha.
	Psi float64 `json:"psi"`
	// WarmStart is true when the previous alpha was kept as starting point.
	WarmStart bool `json:"warm_start"`
	// FellBack is true when L-BFGS failed and Newton produced the result.
	FellBack bool `json:"fell_back"`
}

// NewtonParameters controls the Newton fixed-point iteration.
type NewtonParameters struct {
	// Tolerance stops the iteration once psi decreases by no more than this.
	Tolerance float64 `json:"tolerance" yaml:"tolerance" env:"TOLERANCE"`
	// MaxIterations caps the number of Newton steps.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// MaxStep bounds the step length searched along each Newton direction.
	MaxStep float64 `json:"max_step" yaml:"max_step" env:"MAX_STEP"`
}

// DefaultNewtonParameters returns the Newton defaults.
func DefaultNewtonParameters() NewtonParameters {
	return NewtonParameters{
		Tolerance:     1e-6,
		MaxIterations: 20,
		MaxStep:       10,
	}
}

// Validate checks the Newton parameters.
func (p NewtonParameters) Validate() error {
	const op = "NewtonParameters.Validate"

	switch {
	case p.Tolerance < 0:
		return optimization.WrapErrorf(optimization.ErrInvalidParameter, "tolerance must be non-negative, got %v", p.Tolerance).
			WithOperation(op).WithComponent("laplace")
	case p.MaxIterations <= 0:
		return optimization.WrapErrorf(optimization.ErrInvalidParameter, "max_iterations must be positive, got %d", p.MaxIterations).
			WithOperation(op).WithComponent("laplace")
	case p.MaxStep <= 0:
		return optimization.WrapErrorf(optimization.ErrInvalidParameter, "max_step must be positive, got %v", p.MaxStep).
			WithOperation(op).WithComponent("laplace")
	}
	return nil
}

// Config is the solver configuration of an Inference. It is copied when set,
// so later changes to the caller's value do not affect a running update.
type Config struct {
	Method             Method           `json:"method" yaml:"method" env:"METHOD"`
	EnableNewtonIfFail bool             `json:"enable_newton_if_fail" yaml:"enable_newton_if_fail" env:"ENABLE_NEWTON_IF_FAIL"`
	LBFGS              lbfgs.Parameters `json:"lbfgs" yaml:"lbfgs" envPrefix:"LBFGS_"`
	Newton             NewtonParameters `json:"newton" yaml:"newton" envPrefix:"NEWTON_"`
}

// DefaultConfig returns L-BFGS with the classic library defaults and Newton
// fallback enabled.
func DefaultConfig() Config {
	return Config{
		Method:             MethodLBFGS,
		EnableNewtonIfFail: true,
		LBFGS:              lbfgs.DefaultParameters(),
		Newton:             DefaultNewtonParameters(),
	}
}

// Validate checks the configuration for a problem with n observations.
func (c Config) Validate(n int) error {
	const op = "Config.Validate"

	switch c.Method {
	case MethodLBFGS, "":
		if err := c.LBFGS.Validate(n); err != nil {
			return err
		}
		if !c.EnableNewtonIfFail {
			return nil
		}
	case MethodNewton:
	default:
		return optimization.WrapErrorf(optimization.ErrInvalidParameter, "unknown method %q", c.Method).
			WithOperation(op).WithComponent("laplace")
	}
	return c.Newton.Validate()
}

// NewSolver builds the solver selected by cfg.
func NewSolver(cfg Config, logger *zap.Logger) Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	newton := NewNewton(cfg.Newton, logger)
	if cfg.Method == MethodNewton {
		return newton
	}
	var fallback Solver
	if cfg.EnableNewtonIfFail {
		fallback = newton
	}
	return NewQuasiNewton(cfg.LBFGS, fallback, logger)
}
