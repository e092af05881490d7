package lbfgs

import (
	"fmt"
	"strings"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// LineSearch selects the line search algorithm used between L-BFGS updates.
type LineSearch int

const (
	// MoreThuente is the More-Thuente method, the default.
	MoreThuente LineSearch = iota
	// BacktrackingArmijo backtracks until the sufficient decrease
	// (Armijo) condition holds.
	BacktrackingArmijo
	// BacktrackingWolfe backtracks until the regular Wolfe conditions hold.
	BacktrackingWolfe
	// BacktrackingStrongWolfe backtracks until the strong Wolfe conditions hold.
	BacktrackingStrongWolfe
)

var lineSearchNames = map[LineSearch]string{
	MoreThuente:             "morethuente",
	BacktrackingArmijo:      "armijo",
	BacktrackingWolfe:       "wolfe",
	BacktrackingStrongWolfe: "strong_wolfe",
}

// String returns the configuration name of the line search.
func (ls LineSearch) String() string {
	if name, ok := lineSearchNames[ls]; ok {
		return name
	}
	return fmt.Sprintf("LineSearch(%d)", int(ls))
}

// MarshalText implements encoding.TextMarshaler.
func (ls LineSearch) MarshalText() ([]byte, error) {
	if _, ok := lineSearchNames[ls]; !ok {
		return nil, fmt.Errorf("unknown line search %d", int(ls))
	}
	return []byte(ls.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so that line searches can
// be named in environment variables, YAML and JSON.
func (ls *LineSearch) UnmarshalText(text []byte) error {
	parsed, err := ParseLineSearch(string(text))
	if err != nil {
		return err
	}
	*ls = parsed
	return nil
}

// ParseLineSearch maps a configuration name to a LineSearch. The empty string
// and "default" select MoreThuente.
func ParseLineSearch(name string) (LineSearch, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default", "morethuente", "more_thuente":
		return MoreThuente, nil
	case "armijo", "backtracking_armijo":
		return BacktrackingArmijo, nil
	case "wolfe", "backtracking", "backtracking_wolfe":
		return BacktrackingWolfe, nil
	case "strong_wolfe", "backtracking_strong_wolfe":
		return BacktrackingStrongWolfe, nil
	}
	return MoreThuente, fmt.Errorf("unknown line search %q", name)
}

// Parameters controls the L-BFGS minimizer.
type Parameters struct {
	// M is the number of corrections used to approximate the inverse Hessian.
	M int `json:"m" yaml:"m" env:"M"`
	// MaxLinesearch is the maximum number of function evaluations per line search.
	MaxLinesearch int `json:"max_linesearch" yaml:"max_linesearch" env:"MAX_LINESEARCH"`
	// LineSearch is the line search algorithm.
	LineSearch LineSearch `json:"linesearch" yaml:"linesearch" env:"LINESEARCH"`
	// MaxIterations caps the number of iterations. Zero means no limit.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// Delta is the threshold of the relative decrease of the objective
	// over Past iterations.
	Delta float64 `json:"delta" yaml:"delta" env:"DELTA"`
	// Past is the distance, in iterations, of the delta test. Zero disables it.
	Past int `json:"past" yaml:"past" env:"PAST"`
	// Epsilon is the threshold of ||g|| / max(1, ||x||).
	Epsilon float64 `json:"epsilon" yaml:"epsilon" env:"EPSILON"`
	// MinStep and MaxStep bound the line search step.
	MinStep float64 `json:"min_step" yaml:"min_step" env:"MIN_STEP"`
	MaxStep float64 `json:"max_step" yaml:"max_step" env:"MAX_STEP"`
	// Ftol is the sufficient decrease (Armijo) parameter.
	Ftol float64 `json:"ftol" yaml:"ftol" env:"FTOL"`
	// Wolfe is the curvature parameter of the backtracking line searches.
	Wolfe float64 `json:"wolfe" yaml:"wolfe" env:"WOLFE"`
	// Gtol is the curvature parameter of the More-Thuente line search.
	Gtol float64 `json:"gtol" yaml:"gtol" env:"GTOL"`
	// Xtol is the relative tolerance on the step of the More-Thuente line search.
	Xtol float64 `json:"xtol" yaml:"xtol" env:"XTOL"`
	// OrthantwiseC is the coefficient of the L1 penalty; zero disables it.
	// The penalty is handled by substituting the pseudo-gradient only: search
	// directions and steps are not projected onto the current orthant, so
	// iterates may cross zero and coordinates whose L1 solution is exactly
	// zero end up near zero rather than at it.
	OrthantwiseC float64 `json:"orthantwise_c" yaml:"orthantwise_c" env:"ORTHANTWISE_C"`
	// OrthantwiseStart and OrthantwiseEnd select the penalised index range
	// [start, end). A non-positive end means the full length.
	OrthantwiseStart int `json:"orthantwise_start" yaml:"orthantwise_start" env:"ORTHANTWISE_START"`
	OrthantwiseEnd   int `json:"orthantwise_end" yaml:"orthantwise_end" env:"ORTHANTWISE_END"`
}

// DefaultParameters returns the parameters used when none are configured.
func DefaultParameters() Parameters {
	return Parameters{
		M:                100,
		MaxLinesearch:    1000,
		LineSearch:       MoreThuente,
		MaxIterations:    1000,
		Delta:            0,
		Past:             0,
		Epsilon:          1e-5,
		MinStep:          1e-20,
		MaxStep:          1e20,
		Ftol:             1e-4,
		Wolfe:            0.9,
		Gtol:             0.9,
		Xtol:             1e-16,
		OrthantwiseC:     0,
		OrthantwiseStart: 0,
		OrthantwiseEnd:   1,
	}
}

// orthantRange resolves the L1 index range for a problem of size n.
func (p *Parameters) orthantRange(n int) (int, int) {
	end := p.OrthantwiseEnd
	if end <= 0 || end > n {
		end = n
	}
	return p.OrthantwiseStart, end
}

// Validate checks the parameters for a problem with n variables.
func (p *Parameters) Validate(n int) error {
	const op = "Parameters.Validate"

	invalid := func(format string, args ...interface{}) error {
		return optimization.WrapErrorf(optimization.ErrInvalidParameter, format, args...).
			WithOperation(op).
			WithComponent("lbfgs")
	}

	switch {
	case n <= 0:
		return invalid("number of variables must be positive, got %d", n)
	case p.M <= 0:
		return invalid("m must be positive, got %d", p.M)
	case p.Epsilon < 0:
		return invalid("epsilon must be non-negative, got %v", p.Epsilon)
	case p.Past < 0:
		return invalid("past must be non-negative, got %d", p.Past)
	case p.Delta < 0:
		return invalid("delta must be non-negative, got %v", p.Delta)
	case p.MaxIterations < 0:
		return invalid("max_iterations must be non-negative, got %d", p.MaxIterations)
	case p.MinStep < 0:
		return invalid("min_step must be non-negative, got %v", p.MinStep)
	case p.MaxStep <= p.MinStep:
		return invalid("max_step %v must exceed min_step %v", p.MaxStep, p.MinStep)
	case p.Ftol <= 0 || p.Ftol >= 1:
		return invalid("ftol must be in (0, 1), got %v", p.Ftol)
	case p.Gtol <= 0 || p.Gtol >= 1:
		return invalid("gtol must be in (0, 1), got %v", p.Gtol)
	case p.Xtol <= 0:
		return invalid("xtol must be positive, got %v", p.Xtol)
	case p.MaxLinesearch <= 0:
		return invalid("max_linesearch must be positive, got %d", p.MaxLinesearch)
	case p.OrthantwiseC < 0:
		return invalid("orthantwise_c must be non-negative, got %v", p.OrthantwiseC)
	}

	if _, ok := lineSearchNames[p.LineSearch]; !ok {
		return invalid("unknown line search %d", int(p.LineSearch))
	}
	if p.LineSearch == MoreThuente && p.Gtol <= p.Ftol {
		return invalid("gtol %v must exceed ftol %v", p.Gtol, p.Ftol)
	}
	if p.LineSearch != MoreThuente && (p.Wolfe <= p.Ftol || p.Wolfe >= 1) {
		return invalid("wolfe must be in (ftol, 1), got %v", p.Wolfe)
	}

	if p.OrthantwiseC != 0 {
		if p.LineSearch != BacktrackingWolfe {
			return invalid("orthantwise_c requires the %s line search, got %s", BacktrackingWolfe, p.LineSearch)
		}
		start, end := p.orthantRange(n)
		if start < 0 || start >= n {
			return invalid("orthantwise_start %d out of range [0, %d)", start, n)
		}
		if end <= start {
			return invalid("orthantwise_end %d must exceed orthantwise_start %d", end, start)
		}
	}
	return nil
}
