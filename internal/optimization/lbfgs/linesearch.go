package lbfgs

import (
	"errors"

	"gonum.org/v1/gonum/optimize"
)

var errTooManyTrials = errors.New("line search exceeded the maximum number of evaluations")

// boundedLinesearcher caps the number of objective evaluations a wrapped
// Linesearcher may request within one line search.
type boundedLinesearcher struct {
	optimize.Linesearcher

	max    int
	trials int
}

func (b *boundedLinesearcher) Init(value, derivative, step float64) optimize.Operation {
	b.trials = 1
	return b.Linesearcher.Init(value, derivative, step)
}

func (b *boundedLinesearcher) Iterate(value, derivative float64) (optimize.Operation, float64, error) {
	op, step, err := b.Linesearcher.Iterate(value, derivative)
	if err != nil || op == optimize.MajorIteration {
		return op, step, err
	}
	b.trials++
	if b.trials > b.max {
		return op, step, errTooManyTrials
	}
	return op, step, nil
}

// newLinesearcher maps the configured algorithm onto gonum's line searches.
// The L1 penalised objective is not differentiable, so it always uses
// sufficient-decrease backtracking.
func newLinesearcher(p *Parameters) optimize.Linesearcher {
	var ls optimize.Linesearcher
	switch {
	case p.OrthantwiseC != 0, p.LineSearch == BacktrackingArmijo:
		ls = &optimize.Backtracking{
			DecreaseFactor: p.Ftol,
		}
	case p.LineSearch == BacktrackingWolfe, p.LineSearch == BacktrackingStrongWolfe:
		ls = &optimize.Bisection{
			CurvatureFactor: p.Wolfe,
		}
	default:
		ls = &optimize.MoreThuente{
			MinimumStep:     p.MinStep,
			MaximumStep:     p.MaxStep,
			DecreaseFactor:  p.Ftol,
			CurvatureFactor: p.Gtol,
			StepTolerance:   p.Xtol,
		}
	}
	return &boundedLinesearcher{Linesearcher: ls, max: p.MaxLinesearch}
}
