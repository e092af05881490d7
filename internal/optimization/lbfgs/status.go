package lbfgs

import "fmt"

// Status is the termination code of Minimize. Success is zero; positive
// codes are non-error terminations and negative codes are failures.
type Status int

const (
	// Success means the gradient convergence test was satisfied.
	Success Status = 0
	// Stop means the objective decrease over Past iterations fell below Delta.
	Stop Status = 1
	// AlreadyMinimized means the starting point already satisfied the
	// gradient convergence test; x was not modified.
	AlreadyMinimized Status = 2

	// UnknownError is an unclassified failure of the minimizer.
	UnknownError Status = -1024
	// InvalidParameters means Parameters.Validate rejected the configuration.
	InvalidParameters Status = -1023
	// LinesearchFailure means the line search could not find an acceptable step.
	LinesearchFailure Status = -1022
	// MaximumLinesearch means a line search exceeded MaxLinesearch evaluations.
	MaximumLinesearch Status = -1021
	// MaximumIteration means MaxIterations was reached before convergence.
	MaximumIteration Status = -1020
	// NonFiniteValue means the objective or gradient became NaN or infinite.
	NonFiniteValue Status = -1019
)

var statusNames = map[Status]string{
	Success:           "success",
	Stop:              "stop",
	AlreadyMinimized:  "already minimized",
	UnknownError:      "unknown error",
	InvalidParameters: "invalid parameters",
	LinesearchFailure: "line search failure",
	MaximumLinesearch: "maximum line search evaluations reached",
	MaximumIteration:  "maximum iterations reached",
	NonFiniteValue:    "non-finite objective or gradient",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Failed reports whether the status is neither Success nor AlreadyMinimized.
// Stop counts as a failure here: callers treat any nonzero code other than
// AlreadyMinimized as non-convergence.
func (s Status) Failed() bool {
	return s != Success && s != AlreadyMinimized
}
