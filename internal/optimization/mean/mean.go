// Package mean provides GP prior mean functions.
package mean

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// Function evaluates the prior mean at every row of X.
type Function interface {
	Mean(X mat.Matrix) *mat.VecDense
}

// Zero is the zero mean.
type Zero struct{}

func (Zero) Mean(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	return mat.NewVecDense(n, nil)
}

// Constant is a mean equal to Value everywhere.
type Constant struct {
	Value float64
}

func (c Constant) Mean(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	m := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetVec(i, c.Value)
	}
	return m
}

// Config names a mean function.
type Config struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

// New builds the mean function described by cfg. An empty name is the zero mean.
func New(cfg Config) (Function, error) {
	switch strings.ToLower(cfg.Name) {
	case "", "zero":
		return Zero{}, nil
	case "constant", "const":
		return Constant{Value: cfg.Value}, nil
	}
	return nil, optimization.WrapErrorf(optimization.ErrInvalidParameter, "unknown mean function %q", cfg.Name).
		WithOperation("mean.New").WithComponent("mean")
}
