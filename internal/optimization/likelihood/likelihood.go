// Package likelihood provides observation models for Laplace inference.
// Every model works elementwise: entry i of a result depends only on y_i and
// f_i.
package likelihood

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// Model is a likelihood p(y | f) evaluated at latent values f.
type Model interface {
	// LogProbability returns log p(y_i | f_i) for every i.
	LogProbability(y, f *mat.VecDense) *mat.VecDense

	// LogProbabilityDerivative returns the order-th derivative of
	// log p(y_i | f_i) with respect to f_i. order is 1, 2 or 3.
	LogProbabilityDerivative(y, f *mat.VecDense, order int) *mat.VecDense
}

// HeavyTailed is implemented by models whose negative curvature can be
// corrected using their degrees of freedom.
type HeavyTailed interface {
	DegreesOfFreedom() float64
}

// Config names a model and its parameters.
type Config struct {
	Name             string  `json:"name" yaml:"name"`
	Sigma            float64 `json:"sigma,omitempty" yaml:"sigma,omitempty"`
	DegreesOfFreedom float64 `json:"dof,omitempty" yaml:"dof,omitempty"`
}

// New builds the model described by cfg. Zero parameters take the model's
// defaults: sigma 1 and 3 degrees of freedom.
func New(cfg Config) (Model, error) {
	const op = "likelihood.New"

	sigma := cfg.Sigma
	if sigma == 0 {
		sigma = 1
	}
	dof := cfg.DegreesOfFreedom
	if dof == 0 {
		dof = 3
	}
	if sigma < 0 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidParameter, "sigma must be positive, got %v", sigma).
			WithOperation(op).WithComponent("likelihood")
	}
	if dof < 0 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidParameter, "dof must be positive, got %v", dof).
			WithOperation(op).WithComponent("likelihood")
	}

	switch strings.ToLower(cfg.Name) {
	case "gaussian", "normal":
		return NewGaussian(sigma), nil
	case "logit", "logistic":
		return Logit{}, nil
	case "probit", "erf":
		return Probit{}, nil
	case "student_t", "studentt", "t":
		return NewStudentT(dof, sigma), nil
	}
	return nil, optimization.WrapErrorf(optimization.ErrInvalidParameter, "unknown likelihood %q", cfg.Name).
		WithOperation(op).WithComponent("likelihood")
}

func checkOrder(order int) {
	if order < 1 || order > 3 {
		panic(fmt.Sprintf("derivative order must be 1, 2 or 3, got %d", order))
	}
}

// apply evaluates fn on every (y_i, f_i) pair.
func apply(y, f *mat.VecDense, fn func(y, f float64) float64) *mat.VecDense {
	n := f.Len()
	if y.Len() != n {
		panic(fmt.Sprintf("labels length %d does not match latent length %d", y.Len(), n))
	}
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, fn(y.AtVec(i), f.AtVec(i)))
	}
	return out
}

// Gaussian is the normal likelihood y ~ N(f, sigma^2).
type Gaussian struct {
	sigma float64
}

// NewGaussian returns a Gaussian likelihood with noise standard deviation sigma.
func NewGaussian(sigma float64) *Gaussian {
	if sigma <= 0 {
		panic(fmt.Sprintf("sigma must be positive, got %v", sigma))
	}
	return &Gaussian{sigma: sigma}
}

// Sigma returns the noise standard deviation.
func (g *Gaussian) Sigma() float64 { return g.sigma }

func (g *Gaussian) LogProbability(y, f *mat.VecDense) *mat.VecDense {
	s2 := g.sigma * g.sigma
	c := -0.5 * math.Log(2*math.Pi*s2)
	return apply(y, f, func(y, f float64) float64 {
		r := y - f
		return c - r*r/(2*s2)
	})
}

func (g *Gaussian) LogProbabilityDerivative(y, f *mat.VecDense, order int) *mat.VecDense {
	checkOrder(order)
	s2 := g.sigma * g.sigma
	return apply(y, f, func(y, f float64) float64 {
		switch order {
		case 1:
			return (y - f) / s2
		case 2:
			return -1 / s2
		}
		return 0
	})
}

// Logit is the logistic likelihood for labels in {-1, +1}:
// p(y | f) = 1 / (1 + exp(-y f)).
type Logit struct{}

func (Logit) LogProbability(y, f *mat.VecDense) *mat.VecDense {
	return apply(y, f, func(y, f float64) float64 {
		return -softplus(-y * f)
	})
}

func (Logit) LogProbabilityDerivative(y, f *mat.VecDense, order int) *mat.VecDense {
	checkOrder(order)
	return apply(y, f, func(y, f float64) float64 {
		p := sigmoid(f)
		switch order {
		case 1:
			return (y+1)/2 - p
		case 2:
			return -p * (1 - p)
		}
		return -p * (1 - p) * (1 - 2*p)
	})
}

// softplus is log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
