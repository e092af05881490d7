// Package kernels provides GP covariance functions and the matrices built
// from them.
package kernels

import (
	"fmt"
	"math"
	"strings"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// Kernel is a covariance function k(x1, x2).
type Kernel interface {
	// Eval computes the covariance between two points.
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the kernel's parameters in a fixed order.
	Hyperparameters() []float64
}

// RBFKernel is the squared exponential kernel
// signalVar * exp(-|x1-x2|^2 / (2 lengthScale^2)).
type RBFKernel struct {
	lengthScale float64
	signalVar   float64
}

// NewRBFKernel creates an RBF kernel. Both parameters must be positive.
func NewRBFKernel(lengthScale, signalVar float64) *RBFKernel {
	mustBePositive("lengthScale", lengthScale)
	mustBePositive("signalVar", signalVar)
	return &RBFKernel{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	r2 := squaredDistance(x1, x2) / (2.0 * k.lengthScale * k.lengthScale)
	return k.signalVar * math.Exp(-r2)
}

func (k *RBFKernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// Matern52Kernel is the Matérn kernel with smoothness 5/2.
type Matern52Kernel struct {
	lengthScale float64
	signalVar   float64
}

// NewMatern52Kernel creates a Matérn 5/2 kernel. Both parameters must be positive.
func NewMatern52Kernel(lengthScale, signalVar float64) *Matern52Kernel {
	mustBePositive("lengthScale", lengthScale)
	mustBePositive("signalVar", signalVar)
	return &Matern52Kernel{
		lengthScale: lengthScale,
		signalVar:   signalVar,
	}
}

func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(5*squaredDistance(x1, x2)) / k.lengthScale
	return k.signalVar * (1.0 + r + r*r/3.0) * math.Exp(-r)
}

func (k *Matern52Kernel) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// LinearKernel is bias + variance * <x1, x2>.
type LinearKernel struct {
	variance float64
	bias     float64
}

// NewLinearKernel creates a linear kernel. variance must be positive and
// bias non-negative.
func NewLinearKernel(variance, bias float64) *LinearKernel {
	mustBePositive("variance", variance)
	if bias < 0 {
		panic(fmt.Sprintf("bias must be non-negative, got %v", bias))
	}
	return &LinearKernel{variance: variance, bias: bias}
}

func (k *LinearKernel) Eval(x1, x2 []float64) float64 {
	dot := 0.0
	for i := range x1 {
		dot += x1[i] * x2[i]
	}
	return k.bias + k.variance*dot
}

func (k *LinearKernel) Hyperparameters() []float64 {
	return []float64{k.variance, k.bias}
}

// Config names a kernel and its parameters. Zero parameters default to 1,
// except Bias which defaults to 0.
type Config struct {
	Name        string  `json:"name" yaml:"name"`
	LengthScale float64 `json:"length_scale,omitempty" yaml:"length_scale,omitempty"`
	Variance    float64 `json:"variance,omitempty" yaml:"variance,omitempty"`
	Bias        float64 `json:"bias,omitempty" yaml:"bias,omitempty"`
}

// New builds the kernel described by cfg.
func New(cfg Config) (Kernel, error) {
	const op = "kernels.New"

	ls := orOne(cfg.LengthScale)
	v := orOne(cfg.Variance)
	if ls < 0 || v < 0 || cfg.Bias < 0 {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidParameter,
			"kernel parameters must be positive, got length_scale=%v variance=%v bias=%v", ls, v, cfg.Bias).
			WithOperation(op).WithComponent("kernels")
	}

	switch strings.ToLower(cfg.Name) {
	case "", "rbf", "se", "gaussian":
		return NewRBFKernel(ls, v), nil
	case "matern52", "matern":
		return NewMatern52Kernel(ls, v), nil
	case "linear":
		return NewLinearKernel(v, cfg.Bias), nil
	}
	return nil, optimization.WrapErrorf(optimization.ErrInvalidParameter, "unknown kernel %q", cfg.Name).
		WithOperation(op).WithComponent("kernels")
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func mustBePositive(name string, v float64) {
	if v <= 0 {
		panic(fmt.Sprintf("%s must be positive, got %v", name, v))
	}
}

func squaredDistance(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	return sumSq
}
