package likelihood

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StudentT is the Student's t likelihood with dof degrees of freedom and
// scale sigma. Its log-probability is not concave in f, so W can have
// negative entries.
type StudentT struct {
	dof   float64
	sigma float64
}

// NewStudentT returns a Student's t likelihood.
func NewStudentT(dof, sigma float64) *StudentT {
	if dof <= 0 {
		panic(fmt.Sprintf("dof must be positive, got %v", dof))
	}
	if sigma <= 0 {
		panic(fmt.Sprintf("sigma must be positive, got %v", sigma))
	}
	return &StudentT{dof: dof, sigma: sigma}
}

// DegreesOfFreedom implements HeavyTailed.
func (s *StudentT) DegreesOfFreedom() float64 { return s.dof }

// Sigma returns the scale parameter.
func (s *StudentT) Sigma() float64 { return s.sigma }

func (s *StudentT) LogProbability(y, f *mat.VecDense) *mat.VecDense {
	nu := s.dof
	s2 := s.sigma * s.sigma
	lg1, _ := math.Lgamma((nu + 1) / 2)
	lg2, _ := math.Lgamma(nu / 2)
	c := lg1 - lg2 - 0.5*math.Log(nu*math.Pi*s2)

	return apply(y, f, func(y, f float64) float64 {
		r := y - f
		return c - (nu+1)/2*math.Log1p(r*r/(nu*s2))
	})
}

func (s *StudentT) LogProbabilityDerivative(y, f *mat.VecDense, order int) *mat.VecDense {
	checkOrder(order)
	nu := s.dof
	ns2 := nu * s.sigma * s.sigma

	return apply(y, f, func(y, f float64) float64 {
		r := y - f
		r2 := r * r
		a := r2 + ns2
		switch order {
		case 1:
			return (nu + 1) * r / a
		case 2:
			return (nu + 1) * (r2 - ns2) / (a * a)
		}
		return 2 * (nu + 1) * r * (r2 - 3*ns2) / (a * a * a)
	})
}
