package likelihood

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Below this argument the normal CDF is replaced by its asymptotic series.
const probitTail = -5.0

// Probit is the cumulative Gaussian likelihood for labels in {-1, +1}:
// p(y | f) = Phi(y f).
type Probit struct{}

func (Probit) LogProbability(y, f *mat.VecDense) *mat.VecDense {
	return apply(y, f, func(y, f float64) float64 {
		return logPhi(y * f)
	})
}

func (Probit) LogProbabilityDerivative(y, f *mat.VecDense, order int) *mat.VecDense {
	checkOrder(order)
	return apply(y, f, func(y, f float64) float64 {
		z := y * f
		r := inverseMills(z)
		switch order {
		case 1:
			return y * r
		case 2:
			return -r * (z + r)
		}
		return y * (r*(z+r)*(z+2*r) - r)
	})
}

// logPhi returns log Phi(z).
func logPhi(z float64) float64 {
	if z < probitTail {
		return distuv.UnitNormal.LogProb(z) - math.Log(-z) + math.Log(tailSeries(z))
	}
	return math.Log(distuv.UnitNormal.CDF(z))
}

// inverseMills returns phi(z) / Phi(z).
func inverseMills(z float64) float64 {
	if z < probitTail {
		return -z / tailSeries(z)
	}
	return distuv.UnitNormal.Prob(z) / distuv.UnitNormal.CDF(z)
}

// tailSeries is the leading part of the asymptotic expansion
// Phi(z) ~ phi(z)/(-z) * (1 - 1/z^2 + 3/z^4) for z -> -inf.
func tailSeries(z float64) float64 {
	z2 := z * z
	return 1 - 1/z2 + 3/(z2*z2)
}
