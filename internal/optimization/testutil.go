package optimization

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// AssertFloat64SlicesEqual checks if two float64 slices are approximately equal
func AssertFloat64SlicesEqual(t testing.TB, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// AssertVecEqual checks if two vectors are approximately equal
func AssertVecEqual(t testing.TB, got, want mat.Vector, tol float64) {
	t.Helper()

	if got.Len() != want.Len() {
		t.Fatalf("length mismatch: got %d, want %d", got.Len(), want.Len())
	}
	for i := 0; i < got.Len(); i++ {
		if math.Abs(got.AtVec(i)-want.AtVec(i)) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got.AtVec(i), want.AtVec(i), tol)
		}
	}
}

// AssertMatEqual checks if two matrices are approximately equal
func AssertMatEqual(t testing.TB, got, want mat.Matrix, tol float64) {
	t.Helper()

	rg, cg := got.Dims()
	rw, cw := want.Dims()
	if rg != rw || cg != cw {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}

	for i := 0; i < rg; i++ {
		for j := 0; j < cg; j++ {
			g := got.At(i, j)
			w := want.At(i, j)
			if math.Abs(g-w) > tol {
				t.Fatalf("at (%d,%d): got %v, want %v (tolerance %v)", i, j, g, w, tol)
			}
		}
	}
}

// RandomSPD returns a well conditioned symmetric positive definite matrix
// A*A^T/n + ridge*I.
func RandomSPD(rng *rand.Rand, n int, ridge float64) *mat.SymDense {
	a := RandomMatrix(rng, n, n, -1, 1)
	k := mat.NewSymDense(n, nil)
	k.SymOuterK(1/float64(n), a)
	for i := 0; i < n; i++ {
		k.SetSym(i, i, k.At(i, i)+ridge)
	}
	return k
}

// RandomMatrix generates a random matrix with values in [min, max]
func RandomMatrix(rng *rand.Rand, rows, cols int, min, max float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = min + rng.Float64()*(max-min)
	}
	return mat.NewDense(rows, cols, data)
}

// RandomVector generates a random vector with values in [min, max]
func RandomVector(rng *rand.Rand, size int, min, max float64) *mat.VecDense {
	data := make([]float64, size)
	for i := range data {
		data[i] = min + rng.Float64()*(max-min)
	}
	return mat.NewVecDense(size, data)
}

// SignLabels returns +1/-1 labels drawn from sign(f + noise).
func SignLabels(rng *rand.Rand, f mat.Vector, noise float64) *mat.VecDense {
	y := mat.NewVecDense(f.Len(), nil)
	for i := 0; i < f.Len(); i++ {
		if f.AtVec(i)+noise*rng.NormFloat64() >= 0 {
			y.SetVec(i, 1)
		} else {
			y.SetVec(i, -1)
		}
	}
	return y
}
