package kernels

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// Gram returns the symmetric matrix K_ij = k(x_i, x_j) over the rows of X.
func Gram(k Kernel, X mat.Matrix) (*mat.SymDense, error) {
	const op = "kernels.Gram"

	if k == nil || X == nil {
		return nil, optimization.WrapError(errors.New("kernel and inputs must not be nil"), op)
	}
	n, d := X.Dims()
	if n == 0 || d == 0 {
		return nil, optimization.WrapError(errors.New("input matrix must not be empty"), op)
	}

	rows := rowsOf(X)
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			K.SetSym(i, j, k.Eval(rows[i], rows[j]))
		}
	}
	return K, nil
}

// Cross returns the matrix K_ij = k(xs_i, x_j) between the rows of Xs and X.
func Cross(k Kernel, Xs, X mat.Matrix) (*mat.Dense, error) {
	const op = "kernels.Cross"

	if k == nil || Xs == nil || X == nil {
		return nil, optimization.WrapError(errors.New("kernel and inputs must not be nil"), op)
	}
	m, ds := Xs.Dims()
	n, d := X.Dims()
	if ds != d {
		return nil, optimization.DimensionError(op, "feature count", ds, d)
	}
	if m == 0 || n == 0 {
		return nil, optimization.WrapError(errors.New("input matrices must not be empty"), op)
	}

	test, train := rowsOf(Xs), rowsOf(X)
	out := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, k.Eval(test[i], train[j]))
		}
	}
	return out, nil
}

// Diag returns k(x_i, x_i) for every row of X.
func Diag(k Kernel, X mat.Matrix) *mat.VecDense {
	rows := rowsOf(X)
	out := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		out.SetVec(i, k.Eval(r, r))
	}
	return out
}

func rowsOf(X mat.Matrix) [][]float64 {
	n, _ := X.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}
	return rows
}
