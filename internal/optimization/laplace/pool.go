package laplace

import "gonum.org/v1/gonum/mat"

// matrixPool keeps scratch vectors and matrices between objective
// evaluations, keyed by size. It is not safe for concurrent use; each
// Objective owns one.
type matrixPool struct {
	vecs map[int][]*mat.VecDense
	syms map[int][]*mat.SymDense
}

func newMatrixPool() *matrixPool {
	return &matrixPool{
		vecs: make(map[int][]*mat.VecDense),
		syms: make(map[int][]*mat.SymDense),
	}
}

// getVecDense returns a zeroed vector of length n.
func (p *matrixPool) getVecDense(n int) *mat.VecDense {
	free := p.vecs[n]
	if len(free) == 0 {
		return mat.NewVecDense(n, nil)
	}
	v := free[len(free)-1]
	p.vecs[n] = free[:len(free)-1]
	v.Zero()
	return v
}

func (p *matrixPool) putVecDense(v *mat.VecDense) {
	if v == nil || v.IsEmpty() {
		return
	}
	n := v.Len()
	p.vecs[n] = append(p.vecs[n], v)
}

// getSymDense returns a zeroed n x n symmetric matrix.
func (p *matrixPool) getSymDense(n int) *mat.SymDense {
	free := p.syms[n]
	if len(free) == 0 {
		return mat.NewSymDense(n, nil)
	}
	m := free[len(free)-1]
	p.syms[n] = free[:len(free)-1]
	m.Zero()
	return m
}

func (p *matrixPool) putSymDense(m *mat.SymDense) {
	if m == nil || m.IsEmpty() {
		return
	}
	n := m.SymmetricDim()
	p.syms[n] = append(p.syms[n], m)
}
