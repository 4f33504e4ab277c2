package kronproc

import (
	"gonum.org/v1/gonum/mat"
)

// kron returns the dense Kronecker product of a and b. It is quadratic in the
// size of its result and is only used off the hot path, for small factor
// combinations such as per-axis eigenvalue columns and cross-covariance
// vectors.
func kron(a, b mat.Matrix) *mat.Dense {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	out := mat.NewDense(ra*rb, ca*cb, nil)
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			v := a.At(i, j)
			for p := 0; p < rb; p++ {
				for q := 0; q < cb; q++ {
					out.Set(i*rb+p, j*cb+q, v*b.At(p, q))
				}
			}
		}
	}
	return out
}

// kronList left-folds kron over two or more factors.
func kronList(ms []mat.Matrix) *mat.Dense {
	if len(ms) < 2 {
		panic(badFactorCount)
	}
	out := kron(ms[0], ms[1])
	for _, m := range ms[2:] {
		out = kron(out, m)
	}
	return out
}

// kronMvp computes (K_1 ⊗ K_2 ⊗ ... ⊗ K_D) v without materializing the
// product. v must be the row-major flattening of a D-dimensional grid whose
// axes appear in the same order as the factors in ks; passing a vector
// flattened in a different axis order yields a numerically valid but
// semantically wrong result, so the ordering is a caller contract.
//
// Each pass contracts one axis of the implicit grid against its factor,
// costing N·n_d, for O(N·Σ n_d) overall.
func kronMvp(ks []*mat.SymDense, v []float64) []float64 {
	n := 1
	for _, k := range ks {
		n *= k.SymmetricDim()
	}
	if n != len(v) {
		panic(badKronLength)
	}

	cur := make([]float64, n)
	copy(cur, v)
	next := make([]float64, n)

	left, right := 1, n
	for _, k := range ks {
		nd := k.SymmetricDim()
		right /= nd
		for p := 0; p < left; p++ {
			base := p * nd * right
			for i := 0; i < nd; i++ {
				for q := 0; q < right; q++ {
					var s float64
					for j := 0; j < nd; j++ {
						s += k.At(i, j) * cur[base+j*right+q]
					}
					next[base+i*right+q] = s
				}
			}
		}
		cur, next = next, cur
		left *= nd
	}
	return cur
}
