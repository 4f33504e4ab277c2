package kronproc

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// gridAxes extracts the unique coordinate values of each column of x, sorted
// ascending. The solver's Kronecker structure assumes x is a genuine
// Cartesian product of these per-axis grids; the product of the axis lengths
// is validated against the row count at construction.
func gridAxes(x mat.Matrix) [][]float64 {
	n, d := x.Dims()
	axes := make([][]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		sorted := make([]float64, n)
		copy(sorted, col)
		sort.Float64s(sorted)
		var uniq []float64
		for i, v := range sorted {
			if i == 0 || v != sorted[i-1] {
				uniq = append(uniq, v)
			}
		}
		axes[j] = uniq
	}
	return axes
}

// factorsFor evaluates ker over each per-axis grid, producing the dense
// per-dimension covariance factors whose Kronecker product is the implicit
// full covariance.
func factorsFor(ker Kernel, axes [][]float64) []*mat.SymDense {
	ks := make([]*mat.SymDense, len(axes))
	for d, axis := range axes {
		nd := len(axis)
		k := mat.NewSymDense(nd, nil)
		xi := make([]float64, 1)
		xj := make([]float64, 1)
		for i := 0; i < nd; i++ {
			xi[0] = axis[i]
			for j := i; j < nd; j++ {
				xj[0] = axis[j]
				k.SetSym(i, j, ker.Distance(xi, xj))
			}
		}
		ks[d] = k
	}
	return ks
}

// crossFactors evaluates ker between each per-axis grid and the matching
// coordinate of a single new point, producing the per-dimension
// cross-covariance columns used for posterior mean prediction.
func crossFactors(ker Kernel, axes [][]float64, xNew []float64) []mat.Matrix {
	cols := make([]mat.Matrix, len(axes))
	xi := make([]float64, 1)
	xj := make([]float64, 1)
	for d, axis := range axes {
		col := mat.NewDense(len(axis), 1, nil)
		xj[0] = xNew[d]
		for i, v := range axis {
			xi[0] = v
			col.Set(i, 0, ker.Distance(xi, xj))
		}
		cols[d] = col
	}
	return cols
}
