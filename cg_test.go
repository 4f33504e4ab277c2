package kronproc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// randSPD builds a well-conditioned symmetric positive-definite matrix,
// I + BᵀB/n, of the kind the Newton system produces.
func randSPD(rnd *rand.Rand, n int) *mat.SymDense {
	b := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			b.Set(i, j, rnd.NormFloat64())
		}
	}
	var btb mat.Dense
	btb.Mul(b.T(), b)
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := btb.At(i, j) / float64(n)
			if i == j {
				v++
			}
			s.SetSym(i, j, v)
		}
	}
	return s
}

func denseProd(a *mat.SymDense) func(p []float64) []float64 {
	n := a.SymmetricDim()
	return func(p []float64) []float64 {
		out := mat.NewVecDense(n, nil)
		out.MulVec(a, mat.NewVecDense(n, p))
		res := make([]float64, n)
		copy(res, out.RawVector().Data)
		return res
	}
}

func residualNorm(a *mat.SymDense, x, b []float64) float64 {
	ax := denseProd(a)(x)
	floats.Sub(ax, b)
	return floats.Norm(ax, 2)
}

func TestCGSolvesSPD(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	for _, n := range []int{10, 50, 200} {
		a := randSPD(rnd, n)
		b := make([]float64, n)
		for i := range b {
			b[i] = rnd.NormFloat64()
		}

		cg := &cgSolver{prod: denseProd(a)}
		x, res, err := cg.solve(b)
		require.NoError(t, err)

		assert.Less(t, res, 1e-2, "n=%d reported residual", n)
		assert.Less(t, residualNorm(a, x, b), 1e-2, "n=%d true residual", n)
	}
}

func TestCGPreconditioned(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	n := 64
	a := randSPD(rnd, n)
	b := make([]float64, n)
	precond := make([]float64, n)
	for i := range b {
		b[i] = rnd.NormFloat64()
		precond[i] = a.At(i, i)
	}

	cg := &cgSolver{prod: denseProd(a), precond: precond}
	x, _, err := cg.solve(b)
	require.NoError(t, err)
	assert.Less(t, residualNorm(a, x, b), 1e-2)
}

// Hitting the iteration cap returns the partial solution silently; only the
// residual norm records the shortfall.
func TestCGPartialResultAtCap(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	n := 100
	a := randSPD(rnd, n)
	b := make([]float64, n)
	for i := range b {
		b[i] = rnd.NormFloat64()
	}

	cg := &cgSolver{prod: denseProd(a), maxIter: 2}
	x, res, err := cg.solve(b)
	require.NoError(t, err)
	require.Len(t, x, n)
	assert.Greater(t, res, 1e-2, "two iterations should not solve a random 100-dim system")
}

func TestCGSingularSystem(t *testing.T) {
	zeroProd := func(p []float64) []float64 {
		return make([]float64, len(p))
	}
	cg := &cgSolver{prod: zeroProd}
	_, _, err := cg.solve([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrSingular)
}

func TestCGZeroRightHandSide(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	a := randSPD(rnd, 8)
	cg := &cgSolver{prod: denseProd(a)}
	x, res, err := cg.solve(make([]float64, 8))
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 8), x)
	assert.Zero(t, res)
}
