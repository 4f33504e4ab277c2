package kronproc

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// cgTol bounds the squared residual norm below which the recurrence stops.
	cgTol = 1e-5
	// cgDenomTol is the smallest curvature denominator p·Mp the step-size
	// computation will divide by.
	cgDenomTol = 1e-300
)

// cgSolver solves Mx = b for a symmetric positive-definite M that exists only
// through prod(p) = Mp. An optional diagonal preconditioner accelerates
// ill-scaled systems. maxIter defaults to 2·len(b) when zero; reaching it
// without meeting the residual tolerance returns the partial x without error,
// so callers that care must inspect the returned residual norm.
type cgSolver struct {
	prod    func(p []float64) []float64
	maxIter int
	precond []float64 // diagonal preconditioner, may be nil
}

type cgState struct {
	count int
	x     []float64
	r     []float64
	p     []float64
	z     []float64 // preconditioned residual, aliases r when precond is nil
}

// solve runs the (optionally preconditioned) CG recurrence from x = 0 and
// returns the solution estimate together with the 2-norm of its final
// residual. A vanishing curvature denominator means the implicit operator is
// not positive definite on the search direction and yields ErrSingular.
func (c *cgSolver) solve(b []float64) ([]float64, float64, error) {
	n := len(b)
	maxIter := c.maxIter
	if maxIter == 0 {
		maxIter = 2 * n
	}

	st := cgState{
		x: make([]float64, n),
		r: make([]float64, n),
	}
	copy(st.r, b)
	floats.Sub(st.r, c.prod(st.x))
	st.p = make([]float64, n)
	if c.precond != nil {
		st.z = make([]float64, n)
		floats.DivTo(st.z, st.r, c.precond)
		copy(st.p, st.z)
	} else {
		st.z = st.r
		copy(st.p, st.r)
	}

	cont := func(st cgState) bool {
		return floats.Dot(st.r, st.r) > cgTol && st.count < maxIter
	}
	st, err := iterate(st, cont, c.step)
	return st.x, math.Sqrt(floats.Dot(st.r, st.r)), err
}

func (c *cgSolver) step(st cgState) (cgState, error) {
	st.count++
	mp := c.prod(st.p)

	normK := floats.Dot(st.r, st.z)
	denom := floats.Dot(mp, st.p)
	if math.Abs(denom) < cgDenomTol {
		return st, ErrSingular
	}
	alpha := normK / denom
	floats.AddScaled(st.x, alpha, st.p)
	floats.AddScaled(st.r, -alpha, mp)

	var normNext float64
	if c.precond != nil {
		floats.DivTo(st.z, st.r, c.precond)
		normNext = floats.Dot(st.z, st.r)
	} else {
		normNext = floats.Dot(st.r, st.r)
	}

	beta := normNext / normK
	for i, zi := range st.z {
		st.p[i] = zi + beta*st.p[i]
	}
	return st, nil
}
