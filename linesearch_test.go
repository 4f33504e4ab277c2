package kronproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// quadObj is a strictly convex objective of the step alone, with its minimum
// at target along the direction deltaAlpha = (1).
func quadObj(target float64) func(alpha []float64) float64 {
	return func(alpha []float64) float64 {
		d := alpha[0] - target
		return d * d
	}
}

func TestLineSearchFindsGridOptimum(t *testing.T) {
	// 1.25 = 5.0 · 0.5² lies exactly on the geometric step grid.
	obj := quadObj(1.25)
	ls := &lineSearcher{tau: 0.5, maxIter: searchMaxIter, objective: obj}

	minObj, optStep := ls.search([]float64{0}, []float64{1}, obj([]float64{0}))
	assert.InDelta(t, 1.25, optStep, 1e-12)
	assert.InDelta(t, 0, minObj, 1e-12)
}

func TestLineSearchWithinOneGridPoint(t *testing.T) {
	// The analytic optimum 1.3 sits between the grid points 2.5 and 1.25;
	// the search must land on the better of the two.
	obj := quadObj(1.3)
	ls := &lineSearcher{tau: 0.5, maxIter: searchMaxIter, objective: obj}

	_, optStep := ls.search([]float64{0}, []float64{1}, obj([]float64{0}))
	assert.InDelta(t, 1.25, optStep, 1e-12)
}

func TestLineSearchNoImprovingStep(t *testing.T) {
	// Starting at the optimum: every positive step is worse, so optStep stays
	// zero and minObj stays at the incoming objective.
	obj := quadObj(0)
	ls := &lineSearcher{tau: 0.5, maxIter: searchMaxIter, objective: obj}

	minObj, optStep := ls.search([]float64{0}, []float64{1}, obj([]float64{0}))
	assert.Zero(t, optStep)
	assert.Zero(t, minObj)
}

func TestLineSearchHonorsTau(t *testing.T) {
	// With tau = 0.2 the grid is 5, 1, 0.2, ... and a unit optimum is hit
	// exactly.
	obj := quadObj(1)
	ls := &lineSearcher{tau: 0.2, maxIter: searchMaxIter, objective: obj}

	minObj, optStep := ls.search([]float64{0}, []float64{1}, obj([]float64{0}))
	assert.InDelta(t, 1.0, optStep, 1e-12)
	assert.InDelta(t, 0, minObj, 1e-12)
}

func TestLineSearchEarlyStopOnLargeImprovement(t *testing.T) {
	// A huge improvement at the first candidate violates the continuation
	// rule immediately: ψ_prev − ψ(5.0) ≥ step·t after the first evaluation.
	calls := 0
	obj := func(alpha []float64) float64 {
		calls++
		return -1000
	}
	ls := &lineSearcher{tau: 0.5, maxIter: searchMaxIter, objective: obj}

	minObj, optStep := ls.search([]float64{0}, []float64{1}, 0)
	assert.Equal(t, 1, calls)
	assert.InDelta(t, 5.0, optStep, 1e-12)
	assert.InDelta(t, -1000, minObj, 1e-12)
}
