package kronproc

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	searchStepInit = 5.0
	searchMaxIter  = 20
)

// lineSearcher selects the step size for a Newton update by backtracking from
// searchStepInit with geometric decay tau, evaluating the full objective at
// each candidate and keeping the running minimum.
type lineSearcher struct {
	tau       float64
	maxIter   int
	objective func(alpha []float64) float64
}

type searchState struct {
	t         int
	stepSize  float64
	objSearch float64
	minObj    float64
	optStep   float64
}

// search explores alpha + step·deltaAlpha and returns the smallest objective
// seen together with the step that attained it. optStep starts at zero:
// finding no candidate that beats objPrev is a legitimate outcome and leaves
// the caller's iterate unchanged.
//
// The continuation rule compares the improvement over objPrev against
// step·t, with both the step size and the counter already advanced past the
// candidate just evaluated. It is not an Armijo condition and is kept
// deliberately, fixed points of the surrounding Newton iteration depend on it.
func (l *lineSearcher) search(alpha, deltaAlpha []float64, objPrev float64) (minObj, optStep float64) {
	st := searchState{
		t:         1,
		stepSize:  searchStepInit,
		objSearch: math.MaxFloat64,
		minObj:    objPrev,
		optStep:   0,
	}

	cont := func(st searchState) bool {
		return st.t < l.maxIter && objPrev-st.objSearch < st.stepSize*float64(st.t)
	}
	probe := make([]float64, len(alpha))
	step := func(st searchState) (searchState, error) {
		copy(probe, alpha)
		floats.AddScaled(probe, st.stepSize, deltaAlpha)
		st.objSearch = l.objective(probe)
		if st.minObj > st.objSearch {
			st.optStep = st.stepSize
			st.minObj = st.objSearch
		}
		st.stepSize *= l.tau
		st.t++
		return st, nil
	}

	st, _ = iterate(st, cont, step)
	return st.minObj, st.optStep
}
