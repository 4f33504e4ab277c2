package kronproc

// iterate drives a bounded convergence loop: while cont holds, replace the
// state with step(state). The Newton loop, the CG recurrence, and the line
// search all run through this one combinator so their termination semantics
// stay uniform. Iteration caps belong in cont; step reports only hard
// numerical failures.
func iterate[S any](state S, cont func(S) bool, step func(S) (S, error)) (S, error) {
	for cont(state) {
		var err error
		state, err = step(state)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}
