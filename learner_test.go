package kronproc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func gaussLearner() (*KernelLearner, *mat.Dense, []float64, float64) {
	x := mat.NewDense(5, 1, []float64{0, 0.7, 1.3, 2.1, 3.0})
	y := []float64{0.8, 1.4, -0.2, 0.5, 1.1}
	sigma := 0.5

	l := &KernelLearner{
		NewKernel: NewSqExpIso,
		Like:      Gaussian{Noise: sigma},
		X:         x,
		Y:         y,
		Mu:        make([]float64, 5),
		Tau:       0.2,
		Eps:       []float64{1e-2, 1e-2},
		RunIter:   15,
	}
	return l, x, y, sigma
}

// With a Gaussian likelihood the Laplace marginal is exact, so the learner's
// finite differences must track finite differences of the closed-form GP log
// marginal likelihood.
func TestFiniteDifferenceMatchesClosedForm(t *testing.T) {
	l, _, y, sigma := gaussLearner()
	params := []float64{0, 0}

	closedAt := func(hyper []float64) float64 {
		ker := NewSqExpIso(hyper)
		axes := [][]float64{{0, 0.7, 1.3, 2.1, 3.0}}
		k := factorsFor(ker, axes)[0]
		return closedFormLogML(k, y, sigma)
	}

	for i := range params {
		got, err := l.FiniteDifference(params, i)
		require.NoError(t, err)

		eps := l.Eps[i]
		plus := make([]float64, len(params))
		copy(plus, params)
		plus[i] += eps
		minus := make([]float64, len(params))
		copy(minus, params)
		minus[i] -= eps
		want := (closedAt(plus) - closedAt(minus)) / (2 * eps)

		assert.InDelta(t, want, got, 0.05, "param %d", i)
		assert.False(t, math.IsNaN(got))
	}
}

func TestGradientMatchesPerIndex(t *testing.T) {
	l, _, _, _ := gaussLearner()
	params := []float64{0.1, -0.3}

	grad, err := l.Gradient(params)
	require.NoError(t, err)
	require.Len(t, grad, 2)

	for i := range params {
		fd, err := l.FiniteDifference(params, i)
		require.NoError(t, err)
		assert.InDelta(t, fd, grad[i], 1e-12, "parallel and sequential paths must agree")
	}
}

func TestGradientEpsMismatch(t *testing.T) {
	l, _, _, _ := gaussLearner()
	_, err := l.Gradient([]float64{0, 0, 0})
	assert.ErrorIs(t, err, ErrShape)
}

func TestFiniteDifferenceDoesNotMutateParams(t *testing.T) {
	l, _, _, _ := gaussLearner()
	params := []float64{0.2, -0.1}
	_, err := l.FiniteDifference(params, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, -0.1}, params)
}
