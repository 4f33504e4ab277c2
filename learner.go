package kronproc

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const defaultLearnerIter = 10

// KernelLearner estimates the gradient of the Laplace log marginal likelihood
// with respect to kernel hyperparameters by symmetric finite differences.
// Each evaluation builds a kernel from the perturbed parameter vector via
// NewKernel, fits a fresh short-lived Solver for RunIter Newton iterations,
// and reads its Marginal.
//
// This is an extension point, not a complete optimizer: no ascent step is
// defined, callers drive their own parameter updates from Gradient.
type KernelLearner struct {
	NewKernel func(hyper []float64) Kernel
	Like      Likelihood

	X  mat.Matrix
	Y  []float64
	Mu []float64

	Tau   float64   // line-search decay passed through to each solver; 0 means the default
	KDiag []float64 // optional nugget passed through to each solver
	Mask  []bool    // optional mask passed through to each solver

	Eps     []float64 // per-parameter finite-difference step
	RunIter int       // Newton budget per marginal evaluation; 0 means defaultLearnerIter
}

// Gradient computes the finite-difference gradient of the marginal likelihood
// at params. The per-parameter evaluations share no state and run
// concurrently, one goroutine per parameter.
func (l *KernelLearner) Gradient(params []float64) ([]float64, error) {
	if len(l.Eps) != len(params) {
		return nil, fmt.Errorf("%w: %d finite-difference steps for %d parameters", ErrShape, len(l.Eps), len(params))
	}
	grad := make([]float64, len(params))
	var g errgroup.Group
	for i := range params {
		i := i
		g.Go(func() error {
			fd, err := l.FiniteDifference(params, i)
			if err != nil {
				return err
			}
			grad[i] = fd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return grad, nil
}

// FiniteDifference approximates ∂(marginal likelihood)/∂params[i] with a
// symmetric difference of step Eps[i]. params is not modified.
func (l *KernelLearner) FiniteDifference(params []float64, i int) (float64, error) {
	if len(l.Eps) != len(params) {
		return 0, fmt.Errorf("%w: %d finite-difference steps for %d parameters", ErrShape, len(l.Eps), len(params))
	}
	eps := l.Eps[i]

	perturbed := make([]float64, len(params))
	copy(perturbed, params)

	perturbed[i] = params[i] + eps
	margPlus, err := l.marginalAt(perturbed)
	if err != nil {
		return 0, err
	}

	perturbed[i] = params[i] - eps
	margMinus, err := l.marginalAt(perturbed)
	if err != nil {
		return 0, err
	}

	return (margPlus - margMinus) / (2 * eps), nil
}

// marginalAt fits a fresh solver under the given hyperparameters and returns
// its Laplace marginal likelihood.
func (l *KernelLearner) marginalAt(params []float64) (float64, error) {
	var opts []Option
	if l.Tau != 0 {
		opts = append(opts, WithTau(l.Tau))
	}
	if l.KDiag != nil {
		opts = append(opts, WithNugget(l.KDiag))
	}
	if l.Mask != nil {
		opts = append(opts, WithMask(l.Mask))
	}

	solver, err := NewSolver(l.NewKernel(params), l.Like, l.X, l.Y, l.Mu, opts...)
	if err != nil {
		return 0, err
	}
	iters := l.RunIter
	if iters == 0 {
		iters = defaultLearnerIter
	}
	if _, err := solver.Run(iters); err != nil {
		return 0, err
	}
	return solver.Marginal()
}
