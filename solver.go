// Package kronproc implements approximate Bayesian inference for latent
// Gaussian processes observed through a non-Gaussian likelihood on Cartesian
// grids. The covariance over the grid factors as a Kronecker product of small
// per-dimension matrices, so the posterior mode is found by Newton iteration
// whose linear systems are solved by conjugate gradients against an implicit
// operator, never materializing the full N×N covariance.
package kronproc

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	badKronLength  = "kronproc: vector length does not match factor product"
	badFactorCount = "kronproc: need at least two factors"
	badPointLength = "kronproc: point length mismatch"
	badHyperLength = "kronproc: hyperparameter length mismatch"
	badLikeLength  = "kronproc: observation length mismatch"
	badRunState    = "kronproc: Run has not been called"
)

var (
	ErrShape      = errors.New("kronproc: shape mismatch")
	ErrSingular   = errors.New("kronproc: cg system singular or near singular")
	ErrNotConcave = errors.New("kronproc: likelihood log-density is not concave")
	ErrEigen      = errors.New("kronproc: eigendecomposition of kernel factor failed")
)

const (
	// newtonTol is the objective-improvement threshold below which the Newton
	// loop stops and below which a computed direction is not applied.
	newtonTol = 1e-5
	// alphaFloor replaces NaN entries of the dual variable after an update.
	// Degenerate curvature (a zero second derivative of the log-likelihood)
	// contaminates the CG solve with non-finite values; the floor absorbs
	// that locally instead of aborting the run.
	alphaFloor = 1e-9

	defaultTau = 0.5
)

// runMode resolves the optional mask / nugget configuration once at
// construction so the iteration hot path does not re-branch on presence.
type runMode int

const (
	modePlain runMode = iota
	modeNugget
	modeMasked
	modeMaskedNugget
)

func (m runMode) nugget() bool { return m == modeNugget || m == modeMaskedNugget }
func (m runMode) masked() bool { return m == modeMasked || m == modeMaskedNugget }

// Solver finds the Laplace approximation to the posterior of a latent GP over
// a Cartesian grid. A Solver is scoped to one inference run: construct, call
// Run once, then read the posterior state. It is not safe for concurrent use.
type Solver struct {
	kernel Kernel
	like   Likelihood

	mu []float64
	y  []float64

	axes [][]float64
	ks   []*mat.SymDense

	tau     float64
	kDiag   []float64
	mask    []bool
	maskIdx []int
	mode    runMode

	logger *zap.Logger

	// Posterior state, mutated by Run.
	alpha []float64
	f     []float64
	w     []float64
	grads []float64
	iters int
	ran   bool
}

// An Option configures optional solver behavior.
type Option func(*Solver) error

// WithTau sets the geometric decay factor of the line search. It must lie in
// (0, 1); the default is 0.5.
func WithTau(tau float64) Option {
	return func(s *Solver) error {
		if !(tau > 0 && tau < 1) {
			return fmt.Errorf("kronproc: tau %v out of (0,1)", tau)
		}
		s.tau = tau
		return nil
	}
}

// WithNugget adds a per-point diagonal term to the implicit covariance (an
// observation nugget). It enters the latent recompute as α⊙kDiag and
// preconditions the CG solve. All entries must be positive.
func WithNugget(kDiag []float64) Option {
	return func(s *Solver) error {
		s.kDiag = kDiag
		return nil
	}
}

// WithMask restricts the objective, gradient and marginal likelihood to the
// entries where mask is true (held-out or missing grid points).
func WithMask(mask []bool) Option {
	return func(s *Solver) error {
		s.mask = mask
		return nil
	}
}

// WithLogger attaches a structured logger for per-iteration diagnostics. The
// default logger discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Solver) error {
		s.logger = l
		return nil
	}
}

// NewSolver builds a solver for observations y at grid locations x (an N×D
// matrix whose rows enumerate a full Cartesian product of per-axis grids, in
// row-major order with axis 0 slowest) with prior mean mu. Shape violations
// fail here, not during Run.
func NewSolver(ker Kernel, like Likelihood, x mat.Matrix, y, mu []float64, opts ...Option) (*Solver, error) {
	if ker == nil {
		return nil, errors.New("kronproc: nil kernel")
	}
	if like == nil {
		return nil, errors.New("kronproc: nil likelihood")
	}
	if x == nil {
		return nil, errors.New("kronproc: nil grid")
	}
	n, _ := x.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d observations for %d grid points", ErrShape, len(y), n)
	}
	if len(mu) != n {
		return nil, fmt.Errorf("%w: prior mean length %d, want %d", ErrShape, len(mu), n)
	}

	s := &Solver{
		kernel: ker,
		like:   like,
		mu:     mu,
		y:      y,
		tau:    defaultTau,
		logger: zap.NewNop(),
		alpha:  make([]float64, n),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.axes = gridAxes(x)
	prod := 1
	for _, axis := range s.axes {
		prod *= len(axis)
	}
	if prod != n {
		return nil, fmt.Errorf("%w: grid is not a full cartesian product (axis sizes multiply to %d, have %d rows)", ErrShape, prod, n)
	}
	s.ks = factorsFor(ker, s.axes)

	if s.kDiag != nil {
		if len(s.kDiag) != n {
			return nil, fmt.Errorf("%w: nugget length %d, want %d", ErrShape, len(s.kDiag), n)
		}
		for i, v := range s.kDiag {
			if !(v > 0) {
				return nil, fmt.Errorf("kronproc: nugget entry %d is %v, want positive", i, v)
			}
		}
	}
	if s.mask != nil {
		if len(s.mask) != n {
			return nil, fmt.Errorf("%w: mask length %d, want %d", ErrShape, len(s.mask), n)
		}
		for i, keep := range s.mask {
			if keep {
				s.maskIdx = append(s.maskIdx, i)
			}
		}
	}

	switch {
	case s.kDiag != nil && s.mask != nil:
		s.mode = modeMaskedNugget
	case s.kDiag != nil:
		s.mode = modeNugget
	case s.mask != nil:
		s.mode = modeMasked
	default:
		s.mode = modePlain
	}
	s.f = s.latent(s.alpha)
	return s, nil
}

// latent computes f = μ + Kα, plus α⊙kDiag when a nugget is configured.
func (s *Solver) latent(alpha []float64) []float64 {
	f := kronMvp(s.ks, alpha)
	floats.Add(f, s.mu)
	if s.mode.nugget() {
		for i, a := range alpha {
			f[i] += a * s.kDiag[i]
		}
	}
	return f
}

// objective evaluates ψ(α) = -Σ log p(y|f) + ½·α·(f-μ), restricted to the
// masked entries when a mask is configured.
func (s *Solver) objective(alpha, f []float64) float64 {
	if !s.mode.masked() {
		q := 0.0
		for i, a := range alpha {
			q += a * (f[i] - s.mu[i])
		}
		return -s.like.LogLike(s.y, f) + 0.5*q
	}

	m := len(s.maskIdx)
	yLim := make([]float64, m)
	fLim := make([]float64, m)
	q := 0.0
	for t, i := range s.maskIdx {
		yLim[t] = s.y[i]
		fLim[t] = f[i]
		q += alpha[i] * (f[i] - s.mu[i])
	}
	return -s.like.LogLike(yLim, fLim) + 0.5*q
}

func (s *Solver) searchObjective(alpha []float64) float64 {
	return s.objective(alpha, s.latent(alpha))
}

// cgProd returns the implicit Newton operator p ↦ p + W^½ K W^½ p (plus the
// nugget term when configured) for the current curvature weights.
func (s *Solver) cgProd(sqrtW []float64) func(p []float64) []float64 {
	n := len(sqrtW)
	return func(p []float64) []float64 {
		wp := make([]float64, n)
		floats.MulTo(wp, sqrtW, p)
		kwp := kronMvp(s.ks, wp)
		if s.mode.nugget() {
			for i := range kwp {
				kwp[i] += s.kDiag[i] * wp[i]
			}
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = p[i] + sqrtW[i]*kwp[i]
		}
		return out
	}
}

// newtonState is the per-iteration record threaded through step: the dual
// variable, the previous objective value, and the last accepted improvement.
type newtonState struct {
	it    int
	prev  float64
	delta float64
	alpha []float64
}

// step runs one Newton iteration: recompute the latent values and objective,
// solve the curvature-weighted linear system for a candidate direction, pick
// a step size by backtracking, and apply the update only when the previous
// iteration improved the objective by more than newtonTol.
func (s *Solver) step(st newtonState) (newtonState, error) {
	n := len(st.alpha)
	f := s.latent(st.alpha)
	psi := s.objective(st.alpha, f)

	grads := s.like.Deriv(nil, s.y, f)
	hess := s.like.Deriv2(nil, s.y, f)
	w := make([]float64, n)
	sqrtW := make([]float64, n)
	for i, h := range hess {
		if h > 0 {
			return st, fmt.Errorf("%w: positive second derivative %v at index %d", ErrNotConcave, h, i)
		}
		w[i] = -h
		sqrtW[i] = math.Sqrt(-h)
	}

	// b = W(f-μ) + ∇logLike, scaled by W^-½ for the whitened system.
	rhs := make([]float64, n)
	for i := range rhs {
		rhs[i] = (w[i]*(f[i]-s.mu[i]) + grads[i]) / sqrtW[i]
	}
	cg := &cgSolver{prod: s.cgProd(sqrtW)}
	if s.mode.nugget() {
		cg.precond = s.kDiag
	}
	z, resid, err := cg.solve(rhs)
	if err != nil {
		return st, err
	}

	deltaAlpha := make([]float64, n)
	for i := range deltaAlpha {
		deltaAlpha[i] = sqrtW[i]*z[i] - st.alpha[i]
	}

	ls := &lineSearcher{tau: s.tau, maxIter: searchMaxIter, objective: s.searchObjective}
	minObj, stepSize := ls.search(st.alpha, deltaAlpha, psi)

	next := newtonState{
		it:    st.it + 1,
		prev:  psi,
		delta: st.prev - psi,
		alpha: make([]float64, n),
	}
	copy(next.alpha, st.alpha)
	if next.delta > newtonTol {
		floats.AddScaled(next.alpha, stepSize, deltaAlpha)
	}
	for i, a := range next.alpha {
		if math.IsNaN(a) {
			next.alpha[i] = alphaFloor
		}
	}

	s.f = f
	s.w = w
	s.grads = grads

	s.logger.Debug("newton iteration",
		zap.Int("iter", st.it),
		zap.Float64("psi", psi),
		zap.Float64("delta", next.delta),
		zap.Float64("step", stepSize),
		zap.Float64("search_min", minObj),
		zap.Float64("cg_residual", resid),
	)
	return next, nil
}

// Run executes Newton iterations until the objective improvement drops to
// newtonTol or maxIter iterations have run, and returns the number of
// iterations performed. Both exits leave the loop the same way: a return
// value equal to maxIter means the improvement threshold was never met, and
// callers that care about convergence must check for it — it is not an error.
func (s *Solver) Run(maxIter int) (int, error) {
	st := newtonState{
		prev:  math.MaxFloat64,
		delta: math.MaxFloat64,
		alpha: s.alpha,
	}
	cont := func(st newtonState) bool {
		return st.it < maxIter && st.delta > newtonTol
	}
	st, err := iterate(st, cont, s.step)
	s.alpha = st.alpha
	s.iters = st.it
	s.ran = true
	if err != nil {
		return st.it, err
	}
	s.f = s.latent(s.alpha)
	s.grads = s.like.Deriv(s.grads, s.y, s.f)
	return st.it, nil
}

// Marginal returns the Laplace approximation to the log marginal likelihood
// at the current posterior state,
//
//	-½·α·(f-μ) - ½·Σ log(1 + eig(K)⊙W) + Σ log p(y|f),
//
// where the eigenvalues of the implicit covariance are the Kronecker product
// of the per-factor eigenvalues.
func (s *Solver) Marginal() (float64, error) {
	return s.MarginalFactors(s.ks)
}

// MarginalFactors is Marginal with the per-dimension covariance factors
// overridden, for scoring an alternative kernel against the same posterior
// state without rebuilding the solver.
func (s *Solver) MarginalFactors(ks []*mat.SymDense) (float64, error) {
	if !s.ran {
		panic(badRunState)
	}
	eigK, err := factorEigenvalues(ks)
	if err != nil {
		return 0, err
	}
	if len(eigK) != len(s.y) {
		return 0, fmt.Errorf("%w: factor sizes multiply to %d, want %d", ErrShape, len(eigK), len(s.y))
	}

	if !s.mode.masked() {
		var quad, logdet float64
		for i, a := range s.alpha {
			quad += a * (s.f[i] - s.mu[i])
			logdet += math.Log(1 + eigK[i]*s.w[i])
		}
		return -0.5*quad - 0.5*logdet + s.like.LogLike(s.y, s.f), nil
	}

	m := len(s.maskIdx)
	yLim := make([]float64, m)
	fLim := make([]float64, m)
	var quad, logdet float64
	for t, i := range s.maskIdx {
		yLim[t] = s.y[i]
		fLim[t] = s.f[i]
		quad += s.alpha[i] * (s.f[i] - s.mu[i])
		logdet += math.Log(1 + eigK[i]*s.w[i])
	}
	return -0.5*quad - 0.5*logdet + s.like.LogLike(yLim, fLim), nil
}

// factorEigenvalues combines per-factor eigenvalues into the eigenvalues of
// the Kronecker product, in the same row-major order kronMvp assumes.
func factorEigenvalues(ks []*mat.SymDense) ([]float64, error) {
	cols := make([]mat.Matrix, len(ks))
	for d, k := range ks {
		var es mat.EigenSym
		if !es.Factorize(k, false) {
			return nil, ErrEigen
		}
		vals := es.Values(nil)
		cols[d] = mat.NewDense(len(vals), 1, vals)
	}
	return flattenColumn(cols), nil
}

// flattenColumn Kronecker-combines column vectors and returns the result as
// a flat slice. A single column passes through unchanged.
func flattenColumn(cols []mat.Matrix) []float64 {
	var m mat.Matrix = cols[0]
	if len(cols) > 1 {
		m = kronList(cols)
	}
	r, _ := m.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = m.At(i, 0)
	}
	return out
}

// PredictMean returns the posterior mean of the latent function at a new
// point, via per-dimension cross-covariance vectors against the fitted dual
// variable: k(x*)·α + μ. The prior mean is assumed constant over the grid.
func (s *Solver) PredictMean(xNew []float64) (float64, error) {
	if !s.ran {
		panic(badRunState)
	}
	if len(xNew) != len(s.axes) {
		return 0, fmt.Errorf("%w: point has %d coordinates, grid has %d axes", ErrShape, len(xNew), len(s.axes))
	}
	kx := flattenColumn(crossFactors(s.kernel, s.axes, xNew))
	return floats.Dot(kx, s.alpha) + s.mu[0], nil
}

// Factors returns the per-dimension covariance factors currently in use.
func (s *Solver) Factors() []*mat.SymDense { return s.ks }

// FactorsFor evaluates a replacement kernel over the solver's grid axes,
// for use with MarginalFactors.
func (s *Solver) FactorsFor(ker Kernel) []*mat.SymDense {
	return factorsFor(ker, s.axes)
}

// Alpha returns the dual variable α = K⁻¹(f-μ) after Run.
func (s *Solver) Alpha() []float64 { return s.alpha }

// Latent returns the latent function values f after Run.
func (s *Solver) Latent() []float64 { return s.f }

// Grad returns ∂ log p(y|f)/∂f at the current latent values.
func (s *Solver) Grad() []float64 { return s.grads }

// CurvatureWeights returns W = -∂² log p(y|f)/∂f² from the last Newton
// iteration.
func (s *Solver) CurvatureWeights() []float64 { return s.w }

// Iterations returns the number of Newton iterations the last Run performed.
// A value equal to Run's maxIter argument means the run stopped on the
// iteration cap, not on convergence.
func (s *Solver) Iterations() int { return s.iters }
