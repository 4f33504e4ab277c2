package kronproc

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Likelihood is the observation collaborator: the summed log-density of the
// observations given latent values, plus its first and second derivatives
// with respect to the latents. The second derivative must be non-positive
// everywhere (a log-concave likelihood); a positive value would make the
// Newton system indefinite, and the solver rejects it with ErrNotConcave.
type Likelihood interface {
	// LogLike returns Σᵢ log p(yᵢ | fᵢ).
	LogLike(y, f []float64) float64
	// Deriv stores ∂ log p(yᵢ|fᵢ) / ∂fᵢ into dst. If dst is nil a new slice
	// is allocated. Deriv2 does the same for the second derivative.
	Deriv(dst, y, f []float64) []float64
	Deriv2(dst, y, f []float64) []float64
}

var (
	_ Likelihood = Poisson{}
	_ Likelihood = Gaussian{}
)

// Poisson is a Poisson count likelihood with a log link: y ~ Poisson(exp(f)).
// It is log-concave for all counts, so curvature weights stay non-negative.
type Poisson struct{}

func (Poisson) LogLike(y, f []float64) float64 {
	if len(y) != len(f) {
		panic(badLikeLength)
	}
	var ll float64
	for i, fi := range f {
		p := distuv.Poisson{Lambda: math.Exp(fi)}
		ll += p.LogProb(y[i])
	}
	return ll
}

func (Poisson) Deriv(dst, y, f []float64) []float64 {
	dst = derivDst(dst, y, f)
	for i, fi := range f {
		dst[i] = y[i] - math.Exp(fi)
	}
	return dst
}

func (Poisson) Deriv2(dst, y, f []float64) []float64 {
	dst = derivDst(dst, y, f)
	for i, fi := range f {
		dst[i] = -math.Exp(fi)
	}
	return dst
}

// Gaussian is a homoscedastic Gaussian likelihood y ~ N(f, Noise²). With it
// the Laplace approximation is exact: one full Newton step lands on the
// posterior mode.
type Gaussian struct {
	Noise float64 // observation standard deviation
}

func (g Gaussian) LogLike(y, f []float64) float64 {
	if len(y) != len(f) {
		panic(badLikeLength)
	}
	var ll float64
	for i, fi := range f {
		n := distuv.Normal{Mu: fi, Sigma: g.Noise}
		ll += n.LogProb(y[i])
	}
	return ll
}

func (g Gaussian) Deriv(dst, y, f []float64) []float64 {
	dst = derivDst(dst, y, f)
	inv := 1 / (g.Noise * g.Noise)
	for i, fi := range f {
		dst[i] = (y[i] - fi) * inv
	}
	return dst
}

func (g Gaussian) Deriv2(dst, y, f []float64) []float64 {
	dst = derivDst(dst, y, f)
	inv := 1 / (g.Noise * g.Noise)
	for i := range f {
		dst[i] = -inv
	}
	return dst
}

func derivDst(dst, y, f []float64) []float64 {
	if len(y) != len(f) {
		panic(badLikeLength)
	}
	if dst == nil {
		dst = make([]float64, len(f))
	}
	if len(dst) != len(f) {
		panic(badLikeLength)
	}
	return dst
}
