package kronproc

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Kernel is the covariance collaborator. Distance evaluates the covariance
// between two points; the hyperparameter accessors let callers rebuild
// per-dimension factors under perturbed parameters.
type Kernel interface {
	Distance(x, y []float64) float64
	Hyper([]float64) []float64
	SetHyper(x []float64)
	NumHyper() int
}

var _ Kernel = &SqExpIso{}

// SqExpIso is an isotropic squared exponential (RBF) kernel,
//
//	k(x, y) = variance² · exp(-r² / (2·length²)),  r = ‖x-y‖₂.
//
// Logs are used for improved numerical conditioning.
type SqExpIso struct {
	LogVariance float64 // Log of the variance of the kernel
	LogLength   float64 // Log of the length scale of the kernel function
}

// NewSqExpIso builds a kernel from a hyperparameter vector
// [logVariance, logLength]. It is the factory shape KernelLearner expects.
func NewSqExpIso(hyper []float64) Kernel {
	k := &SqExpIso{}
	k.SetHyper(hyper)
	return k
}

func (k *SqExpIso) NumHyper() int {
	return 2
}

func (k SqExpIso) Distance(x, y []float64) float64 {
	return math.Exp(k.LogDistance(x, y))
}

func (k SqExpIso) LogDistance(x, y []float64) float64 {
	if len(x) != len(y) {
		panic(badPointLength)
	}
	norm := floats.Distance(x, y, 2)
	if norm == 0 {
		return 2 * k.LogVariance
	}
	logNorm := math.Log(norm)
	logExp := -math.Exp(2*logNorm - 2*k.LogLength - math.Ln2)
	return 2*k.LogVariance + logExp
}

func (k SqExpIso) Hyper(h []float64) []float64 {
	if h == nil {
		h = make([]float64, k.NumHyper())
	}
	if len(h) != k.NumHyper() {
		panic(badHyperLength)
	}
	h[0] = k.LogVariance
	h[1] = k.LogLength
	return h
}

func (k *SqExpIso) SetHyper(h []float64) {
	if len(h) != k.NumHyper() {
		panic(badHyperLength)
	}
	k.LogVariance = h[0]
	k.LogLength = h[1]
}
