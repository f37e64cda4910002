// Package optim implements first-order parameter updates over flat float64
// slices.
package optim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Optimizer updates a parameter slice in place from its gradient.
//
// Entries equal to −∞ are frozen: they mark transitions that can never be
// taken and are never moved.
type Optimizer interface {
	Step(params, grads []float64, lr float64)
	Name() string
}

// New returns the optimizer named by kind ("sgd" or "adam").
func New(kind string) (Optimizer, error) {
	switch kind {
	case "", "sgd":
		return NewSGD(), nil
	case "adam":
		return NewAdam(AdamConfig{}), nil
	}
	return nil, fmt.Errorf("optim: unknown optimizer %q", kind)
}

// SGD is plain stochastic gradient descent: param -= lr * grad.
type SGD struct{}

// NewSGD creates an SGD optimizer.
func NewSGD() *SGD { return &SGD{} }

// Name implements Optimizer.
func (*SGD) Name() string { return "sgd" }

// Step implements Optimizer.
func (*SGD) Step(params, grads []float64, lr float64) {
	for i, g := range grads {
		if math.IsInf(params[i], -1) {
			continue
		}
		params[i] -= lr * g
	}
}

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	Betas [2]float64 // default [0.9, 0.999]
	Eps   float64    // default 1e-8
}

// Adam implements the Adam (Adaptive Moment Estimation) optimizer:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * grad
//	v_t = beta2 * v_{t-1} + (1-beta2) * grad²
//	param -= lr * m_hat / (sqrt(v_hat) + eps)
//
// Moments are tracked per parameter slice, identified by its backing array,
// so the same slices must be passed on every step.
type Adam struct {
	beta1, beta2 float64
	eps          float64
	state        map[*float64]*moments
}

type moments struct {
	m, v []float64
	t    int
}

// NewAdam creates a new Adam optimizer.
func NewAdam(config AdamConfig) *Adam {
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
		state: make(map[*float64]*moments),
	}
}

// Name implements Optimizer.
func (*Adam) Name() string { return "adam" }

// Step implements Optimizer.
func (a *Adam) Step(params, grads []float64, lr float64) {
	if len(params) == 0 {
		return
	}
	st, ok := a.state[&params[0]]
	if !ok {
		st = &moments{m: make([]float64, len(params)), v: make([]float64, len(params))}
		a.state[&params[0]] = st
	}
	st.t++
	bc1 := 1 - math.Pow(a.beta1, float64(st.t))
	bc2 := 1 - math.Pow(a.beta2, float64(st.t))

	for i, g := range grads {
		if math.IsInf(params[i], -1) {
			continue
		}
		st.m[i] = a.beta1*st.m[i] + (1-a.beta1)*g
		st.v[i] = a.beta2*st.v[i] + (1-a.beta2)*g*g
		mHat := st.m[i] / bc1
		vHat := st.v[i] / bc2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}

// ClipNorm rescales every gradient slice so that their joint L2 norm is at
// most maxNorm, and returns the norm before clipping. A maxNorm <= 0
// disables clipping.
func ClipNorm(grads [][]float64, maxNorm float64) float64 {
	var sq float64
	for _, g := range grads {
		n := floats.Norm(g, 2)
		sq += n * n
	}
	total := math.Sqrt(sq)
	if maxNorm <= 0 || total <= maxNorm || total == 0 {
		return total
	}
	scale := maxNorm / (total + 1e-6)
	for _, g := range grads {
		floats.Scale(scale, g)
	}
	return total
}

// AddL2 adds the gradient of (l2/2)·‖params‖² to grads and returns the
// penalty itself.
func AddL2(params, grads []float64, l2 float64) float64 {
	if l2 == 0 {
		return 0
	}
	floats.AddScaled(grads, l2, params)
	return 0.5 * l2 * floats.Dot(params, params)
}
