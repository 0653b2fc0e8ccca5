package model

import "math"

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

type adamState struct {
	M []float64 `json:"m"`
	V []float64 `json:"v"`
	T int64     `json:"t"`
}

func newAdamState(n int) *adamState {
	return &adamState{M: make([]float64, n), V: make([]float64, n)}
}

func (a *adamState) clone() *adamState {
	return &adamState{
		M: append([]float64(nil), a.M...),
		V: append([]float64(nil), a.V...),
		T: a.T,
	}
}

// step applies one bias-corrected Adam update to params in place.
func (a *adamState) step(params, grads []float64, lr float64) {
	a.T++
	c1 := 1 - math.Pow(adamBeta1, float64(a.T))
	c2 := 1 - math.Pow(adamBeta2, float64(a.T))
	for i, g := range grads {
		a.M[i] = adamBeta1*a.M[i] + (1-adamBeta1)*g
		a.V[i] = adamBeta2*a.V[i] + (1-adamBeta2)*g*g
		mHat := a.M[i] / c1
		vHat := a.V[i] / c2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + adamEpsilon)
	}
}
