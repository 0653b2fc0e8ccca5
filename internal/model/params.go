package model

import (
	"fmt"
	"math"
	"math/rand"

	"NeuralRoulette/internal/domain/models"

	"gonum.org/v1/gonum/mat"
)

// Profile fixes the network shape. A checkpoint is only usable by a manager
// built with an identical profile.
type Profile struct {
	InputWidth   int     `json:"input_width"`
	WindowLength int     `json:"window_length"`
	Hidden1      int     `json:"hidden1"`
	Hidden2      int     `json:"hidden2"`
	Dense        int     `json:"dense"`
	Classes      int     `json:"classes"`
	Dropout      float64 `json:"dropout"`
}

// DefaultProfile is LSTM(128) -> LSTM(64) -> Dense(64) -> Dense(37).
func DefaultProfile(inputWidth, windowLength int) Profile {
	return Profile{
		InputWidth:   inputWidth,
		WindowLength: windowLength,
		Hidden1:      128,
		Hidden2:      64,
		Dense:        64,
		Classes:      models.NumOutcomes,
		Dropout:      0.2,
	}
}

func (p Profile) Validate() error {
	switch {
	case p.InputWidth <= 0:
		return fmt.Errorf("input width must be positive, got %d", p.InputWidth)
	case p.WindowLength <= 0:
		return fmt.Errorf("window length must be positive, got %d", p.WindowLength)
	case p.Hidden1 <= 0 || p.Hidden2 <= 0 || p.Dense <= 0:
		return fmt.Errorf("layer sizes must be positive: %d/%d/%d", p.Hidden1, p.Hidden2, p.Dense)
	case p.Classes != models.NumOutcomes:
		return fmt.Errorf("classes must be %d, got %d", models.NumOutcomes, p.Classes)
	case p.Dropout < 0 || p.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0,1), got %v", p.Dropout)
	}
	return nil
}

// NumParams is the length of the flat parameter vector.
func (p Profile) NumParams() int {
	n := 0
	for _, s := range p.shapes() {
		n += s.rows * s.cols
	}
	return n
}

type shape struct {
	name       string
	rows, cols int
}

// shapes lists tensors in storage order. Gate blocks are ordered i, f, g, o.
func (p Profile) shapes() []shape {
	return []shape{
		{"lstm1_kernel", 4 * p.Hidden1, p.InputWidth},
		{"lstm1_recurrent", 4 * p.Hidden1, p.Hidden1},
		{"lstm1_bias", 4 * p.Hidden1, 1},
		{"lstm2_kernel", 4 * p.Hidden2, p.Hidden1},
		{"lstm2_recurrent", 4 * p.Hidden2, p.Hidden2},
		{"lstm2_bias", 4 * p.Hidden2, 1},
		{"dense_kernel", p.Dense, p.Hidden2},
		{"dense_bias", p.Dense, 1},
		{"output_kernel", p.Classes, p.Dense},
		{"output_bias", p.Classes, 1},
	}
}

// tensors are matrix and vector views over one flat slice, so optimizer and
// checkpoint code can treat the whole network as a single vector.
type tensors struct {
	data []float64

	w1, u1 *mat.Dense
	b1     *mat.VecDense
	w2, u2 *mat.Dense
	b2     *mat.VecDense
	wd     *mat.Dense
	bd     *mat.VecDense
	wo     *mat.Dense
	bo     *mat.VecDense
}

func newTensors(p Profile, data []float64) *tensors {
	if data == nil {
		data = make([]float64, p.NumParams())
	}
	t := &tensors{data: data}
	off := 0
	next := func(rows, cols int) []float64 {
		n := rows * cols
		s := data[off : off+n : off+n]
		off += n
		return s
	}
	t.w1 = mat.NewDense(4*p.Hidden1, p.InputWidth, next(4*p.Hidden1, p.InputWidth))
	t.u1 = mat.NewDense(4*p.Hidden1, p.Hidden1, next(4*p.Hidden1, p.Hidden1))
	t.b1 = mat.NewVecDense(4*p.Hidden1, next(4*p.Hidden1, 1))
	t.w2 = mat.NewDense(4*p.Hidden2, p.Hidden1, next(4*p.Hidden2, p.Hidden1))
	t.u2 = mat.NewDense(4*p.Hidden2, p.Hidden2, next(4*p.Hidden2, p.Hidden2))
	t.b2 = mat.NewVecDense(4*p.Hidden2, next(4*p.Hidden2, 1))
	t.wd = mat.NewDense(p.Dense, p.Hidden2, next(p.Dense, p.Hidden2))
	t.bd = mat.NewVecDense(p.Dense, next(p.Dense, 1))
	t.wo = mat.NewDense(p.Classes, p.Dense, next(p.Classes, p.Dense))
	t.bo = mat.NewVecDense(p.Classes, next(p.Classes, 1))
	return t
}

func (t *tensors) zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// initialize fills kernels with Glorot-uniform values, biases with zero and
// the forget-gate bias with one.
func (t *tensors) initialize(p Profile, rng *rand.Rand) {
	glorot := func(m *mat.Dense, fanIn, fanOut int) {
		limit := math.Sqrt(6 / float64(fanIn+fanOut))
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				m.Set(i, j, (rng.Float64()*2-1)*limit)
			}
		}
	}
	t.zero()
	glorot(t.w1, p.InputWidth, 4*p.Hidden1)
	glorot(t.u1, p.Hidden1, 4*p.Hidden1)
	glorot(t.w2, p.Hidden1, 4*p.Hidden2)
	glorot(t.u2, p.Hidden2, 4*p.Hidden2)
	glorot(t.wd, p.Hidden2, p.Dense)
	glorot(t.wo, p.Dense, p.Classes)
	for j := p.Hidden1; j < 2*p.Hidden1; j++ {
		t.b1.SetVec(j, 1)
	}
	for j := p.Hidden2; j < 2*p.Hidden2; j++ {
		t.b2.SetVec(j, 1)
	}
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func newRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }
