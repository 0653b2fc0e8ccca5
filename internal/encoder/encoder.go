// Package encoder turns outcome history into fixed-length feature windows.
package encoder

import (
	"fmt"

	"NeuralRoulette/internal/domain/models"
)

type Scheme string

const (
	// SchemeScalar feeds outcome/36 as the single feature of each step.
	SchemeScalar Scheme = "scalar"
	// SchemeOneHot feeds a 37-wide indicator per step.
	SchemeOneHot Scheme = "onehot"
)

const (
	MinWindowLength     = 1
	DefaultWindowLength = 10
)

func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case SchemeScalar, SchemeOneHot:
		return Scheme(s), nil
	case "":
		return SchemeScalar, nil
	}
	return "", fmt.Errorf("unknown encoding scheme %q", s)
}

// Width is the number of features per step.
func (s Scheme) Width() int {
	if s == SchemeOneHot {
		return models.NumOutcomes
	}
	return 1
}

// FeatureWindow is the model input: Steps[t] is the feature vector of the t-th
// oldest outcome in the window.
type FeatureWindow struct {
	Steps    [][]float64
	Outcomes []int
}

func (w FeatureWindow) Len() int { return len(w.Steps) }

// Target is the class the window should predict.
type Target struct {
	Class  int
	OneHot []float64
}

type Encoder struct {
	length int
	scheme Scheme
}

func New(length int, scheme Scheme) (*Encoder, error) {
	if length < MinWindowLength {
		return nil, fmt.Errorf("window length must be >= %d, got %d", MinWindowLength, length)
	}
	if _, err := ParseScheme(string(scheme)); err != nil {
		return nil, err
	}
	if scheme == "" {
		scheme = SchemeScalar
	}
	return &Encoder{length: length, scheme: scheme}, nil
}

func (e *Encoder) Length() int { return e.length }

func (e *Encoder) Scheme() Scheme { return e.scheme }

func (e *Encoder) Width() int { return e.scheme.Width() }

// Encode builds the training pair from the tail of snapshot: the window is the
// L outcomes before the last one and the target is the last one.
func (e *Encoder) Encode(snapshot []int) (FeatureWindow, Target, error) {
	if len(snapshot) < e.length+1 {
		return FeatureWindow{}, Target{}, fmt.Errorf("%w: need %d outcomes, have %d", models.ErrWindowTooShort, e.length+1, len(snapshot))
	}
	tail := snapshot[len(snapshot)-e.length-1:]
	w, err := e.window(tail[:e.length])
	if err != nil {
		return FeatureWindow{}, Target{}, err
	}
	tg, err := NewTarget(tail[e.length])
	if err != nil {
		return FeatureWindow{}, Target{}, err
	}
	return w, tg, nil
}

// EncodeInput builds a prediction-only window from the last L outcomes.
func (e *Encoder) EncodeInput(outcomes []int) (FeatureWindow, error) {
	if len(outcomes) < e.length {
		return FeatureWindow{}, fmt.Errorf("%w: need %d outcomes, have %d", models.ErrWindowTooShort, e.length, len(outcomes))
	}
	return e.window(outcomes[len(outcomes)-e.length:])
}

// EncodeBatch builds every overlapping pair with stride 1, oldest first:
// len(snapshot)-L pairs in total.
func (e *Encoder) EncodeBatch(snapshot []int) ([]FeatureWindow, []Target, error) {
	if len(snapshot) < e.length+1 {
		return nil, nil, fmt.Errorf("%w: need %d outcomes, have %d", models.ErrWindowTooShort, e.length+1, len(snapshot))
	}
	n := len(snapshot) - e.length
	windows := make([]FeatureWindow, 0, n)
	targets := make([]Target, 0, n)
	for i := e.length; i < len(snapshot); i++ {
		w, err := e.window(snapshot[i-e.length : i])
		if err != nil {
			return nil, nil, err
		}
		tg, err := NewTarget(snapshot[i])
		if err != nil {
			return nil, nil, err
		}
		windows = append(windows, w)
		targets = append(targets, tg)
	}
	return windows, targets, nil
}

func (e *Encoder) window(outcomes []int) (FeatureWindow, error) {
	w := FeatureWindow{
		Steps:    make([][]float64, len(outcomes)),
		Outcomes: append([]int(nil), outcomes...),
	}
	for i, o := range outcomes {
		step, err := e.step(o)
		if err != nil {
			return FeatureWindow{}, err
		}
		w.Steps[i] = step
	}
	return w, nil
}

func (e *Encoder) step(outcome int) ([]float64, error) {
	if outcome < models.MinOutcome || outcome > models.MaxOutcome {
		return nil, fmt.Errorf("%w: outcome %d", models.ErrInvalidEvent, outcome)
	}
	if e.scheme == SchemeOneHot {
		v := make([]float64, models.NumOutcomes)
		v[outcome] = 1
		return v, nil
	}
	return []float64{float64(outcome) / float64(models.MaxOutcome)}, nil
}

func NewTarget(class int) (Target, error) {
	if class < models.MinOutcome || class > models.MaxOutcome {
		return Target{}, fmt.Errorf("%w: target %d", models.ErrInvalidEvent, class)
	}
	oh := make([]float64, models.NumOutcomes)
	oh[class] = 1
	return Target{Class: class, OneHot: oh}, nil
}
