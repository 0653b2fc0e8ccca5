package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinEventValidate(t *testing.T) {
	assert.NoError(t, SpinEvent{Outcome: 0}.Validate())
	assert.NoError(t, SpinEvent{Outcome: 36}.Validate())

	for _, o := range []int{-1, 37, 100} {
		err := SpinEvent{Outcome: o}.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidEvent))
	}
}

func TestColor(t *testing.T) {
	assert.Equal(t, "green", Color(0))
	assert.Equal(t, "red", Color(1))
	assert.Equal(t, "black", Color(2))
	assert.Equal(t, "red", Color(36))
	assert.Equal(t, "black", Color(35))
	assert.Equal(t, "", Color(37))

	reds := 0
	for o := 1; o <= MaxOutcome; o++ {
		if Color(o) == "red" {
			reds++
		}
	}
	assert.Equal(t, 18, reds)
}

func TestPredictionSetOrdering(t *testing.T) {
	probs := make([]float64, NumOutcomes)
	for i := range probs {
		probs[i] = 0.01
	}
	probs[17] = 0.2
	probs[4] = 0.1
	probs[30] = 0.1

	ps, err := NewPredictionSet(probs)
	require.NoError(t, err)
	require.Equal(t, NumOutcomes, ps.Len())

	assert.Equal(t, 17, ps.At(0).Outcome)
	// equal probabilities fall back to ascending outcome
	assert.Equal(t, 4, ps.At(1).Outcome)
	assert.Equal(t, 30, ps.At(2).Outcome)
	assert.Equal(t, 0, ps.At(3).Outcome)
	assert.InDelta(t, 0.1, ps.Probability(30), 1e-12)

	entries := ps.Entries()
	entries[0].Outcome = 99
	assert.Equal(t, 17, ps.At(0).Outcome)

	raw, err := json.Marshal(ps)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `{"outcome":17,"probability":0.2}`)
}

func TestPredictionSetRejectsBadInput(t *testing.T) {
	_, err := NewPredictionSet(make([]float64, 10))
	assert.Error(t, err)

	probs := make([]float64, NumOutcomes)
	probs[3] = -0.5
	_, err = NewPredictionSet(probs)
	assert.Error(t, err)
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusInsufficientFunds.Terminal())
}
