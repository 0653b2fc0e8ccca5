package ranker

import (
	"errors"
	"testing"

	"NeuralRoulette/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform() []float64 {
	p := make([]float64, models.NumOutcomes)
	for i := range p {
		p[i] = 1.0 / float64(models.NumOutcomes)
	}
	return p
}

func TestRankPicksMostLikely(t *testing.T) {
	p := uniform()
	p[17] = 0.2
	p[4] = 0.15
	p[32] = 0.1
	set, err := models.NewPredictionSet(p)
	require.NoError(t, err)

	top, err := Rank(set, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{17, 4, 32}, top)

	one, err := Rank(set, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{17}, one)
	assert.InDelta(t, 0.45, Confidence(set, 3), 1e-12)
}

func TestRankBreaksTiesByAscendingOutcome(t *testing.T) {
	set, err := models.NewPredictionSet(uniform())
	require.NoError(t, err)

	top, err := Rank(set, 18)
	require.NoError(t, err)
	for i, n := range top {
		assert.Equal(t, i, n)
	}
}

func TestRankIsPrefixConsistent(t *testing.T) {
	p := uniform()
	for i := range p {
		p[i] = float64((i*13)%37+1) / 703
	}
	set, err := models.NewPredictionSet(p)
	require.NoError(t, err)

	all, err := RankAll(set, 1, 3, 18)
	require.NoError(t, err)
	assert.Equal(t, all[1], all[3][:1])
	assert.Equal(t, all[3], all[18][:3])

	seen := map[int]bool{}
	for _, n := range all[18] {
		assert.False(t, seen[n])
		seen[n] = true
	}
}

func TestRankRejectsBadK(t *testing.T) {
	set, err := models.NewPredictionSet(uniform())
	require.NoError(t, err)
	for _, k := range []int{0, -1, 38} {
		_, err := Rank(set, k)
		assert.True(t, errors.Is(err, ErrInvalidK), "k=%d", k)
	}
	_, err = Rank(models.PredictionSet{}, 3)
	assert.Error(t, err)
}
