// Package ranker selects the outcomes a strategy bets on from a prediction set.
package ranker

import (
	"errors"
	"fmt"

	"NeuralRoulette/internal/domain/models"
)

var ErrInvalidK = errors.New("invalid k")

// Rank returns the k most likely outcomes. The set is already ordered by
// probability with ties on ascending outcome, so ranking is a prefix.
func Rank(set models.PredictionSet, k int) ([]int, error) {
	if k < 1 || k > models.NumOutcomes {
		return nil, fmt.Errorf("%w: %d not in [1,%d]", ErrInvalidK, k, models.NumOutcomes)
	}
	if set.Len() != models.NumOutcomes {
		return nil, fmt.Errorf("%w: prediction set has %d entries", models.ErrModelNotInitialized, set.Len())
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = set.At(i).Outcome
	}
	return out, nil
}

// RankAll ranks once per requested k.
func RankAll(set models.PredictionSet, ks ...int) (map[int][]int, error) {
	out := make(map[int][]int, len(ks))
	for _, k := range ks {
		r, err := Rank(set, k)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

// Confidence is the total probability mass of the top k outcomes.
func Confidence(set models.PredictionSet, k int) float64 {
	if k > set.Len() {
		k = set.Len()
	}
	total := 0.0
	for i := 0; i < k; i++ {
		total += set.At(i).Probability
	}
	return total
}
