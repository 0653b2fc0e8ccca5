package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

type OutcomeProbability struct {
	Outcome     int     `json:"outcome"`
	Probability float64 `json:"probability"`
}

// PredictionSet is a distribution over all 37 outcomes, ordered by probability
// descending with ties broken by ascending outcome. It is read-only once built.
type PredictionSet struct {
	entries []OutcomeProbability
}

// NewPredictionSet orders a probability vector indexed by outcome.
func NewPredictionSet(probs []float64) (PredictionSet, error) {
	if len(probs) != NumOutcomes {
		return PredictionSet{}, fmt.Errorf("prediction set needs %d probabilities, got %d", NumOutcomes, len(probs))
	}
	entries := make([]OutcomeProbability, NumOutcomes)
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return PredictionSet{}, fmt.Errorf("probability for %d is not usable: %v", i, p)
		}
		entries[i] = OutcomeProbability{Outcome: i, Probability: p}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].Probability != entries[b].Probability {
			return entries[a].Probability > entries[b].Probability
		}
		return entries[a].Outcome < entries[b].Outcome
	})
	return PredictionSet{entries: entries}, nil
}

func (p PredictionSet) Len() int { return len(p.entries) }

func (p PredictionSet) IsZero() bool { return len(p.entries) == 0 }

// At returns the i-th most likely entry.
func (p PredictionSet) At(i int) OutcomeProbability { return p.entries[i] }

// Entries returns a copy of the ordered pairs.
func (p PredictionSet) Entries() []OutcomeProbability {
	out := make([]OutcomeProbability, len(p.entries))
	copy(out, p.entries)
	return out
}

// Probability looks up one outcome.
func (p PredictionSet) Probability(outcome int) float64 {
	for _, e := range p.entries {
		if e.Outcome == outcome {
			return e.Probability
		}
	}
	return 0
}

func (p PredictionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.entries)
}
