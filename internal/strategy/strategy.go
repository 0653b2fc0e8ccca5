// Package strategy evaluates ranked predictions as simulated bets.
package strategy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of betting strategies.
type Kind string

const (
	Top1  Kind = "top1"
	Top3  Kind = "top3"
	Top18 Kind = "top18"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Top1, Top3, Top18:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q (want top1, top3 or top18)", s)
}

// Numbers is how many outcomes the strategy covers.
func (k Kind) Numbers() int {
	switch k {
	case Top1:
		return 1
	case Top3:
		return 3
	case Top18:
		return 18
	}
	return 0
}

func (k Kind) String() string { return string(k) }

// Info describes a strategy for listings.
type Info struct {
	Kind          Kind    `json:"kind"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Risk          string  `json:"risk"`
	Numbers       int     `json:"numbers"`
	TargetWinRate float64 `json:"target_win_rate"` // percent
	ModelFile     string  `json:"model_file"`
}

var catalog = map[Kind]Info{
	Top1: {
		Kind:          Top1,
		Name:          "Top-1 Single Number",
		Description:   "Highest risk/reward, predicts the single most likely number",
		Risk:          "High",
		Numbers:       1,
		TargetWinRate: 2.71,
		ModelFile:     "top1_model.json",
	},
	Top3: {
		Kind:          Top3,
		Name:          "Top-3 Numbers",
		Description:   "Medium risk, predicts the three most likely numbers",
		Risk:          "Medium",
		Numbers:       3,
		TargetWinRate: 8.11,
		ModelFile:     "top3_model.json",
	},
	Top18: {
		Kind:          Top18,
		Name:          "Top-18 Numbers",
		Description:   "Lower risk, covers half the wheel",
		Risk:          "Low",
		Numbers:       18,
		TargetWinRate: 48.65,
		ModelFile:     "top18_model.json",
	},
}

func (k Kind) Info() Info { return catalog[k] }

// Catalog lists every strategy ordered by coverage.
func Catalog() []Info {
	out := make([]Info, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Numbers < out[j].Numbers })
	return out
}

// PayoutRule decides what a covered number returns.
type PayoutRule string

const (
	// PayoutStandard returns the winning share of the stake plus 35:1 on it.
	PayoutStandard PayoutRule = "standard"
	// PayoutHouseKeepsStake pays 35:1 on the winning share and keeps the whole stake.
	PayoutHouseKeepsStake PayoutRule = "house_keeps_stake"
)

func ParsePayoutRule(s string) (PayoutRule, error) {
	switch PayoutRule(s) {
	case PayoutStandard, PayoutHouseKeepsStake:
		return PayoutRule(s), nil
	case "":
		return PayoutStandard, nil
	}
	return "", fmt.Errorf("unknown payout rule %q", s)
}

// multiplier is the gross return per unit of per-number stake on a win.
func (r PayoutRule) multiplier() decimal.Decimal {
	if r == PayoutHouseKeepsStake {
		return decimal.NewFromInt(35)
	}
	return decimal.NewFromInt(36)
}

// Result is the settlement of one bet.
type Result struct {
	Won         bool
	Covered     []int
	PayoutDelta decimal.Decimal
}

// Evaluate settles a bet of stake spread evenly over the first k ranked
// outcomes. A loss costs the stake; a win returns the payout minus the stake.
func (k Kind) Evaluate(ranked []int, actual int, stake decimal.Decimal, rule PayoutRule) (Result, error) {
	n := k.Numbers()
	if n == 0 {
		return Result{}, fmt.Errorf("unknown strategy %q", k)
	}
	if len(ranked) < n {
		return Result{}, fmt.Errorf("strategy %s needs %d ranked outcomes, got %d", k, n, len(ranked))
	}
	covered := ranked[:n]
	res := Result{Covered: append([]int(nil), covered...), PayoutDelta: stake.Neg()}
	for _, c := range covered {
		if c == actual {
			res.Won = true
			break
		}
	}
	if res.Won {
		gross := stake.Mul(rule.multiplier()).Div(decimal.NewFromInt(int64(n)))
		res.PayoutDelta = gross.Sub(stake).Round(moneyPlaces)
	}
	return res, nil
}
