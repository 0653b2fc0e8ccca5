package strategy

import (
	"errors"
	"testing"

	"NeuralRoulette/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ranked() []int {
	out := make([]int, 37)
	for i := range out {
		out[i] = (i*5 + 3) % 37
	}
	return out
}

func TestEvaluateWinIffCovered(t *testing.T) {
	r := ranked()
	for _, k := range []Kind{Top1, Top3, Top18} {
		n := k.Numbers()
		res, err := k.Evaluate(r, r[n-1], d("1"), PayoutStandard)
		require.NoError(t, err)
		assert.True(t, res.Won, "%s should cover rank %d", k, n)
		assert.Len(t, res.Covered, n)

		res, err = k.Evaluate(r, r[n], d("1"), PayoutStandard)
		require.NoError(t, err)
		assert.False(t, res.Won, "%s should not cover rank %d", k, n+1)
		assert.True(t, res.PayoutDelta.Equal(d("-1")))
	}
}

func TestEvaluatePayoutRules(t *testing.T) {
	r := ranked()
	tests := []struct {
		kind  Kind
		rule  PayoutRule
		stake string
		want  string
	}{
		{Top1, PayoutStandard, "1", "35"},
		{Top3, PayoutStandard, "3", "33"},
		{Top18, PayoutStandard, "18", "18"},
		{Top1, PayoutHouseKeepsStake, "1", "34"},
		{Top3, PayoutHouseKeepsStake, "3", "32"},
		{Top18, PayoutHouseKeepsStake, "18", "17"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.rule), func(t *testing.T) {
			res, err := tt.kind.Evaluate(r, r[0], d(tt.stake), tt.rule)
			require.NoError(t, err)
			require.True(t, res.Won)
			assert.True(t, res.PayoutDelta.Equal(d(tt.want)), "got %s", res.PayoutDelta)
		})
	}
}

func TestEvaluateNeedsEnoughRanked(t *testing.T) {
	_, err := Top18.Evaluate([]int{1, 2, 3}, 1, d("1"), PayoutStandard)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	k, err := ParseKind("top3")
	require.NoError(t, err)
	assert.Equal(t, Top3, k)
	_, err = ParseKind("topm")
	assert.Error(t, err)

	rule, err := ParsePayoutRule("")
	require.NoError(t, err)
	assert.Equal(t, PayoutStandard, rule)
	_, err = ParsePayoutRule("martingale")
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	infos := Catalog()
	require.Len(t, infos, 3)
	assert.Equal(t, Top1, infos[0].Kind)
	assert.Equal(t, Top18, infos[2].Kind)
	assert.Equal(t, "Low", Top18.Info().Risk)
	assert.Equal(t, "top3_model.json", Top3.Info().ModelFile)
}

func newEngine(t *testing.T, kind Kind, balance string) *Engine {
	t.Helper()
	e, err := NewEngine(kind, EngineConfig{
		StartingBalance:  d(balance),
		UnitStake:        d("0.01"),
		MaxStakeFraction: d("0.1"),
		MinBet:           d("0.01"),
		Rule:             PayoutStandard,
		HistoryLimit:     5,
	})
	require.NoError(t, err)
	return e
}

func TestEngineStakeSizing(t *testing.T) {
	e := newEngine(t, Top18, "10")
	stake, err := e.NextStake()
	require.NoError(t, err)
	assert.True(t, stake.Equal(d("0.18")), "got %s", stake)

	small := newEngine(t, Top18, "1")
	stake, err = small.NextStake()
	require.NoError(t, err)
	assert.True(t, stake.Equal(d("0.1")), "got %s", stake)
}

func TestEngineSettleTracksBalance(t *testing.T) {
	e := newEngine(t, Top1, "10")
	r := ranked()

	stake, err := e.NextStake()
	require.NoError(t, err)
	res, err := e.Settle(r, r[0], stake)
	require.NoError(t, err)
	require.True(t, res.Won)
	assert.True(t, e.Balance().Equal(d("10.35")), "got %s", e.Balance())

	stake, err = e.NextStake()
	require.NoError(t, err)
	_, err = e.Settle(r, r[5], stake)
	require.NoError(t, err)
	assert.True(t, e.Balance().Equal(d("10.34")))

	s := e.State(true)
	assert.Equal(t, 2, s.TotalBets)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
	assert.InDelta(t, 0.034, s.ROI, 1e-9)
	assert.Len(t, s.History, 2)
}

func TestEngineSettleRounds(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		ranked      []int
		actual      int
		stake       string
		won         bool
		covered     []int
		wantBalance string
	}{
		{"top3 hit on second rank", Top3, []int{7, 11, 23}, 11, "1", true, []int{7, 11, 23}, "111"},
		{"top3 miss", Top3, []int{7, 11, 23}, 5, "1", false, []int{7, 11, 23}, "99"},
		{"top1 losing unit stake", Top1, []int{7, 11, 23}, 5, "1", false, []int{7}, "99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.kind, "100")
			res, err := e.Settle(tt.ranked, tt.actual, d(tt.stake))
			require.NoError(t, err)
			assert.Equal(t, tt.won, res.Won)
			assert.ElementsMatch(t, tt.covered, res.Covered)
			assert.True(t, e.Balance().Equal(d(tt.wantBalance)), "got %s", e.Balance())
		})
	}
}

func TestEngineHaltsOnInsufficientFunds(t *testing.T) {
	e := newEngine(t, Top1, "0.05")
	_, err := e.NextStake()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientFunds))

	stopped, reason := e.Stopped()
	assert.True(t, stopped)
	assert.Equal(t, "insufficient_funds", reason)

	_, err = e.NextStake()
	assert.True(t, errors.Is(err, models.ErrSessionStopped))
}

func TestEngineBalanceNeverNegative(t *testing.T) {
	e := newEngine(t, Top3, "1")
	r := ranked()
	for i := 0; i < 200; i++ {
		stake, err := e.NextStake()
		if err != nil {
			assert.True(t, errors.Is(err, models.ErrInsufficientFunds))
			break
		}
		_, err = e.Settle(r, r[36], stake)
		require.NoError(t, err)
		assert.False(t, e.Balance().IsNegative())
	}
	stopped, _ := e.Stopped()
	assert.True(t, stopped)
	assert.LessOrEqual(t, len(e.State(true).History), 5)
}
