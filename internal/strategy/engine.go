package strategy

import (
	"fmt"
	"sync"

	"NeuralRoulette/internal/domain/models"

	"github.com/shopspring/decimal"
)

const moneyPlaces = 8

const DefaultHistoryLimit = 1000

type EngineConfig struct {
	StartingBalance  decimal.Decimal
	UnitStake        decimal.Decimal
	MaxStakeFraction decimal.Decimal
	MinBet           decimal.Decimal
	Rule             PayoutRule
	HistoryLimit     int
}

// Bet is one settled wager kept in the engine's history.
type Bet struct {
	Covered []int           `json:"covered"`
	Actual  int             `json:"actual"`
	Won     bool            `json:"won"`
	Stake   decimal.Decimal `json:"stake"`
	Delta   decimal.Decimal `json:"delta"`
	Balance decimal.Decimal `json:"balance"`
}

// State is a point-in-time copy of an engine.
type State struct {
	Strategy        Kind            `json:"strategy"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	Balance         decimal.Decimal `json:"balance"`
	TotalBets       int             `json:"total_bets"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         float64         `json:"win_rate"`
	ROI             float64         `json:"roi"`
	Stopped         bool            `json:"stopped"`
	StopReason      string          `json:"stop_reason,omitempty"`
	History         []Bet           `json:"history,omitempty"`
}

// Engine tracks the simulated bankroll of one strategy.
type Engine struct {
	mu   sync.RWMutex
	kind Kind
	cfg  EngineConfig

	balance    decimal.Decimal
	totalBets  int
	wins       int
	losses     int
	history    []Bet
	stopped    bool
	stopReason string
}

func NewEngine(kind Kind, cfg EngineConfig) (*Engine, error) {
	if kind.Numbers() == 0 {
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
	if !cfg.StartingBalance.IsPositive() {
		return nil, fmt.Errorf("starting balance must be positive, got %s", cfg.StartingBalance)
	}
	if cfg.Rule == "" {
		cfg.Rule = PayoutStandard
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{kind: kind, cfg: cfg, balance: cfg.StartingBalance}, nil
}

func (e *Engine) Kind() Kind { return e.kind }

// NextStake sizes the next bet as min(unit*k, balance*fraction). When that
// is below the minimum bet or above the balance the engine stops with
// ErrInsufficientFunds.
func (e *Engine) NextStake() (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return decimal.Zero, fmt.Errorf("%w: %s", models.ErrSessionStopped, e.stopReason)
	}
	stake := decimal.Min(
		e.cfg.UnitStake.Mul(decimal.NewFromInt(int64(e.kind.Numbers()))),
		e.balance.Mul(e.cfg.MaxStakeFraction),
	).Round(moneyPlaces)

	if stake.LessThan(e.cfg.MinBet) || stake.GreaterThan(e.balance) || !stake.IsPositive() {
		e.stopped = true
		e.stopReason = string(models.StatusInsufficientFunds)
		return decimal.Zero, fmt.Errorf("%w: stake %s, balance %s, min bet %s",
			models.ErrInsufficientFunds, stake, e.balance, e.cfg.MinBet)
	}
	return stake, nil
}

// Settle evaluates the bet and applies the result to the balance.
func (e *Engine) Settle(ranked []int, actual int, stake decimal.Decimal) (Result, error) {
	res, err := e.kind.Evaluate(ranked, actual, stake, e.cfg.Rule)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.balance = e.balance.Add(res.PayoutDelta)
	if e.balance.IsNegative() {
		e.balance = decimal.Zero
	}
	e.totalBets++
	if res.Won {
		e.wins++
	} else {
		e.losses++
	}
	e.history = append(e.history, Bet{
		Covered: res.Covered,
		Actual:  actual,
		Won:     res.Won,
		Stake:   stake,
		Delta:   res.PayoutDelta,
		Balance: e.balance,
	})
	if len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[len(e.history)-e.cfg.HistoryLimit:]
	}
	return res, nil
}

// Stop halts the engine; the first reason wins.
func (e *Engine) Stop(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopped {
		e.stopped = true
		e.stopReason = reason
	}
}

func (e *Engine) Stopped() (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped, e.stopReason
}

func (e *Engine) Balance() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance
}

func (e *Engine) WinRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.winRateLocked()
}

func (e *Engine) winRateLocked() float64 {
	if e.totalBets == 0 {
		return 0
	}
	return float64(e.wins) / float64(e.totalBets)
}

// ROI is (balance - start) / start.
func (e *Engine) ROI() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.roiLocked()
}

func (e *Engine) roiLocked() float64 {
	roi, _ := e.balance.Sub(e.cfg.StartingBalance).Div(e.cfg.StartingBalance).Float64()
	return roi
}

// State copies the engine; includeHistory controls whether bets are attached.
func (e *Engine) State(includeHistory bool) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := State{
		Strategy:        e.kind,
		StartingBalance: e.cfg.StartingBalance,
		Balance:         e.balance,
		TotalBets:       e.totalBets,
		Wins:            e.wins,
		Losses:          e.losses,
		WinRate:         e.winRateLocked(),
		ROI:             e.roiLocked(),
		Stopped:         e.stopped,
		StopReason:      e.stopReason,
	}
	if includeHistory {
		s.History = append([]Bet(nil), e.history...)
	}
	return s
}
