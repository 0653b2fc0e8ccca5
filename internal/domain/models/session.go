package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	StatusRunning           SessionStatus = "running"
	StatusCompleted         SessionStatus = "completed"
	StatusStopped           SessionStatus = "stopped"
	StatusInsufficientFunds SessionStatus = "insufficient_funds"
	StatusFeedError         SessionStatus = "feed_error"
	StatusModelError        SessionStatus = "model_error"
)

// Terminal reports whether the session can no longer accept spins.
func (s SessionStatus) Terminal() bool { return s != StatusRunning && s != "" }

// RoundResult is one predict/bet/settle cycle.
type RoundResult struct {
	SessionID   string          `json:"session_id"`
	Cycle       int             `json:"cycle"`
	Strategy    string          `json:"strategy"`
	SpinSeq     int64           `json:"spin_seq"`
	GameID      string          `json:"game_id,omitempty"`
	Predicted   []int           `json:"predicted"`
	Confidence  float64         `json:"confidence"`
	Actual      int             `json:"actual"`
	Color       string          `json:"color"`
	Won         bool            `json:"won"`
	Stake       decimal.Decimal `json:"stake"`
	PayoutDelta decimal.Decimal `json:"payout_delta"`
	Balance     decimal.Decimal `json:"balance"`
	WinRate     float64         `json:"win_rate"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SessionReport is emitted once when a session ends.
type SessionReport struct {
	Timestamp       time.Time       `json:"timestamp"`
	SessionID       string          `json:"session_id"`
	Strategy        string          `json:"strategy"`
	TotalSpins      int             `json:"total_spins"`
	Cycles          int             `json:"cycles"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	WinRate         float64         `json:"win_rate"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	FinalBalance    decimal.Decimal `json:"final_balance"`
	ROI             float64         `json:"roi"`
	TrainSteps      int64           `json:"train_steps"`
	SkippedSteps    int             `json:"skipped_steps"`
	FeedGaps        int             `json:"feed_gaps"`
	Status          SessionStatus   `json:"status"`
	StopReason      string          `json:"stop_reason,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
}
