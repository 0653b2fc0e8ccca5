package models

import (
	"fmt"
	"time"
)

const (
	MinOutcome  = 0
	MaxOutcome  = 36
	NumOutcomes = MaxOutcome - MinOutcome + 1
)

// SpinEvent is one resolved wheel spin as delivered by a feed.
type SpinEvent struct {
	Outcome          int       `json:"outcome"`
	Timestamp        time.Time `json:"timestamp"`
	SourceSequenceID int64     `json:"source_seq_id"`
	GameID           string    `json:"game_id,omitempty"`
	Source           string    `json:"source,omitempty"` // websocket, simulate, kafka
}

// Validate rejects outcomes off the wheel.
func (e SpinEvent) Validate() error {
	if e.Outcome < MinOutcome || e.Outcome > MaxOutcome {
		return fmt.Errorf("%w: outcome %d not in [%d,%d]", ErrInvalidEvent, e.Outcome, MinOutcome, MaxOutcome)
	}
	return nil
}

func (e SpinEvent) Color() string { return Color(e.Outcome) }

var redPockets = [NumOutcomes]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// Color is the pocket colour on a single-zero wheel.
func Color(outcome int) string {
	switch {
	case outcome == 0:
		return "green"
	case outcome < 0 || outcome > MaxOutcome:
		return ""
	case redPockets[outcome]:
		return "red"
	default:
		return "black"
	}
}

// Gap records spins the feed lost between two delivered events.
type Gap struct {
	AfterSeq  int64     `json:"after_seq"`
	BeforeSeq int64     `json:"before_seq"`
	Missing   int64     `json:"missing"`
	At        time.Time `json:"at"`
}
