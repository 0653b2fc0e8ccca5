package feed

import (
	"sync"
	"time"

	"NeuralRoulette/internal/domain/models"
)

const trackedGames = 512

// Tracker turns overlapping result frames into new spin events with a
// contiguous source sequence. When a multi-result frame shares no game with
// the previous ones, spins were lost; the sequence skips one number so the
// gap surfaces downstream.
type Tracker struct {
	mu       sync.Mutex
	source   string
	backfill bool
	seq      int64
	primed   bool
	seen     map[string]struct{}
	order    []string
	now      func() time.Time
}

// NewTracker builds a tracker. With backfill the first frame yields all its
// results; without it only the newest.
func NewTracker(source string, backfill bool) *Tracker {
	return &Tracker{
		source:   source,
		backfill: backfill,
		seen:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// Events returns the spins in f not emitted before, oldest first.
func (t *Tracker) Events(f Frame) []*models.SpinEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(f.Results) == 0 {
		return nil
	}

	if f.Legacy || f.Results[0].GameID == "" {
		// no ids to de-duplicate on: only the newest result is new
		t.primed = true
		return []*models.SpinEvent{t.event(f.Results[0])}
	}

	fresh := 0
	for _, r := range f.Results {
		if _, ok := t.seen[r.GameID]; ok {
			break
		}
		fresh++
	}
	if fresh == 0 {
		return nil
	}

	switch {
	case !t.primed:
		if !t.backfill {
			fresh = 1
			for _, r := range f.Results[1:] {
				t.remember(r.GameID)
			}
		}
	case fresh == len(f.Results) && len(f.Results) > 1:
		t.seq++
	}
	t.primed = true

	out := make([]*models.SpinEvent, 0, fresh)
	for i := fresh - 1; i >= 0; i-- {
		r := f.Results[i]
		t.remember(r.GameID)
		out = append(out, t.event(r))
	}
	return out
}

// Seq is the last sequence id handed out.
func (t *Tracker) Seq() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

func (t *Tracker) event(r TableResult) *models.SpinEvent {
	t.seq++
	ts := r.Time
	if ts.IsZero() {
		ts = t.now().UTC()
	}
	return &models.SpinEvent{
		Outcome:          r.Outcome,
		Timestamp:        ts,
		SourceSequenceID: t.seq,
		GameID:           r.GameID,
		Source:           t.source,
	}
}

func (t *Tracker) remember(gameID string) {
	if _, ok := t.seen[gameID]; ok {
		return
	}
	t.seen[gameID] = struct{}{}
	t.order = append(t.order, gameID)
	if len(t.order) > trackedGames {
		delete(t.seen, t.order[0])
		t.order = t.order[1:]
	}
}
