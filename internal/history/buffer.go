// Package history keeps the rolling, chronologically ordered spin history.
package history

import (
	"fmt"
	"sync"
	"time"

	"NeuralRoulette/internal/domain/models"
)

const DefaultCapacity = 1000

const maxGaps = 256

// Buffer is a bounded FIFO of spins. Appends come from the single processing
// goroutine; snapshots may be taken from anywhere.
type Buffer struct {
	mu       sync.RWMutex
	ring     []models.SpinEvent
	head     int // index of the oldest event
	size     int
	total    int64
	gaps     []models.Gap
	gapCount int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{ring: make([]models.SpinEvent, capacity)}
}

// Append adds e at the tail, evicting the oldest spin when full.
func (b *Buffer) Append(e models.SpinEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.head+b.size)%capacity] = e
		b.size++
	} else {
		b.ring[b.head] = e
		b.head = (b.head + 1) % capacity
	}
	b.total++
	return nil
}

// Restore appends a batch of previously persisted spins, oldest first.
// Invalid entries are skipped and counted.
func (b *Buffer) Restore(events []models.SpinEvent) (skipped int) {
	for _, e := range events {
		if err := b.Append(e); err != nil {
			skipped++
		}
	}
	return skipped
}

// Snapshot returns the last n spins in chronological order.
func (b *Buffer) Snapshot(n int) ([]models.SpinEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 || n > b.size {
		return nil, fmt.Errorf("%w: want %d, have %d", models.ErrInsufficientHistory, n, b.size)
	}
	out := make([]models.SpinEvent, n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.ring[(start+i)%len(b.ring)]
	}
	return out, nil
}

// Outcomes is Snapshot reduced to outcome values.
func (b *Buffer) Outcomes(n int) ([]int, error) {
	events, err := b.Snapshot(n)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(events))
	for i, e := range events {
		out[i] = e.Outcome
	}
	return out, nil
}

// All returns every retained spin in chronological order.
func (b *Buffer) All() []models.SpinEvent {
	b.mu.RLock()
	n := b.size
	b.mu.RUnlock()
	out, _ := b.Snapshot(n)
	return out
}

// Last returns the newest spin.
func (b *Buffer) Last() (models.SpinEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return models.SpinEvent{}, false
	}
	return b.ring[(b.head+b.size-1)%len(b.ring)], true
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int { return len(b.ring) }

// Total counts every spin ever appended, evicted ones included.
func (b *Buffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// MarkGap records that spins between afterSeq and beforeSeq never arrived.
func (b *Buffer) MarkGap(afterSeq, beforeSeq int64) models.Gap {
	g := models.Gap{AfterSeq: afterSeq, BeforeSeq: beforeSeq, Missing: beforeSeq - afterSeq - 1, At: time.Now().UTC()}
	if g.Missing < 0 {
		g.Missing = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.gapCount++
	b.gaps = append(b.gaps, g)
	if len(b.gaps) > maxGaps {
		b.gaps = b.gaps[len(b.gaps)-maxGaps:]
	}
	return g
}

// Gaps returns the most recent recorded gaps and the lifetime gap count.
func (b *Buffer) Gaps() ([]models.Gap, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Gap, len(b.gaps))
	copy(out, b.gaps)
	return out, b.gapCount
}
