package repository

import (
	"context"
	"time"

	"NeuralRoulette/internal/domain/models"
)

// SpinFeed is any source of spin outcomes. Read's channels are replaced on every
// Reconnect, so callers must call Read again after reconnecting.
type SpinFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.SpinEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
	Name() string
}

type Publisher interface {
	PublishRound(ctx context.Context, r *models.RoundResult) error
	PublishReport(ctx context.Context, r *models.SessionReport) error
	Close() error
}

// Recorder archives spins, rounds and reports.
type Recorder interface {
	Init(ctx context.Context) error
	RecordSpin(ctx context.Context, sessionID string, e *models.SpinEvent) error
	RecordRound(ctx context.Context, r *models.RoundResult) error
	RecordReport(ctx context.Context, r *models.SessionReport) error
	Health(ctx context.Context) error
	Close() error
}

// HistoryStore persists the rolling spin history so a restart can warm-start.
type HistoryStore interface {
	Load(ctx context.Context, limit int) ([]models.SpinEvent, error)
	Append(ctx context.Context, e models.SpinEvent) error
	Close() error
}

type Metrics interface {
	RecordSpin(source string)
	RecordCycle(strategy string, won bool)
	RecordError(kind string)
	RecordGap(missing int64)
	RecordBalance(strategy string, balance float64)
	RecordWinRate(strategy string, rate float64)
	RecordTrainLoss(loss float64)
	RecordTrainSkipped()
	RecordLatency(op string, seconds float64)
}

// Locker guards a strategy model against concurrent sessions.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}
