package repository

import (
	"context"
	"fmt"
	"time"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/pkg/clickhouse"
)

// ClickHouseRecorder archives sessions into MergeTree tables for analytics.
type ClickHouseRecorder struct {
	client *clickhouse.Client
	prefix string
}

func NewClickHouseRecorder(client *clickhouse.Client, tablePrefix string) *ClickHouseRecorder {
	if tablePrefix == "" {
		tablePrefix = "roulette"
	}
	return &ClickHouseRecorder{client: client, prefix: tablePrefix}
}

func (r *ClickHouseRecorder) table(name string) string {
	return fmt.Sprintf("%s.%s_%s", r.client.Database(), r.prefix, name)
}

func (r *ClickHouseRecorder) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts         DateTime64(3, 'UTC'),
			session_id String,
			seq        Int64,
			game_id    String,
			outcome    UInt8,
			color      LowCardinality(String),
			source     LowCardinality(String)
		) ENGINE = MergeTree ORDER BY (session_id, seq)`, r.table("spins")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts           DateTime64(3, 'UTC'),
			session_id   String,
			cycle        UInt32,
			strategy     LowCardinality(String),
			spin_seq     Int64,
			game_id      String,
			predicted    Array(UInt8),
			confidence   Float64,
			actual       UInt8,
			color        LowCardinality(String),
			won          UInt8,
			stake        Decimal(18, 8),
			payout_delta Decimal(18, 8),
			balance      Decimal(18, 8),
			win_rate     Float64
		) ENGINE = MergeTree ORDER BY (session_id, cycle)`, r.table("rounds")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts               DateTime64(3, 'UTC'),
			session_id       String,
			strategy         LowCardinality(String),
			status           LowCardinality(String),
			stop_reason      String,
			total_spins      UInt32,
			cycles           UInt32,
			wins             UInt32,
			losses           UInt32,
			win_rate         Float64,
			starting_balance Decimal(18, 8),
			final_balance    Decimal(18, 8),
			roi              Float64,
			train_steps      Int64,
			skipped_steps    UInt32,
			feed_gaps        UInt32,
			started_at       DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree ORDER BY session_id`, r.table("reports")),
	}
}

func (r *ClickHouseRecorder) Init(ctx context.Context) error {
	return r.client.InitSchema(ctx, r.schema())
}

func (r *ClickHouseRecorder) RecordSpin(ctx context.Context, sessionID string, e *models.SpinEvent) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, session_id, seq, game_id, outcome, color, source) VALUES (?, ?, ?, ?, ?, ?, ?)", r.table("spins"))
	_, err := r.client.DB().ExecContext(ctx, q,
		utc(e.Timestamp), sessionID, e.SourceSequenceID, e.GameID, uint8(e.Outcome), e.Color(), e.Source,
	)
	if err != nil {
		return fmt.Errorf("clickhouse insert spin: %w", err)
	}
	return nil
}

func (r *ClickHouseRecorder) RecordRound(ctx context.Context, rr *models.RoundResult) error {
	predicted := make([]uint8, len(rr.Predicted))
	for i, n := range rr.Predicted {
		predicted[i] = uint8(n)
	}
	q := fmt.Sprintf(`INSERT INTO %s (ts, session_id, cycle, strategy, spin_seq, game_id, predicted, confidence, actual, color, won, stake, payout_delta, balance, win_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.table("rounds"))
	_, err := r.client.DB().ExecContext(ctx, q,
		utc(rr.Timestamp), rr.SessionID, uint32(rr.Cycle), rr.Strategy, rr.SpinSeq, rr.GameID, predicted,
		rr.Confidence, uint8(rr.Actual), rr.Color, uint8(boolInt(rr.Won)), rr.Stake, rr.PayoutDelta, rr.Balance, rr.WinRate,
	)
	if err != nil {
		return fmt.Errorf("clickhouse insert round: %w", err)
	}
	return nil
}

func (r *ClickHouseRecorder) RecordReport(ctx context.Context, rep *models.SessionReport) error {
	q := fmt.Sprintf(`INSERT INTO %s (ts, session_id, strategy, status, stop_reason, total_spins, cycles, wins, losses, win_rate,
		starting_balance, final_balance, roi, train_steps, skipped_steps, feed_gaps, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.table("reports"))
	_, err := r.client.DB().ExecContext(ctx, q,
		utc(rep.Timestamp), rep.SessionID, rep.Strategy, string(rep.Status), rep.StopReason,
		uint32(rep.TotalSpins), uint32(rep.Cycles), uint32(rep.Wins), uint32(rep.Losses), rep.WinRate,
		rep.StartingBalance, rep.FinalBalance, rep.ROI, rep.TrainSteps, uint32(rep.SkippedSteps),
		uint32(rep.FeedGaps), utc(rep.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("clickhouse insert report: %w", err)
	}
	return nil
}

func (r *ClickHouseRecorder) Health(ctx context.Context) error {
	return r.client.Health(ctx)
}

// Close is a no-op; the client is closed by its owner.
func (r *ClickHouseRecorder) Close() error { return nil }

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

var _ drepo.Recorder = (*ClickHouseRecorder)(nil)
