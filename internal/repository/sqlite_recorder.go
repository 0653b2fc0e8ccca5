package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/pkg/logger"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder archives a session into a local SQLite file.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logger.Logger
}

// NewSQLiteRecorder opens (or creates) the database in WAL mode.
func NewSQLiteRecorder(path string, log *logger.Logger) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// WAL lets readers query the archive while the session writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	log.Info("sqlite recorder opened", logger.String("path", path))
	return &SQLiteRecorder{db: db, log: log}, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS spins (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		ts         INTEGER NOT NULL,
		seq        INTEGER NOT NULL,
		game_id    TEXT,
		outcome    INTEGER NOT NULL,
		color      TEXT NOT NULL,
		source     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spins_session ON spins(session_id, seq)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		cycle        INTEGER NOT NULL,
		strategy     TEXT NOT NULL,
		spin_seq     INTEGER NOT NULL,
		game_id      TEXT,
		predicted    TEXT NOT NULL,
		confidence   REAL,
		actual       INTEGER NOT NULL,
		color        TEXT NOT NULL,
		won          INTEGER NOT NULL,
		stake        TEXT NOT NULL,
		payout_delta TEXT NOT NULL,
		balance      TEXT NOT NULL,
		win_rate     REAL,
		ts           INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rounds_session ON rounds(session_id, cycle)`,
	`CREATE TABLE IF NOT EXISTS reports (
		session_id       TEXT PRIMARY KEY,
		strategy         TEXT NOT NULL,
		status           TEXT NOT NULL,
		stop_reason      TEXT,
		total_spins      INTEGER NOT NULL,
		cycles           INTEGER NOT NULL,
		wins             INTEGER NOT NULL,
		losses           INTEGER NOT NULL,
		win_rate         REAL,
		starting_balance TEXT NOT NULL,
		final_balance    TEXT NOT NULL,
		roi              REAL,
		train_steps      INTEGER,
		skipped_steps    INTEGER,
		feed_gaps        INTEGER,
		started_at       INTEGER,
		ts               INTEGER NOT NULL
	)`,
}

// Init creates the tables (idempotent).
func (r *SQLiteRecorder) Init(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordSpin(ctx context.Context, sessionID string, e *models.SpinEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO spins (session_id, ts, seq, game_id, outcome, color, source) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, e.Timestamp.UnixMilli(), e.SourceSequenceID, e.GameID, e.Outcome, e.Color(), e.Source,
	)
	if err != nil {
		return fmt.Errorf("insert spin: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordRound(ctx context.Context, rr *models.RoundResult) error {
	predicted, err := json.Marshal(rr.Predicted)
	if err != nil {
		return fmt.Errorf("encode predicted: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO rounds (session_id, cycle, strategy, spin_seq, game_id, predicted, confidence, actual, color, won, stake, payout_delta, balance, win_rate, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rr.SessionID, rr.Cycle, rr.Strategy, rr.SpinSeq, rr.GameID, string(predicted), rr.Confidence,
		rr.Actual, rr.Color, boolInt(rr.Won), rr.Stake.String(), rr.PayoutDelta.String(), rr.Balance.String(),
		rr.WinRate, rr.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordReport(ctx context.Context, rep *models.SessionReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO reports (session_id, strategy, status, stop_reason, total_spins, cycles, wins, losses, win_rate,
		 starting_balance, final_balance, roi, train_steps, skipped_steps, feed_gaps, started_at, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.SessionID, rep.Strategy, string(rep.Status), rep.StopReason, rep.TotalSpins, rep.Cycles, rep.Wins, rep.Losses,
		rep.WinRate, rep.StartingBalance.String(), rep.FinalBalance.String(), rep.ROI, rep.TrainSteps, rep.SkippedSteps,
		rep.FeedGaps, rep.StartedAt.UnixMilli(), rep.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// CountRounds returns how many rounds a session archived.
func (r *SQLiteRecorder) CountRounds(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rounds WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (r *SQLiteRecorder) Health(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ drepo.Recorder = (*SQLiteRecorder)(nil)
