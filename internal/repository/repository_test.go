package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/pkg/clickhouse"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRound() *models.RoundResult {
	return &models.RoundResult{
		SessionID:   "s1",
		Cycle:       1,
		Strategy:    "top3",
		SpinSeq:     11,
		Predicted:   []int{4, 17, 29},
		Confidence:  0.09,
		Actual:      17,
		Color:       models.Color(17),
		Won:         true,
		Stake:       decimal.RequireFromString("0.03"),
		PayoutDelta: decimal.RequireFromString("0.33"),
		Balance:     decimal.RequireFromString("10.33"),
		WinRate:     1,
		Timestamp:   time.Now().UTC(),
	}
}

func sampleReport() *models.SessionReport {
	return &models.SessionReport{
		Timestamp:       time.Now().UTC(),
		SessionID:       "s1",
		Strategy:        "top3",
		TotalSpins:      20,
		Cycles:          10,
		Wins:            1,
		Losses:          9,
		WinRate:         0.1,
		StartingBalance: decimal.NewFromInt(10),
		FinalBalance:    decimal.RequireFromString("9.97"),
		ROI:             -0.003,
		Status:          models.StatusCompleted,
		StartedAt:       time.Now().UTC().Add(-time.Minute),
	}
}

func TestSQLiteRecorder(t *testing.T) {
	ctx := context.Background()
	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "data", "roulette.db"), nil)
	require.NoError(t, err)
	defer rec.Close()

	require.NoError(t, rec.Init(ctx))
	require.NoError(t, rec.Init(ctx), "migrations are idempotent")
	require.NoError(t, rec.Health(ctx))

	require.NoError(t, rec.RecordSpin(ctx, "s1", &models.SpinEvent{Outcome: 17, SourceSequenceID: 11, Timestamp: time.Now()}))
	require.NoError(t, rec.RecordRound(ctx, sampleRound()))
	require.NoError(t, rec.RecordRound(ctx, sampleRound()))
	require.NoError(t, rec.RecordReport(ctx, sampleReport()))
	require.NoError(t, rec.RecordReport(ctx, sampleReport()), "a session report is replaced, not duplicated")

	n, err := rec.CountRounds(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var predicted string
	require.NoError(t, rec.db.QueryRowContext(ctx, `SELECT predicted FROM rounds LIMIT 1`).Scan(&predicted))
	assert.Equal(t, "[4,17,29]", predicted)

	var reports int
	require.NoError(t, rec.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&reports))
	assert.Equal(t, 1, reports)
}

func TestClickHouseRecorder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := NewClickHouseRecorder(clickhouse.NewClientWithDB(db, "analytics"), "")
	ctx := context.Background()

	for _, table := range []string{"spins", "rounds", "reports"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS analytics.roulette_" + table)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, rec.Init(ctx))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analytics.roulette_spins")).
		WithArgs(sqlmock.AnyArg(), "s1", int64(11), "g11", uint8(17), "black", "websocket").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, rec.RecordSpin(ctx, "s1", &models.SpinEvent{Outcome: 17, SourceSequenceID: 11, GameID: "g11", Source: "websocket"}))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analytics.roulette_rounds")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, rec.RecordRound(ctx, sampleRound()))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analytics.roulette_reports")).
		WillReturnError(errors.New("table is read only"))
	err = rec.RecordReport(ctx, sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse insert report")

	require.NoError(t, mock.ExpectationsWereMet())
}

type listStore struct {
	items []string
	fail  error
}

func (l *listStore) RPush(ctx context.Context, _ string, values ...interface{}) *redis.IntCmd {
	if l.fail != nil {
		return redis.NewIntResult(0, l.fail)
	}
	for _, v := range values {
		switch val := v.(type) {
		case []byte:
			l.items = append(l.items, string(val))
		case string:
			l.items = append(l.items, val)
		}
	}
	return redis.NewIntResult(int64(len(l.items)), nil)
}

func (l *listStore) LTrim(_ context.Context, _ string, start, stop int64) *redis.StatusCmd {
	if lo, hi := l.span(start, stop); lo <= hi {
		l.items = append([]string(nil), l.items[lo:hi+1]...)
	} else {
		l.items = nil
	}
	return redis.NewStatusResult("OK", nil)
}

func (l *listStore) LRange(_ context.Context, _ string, start, stop int64) *redis.StringSliceCmd {
	if l.fail != nil {
		return redis.NewStringSliceResult(nil, l.fail)
	}
	lo, hi := l.span(start, stop)
	if lo > hi {
		return redis.NewStringSliceResult(nil, nil)
	}
	return redis.NewStringSliceResult(append([]string(nil), l.items[lo:hi+1]...), nil)
}

// span resolves Redis-style negative indexes.
func (l *listStore) span(start, stop int64) (int64, int64) {
	n := int64(len(l.items))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func TestRedisHistoryKeepsLatest(t *testing.T) {
	store := &listStore{}
	h := NewRedisHistory(store, "roulette:history:236", 5)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		require.NoError(t, h.Append(ctx, models.SpinEvent{Outcome: i, SourceSequenceID: int64(i)}))
	}
	assert.Len(t, store.items, 5)

	store.items = append(store.items, "{broken")
	events, err := h.Load(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 4, "the broken entry is skipped")
	assert.Equal(t, 5, events[0].Outcome)
	assert.Equal(t, 8, events[3].Outcome)

	events, err = h.Load(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)

	store.fail = errors.New("connection refused")
	_, err = h.Load(ctx, 3)
	assert.Error(t, err)
	assert.Error(t, h.Append(ctx, models.SpinEvent{Outcome: 1}))
}

type capturePublisher struct {
	topics []string
	keys   []string
	values [][]byte
	closed bool
}

func (c *capturePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.topics = append(c.topics, topic)
	c.keys = append(c.keys, string(key))
	c.values = append(c.values, b)
	return nil
}

func (c *capturePublisher) Close() error {
	c.closed = true
	return nil
}

func TestKafkaPublisherRoutesByKind(t *testing.T) {
	cp := &capturePublisher{}
	p := NewKafkaPublisher(cp, "roulette.rounds", "roulette.reports")
	ctx := context.Background()

	require.NoError(t, p.PublishRound(ctx, sampleRound()))
	require.NoError(t, p.PublishReport(ctx, sampleReport()))
	require.NoError(t, p.Close())

	assert.Equal(t, []string{"roulette.rounds", "roulette.reports"}, cp.topics)
	assert.Equal(t, []string{"s1", "s1"}, cp.keys)
	assert.True(t, cp.closed)

	var round models.RoundResult
	require.NoError(t, json.Unmarshal(cp.values[0], &round))
	assert.Equal(t, []int{4, 17, 29}, round.Predicted)
	assert.True(t, round.Balance.Equal(decimal.RequireFromString("10.33")))
}

func TestNoopSinks(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NoopRecorder{}.RecordRound(ctx, sampleRound()))
	assert.NoError(t, NoopPublisher{}.PublishReport(ctx, sampleReport()))
}
