package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/internal/encoder"
	"NeuralRoulette/internal/history"
	mid "NeuralRoulette/internal/middleware"
	"NeuralRoulette/internal/model"
	"NeuralRoulette/internal/service/feed"
	"NeuralRoulette/internal/strategy"
	"NeuralRoulette/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 10

type memoryRecorder struct {
	mu      sync.Mutex
	spins   int
	rounds  []*models.RoundResult
	reports []*models.SessionReport
}

func (r *memoryRecorder) Init(context.Context) error { return nil }
func (r *memoryRecorder) RecordSpin(context.Context, string, *models.SpinEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spins++
	return nil
}
func (r *memoryRecorder) RecordRound(_ context.Context, rr *models.RoundResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, rr)
	return nil
}
func (r *memoryRecorder) RecordReport(_ context.Context, rep *models.SessionReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}
func (r *memoryRecorder) Health(context.Context) error { return nil }
func (r *memoryRecorder) Close() error                 { return nil }

type memoryPublisher struct {
	mu      sync.Mutex
	rounds  int
	reports int
}

func (p *memoryPublisher) PublishRound(context.Context, *models.RoundResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rounds++
	return nil
}
func (p *memoryPublisher) PublishReport(context.Context, *models.SessionReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports++
	return nil
}
func (p *memoryPublisher) Close() error { return nil }

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memoryLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memoryLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type fixture struct {
	session *Session
	rec     *memoryRecorder
	pub     *memoryPublisher
	path    string
}

func newFixture(t *testing.T, kind strategy.Kind, balance string, cfg SessionConfig) *fixture {
	t.Helper()
	enc, err := encoder.New(testWindow, encoder.SchemeScalar)
	require.NoError(t, err)
	mgr, err := model.NewManager(model.Profile{
		InputWidth:   1,
		WindowLength: testWindow,
		Hidden1:      8,
		Hidden2:      6,
		Dense:        8,
		Classes:      models.NumOutcomes,
	}, model.WithSeed(3), model.WithLearningRate(0.01))
	require.NoError(t, err)
	engine, err := strategy.NewEngine(kind, strategy.EngineConfig{
		StartingBalance:  decimal.RequireFromString(balance),
		UnitStake:        decimal.RequireFromString("0.01"),
		MaxStakeFraction: decimal.RequireFromString("0.1"),
		MinBet:           decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)

	if cfg.ModelPath == "" {
		cfg.ModelPath = filepath.Join(t.TempDir(), kind.String()+"_model.json")
	}
	f := &fixture{rec: &memoryRecorder{}, pub: &memoryPublisher{}, path: cfg.ModelPath}
	f.session, err = NewSession(cfg, SessionDeps{
		History:  history.New(100),
		Encoder:  enc,
		Model:    mgr,
		Engine:   engine,
		Recorder: f.rec,
		Pub:      f.pub,
		Locker:   &memoryLocker{},
		Metrics:  metrics.Noop{},
	})
	require.NoError(t, err)
	require.NoError(t, f.session.Prepare(context.Background()))
	return f
}

func spin(seq int64, outcome int) *models.SpinEvent {
	return &models.SpinEvent{Outcome: outcome, SourceSequenceID: seq, Source: "test", Timestamp: time.Now()}
}

func TestSessionCyclesOncePerSpinAfterWindow(t *testing.T) {
	f := newFixture(t, strategy.Top3, "10", SessionConfig{})
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), i%37)))
	}

	rep := f.session.Report()
	assert.Equal(t, 20, rep.TotalSpins)
	assert.Equal(t, 10, rep.Cycles)
	assert.Equal(t, rep.Cycles, rep.Wins+rep.Losses)
	assert.Equal(t, models.StatusRunning, rep.Status)
	assert.Equal(t, 20, f.rec.spins)
	require.Len(t, f.rec.rounds, 10)
	assert.Equal(t, 10, f.pub.rounds)

	// the round settles the spin that triggered it
	first := f.rec.rounds[0]
	assert.Equal(t, 1, first.Cycle)
	assert.Equal(t, int64(11), first.SpinSeq)
	assert.Equal(t, 11, first.Actual)
	assert.Len(t, first.Predicted, 3)
	assert.Equal(t, models.Color(11), first.Color)

	// auto-train off: the model is untouched and nothing is saved
	assert.Equal(t, int64(0), f.session.model.Meta().Steps)
	require.NoError(t, f.session.Close(ctx))
	_, err := os.Stat(f.path)
	assert.True(t, os.IsNotExist(err))
}

func TestSessionRejectsInvalidSpin(t *testing.T) {
	f := newFixture(t, strategy.Top1, "10", SessionConfig{})
	err := f.session.Process(context.Background(), spin(1, 37))
	assert.True(t, errors.Is(err, models.ErrInvalidEvent))
	assert.Equal(t, 0, f.session.Report().TotalSpins)
}

func TestSessionStopsOnInsufficientFunds(t *testing.T) {
	f := newFixture(t, strategy.Top1, "0.05", SessionConfig{})
	ctx := context.Background()
	for i := 1; i <= testWindow+1; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), 5)))
	}

	select {
	case <-f.session.Done():
	default:
		t.Fatal("session should have finished")
	}
	rep := f.session.Report()
	assert.Equal(t, models.StatusInsufficientFunds, rep.Status)
	assert.Equal(t, "insufficient_funds", rep.StopReason)
	assert.Equal(t, 0, rep.Cycles)
	assert.False(t, rep.FinalBalance.IsNegative())

	err := f.session.Process(ctx, spin(100, 1))
	assert.True(t, errors.Is(err, models.ErrSessionStopped))
}

func TestSessionMaxSpins(t *testing.T) {
	f := newFixture(t, strategy.Top18, "10", SessionConfig{MaxSpins: 12})
	ctx := context.Background()
	for i := 1; i <= 12; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), i)))
	}
	rep := f.session.Report()
	assert.Equal(t, models.StatusCompleted, rep.Status)
	assert.Equal(t, "max_spins", rep.StopReason)
	assert.Equal(t, 2, rep.Cycles)
	assert.Error(t, f.session.Process(ctx, spin(13, 1)))
}

func TestSessionAutoTrainBootstrapsAndCheckpoints(t *testing.T) {
	f := newFixture(t, strategy.Top1, "10", SessionConfig{
		AutoTrain:           true,
		BatchSize:           4,
		BootstrapEpochs:     2,
		BootstrapMinHistory: 15,
		BootstrapBatchSize:  4,
		CheckpointEvery:     10,
	})
	ctx := context.Background()

	for i := 1; i <= 14; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), i%5)))
	}
	assert.True(t, f.session.model.Fresh(), "bootstrap waits for enough history")

	require.NoError(t, f.session.Process(ctx, spin(15, 0)))
	meta := f.session.model.Meta()
	assert.Equal(t, int64(2), meta.Epochs)
	stepsAfterBootstrap := meta.Steps
	assert.Positive(t, stepsAfterBootstrap)

	// online mode: one step per spin from here on
	for i := 16; i <= 20; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), i%5)))
	}
	assert.Equal(t, stepsAfterBootstrap+5, f.session.model.Meta().Steps)

	// the 20th spin triggered a checkpoint
	_, err := os.Stat(f.path)
	require.NoError(t, err)

	saved, err := f.session.Checkpoint()
	require.NoError(t, err)
	assert.False(t, saved, "nothing changed since the last save")
	require.NoError(t, f.session.Close(ctx))
}

func TestSessionPeriodicTraining(t *testing.T) {
	f := newFixture(t, strategy.Top3, "10", SessionConfig{
		AutoTrain:           true,
		TrainingMode:        TrainingPeriodic,
		BootstrapEpochs:     1,
		BootstrapMinHistory: 11,
		BootstrapBatchSize:  8,
		PeriodicInterval:    5,
		PeriodicEpochs:      1,
		PeriodicBatchSize:   8,
	})
	ctx := context.Background()
	for i := 1; i <= 11; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), i)))
	}
	afterBootstrap := f.session.model.Meta().Epochs
	assert.Equal(t, int64(1), afterBootstrap)

	for i := 12; i <= 15; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), i)))
	}
	assert.Equal(t, afterBootstrap, f.session.model.Meta().Epochs)

	require.NoError(t, f.session.Process(ctx, spin(16, 16)))
	assert.Equal(t, afterBootstrap+1, f.session.model.Meta().Epochs)
}

func TestSessionModelLockIsExclusive(t *testing.T) {
	locker := &memoryLocker{}
	ok, err := locker.TryLock(context.Background(), "lock:model:top1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	enc, _ := encoder.New(testWindow, encoder.SchemeScalar)
	mgr, _ := model.NewManager(model.DefaultProfile(1, testWindow))
	engine, _ := strategy.NewEngine(strategy.Top1, strategy.EngineConfig{StartingBalance: decimal.NewFromInt(10)})
	s, err := NewSession(SessionConfig{AutoTrain: true, ModelPath: filepath.Join(t.TempDir(), "m.json")}, SessionDeps{
		History: history.New(50), Encoder: enc, Model: mgr, Engine: engine, Locker: locker,
	})
	require.NoError(t, err)
	assert.Error(t, s.Prepare(context.Background()))
}

func TestSessionPredictNext(t *testing.T) {
	f := newFixture(t, strategy.Top3, "10", SessionConfig{})
	ctx := context.Background()

	_, err := f.session.PredictNext(0, false)
	assert.True(t, errors.Is(err, models.ErrInsufficientHistory))

	for i := 1; i <= testWindow; i++ {
		require.NoError(t, f.session.Process(ctx, spin(int64(i), i)))
	}
	p, err := f.session.PredictNext(0, true)
	require.NoError(t, err)
	assert.Equal(t, 3, p.K)
	assert.Len(t, p.Numbers, 3)
	assert.Len(t, p.Distribution, models.NumOutcomes)
	assert.Len(t, p.BasedOn, testWindow)

	p, err = f.session.PredictNext(18, false)
	require.NoError(t, err)
	assert.Len(t, p.Numbers, 18)
	assert.Nil(t, p.Distribution)

	assert.Len(t, f.session.History(5), 5)
	assert.Len(t, f.session.History(0), testWindow)
}

func TestSessionGapsReachReport(t *testing.T) {
	f := newFixture(t, strategy.Top1, "10", SessionConfig{})
	f.session.OnGap(3, 7)
	f.session.OnGap(9, 11)
	assert.Equal(t, 2, f.session.Report().FeedGaps)
	assert.Equal(t, 2, f.session.Snapshot().FeedGaps)
}

func TestEndToEndSimulatedSession(t *testing.T) {
	f := newFixture(t, strategy.Top1, "10", SessionConfig{})
	sim := feed.NewSimulator(feed.SimulatorConfig{TableID: "236", Seed: 11, Count: 20}, nil)

	pipe := mid.NewSpinPipeline(f.session, metrics.Noop{},
		mid.WithGapHandler(f.session.OnGap),
		mid.WithDrainHook(func() { f.session.Finish(models.StatusCompleted, "feed_exhausted") }),
	)
	col := NewSpinCollector(sim, f.session, metrics.Noop{}, pipe, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, col.Start(ctx))

	select {
	case <-f.session.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	require.NoError(t, col.Shutdown(context.Background()))

	var out bytes.Buffer
	rep := f.session.Report()
	require.NoError(t, NewReporter(f.rec, f.pub, nil, "", &out).Emit(ctx, rep))

	assert.Equal(t, 20, rep.TotalSpins)
	assert.Equal(t, 10, rep.Cycles)
	assert.Equal(t, models.StatusCompleted, rep.Status)
	assert.Equal(t, "feed_exhausted", rep.StopReason)
	assert.Equal(t, 0, rep.FeedGaps)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	for _, key := range []string{"timestamp", "session_id", "strategy", "total_spins", "cycles", "win_rate", "final_balance", "starting_balance", "roi", "status"} {
		assert.Contains(t, decoded, key)
	}
	assert.Len(t, f.rec.reports, 1)
	assert.Equal(t, 1, f.pub.reports)
}

func TestReporterWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "session.json")
	rep := &models.SessionReport{SessionID: "s1", Strategy: "top3", Status: models.StatusStopped}
	require.NoError(t, NewReporter(nil, nil, nil, path, nil).Emit(context.Background(), rep))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got models.SessionReport
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, models.StatusStopped, got.Status)

	assert.Error(t, NewReporter(nil, nil, nil, "", nil).Emit(context.Background(), nil))
}

func TestSchedulerRegister(t *testing.T) {
	f := newFixture(t, strategy.Top1, "10", SessionConfig{})
	s := NewScheduler(f.session, nil)
	require.NoError(t, s.Register("@every 1h", "@every 1m"))
	assert.Error(t, s.Register("not a spec", ""))
	s.Start()
	s.status()
	s.checkpoint()
	s.Stop()
}
