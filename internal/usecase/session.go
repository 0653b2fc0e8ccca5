package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/internal/encoder"
	"NeuralRoulette/internal/history"
	"NeuralRoulette/internal/model"
	"NeuralRoulette/internal/ranker"
	"NeuralRoulette/internal/strategy"
	"NeuralRoulette/pkg/logger"
	"NeuralRoulette/pkg/metrics"

	"github.com/google/uuid"
)

const (
	TrainingOnline   = "online"
	TrainingPeriodic = "periodic"
)

type SessionConfig struct {
	ID        string
	ModelPath string
	AutoTrain bool
	MaxSpins  int

	TrainingMode        string
	BatchSize           int
	BootstrapEpochs     int
	BootstrapMinHistory int
	BootstrapBatchSize  int
	PeriodicInterval    int
	PeriodicEpochs      int
	PeriodicBatchSize   int

	CheckpointEvery int
	LockTTL         time.Duration
	WarmStart       int // spins to reload from the history store, 0 = history capacity
}

// Session runs one strategy against the spin stream. Process is called by a
// single pipeline worker; the read-only accessors are safe from any goroutine.
type Session struct {
	cfg     SessionConfig
	hist    *history.Buffer
	enc     *encoder.Encoder
	model   *model.Manager
	engine  *strategy.Engine
	rec     drepo.Recorder
	pub     drepo.Publisher
	store   drepo.HistoryStore
	locker  drepo.Locker
	metrics drepo.Metrics
	log     *logger.Logger

	mu         sync.RWMutex
	status     models.SessionStatus
	stopReason string
	startedAt  time.Time
	spins      int
	cycles     int
	skipped    int
	sinceTrain int
	sinceSave  int
	dirty      bool
	locked     bool
	lastRound  *models.RoundResult

	done     chan struct{}
	doneOnce sync.Once
}

type SessionDeps struct {
	History  *history.Buffer
	Encoder  *encoder.Encoder
	Model    *model.Manager
	Engine   *strategy.Engine
	Recorder drepo.Recorder
	Pub      drepo.Publisher
	Store    drepo.HistoryStore
	Locker   drepo.Locker
	Metrics  drepo.Metrics
	Log      *logger.Logger
}

func NewSession(cfg SessionConfig, deps SessionDeps) (*Session, error) {
	if deps.History == nil || deps.Encoder == nil || deps.Model == nil || deps.Engine == nil {
		return nil, errors.New("session: history, encoder, model and engine are required")
	}
	if deps.Encoder.Length() != deps.Model.Profile().WindowLength {
		return nil, fmt.Errorf("session: encoder window %d does not match model window %d",
			deps.Encoder.Length(), deps.Model.Profile().WindowLength)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.TrainingMode == "" {
		cfg.TrainingMode = TrainingOnline
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Session{
		cfg:     cfg,
		hist:    deps.History,
		enc:     deps.Encoder,
		model:   deps.Model,
		engine:  deps.Engine,
		rec:     deps.Recorder,
		pub:     deps.Pub,
		store:   deps.Store,
		locker:  deps.Locker,
		metrics: deps.Metrics,
		log: deps.Log.With(
			logger.String("session", cfg.ID),
			logger.String("strategy", deps.Engine.Kind().String()),
		),
		status: models.StatusRunning,
		done:   make(chan struct{}),
	}, nil
}

func (s *Session) ID() string { return s.cfg.ID }

func (s *Session) Strategy() strategy.Kind { return s.engine.Kind() }

// Done is closed once the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) lockKey() string { return "lock:model:" + s.engine.Kind().String() }

// Prepare takes the model lock, loads or initialises the model and warms the
// history from the store.
func (s *Session) Prepare(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.locker != nil && s.cfg.AutoTrain {
		ok, err := s.locker.TryLock(ctx, s.lockKey(), s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("model lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("model %s is being trained by another session", s.engine.Kind())
		}
		s.mu.Lock()
		s.locked = true
		s.mu.Unlock()
	}

	fresh, err := s.model.Load(s.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	meta := s.model.Meta()
	s.log.Info("model ready",
		logger.String("path", s.cfg.ModelPath),
		logger.Bool("fresh", fresh),
		logger.Int64("steps", meta.Steps),
		logger.Int64("epochs", meta.Epochs),
		logger.Int("params", s.model.Profile().NumParams()),
	)

	if s.store != nil {
		limit := s.cfg.WarmStart
		if limit <= 0 {
			limit = s.hist.Cap()
		}
		events, err := s.store.Load(ctx, limit)
		if err != nil {
			s.metrics.RecordError("history_load")
			s.log.Warn("history warm start failed", logger.Error(err))
		} else if len(events) > 0 {
			skipped := s.hist.Restore(events)
			s.log.Info("history restored", logger.Int("spins", len(events)-skipped), logger.Int("skipped", skipped))
		}
	}

	if s.rec != nil {
		if err := s.rec.Init(ctx); err != nil {
			return fmt.Errorf("recorder init: %w", err)
		}
	}
	return nil
}

// Process runs one full pass for a spin: history, prediction, bet, settlement,
// training and checkpointing. Errors inside a cycle are logged and counted;
// only invalid input and a terminal session are returned.
func (s *Session) Process(ctx context.Context, e *models.SpinEvent) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", models.ErrInvalidEvent)
	}
	if st := s.Status(); st.Terminal() {
		return fmt.Errorf("%w: %s", models.ErrSessionStopped, st)
	}
	if err := s.hist.Append(*e); err != nil {
		s.metrics.RecordError("history_append")
		return err
	}
	s.metrics.RecordSpin(e.Source)

	s.mu.Lock()
	s.spins++
	spins := s.spins
	s.mu.Unlock()

	if s.rec != nil {
		if err := s.rec.RecordSpin(ctx, s.cfg.ID, e); err != nil {
			s.metrics.RecordError("record_spin")
			s.log.Warn("record spin failed", logger.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Append(ctx, *e); err != nil {
			s.metrics.RecordError("history_store")
			s.log.Warn("persist spin failed", logger.Error(err))
		}
	}

	if s.hist.Len() > s.enc.Length() {
		if err := s.cycle(ctx, e); err != nil {
			if errors.Is(err, models.ErrInsufficientFunds) {
				s.Finish(models.StatusInsufficientFunds, string(models.StatusInsufficientFunds))
				return nil
			}
			s.metrics.RecordError("cycle")
			s.log.Warn("cycle failed", logger.Int64("seq", e.SourceSequenceID), logger.Error(err))
		}
	}

	if s.cfg.AutoTrain {
		s.train(ctx)
	}
	s.maybeCheckpoint()

	if s.cfg.MaxSpins > 0 && spins >= s.cfg.MaxSpins {
		s.Finish(models.StatusCompleted, "max_spins")
	}
	return nil
}

// cycle predicts the spin that just arrived from the L spins before it, bets
// on the ranked coverage and settles against the actual outcome.
func (s *Session) cycle(ctx context.Context, e *models.SpinEvent) error {
	start := time.Now()
	kind := s.engine.Kind()

	outcomes, err := s.hist.Outcomes(s.enc.Length() + 1)
	if err != nil {
		return err
	}
	window, target, err := s.enc.Encode(outcomes)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	set, err := s.model.Predict(window)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	covered, err := ranker.Rank(set, kind.Numbers())
	if err != nil {
		return fmt.Errorf("rank: %w", err)
	}
	stake, err := s.engine.NextStake()
	if err != nil {
		return err
	}
	res, err := s.engine.Settle(covered, target.Class, stake)
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}

	state := s.engine.State(false)
	s.mu.Lock()
	s.cycles++
	round := &models.RoundResult{
		SessionID:   s.cfg.ID,
		Cycle:       s.cycles,
		Strategy:    kind.String(),
		SpinSeq:     e.SourceSequenceID,
		GameID:      e.GameID,
		Predicted:   covered,
		Confidence:  ranker.Confidence(set, kind.Numbers()),
		Actual:      target.Class,
		Color:       models.Color(target.Class),
		Won:         res.Won,
		Stake:       stake,
		PayoutDelta: res.PayoutDelta,
		Balance:     state.Balance,
		WinRate:     state.WinRate,
		Timestamp:   time.Now().UTC(),
	}
	s.lastRound = round
	s.mu.Unlock()

	balance, _ := state.Balance.Float64()
	s.metrics.RecordCycle(kind.String(), res.Won)
	s.metrics.RecordBalance(kind.String(), balance)
	s.metrics.RecordWinRate(kind.String(), state.WinRate)
	s.metrics.RecordLatency("cycle", time.Since(start).Seconds())

	s.log.Info("round settled",
		logger.Int("cycle", round.Cycle),
		logger.Ints("predicted", covered),
		logger.Int("actual", round.Actual),
		logger.String("color", round.Color),
		logger.Bool("won", res.Won),
		logger.String("stake", stake.String()),
		logger.String("delta", res.PayoutDelta.String()),
		logger.String("balance", state.Balance.String()),
		logger.Float("win_rate", state.WinRate),
		logger.Float("roi", state.ROI),
	)

	if s.rec != nil {
		if err := s.rec.RecordRound(ctx, round); err != nil {
			s.metrics.RecordError("record_round")
			s.log.Warn("record round failed", logger.Error(err))
		}
	}
	if s.pub != nil {
		if err := s.pub.PublishRound(ctx, round); err != nil {
			s.metrics.RecordError("publish_round")
			s.log.Warn("publish round failed", logger.Error(err))
		}
	}
	return nil
}

// train runs the bootstrap pass once for an untrained model, then one online
// step per spin or a short periodic pass every PeriodicInterval spins.
func (s *Session) train(ctx context.Context) {
	l := s.enc.Length()
	if s.hist.Len() <= l {
		return
	}

	if s.model.Fresh() {
		if s.hist.Len() < s.cfg.BootstrapMinHistory || s.cfg.BootstrapEpochs <= 0 {
			return
		}
		windows, targets, err := s.batch(s.hist.Len())
		if err != nil {
			s.log.Warn("bootstrap encode failed", logger.Error(err))
			return
		}
		res, err := s.model.Bootstrap(ctx, windows, targets, s.cfg.BootstrapEpochs, s.cfg.BootstrapBatchSize)
		s.afterTraining(res.Skipped, res.Batches > 0, err)
		return
	}

	switch s.cfg.TrainingMode {
	case TrainingPeriodic:
		s.mu.Lock()
		s.sinceTrain++
		due := s.sinceTrain >= s.cfg.PeriodicInterval
		if due {
			s.sinceTrain = 0
		}
		s.mu.Unlock()
		if !due {
			return
		}
		windows, targets, err := s.batch(s.cfg.PeriodicInterval + l)
		if err != nil {
			s.log.Warn("periodic encode failed", logger.Error(err))
			return
		}
		res, err := s.model.TrainEpochs(ctx, windows, targets, s.cfg.PeriodicEpochs, s.cfg.PeriodicBatchSize)
		s.afterTraining(res.Skipped, res.Batches > 0, err)
		if err == nil {
			s.log.Info("periodic training done", logger.Int("windows", len(windows)), logger.Float("loss", res.LastLoss))
		}
	default:
		windows, targets, err := s.batch(s.cfg.BatchSize + l)
		if err != nil {
			s.log.Warn("online encode failed", logger.Error(err))
			return
		}
		res, err := s.model.TrainStep(windows, targets)
		skipped := 0
		if errors.Is(err, models.ErrNonFiniteUpdate) {
			skipped = 1
		}
		s.afterTraining(skipped, err == nil, err)
		if err == nil {
			s.log.Debug("train step", logger.Float("loss", res.Loss), logger.Int64("steps", res.Steps))
		}
	}
}

// batch encodes every window in the last n spins (fewer when history is short).
func (s *Session) batch(n int) ([]encoder.FeatureWindow, []encoder.Target, error) {
	if have := s.hist.Len(); n > have {
		n = have
	}
	outcomes, err := s.hist.Outcomes(n)
	if err != nil {
		return nil, nil, err
	}
	return s.enc.EncodeBatch(outcomes)
}

func (s *Session) afterTraining(skipped int, changed bool, err error) {
	s.mu.Lock()
	s.skipped += skipped
	if changed {
		s.dirty = true
	}
	s.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, models.ErrNonFiniteUpdate):
		// already logged and counted by the manager
	case errors.Is(err, context.Canceled):
		s.log.Info("training interrupted")
	default:
		s.metrics.RecordError("train")
		s.log.Warn("training failed", logger.Error(err))
	}
}

func (s *Session) maybeCheckpoint() {
	if s.cfg.CheckpointEvery <= 0 {
		return
	}
	s.mu.Lock()
	s.sinceSave++
	due := s.sinceSave >= s.cfg.CheckpointEvery
	if due {
		s.sinceSave = 0
	}
	s.mu.Unlock()
	if due {
		if _, err := s.Checkpoint(); err != nil {
			s.log.Error("checkpoint failed", logger.Error(err))
		}
	}
}

// Checkpoint saves the model when training changed it since the last save.
func (s *Session) Checkpoint() (bool, error) {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()
	if !dirty {
		return false, nil
	}

	start := time.Now()
	if err := s.model.Checkpoint(s.cfg.ModelPath); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		s.metrics.RecordError("checkpoint")
		return false, err
	}
	s.metrics.RecordLatency("checkpoint", time.Since(start).Seconds())
	s.log.Info("model checkpoint saved", logger.String("path", s.cfg.ModelPath), logger.Int64("steps", s.model.Meta().Steps))
	return true, nil
}

// OnGap records a hole in the feed sequence.
func (s *Session) OnGap(afterSeq, beforeSeq int64) {
	g := s.hist.MarkGap(afterSeq, beforeSeq)
	s.metrics.RecordGap(g.Missing)
}

// Finish moves the session to a terminal status. Only the first call counts.
func (s *Session) Finish(status models.SessionStatus, reason string) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.stopReason = reason
	s.mu.Unlock()

	s.engine.Stop(reason)
	s.doneOnce.Do(func() { close(s.done) })
	s.log.Info("session finished", logger.String("status", string(status)), logger.String("reason", reason))
}

func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Close writes a final checkpoint and releases the model lock.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if _, err := s.Checkpoint(); err != nil {
		errs = append(errs, fmt.Errorf("final checkpoint: %w", err))
	}
	s.mu.Lock()
	locked := s.locked
	s.locked = false
	s.mu.Unlock()
	if locked {
		if err := s.locker.Unlock(ctx, s.lockKey()); err != nil {
			errs = append(errs, fmt.Errorf("model unlock: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Report summarises the session.
func (s *Session) Report() *models.SessionReport {
	state := s.engine.State(false)
	_, gaps := s.hist.Gaps()
	meta := s.model.Meta()

	s.mu.RLock()
	defer s.mu.RUnlock()
	reason := s.stopReason
	if reason == "" {
		reason = state.StopReason
	}
	return &models.SessionReport{
		Timestamp:       time.Now().UTC(),
		SessionID:       s.cfg.ID,
		Strategy:        state.Strategy.String(),
		TotalSpins:      s.spins,
		Cycles:          s.cycles,
		Wins:            state.Wins,
		Losses:          state.Losses,
		WinRate:         state.WinRate,
		StartingBalance: state.StartingBalance,
		FinalBalance:    state.Balance,
		ROI:             state.ROI,
		TrainSteps:      meta.Steps,
		SkippedSteps:    s.skipped,
		FeedGaps:        gaps,
		Status:          s.status,
		StopReason:      reason,
		StartedAt:       s.startedAt,
	}
}

// Prediction is the model's view of the next spin.
type Prediction struct {
	Strategy     string                      `json:"strategy"`
	K            int                         `json:"k"`
	Numbers      []int                       `json:"numbers"`
	Confidence   float64                     `json:"confidence"`
	Distribution []models.OutcomeProbability `json:"distribution,omitempty"`
	BasedOn      []int                       `json:"based_on"`
}

// PredictNext ranks the next spin from the latest L outcomes. k <= 0 uses the
// strategy's coverage.
func (s *Session) PredictNext(k int, withDistribution bool) (*Prediction, error) {
	if k <= 0 {
		k = s.engine.Kind().Numbers()
	}
	outcomes, err := s.hist.Outcomes(s.enc.Length())
	if err != nil {
		return nil, err
	}
	window, err := s.enc.EncodeInput(outcomes)
	if err != nil {
		return nil, err
	}
	set, err := s.model.Predict(window)
	if err != nil {
		return nil, err
	}
	numbers, err := ranker.Rank(set, k)
	if err != nil {
		return nil, err
	}
	p := &Prediction{
		Strategy:   s.engine.Kind().String(),
		K:          k,
		Numbers:    numbers,
		Confidence: ranker.Confidence(set, k),
		BasedOn:    outcomes,
	}
	if withDistribution {
		p.Distribution = set.Entries()
	}
	return p, nil
}

// Snapshot is the live view served over HTTP.
type Snapshot struct {
	SessionID  string               `json:"session_id"`
	Status     models.SessionStatus `json:"status"`
	StopReason string               `json:"stop_reason,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	Spins      int                  `json:"spins"`
	Cycles     int                  `json:"cycles"`
	History    int                  `json:"history"`
	Engine     strategy.State       `json:"engine"`
	Model      model.TrainingMeta   `json:"model"`
	LastRound  *models.RoundResult  `json:"last_round,omitempty"`
	FeedGaps   int                  `json:"feed_gaps"`
}

func (s *Session) Snapshot() Snapshot {
	_, gaps := s.hist.Gaps()
	snap := Snapshot{
		History:  s.hist.Len(),
		Engine:   s.engine.State(false),
		Model:    s.model.Meta(),
		FeedGaps: gaps,
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap.SessionID = s.cfg.ID
	snap.Status = s.status
	snap.StopReason = s.stopReason
	snap.StartedAt = s.startedAt
	snap.Spins = s.spins
	snap.Cycles = s.cycles
	snap.LastRound = s.lastRound
	return snap
}

// History returns up to n recent spins, oldest first.
func (s *Session) History(n int) []models.SpinEvent {
	if n <= 0 || n > s.hist.Len() {
		n = s.hist.Len()
	}
	if n == 0 {
		return nil
	}
	out, err := s.hist.Snapshot(n)
	if err != nil {
		return nil
	}
	return out
}
