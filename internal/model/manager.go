// Package model owns the recurrent network that turns feature windows into
// outcome distributions, and its online training and checkpointing.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/internal/encoder"
	"NeuralRoulette/pkg/logger"
	"NeuralRoulette/pkg/metrics"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultLearningRate = 0.001
	DefaultClipNorm     = 5.0
)

// TrainingMeta is carried inside checkpoints.
type TrainingMeta struct {
	Epochs        int64     `json:"epochs"`
	Steps         int64     `json:"steps"`
	Skipped       int64     `json:"skipped"`
	LastTrainedAt time.Time `json:"last_trained_at"`
}

type StepResult struct {
	Loss      float64
	BatchSize int
	Steps     int64
}

type EpochResult struct {
	Epochs   int
	Batches  int
	Skipped  int
	LastLoss float64 // mean batch loss of the final epoch
}

type ManagerOption func(*Manager)

func WithLearningRate(lr float64) ManagerOption {
	return func(m *Manager) {
		if lr > 0 {
			m.lr = lr
		}
	}
}

func WithClipNorm(norm float64) ManagerOption {
	return func(m *Manager) {
		if norm > 0 {
			m.clipNorm = norm
		}
	}
}

func WithSeed(seed int64) ManagerOption {
	return func(m *Manager) { m.seed = seed }
}

// WithScheme records the encoder scheme so checkpoints from a different
// encoding are refused.
func WithScheme(s encoder.Scheme) ManagerOption {
	return func(m *Manager) { m.scheme = s }
}

func WithLogger(l *logger.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMetrics(r repository.Metrics) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// Manager is the single owner of the network parameters and optimizer state.
// Predict takes the read lock; training, checkpointing and reset take the
// write lock, so a prediction never observes a half-applied update.
type Manager struct {
	mu sync.RWMutex

	profile  Profile
	scheme   encoder.Scheme
	lr       float64
	clipNorm float64
	seed     int64

	params *tensors
	adam   *adamState
	meta   TrainingMeta
	rng    *rand.Rand

	log     *logger.Logger
	metrics repository.Metrics
}

func NewManager(profile Profile, opts ...ManagerOption) (*Manager, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("model profile: %w", err)
	}
	m := &Manager{
		profile:  profile,
		scheme:   encoder.SchemeScalar,
		lr:       DefaultLearningRate,
		clipNorm: DefaultClipNorm,
		seed:     42,
		log:      logger.Nop(),
		metrics:  metrics.Noop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Profile() Profile { return m.profile }

// Init creates fresh parameters from the configured seed.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initLocked()
}

// Reset discards all learned state and starts over from the seed.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initLocked()
	m.log.Info("model reset", logger.Int64("seed", m.seed))
}

func (m *Manager) initLocked() {
	m.rng = newRand(m.seed)
	m.params = newTensors(m.profile, nil)
	m.params.initialize(m.profile, m.rng)
	m.adam = newAdamState(m.profile.NumParams())
	m.meta = TrainingMeta{}
}

func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params != nil
}

// Fresh reports whether the model has never committed a train step.
func (m *Manager) Fresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta.Steps == 0
}

func (m *Manager) Meta() TrainingMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

func (m *Manager) checkWindow(w encoder.FeatureWindow) error {
	if w.Len() != m.profile.WindowLength {
		return fmt.Errorf("%w: window has %d steps, model expects %d", models.ErrWindowTooShort, w.Len(), m.profile.WindowLength)
	}
	for i, s := range w.Steps {
		if len(s) != m.profile.InputWidth {
			return fmt.Errorf("window step %d has width %d, model expects %d", i, len(s), m.profile.InputWidth)
		}
	}
	return nil
}

// Predict runs one inference pass with dropout disabled.
func (m *Manager) Predict(w encoder.FeatureWindow) (models.PredictionSet, error) {
	start := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.params == nil {
		return models.PredictionSet{}, models.ErrModelNotInitialized
	}
	if err := m.checkWindow(w); err != nil {
		return models.PredictionSet{}, err
	}
	tr := forward(m.profile, m.params, w.Steps, nil)
	ps, err := models.NewPredictionSet(tr.probs)
	if err != nil {
		return models.PredictionSet{}, fmt.Errorf("predict: %w", err)
	}
	m.metrics.RecordLatency("predict", time.Since(start).Seconds())
	return ps, nil
}

// TrainStep applies one Adam update on the mini-batch. A step whose loss,
// gradients or resulting parameters are not finite is refused with
// ErrNonFiniteUpdate and leaves the model untouched.
func (m *Manager) TrainStep(windows []encoder.FeatureWindow, targets []encoder.Target) (StepResult, error) {
	if len(windows) == 0 || len(windows) != len(targets) {
		return StepResult{}, fmt.Errorf("train step: %d windows for %d targets", len(windows), len(targets))
	}
	for _, w := range windows {
		if err := m.checkWindow(w); err != nil {
			return StepResult{}, fmt.Errorf("train step: %w", err)
		}
	}

	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.params == nil {
		return StepResult{}, models.ErrModelNotInitialized
	}

	grads := newTensors(m.profile, nil)
	scale := 1 / float64(len(windows))
	loss := 0.0
	for i, w := range windows {
		tr := forward(m.profile, m.params, w.Steps, m.rng)
		loss += backward(m.profile, m.params, grads, tr, targets[i].Class, scale)
	}
	loss *= scale

	if math.IsNaN(loss) || math.IsInf(loss, 0) || !allFinite(grads.data) {
		return StepResult{}, m.refuseLocked("loss or gradient", loss)
	}

	if norm := floats.Norm(grads.data, 2); norm > m.clipNorm {
		floats.Scale(m.clipNorm/norm, grads.data)
	}

	next := append([]float64(nil), m.params.data...)
	nextAdam := m.adam.clone()
	nextAdam.step(next, grads.data, m.lr)
	if !allFinite(next) {
		return StepResult{}, m.refuseLocked("parameters", loss)
	}

	m.params = newTensors(m.profile, next)
	m.adam = nextAdam
	m.meta.Steps++
	m.meta.LastTrainedAt = time.Now().UTC()

	m.metrics.RecordTrainLoss(loss)
	m.metrics.RecordLatency("train_step", time.Since(start).Seconds())
	return StepResult{Loss: loss, BatchSize: len(windows), Steps: m.meta.Steps}, nil
}

func (m *Manager) refuseLocked(what string, loss float64) error {
	m.meta.Skipped++
	m.metrics.RecordTrainSkipped()
	m.log.Warn("train step skipped",
		logger.String("reason", what),
		logger.Float("loss", loss),
		logger.Int64("skipped_total", m.meta.Skipped),
	)
	return fmt.Errorf("%w: %s", models.ErrNonFiniteUpdate, what)
}

// TrainEpochs shuffles the samples and runs mini-batch steps for the given
// number of epochs. Cancellation is checked between batches; a step that has
// started always completes.
func (m *Manager) TrainEpochs(ctx context.Context, windows []encoder.FeatureWindow, targets []encoder.Target, epochs, batchSize int) (EpochResult, error) {
	var res EpochResult
	if len(windows) == 0 || len(windows) != len(targets) {
		return res, fmt.Errorf("train epochs: %d windows for %d targets", len(windows), len(targets))
	}
	if batchSize <= 0 {
		batchSize = len(windows)
	}

	for e := 0; e < epochs; e++ {
		order := m.shuffle(len(windows))
		var epochLoss float64
		var batches int
		for start := 0; start < len(order); start += batchSize {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			bw := make([]encoder.FeatureWindow, 0, end-start)
			bt := make([]encoder.Target, 0, end-start)
			for _, idx := range order[start:end] {
				bw = append(bw, windows[idx])
				bt = append(bt, targets[idx])
			}

			r, err := m.TrainStep(bw, bt)
			if errors.Is(err, models.ErrNonFiniteUpdate) {
				res.Skipped++
				continue
			}
			if err != nil {
				return res, err
			}
			epochLoss += r.Loss
			batches++
			res.Batches++
		}

		m.mu.Lock()
		m.meta.Epochs++
		m.mu.Unlock()

		res.Epochs++
		if batches > 0 {
			res.LastLoss = epochLoss / float64(batches)
		}
	}
	return res, nil
}

// Bootstrap is the one-off offline pass over accumulated history.
func (m *Manager) Bootstrap(ctx context.Context, windows []encoder.FeatureWindow, targets []encoder.Target, epochs, batchSize int) (EpochResult, error) {
	start := time.Now()
	m.log.Info("bootstrap training started",
		logger.Int("samples", len(windows)),
		logger.Int("epochs", epochs),
		logger.Int("batch_size", batchSize),
	)
	res, err := m.TrainEpochs(ctx, windows, targets, epochs, batchSize)
	if err != nil {
		m.log.Warn("bootstrap training interrupted",
			logger.Int("epochs_done", res.Epochs),
			logger.Error(err),
		)
		return res, fmt.Errorf("bootstrap: %w", err)
	}
	m.log.Info("bootstrap training finished",
		logger.Int("epochs", res.Epochs),
		logger.Int("skipped", res.Skipped),
		logger.Float("loss", res.LastLoss),
		logger.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (m *Manager) shuffle(n int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rng == nil {
		m.rng = newRand(m.seed)
	}
	return m.rng.Perm(n)
}
