package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/pkg/logger"
)

const simulatedFrameSize = 20

type SimulatorConfig struct {
	TableID  string
	Interval time.Duration
	Seed     int64 // 0 picks a time-based seed
	Count    int   // 0 runs until closed
}

// Simulator emits uniformly random spins as table frames and decodes them
// through the same parser and tracker as the live feed.
type Simulator struct {
	cfg       SimulatorConfig
	log       *logger.Logger
	tracker   *Tracker
	connected atomic.Bool

	mu      sync.Mutex
	rng     *rand.Rand
	recent  []TableResult // newest first
	emitted int
	games   int64
	clock   time.Time
}

func NewSimulator(cfg SimulatorConfig, log *logger.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Simulator{
		cfg:     cfg,
		log:     log.With(logger.String("feed", "simulate")),
		tracker: NewTracker("simulate", false),
		rng:     rand.New(rand.NewSource(seed)),
		clock:   time.Now().UTC().Truncate(time.Second),
	}
}

func (s *Simulator) Name() string { return "simulate" }

func (s *Simulator) Connect(context.Context) error {
	s.connected.Store(true)
	s.log.Info("simulation started", logger.Duration("interval", s.cfg.Interval), logger.Int("count", s.cfg.Count))
	return nil
}

func (s *Simulator) Subscribe(context.Context) error { return nil }

// Read produces spins every Interval. The event channel closes after Count
// spins, which the collector treats as the end of the feed.
func (s *Simulator) Read(ctx context.Context) (<-chan *models.SpinEvent, <-chan error) {
	events := make(chan *models.SpinEvent, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		var tick <-chan time.Time
		if s.cfg.Interval > 0 {
			ticker := time.NewTicker(s.cfg.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for s.connected.Load() {
			if s.done() {
				s.log.Info("simulation finished", logger.Int("spins", s.cfg.Count))
				return
			}
			raw, err := s.nextFrame()
			if err != nil {
				errs <- err
				return
			}
			f, err := ParseFrame(raw)
			if err != nil {
				errs <- err
				return
			}
			for _, e := range s.tracker.Events(f) {
				select {
				case events <- e:
				case <-ctx.Done():
					return
				}
			}
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			} else if ctx.Err() != nil {
				return
			}
		}
	}()
	return events, errs
}

func (s *Simulator) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Count > 0 && s.emitted >= s.cfg.Count
}

// nextFrame spins the wheel once and renders the rolling last-20 list.
func (s *Simulator) nextFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.games++
	if s.cfg.Interval > 0 {
		s.clock = s.clock.Add(s.cfg.Interval)
	} else {
		s.clock = s.clock.Add(time.Second)
	}
	r := TableResult{
		Outcome: s.rng.Intn(models.NumOutcomes),
		GameID:  fmt.Sprintf("sim%d", s.games),
		Time:    s.clock,
	}
	s.recent = append([]TableResult{r}, s.recent...)
	if len(s.recent) > simulatedFrameSize {
		s.recent = s.recent[:simulatedFrameSize]
	}
	s.emitted++
	return EncodeFrame(s.cfg.TableID, s.recent)
}

func (s *Simulator) Reconnect(ctx context.Context) error { return s.Connect(ctx) }

func (s *Simulator) Close() error {
	s.connected.Store(false)
	return nil
}

func (s *Simulator) IsConnected() bool { return s.connected.Load() }

var _ drepo.SpinFeed = (*Simulator)(nil)
