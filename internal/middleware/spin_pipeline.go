package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"NeuralRoulette/internal/domain/models"
	domrepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/pkg/logger"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, e *models.SpinEvent) error
}

// GapHandler is told about every hole in the source sequence.
type GapHandler func(afterSeq, beforeSeq int64)

// SpinPipeline sits between a feed and the session. The feed side validates,
// de-duplicates and checks sequence continuity; a single worker hands events
// to the processor one at a time in arrival order.
type SpinPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	log     *logger.Logger

	bufSize     int
	bufCh       chan *models.SpinEvent
	stopCh      chan struct{}
	drainCh     chan struct{}
	doneCh      chan struct{}
	started     bool
	stopOnce    sync.Once
	drainOnce   sync.Once
	mu          sync.Mutex
	lastSeq     int64
	haveSeq     bool
	source      string
	restarts    int64
	dedupeSize  int
	seenGames   map[string]struct{}
	seenOrder   []string
	onGap       GapHandler
	onDrained   func()
	accepted    int64
	duplicates  int64
	transform   func(*models.SpinEvent) *models.SpinEvent
	bufDepthLog func(int)
}

type PipelineOption func(*SpinPipeline)

// WithBufferSize sets how many validated spins may wait for the worker.
func WithBufferSize(n int) PipelineOption {
	return func(p *SpinPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithDedupeWindow sets how many recent game ids are remembered.
func WithDedupeWindow(n int) PipelineOption {
	return func(p *SpinPipeline) {
		if n > 0 {
			p.dedupeSize = n
		}
	}
}

func WithGapHandler(fn GapHandler) PipelineOption {
	return func(p *SpinPipeline) { p.onGap = fn }
}

// WithDrainHook runs fn on the worker once a drain has emptied the queue.
func WithDrainHook(fn func()) PipelineOption {
	return func(p *SpinPipeline) { p.onDrained = fn }
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *SpinPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithTransform sets a hook applied to every event before validation.
func WithTransform(fn func(*models.SpinEvent) *models.SpinEvent) PipelineOption {
	return func(p *SpinPipeline) { p.transform = fn }
}

func NewSpinPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *SpinPipeline {
	p := &SpinPipeline{
		proc:       proc,
		metrics:    metrics,
		log:        logger.Nop(),
		bufSize:    256,
		dedupeSize: 64,
		stopCh:     make(chan struct{}),
		drainCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
		seenGames:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.SpinEvent, p.bufSize)
	p.bufDepthLog = func(n int) {
		if n >= p.bufSize*3/4 {
			p.log.Warn("spin queue nearly full", logger.Int("depth", n), logger.Int("capacity", p.bufSize))
		}
	}
	return p
}

// Start launches the worker.
func (p *SpinPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *SpinPipeline) run(ctx context.Context) {
	defer close(p.doneCh)
	for {
		// a pending stop wins over queued work
		select {
		case <-p.stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case e := <-p.bufCh:
			p.handle(ctx, e)
		case <-p.drainCh:
			for {
				select {
				case <-p.stopCh:
					return
				case e := <-p.bufCh:
					p.handle(ctx, e)
				default:
					if p.onDrained != nil {
						p.onDrained()
					}
					return
				}
			}
		}
	}
}

func (p *SpinPipeline) handle(ctx context.Context, e *models.SpinEvent) {
	if e == nil {
		return
	}
	start := time.Now()
	if err := p.proc.Process(ctx, e); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.log.Warn("spin processing failed",
			logger.Int64("seq", e.SourceSequenceID),
			logger.Int("outcome", e.Outcome),
			logger.Error(err),
		)
		return
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
}

// Stop makes the worker exit before the next queued event. An event already
// being processed completes.
func (p *SpinPipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Drain lets the worker finish everything queued, run the drain hook and exit.
// Process must not be called afterwards.
func (p *SpinPipeline) Drain() {
	p.drainOnce.Do(func() { close(p.drainCh) })
}

// Done is closed when the worker has exited.
func (p *SpinPipeline) Done() <-chan struct{} { return p.doneCh }

// Process validates and enqueues e. It blocks while the queue is full so
// back-pressure reaches the feed instead of dropping spins.
func (p *SpinPipeline) Process(ctx context.Context, e *models.SpinEvent) error {
	if e == nil {
		p.metrics.RecordError("pipeline_validate")
		return fmt.Errorf("%w: nil event", models.ErrInvalidEvent)
	}
	if p.transform != nil {
		e = p.transform(e)
	}
	if err := e.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.admit(e) {
		p.metrics.RecordError("pipeline_duplicate")
		return nil
	}

	select {
	case <-p.stopCh:
		return models.ErrSessionStopped
	case <-p.drainCh:
		return models.ErrSessionStopped
	default:
	}

	select {
	case p.bufCh <- e:
		if p.bufDepthLog != nil {
			p.bufDepthLog(len(p.bufCh))
		}
		return nil
	case <-p.stopCh:
		return models.ErrSessionStopped
	case <-p.drainCh:
		return models.ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit applies game-id de-duplication and sequence checks. Events with a
// zero sequence id are treated as unsequenced. Sequence ids are only
// comparable within one source: a new source, or a regression carrying an
// unseen game id, restarts the baseline and is reported as a gap.
func (p *SpinPipeline) admit(e *models.SpinEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.GameID != "" {
		if _, ok := p.seenGames[e.GameID]; ok {
			p.duplicates++
			return false
		}
	}

	var (
		gapFrom, gapTo int64
		gap            bool
	)
	if seq := e.SourceSequenceID; seq != 0 {
		switch {
		case !p.haveSeq:
		case e.Source != p.source:
			p.log.Warn("feed source changed, restarting sequence",
				logger.String("from", p.source),
				logger.String("to", e.Source),
				logger.Int64("last_seq", p.lastSeq),
				logger.Int64("seq", seq),
			)
			gapFrom, gapTo, gap = p.lastSeq, seq, true
			p.restarts++
		case seq <= p.lastSeq && e.GameID == "":
			p.duplicates++
			return false
		case seq <= p.lastSeq:
			p.log.Warn("feed sequence restarted",
				logger.String("source", e.Source),
				logger.Int64("last_seq", p.lastSeq),
				logger.Int64("seq", seq),
			)
			gapFrom, gapTo, gap = p.lastSeq, seq, true
			p.restarts++
		case seq > p.lastSeq+1:
			p.log.Warn("feed sequence gap",
				logger.Int64("after_seq", p.lastSeq),
				logger.Int64("before_seq", seq),
				logger.Int64("missing", seq-p.lastSeq-1),
			)
			gapFrom, gapTo, gap = p.lastSeq, seq, true
		}
		p.lastSeq = seq
		p.haveSeq = true
		p.source = e.Source
	}

	if e.GameID != "" {
		p.seenGames[e.GameID] = struct{}{}
		p.seenOrder = append(p.seenOrder, e.GameID)
		if len(p.seenOrder) > p.dedupeSize {
			delete(p.seenGames, p.seenOrder[0])
			p.seenOrder = p.seenOrder[1:]
		}
	}
	p.accepted++

	if gap && p.onGap != nil {
		p.onGap(gapFrom, gapTo)
	}
	return true
}

// Stats returns accepted and rejected-duplicate counts.
func (p *SpinPipeline) Stats() (accepted, duplicates int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted, p.duplicates
}

// Restarts counts sequence baselines dropped on a source switch or regression.
func (p *SpinPipeline) Restarts() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}
