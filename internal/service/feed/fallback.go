package feed

import (
	"context"
	"sync"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/pkg/logger"
)

// Fallback uses the primary feed and switches to the secondary one for good
// when the primary cannot connect or exhausts its reconnects.
type Fallback struct {
	primary   drepo.SpinFeed
	secondary drepo.SpinFeed
	log       *logger.Logger

	mu     sync.RWMutex
	active drepo.SpinFeed
}

func NewFallback(primary, secondary drepo.SpinFeed, log *logger.Logger) *Fallback {
	if log == nil {
		log = logger.Nop()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log, active: primary}
}

func (f *Fallback) current() drepo.SpinFeed {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

func (f *Fallback) switchOver(ctx context.Context, cause error) error {
	f.mu.Lock()
	if f.active == f.secondary {
		f.mu.Unlock()
		return cause
	}
	f.active = f.secondary
	f.mu.Unlock()

	_ = f.primary.Close()
	f.log.Warn("primary feed unavailable, falling back",
		logger.String("primary", f.primary.Name()),
		logger.String("fallback", f.secondary.Name()),
		logger.Error(cause),
	)
	if err := f.secondary.Connect(ctx); err != nil {
		return err
	}
	return f.secondary.Subscribe(ctx)
}

func (f *Fallback) Name() string { return f.current().Name() }

func (f *Fallback) Connect(ctx context.Context) error {
	if err := f.current().Connect(ctx); err != nil {
		return f.switchOver(ctx, err)
	}
	return nil
}

func (f *Fallback) Subscribe(ctx context.Context) error {
	if err := f.current().Subscribe(ctx); err != nil {
		return f.switchOver(ctx, err)
	}
	return nil
}

func (f *Fallback) Read(ctx context.Context) (<-chan *models.SpinEvent, <-chan error) {
	return f.current().Read(ctx)
}

func (f *Fallback) Reconnect(ctx context.Context) error {
	if err := f.current().Reconnect(ctx); err != nil {
		return f.switchOver(ctx, err)
	}
	return nil
}

func (f *Fallback) Close() error { return f.current().Close() }

func (f *Fallback) IsConnected() bool { return f.current().IsConnected() }

var _ drepo.SpinFeed = (*Fallback)(nil)
