package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	mid "NeuralRoulette/internal/middleware"
	"NeuralRoulette/pkg/logger"
)

// SpinCollector moves spins from a feed into the pipeline and keeps the feed
// alive across disconnects.
type SpinCollector struct {
	feed    drepo.SpinFeed
	session *Session
	metrics drepo.Metrics
	pipe    *mid.SpinPipeline
	log     *logger.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	closing  atomic.Bool
}

func NewSpinCollector(feed drepo.SpinFeed, session *Session, metrics drepo.Metrics, pipe *mid.SpinPipeline, log *logger.Logger) *SpinCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &SpinCollector{feed: feed, session: session, metrics: metrics, pipe: pipe, log: log}
}

// IsConnected returns true if the feed is connected.
func (c *SpinCollector) IsConnected() bool {
	return c.feed.IsConnected()
}

func (c *SpinCollector) FeedName() string { return c.feed.Name() }

func (c *SpinCollector) Start(ctx context.Context) error {
	if err := c.feed.Connect(ctx); err != nil {
		return err
	}
	if err := c.feed.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	events, errs := c.feed.Read(ctx)
	c.log.Info("spin collector started", logger.String("feed", c.feed.Name()))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, events, errs)
	}()
	return nil
}

func (c *SpinCollector) consume(ctx context.Context, events <-chan *models.SpinEvent, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.session.Done():
			c.pipe.Stop()
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if events, errs, ok = c.recover(ctx, err); !ok {
				return
			}
		case e, ok := <-events:
			if !ok {
				if ctx.Err() != nil || c.closing.Load() {
					return
				}
				// the feed reports why it closed before closing its events
				if err := pending(errs); err != nil {
					if events, errs, ok = c.recover(ctx, err); !ok {
						return
					}
					continue
				}
				c.log.Info("feed exhausted, draining", logger.String("feed", c.feed.Name()))
				c.pipe.Drain()
				return
			}
			if err := c.pipe.Process(ctx, e); err != nil {
				if errors.Is(err, models.ErrSessionStopped) || errors.Is(err, context.Canceled) {
					return
				}
				c.log.Warn("spin rejected", logger.Error(err))
			}
		}
	}
}

func pending(errs <-chan error) error {
	if errs == nil {
		return nil
	}
	err, ok := <-errs
	if !ok {
		return nil
	}
	return err
}

// recover reconnects the feed and returns fresh channels. When the retries
// are exhausted the session ends with feed_error.
func (c *SpinCollector) recover(ctx context.Context, cause error) (<-chan *models.SpinEvent, <-chan error, bool) {
	if c.closing.Load() {
		return nil, nil, false
	}
	c.metrics.RecordError("feed")
	c.log.Warn("feed failed, reconnecting", logger.String("feed", c.feed.Name()), logger.Error(cause))
	if err := c.feed.Reconnect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, nil, false
		}
		c.log.Error("feed lost", logger.Error(err))
		c.session.Finish(models.StatusFeedError, err.Error())
		c.pipe.Stop()
		return nil, nil, false
	}
	events, errs := c.feed.Read(ctx)
	c.log.Info("feed reconnected", logger.String("feed", c.feed.Name()))
	return events, errs, true
}

// Shutdown stops the pipeline, closes the feed and waits for the consumer.
func (c *SpinCollector) Shutdown(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.closing.Store(true)
		c.pipe.Stop()
		err = c.feed.Close()
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}
	})
	return err
}
