package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	pkgkafka "NeuralRoulette/pkg/kafka"
	"NeuralRoulette/pkg/logger"
)

// SpinConsumer is the part of pkg/kafka.Consumer the feed drives.
type SpinConsumer interface {
	RegisterHandler(h pkgkafka.MessageHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// KafkaFeed replays spins published to a topic by another collector.
type KafkaFeed struct {
	topic    string
	consumer SpinConsumer
	log      *logger.Logger

	events    chan *models.SpinEvent
	errs      chan error
	connected atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	startErr  error
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewKafkaFeed(topic string, consumer SpinConsumer, log *logger.Logger) *KafkaFeed {
	if log == nil {
		log = logger.Nop()
	}
	f := &KafkaFeed{
		topic:    topic,
		consumer: consumer,
		log:      log.With(logger.String("feed", "kafka"), logger.String("topic", topic)),
		events:   make(chan *models.SpinEvent, 64),
		errs:     make(chan error, 1),
	}
	consumer.RegisterHandler(spinHandler{feed: f})
	return f
}

type spinHandler struct{ feed *KafkaFeed }

func (h spinHandler) Topic() string { return h.feed.topic }

// Handle decodes one SpinEvent. Malformed payloads fail so the consumer can
// route them to the DLQ.
func (h spinHandler) Handle(ctx context.Context, data []byte) error {
	var e models.SpinEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("%w: decode: %v", models.ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Source == "" {
		e.Source = "kafka"
	}
	select {
	case h.feed.events <- &e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *KafkaFeed) Name() string { return "kafka" }

func (f *KafkaFeed) Connect(ctx context.Context) error {
	f.startOnce.Do(func() {
		f.ctx, f.cancel = context.WithCancel(context.Background())
		if err := f.consumer.Start(f.ctx); err != nil {
			f.startErr = fmt.Errorf("kafka feed start: %w", err)
			return
		}
		f.connected.Store(true)
		f.log.Info("kafka feed started")
	})
	return f.startErr
}

func (f *KafkaFeed) Subscribe(context.Context) error { return nil }

// Read returns the long-lived event channel; the consumer reconnects brokers
// on its own so the channels stay valid for the life of the feed.
func (f *KafkaFeed) Read(context.Context) (<-chan *models.SpinEvent, <-chan error) {
	return f.events, f.errs
}

func (f *KafkaFeed) Reconnect(ctx context.Context) error { return f.Connect(ctx) }

// Close stops the consumer and then closes the event channel.
func (f *KafkaFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.connected.Store(false)
		if f.cancel != nil {
			f.cancel()
			err = f.consumer.Stop(context.Background())
		}
		close(f.events)
		close(f.errs)
	})
	return err
}

func (f *KafkaFeed) IsConnected() bool { return f.connected.Load() }

var _ drepo.SpinFeed = (*KafkaFeed)(nil)
