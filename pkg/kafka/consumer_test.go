package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"NeuralRoulette/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

type orderedHandler struct {
	mu   sync.Mutex
	got  []string
	fail string
}

func (h *orderedHandler) Topic() string { return "roulette.spins" }

func (h *orderedHandler) Handle(_ context.Context, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, string(b))
	if string(b) == h.fail {
		return errors.New("poison")
	}
	return nil
}

func (h *orderedHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.got...)
}

func TestConsumerHandlesInOrderAndCommits(t *testing.T) {
	reader := &fakeReader{}
	for i, v := range []string{"a", "b", "c"} {
		reader.queue = append(reader.queue, kafka.Message{Topic: "roulette.spins", Offset: int64(i), Value: []byte(v)})
	}
	c, err := NewConsumer(logger.Nop(), prometheus.NewRegistry(), WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	c.newReader = func(string) Reader { return reader }
	h := &orderedHandler{}
	c.RegisterHandler(h)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, h.seen())
	assert.Equal(t, []int64{0, 1, 2}, reader.commits())
}

func TestConsumerSendsPoisonToDLQ(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Topic: "roulette.spins", Offset: 7, Value: []byte("bad")}}}
	c, err := NewConsumer(logger.Nop(), prometheus.NewRegistry(),
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
		WithConsumerDLQ("roulette.dlq"),
	)
	require.NoError(t, err)
	dlq := &fakeWriter{}
	c.dlq = dlq
	c.newReader = func(string) Reader { return reader }
	h := &orderedHandler{fail: "bad"}
	c.RegisterHandler(h)

	var hookErrs int
	var mu sync.Mutex
	c.WithConsumerHook(NewHookChain(TraceHook(), HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) {
		mu.Lock()
		hookErrs++
		mu.Unlock()
	}}))

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return dlq.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Len(t, h.seen(), 3)
	mu.Lock()
	assert.Equal(t, 2, hookErrs)
	mu.Unlock()
}

func TestHookChainRecoversPanics(t *testing.T) {
	chain := NewHookChain(HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("boom")
	}})
	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestTraceHook(t *testing.T) {
	ctx, _, _, err := TraceHook().BeforeHandle(context.Background(), "t",
		kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
}

func TestProducerEncodesPayloads(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, prometheus.NewRegistry())
	require.NoError(t, p.Publish(context.Background(), "roulette.rounds", []byte("s1"), map[string]int{"cycle": 1}))
	require.NoError(t, p.PublishMessage(context.Background(), "roulette.ops", "raw"))

	require.Equal(t, 2, w.count())
	assert.JSONEq(t, `{"cycle":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "s1", string(w.msgs[0].Key))
	assert.Equal(t, "raw", string(w.msgs[1].Value))

	_, err := NewProducer(prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}
