package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"NeuralRoulette/internal/domain/models"
	pkgkafka "NeuralRoulette/pkg/kafka"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func results(ids ...int) []TableResult {
	out := make([]TableResult, len(ids))
	for i, id := range ids {
		out[i] = TableResult{Outcome: id % 37, GameID: fmt.Sprintf("g%d", id)}
	}
	return out
}

func TestParseFrame(t *testing.T) {
	raw := `{"tableId":"236","last20Results":[
		{"time":"Jan 2, 2024 03:04:05 PM","result":"17","color":"Black","gameId":"g2"},
		{"time":"Jan 2, 2024 03:03:05 PM","result":0,"color":"green","gameId":"g1"}]}`
	f, err := ParseFrame([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "236", f.TableID)
	require.Len(t, f.Results, 2)
	assert.Equal(t, 17, f.Results[0].Outcome)
	assert.Equal(t, "black", f.Results[0].Color)
	assert.Equal(t, 15, f.Results[0].Time.Hour())
	assert.Equal(t, 0, f.Results[1].Outcome)

	f, err = ParseFrame([]byte(`{"result":{"number":"32"}}`))
	require.NoError(t, err)
	assert.True(t, f.Legacy)
	assert.Equal(t, 32, f.Results[0].Outcome)

	f, err = ParseFrame([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	assert.Empty(t, f.Results)

	_, err = ParseFrame([]byte(`{"last20Results":[{"result":"40","gameId":"x"}]}`))
	assert.True(t, errors.Is(err, models.ErrInvalidEvent))

	_, err = ParseFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	in := results(3, 2, 1)
	raw, err := EncodeFrame("7", in)
	require.NoError(t, err)
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	require.Len(t, f.Results, 3)
	for i := range in {
		assert.Equal(t, in[i].Outcome, f.Results[i].Outcome)
		assert.Equal(t, in[i].GameID, f.Results[i].GameID)
	}
}

func outcomesOf(events []*models.SpinEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.GameID
	}
	return out
}

func TestTrackerBackfillAndDedupe(t *testing.T) {
	tr := NewTracker("websocket", true)

	ev := tr.Events(Frame{Results: results(3, 2, 1)})
	assert.Equal(t, []string{"g1", "g2", "g3"}, outcomesOf(ev))
	assert.Equal(t, int64(3), ev[2].SourceSequenceID)

	// overlapping frame: only g4 is new
	ev = tr.Events(Frame{Results: results(4, 3, 2, 1)})
	assert.Equal(t, []string{"g4"}, outcomesOf(ev))
	assert.Equal(t, int64(4), ev[0].SourceSequenceID)

	assert.Empty(t, tr.Events(Frame{Results: results(4, 3)}))
}

func TestTrackerWithoutBackfill(t *testing.T) {
	tr := NewTracker("websocket", false)
	ev := tr.Events(Frame{Results: results(3, 2, 1)})
	assert.Equal(t, []string{"g3"}, outcomesOf(ev))

	ev = tr.Events(Frame{Results: results(5, 4, 3, 2)})
	assert.Equal(t, []string{"g4", "g5"}, outcomesOf(ev))
	assert.Equal(t, int64(3), tr.Seq())
}

func TestTrackerMarksGapWhenNoOverlap(t *testing.T) {
	tr := NewTracker("websocket", true)
	tr.Events(Frame{Results: results(2, 1)})

	ev := tr.Events(Frame{Results: results(30, 29)})
	require.Len(t, ev, 2)
	assert.Equal(t, int64(4), ev[0].SourceSequenceID, "sequence skips one id for the lost spins")
	assert.Equal(t, int64(5), ev[1].SourceSequenceID)
}

func TestTrackerLegacyFrames(t *testing.T) {
	tr := NewTracker("websocket", true)
	for i := 1; i <= 3; i++ {
		ev := tr.Events(Frame{Legacy: true, Results: []TableResult{{Outcome: i}}})
		require.Len(t, ev, 1)
		assert.Equal(t, int64(i), ev[0].SourceSequenceID)
		assert.False(t, ev[0].Timestamp.IsZero())
	}
}

func drain(t *testing.T, events <-chan *models.SpinEvent, max int) []*models.SpinEvent {
	t.Helper()
	var out []*models.SpinEvent
	timeout := time.After(5 * time.Second)
	for len(out) < max {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(out))
		}
	}
	return out
}

func TestSimulatorIsSeededAndFinite(t *testing.T) {
	run := func() []int {
		s := NewSimulator(SimulatorConfig{TableID: "1", Seed: 7, Count: 25}, nil)
		require.NoError(t, s.Connect(context.Background()))
		events, _ := s.Read(context.Background())
		got := drain(t, events, 100)
		out := make([]int, len(got))
		for i, e := range got {
			assert.Equal(t, int64(i+1), e.SourceSequenceID)
			assert.Equal(t, "simulate", e.Source)
			out[i] = e.Outcome
		}
		return out
	}
	a, b := run(), run()
	assert.Len(t, a, 25)
	assert.Equal(t, a, b)
}

func TestSimulatorStopsOnClose(t *testing.T) {
	s := NewSimulator(SimulatorConfig{Seed: 1, Interval: time.Millisecond}, nil)
	require.NoError(t, s.Connect(context.Background()))
	events, _ := s.Read(context.Background())
	drain(t, events, 3)
	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())

	for range events {
	}
}

type failingFeed struct{ *Simulator }

func (failingFeed) Name() string                    { return "broken" }
func (failingFeed) Connect(context.Context) error   { return models.ErrFeedDisconnected }
func (failingFeed) Reconnect(context.Context) error { return models.ErrFeedDisconnected }

func TestFallbackSwitchesToSecondary(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 3, Count: 5}, nil)
	f := NewFallback(failingFeed{NewSimulator(SimulatorConfig{}, nil)}, sim, nil)

	require.NoError(t, f.Connect(context.Background()))
	assert.Equal(t, "simulate", f.Name())
	events, _ := f.Read(context.Background())
	assert.Len(t, drain(t, events, 10), 5)

	// already on the secondary: its errors pass through
	assert.NoError(t, f.Reconnect(context.Background()))
}

type stubConsumer struct {
	mu      sync.Mutex
	handler pkgkafka.MessageHandler
	started bool
	stopped bool
}

func (s *stubConsumer) RegisterHandler(h pkgkafka.MessageHandler) { s.handler = h }
func (s *stubConsumer) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}
func (s *stubConsumer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func TestKafkaFeedDecodesSpins(t *testing.T) {
	c := &stubConsumer{}
	f := NewKafkaFeed("roulette.spins", c, nil)
	require.NotNil(t, c.handler)
	assert.Equal(t, "roulette.spins", c.handler.Topic())

	require.NoError(t, f.Connect(context.Background()))
	assert.True(t, c.started)
	assert.True(t, f.IsConnected())

	payload, _ := json.Marshal(models.SpinEvent{Outcome: 12, SourceSequenceID: 9, GameID: "k9"})
	require.NoError(t, c.handler.Handle(context.Background(), payload))
	assert.True(t, errors.Is(c.handler.Handle(context.Background(), []byte(`{"outcome":99}`)), models.ErrInvalidEvent))
	assert.True(t, errors.Is(c.handler.Handle(context.Background(), []byte(`{`)), models.ErrInvalidEvent))

	events, _ := f.Read(context.Background())
	e := <-events
	assert.Equal(t, 12, e.Outcome)
	assert.Equal(t, "kafka", e.Source)

	require.NoError(t, f.Close())
	assert.True(t, c.stopped)
	_, ok := <-events
	assert.False(t, ok)
}

// tableServer accepts a subscription and then pushes the given frames.
func tableServer(t *testing.T, frames [][]TableResult, subscribed chan<- subscribeMessage) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(b), `"subscribe"`) {
				_ = json.Unmarshal(b, &sub)
				break
			}
		}
		subscribed <- sub
		for _, f := range frames {
			raw, _ := EncodeFrame("236", f)
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketStreamsNewSpins(t *testing.T) {
	subscribed := make(chan subscribeMessage, 1)
	srv := tableServer(t, [][]TableResult{results(2, 1), results(3, 2, 1), results(4, 3)}, subscribed)
	defer srv.Close()

	c := NewWebSocket(WebSocketConfig{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		CasinoID:     "casino",
		TableID:      "236",
		Currency:     "USD",
		Backfill:     true,
		PingInterval: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))

	sub := <-subscribed
	assert.Equal(t, []string{"236"}, sub.Key)
	assert.Equal(t, "casino", sub.CasinoID)
	assert.True(t, sub.IsDeltaEnabled)

	events, _ := c.Read(ctx)
	got := drain(t, events, 4)
	assert.Equal(t, []string{"g1", "g2", "g3", "g4"}, outcomesOf(got))
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.SourceSequenceID)
	}
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestWebSocketReconnectGivesUp(t *testing.T) {
	c := NewWebSocket(WebSocketConfig{
		URL:               "ws://127.0.0.1:1/ws",
		ReconnectDelay:    time.Millisecond,
		MaxReconnectDelay: 2 * time.Millisecond,
		MaxRetries:        2,
		HandshakeTimeout:  100 * time.Millisecond,
	}, nil)
	err := c.Reconnect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrFeedDisconnected))
}
