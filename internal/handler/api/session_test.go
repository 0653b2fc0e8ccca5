package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/internal/service/ratelimit"
	"NeuralRoulette/internal/strategy"
	"NeuralRoulette/internal/usecase"
	"NeuralRoulette/pkg/cache"
	xhttp "NeuralRoulette/pkg/http"
	"NeuralRoulette/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	snap     usecase.Snapshot
	history  []models.SpinEvent
	predErr  error
	predicts int
	lastN    int
}

func (f *fakeSession) Snapshot() usecase.Snapshot { return f.snap }

func (f *fakeSession) PredictNext(k int, dist bool) (*usecase.Prediction, error) {
	f.predicts++
	if f.predErr != nil {
		return nil, f.predErr
	}
	if k == 0 {
		k = 3
	}
	p := &usecase.Prediction{Strategy: "top3", K: k, Numbers: []int{17, 4, 32}[:min(k, 3)], Confidence: 0.09}
	if dist {
		p.Distribution = []models.OutcomeProbability{{Outcome: 17, Probability: 0.03}}
	}
	return p, nil
}

func (f *fakeSession) History(n int) []models.SpinEvent {
	f.lastN = n
	if n > len(f.history) {
		n = len(f.history)
	}
	return f.history[len(f.history)-n:]
}

func (f *fakeSession) Report() *models.SessionReport {
	return &models.SessionReport{TotalSpins: f.snap.Spins, Status: f.snap.Status}
}

func newFake() *fakeSession {
	f := &fakeSession{snap: usecase.Snapshot{SessionID: "s1", Status: models.StatusRunning, Spins: 12}}
	f.snap.Engine.Strategy = strategy.Top3
	for i := 1; i <= 12; i++ {
		f.history = append(f.history, models.SpinEvent{Outcome: i, SourceSequenceID: int64(i), GameID: fmt.Sprintf("g%d", i)})
	}
	return f
}

func newServer(t *testing.T, f *fakeSession, opts ...HandlerOption) *xhttp.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	return xhttp.NewServer(logger.Nop(), NewSessionHandler(logger.Nop(), f, opts...), xhttp.WithRegistry(reg, reg))
}

func get(s *xhttp.Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) {
	t.Helper()
	var env struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, data))
}

func TestHealth(t *testing.T) {
	f := newFake()
	s := newServer(t, f)

	assert.Equal(t, http.StatusOK, get(s, "/healthz").Code)

	f.snap.Status = models.StatusFeedError
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/healthz").Code)

	f.snap.Status = models.StatusCompleted
	assert.Equal(t, http.StatusOK, get(s, "/healthz").Code)
}

func TestSessionAndReport(t *testing.T) {
	s := newServer(t, newFake())

	rec := get(s, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap usecase.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, 12, snap.Spins)

	rec = get(s, "/api/session/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep models.SessionReport
	decode(t, rec, &rep)
	assert.Equal(t, 12, rep.TotalSpins)
}

func TestHistory(t *testing.T) {
	f := newFake()
	s := newServer(t, f)

	rec := get(s, "/api/history?n=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.SpinEvent `json:"rows"`
		Total int64              `json:"total"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Rows, 5)
	assert.Equal(t, 8, list.Rows[0].Outcome)
	assert.Equal(t, int64(12), list.Total)

	assert.Equal(t, 5, f.lastN)

	require.Equal(t, http.StatusOK, get(s, "/api/history").Code)
	assert.Equal(t, 50, f.lastN)

	f.lastN = -1
	assert.Equal(t, http.StatusBadRequest, get(s, "/api/history?n=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(s, "/api/history?n=5000").Code)
	assert.Equal(t, -1, f.lastN)
}

func TestStrategies(t *testing.T) {
	s := newServer(t, newFake())
	rec := get(s, "/api/strategies")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows []strategy.Info `json:"rows"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Rows, len(strategy.Catalog()))
}

func TestPredictNextCaches(t *testing.T) {
	f := newFake()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := newServer(t, f, WithPredictionCache(mc, time.Minute))

	rec := get(s, "/api/predictions/next?k=2&dist=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	var p usecase.Prediction
	decode(t, rec, &p)
	assert.Equal(t, []int{17, 4}, p.Numbers)
	assert.Len(t, p.Distribution, 1)

	rec = get(s, "/api/predictions/next?k=2&dist=true")
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1, f.predicts)

	// a new spin invalidates the cached answer
	f.snap.Spins++
	rec = get(s, "/api/predictions/next?k=2&dist=true")
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, f.predicts)
}

func TestPredictNextErrors(t *testing.T) {
	f := newFake()
	s := newServer(t, f)

	assert.Equal(t, http.StatusBadRequest, get(s, "/api/predictions/next?k=38").Code)

	f.predErr = fmt.Errorf("predict: %w", models.ErrInsufficientHistory)
	rec := get(s, "/api/predictions/next")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_CONFLICT")

	f.predErr = models.ErrModelNotInitialized
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/api/predictions/next").Code)
}

func TestPredictNextRateLimited(t *testing.T) {
	s := newServer(t, newFake(), WithRateLimiter(ratelimit.New(0.001, 2)))

	assert.Equal(t, http.StatusOK, get(s, "/api/predictions/next").Code)
	assert.Equal(t, http.StatusOK, get(s, "/api/predictions/next").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(s, "/api/predictions/next").Code)
	assert.Equal(t, http.StatusOK, get(s, "/api/session").Code)
}
