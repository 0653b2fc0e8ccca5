package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	spinsTotal   *prometheus.CounterVec
	cyclesTotal  *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	gapsTotal    prometheus.Counter
	missingSpins prometheus.Counter
	balance      *prometheus.GaugeVec
	winRate      *prometheus.GaugeVec
	trainLoss    prometheus.Histogram
	trainSkipped prometheus.Counter
	latency      *prometheus.HistogramVec
}

// New registers the roulette metrics on reg (prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		spinsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roulette_spins_total",
				Help: "Spins accepted into history",
			},
			[]string{"source"},
		),
		cyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roulette_cycles_total",
				Help: "Prediction cycles settled",
			},
			[]string{"strategy", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roulette_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		gapsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "roulette_feed_gaps_total",
			Help: "Sequence gaps detected in the feed",
		}),
		missingSpins: f.NewCounter(prometheus.CounterOpts{
			Name: "roulette_feed_missing_spins_total",
			Help: "Spins known to be missing from the feed",
		}),
		balance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roulette_balance",
				Help: "Current simulated balance",
			},
			[]string{"strategy"},
		),
		winRate: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "roulette_win_rate",
				Help: "Observed win rate of the running strategy",
			},
			[]string{"strategy"},
		),
		trainLoss: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roulette_train_loss",
			Help:    "Cross-entropy loss of committed train steps",
			Buckets: []float64{0.5, 1, 2, 2.5, 3, 3.3, 3.6, 4, 5, 8},
		}),
		trainSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "roulette_train_skipped_total",
			Help: "Train steps refused because of non-finite values",
		}),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roulette_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordSpin(source string) {
	r.spinsTotal.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordCycle(strategy string, won bool) {
	result := "loss"
	if won {
		result = "win"
	}
	r.cyclesTotal.WithLabelValues(strategy, result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordGap(missing int64) {
	r.gapsTotal.Inc()
	if missing > 0 {
		r.missingSpins.Add(float64(missing))
	}
}

func (r *Recorder) RecordBalance(strategy string, balance float64) {
	r.balance.WithLabelValues(strategy).Set(balance)
}

func (r *Recorder) RecordWinRate(strategy string, rate float64) {
	r.winRate.WithLabelValues(strategy).Set(rate)
}

func (r *Recorder) RecordTrainLoss(loss float64) {
	r.trainLoss.Observe(loss)
}

func (r *Recorder) RecordTrainSkipped() {
	r.trainSkipped.Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Noop discards everything; used by tests and tools that do not expose /metrics.
type Noop struct{}

func (Noop) RecordSpin(string)             {}
func (Noop) RecordCycle(string, bool)      {}
func (Noop) RecordError(string)            {}
func (Noop) RecordGap(int64)               {}
func (Noop) RecordBalance(string, float64) {}
func (Noop) RecordWinRate(string, float64) {}
func (Noop) RecordTrainLoss(float64)       {}
func (Noop) RecordTrainSkipped()           {}
func (Noop) RecordLatency(string, float64) {}
