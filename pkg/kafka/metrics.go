package kafka

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics are shared by every producer and consumer on a registerer.
type clientMetrics struct {
	published     *prometheus.CounterVec
	publishBytes  *prometheus.CounterVec
	publishTime   *prometheus.HistogramVec
	consumed      *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	handleLatency *prometheus.HistogramVec
}

var (
	metricsMu    sync.Mutex
	metricsByReg = map[prometheus.Registerer]*clientMetrics{}
)

// metricsFor returns the collectors registered on reg, registering them the
// first time. A nil reg means prometheus.DefaultRegisterer.
func metricsFor(reg prometheus.Registerer) *clientMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m, ok := metricsByReg[reg]; ok {
		return m
	}

	m := &clientMetrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "roulette_kafka_producer_messages_total", Help: "Messages published to Kafka"},
			[]string{"topic", "result"},
		),
		publishBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "roulette_kafka_producer_bytes_total", Help: "Payload bytes published"},
			[]string{"topic"},
		),
		publishTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "roulette_kafka_producer_publish_seconds", Help: "Publish latency", Buckets: prometheus.DefBuckets},
			[]string{"topic"},
		),
		consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "roulette_kafka_consumer_messages_total", Help: "Messages handled by the consumer"},
			[]string{"topic", "result"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "roulette_kafka_consumer_queue_depth", Help: "Messages waiting in the consumer queue"},
			[]string{"topic"},
		),
		handleLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "roulette_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		),
	}
	m.published = register(reg, m.published).(*prometheus.CounterVec)
	m.publishBytes = register(reg, m.publishBytes).(*prometheus.CounterVec)
	m.publishTime = register(reg, m.publishTime).(*prometheus.HistogramVec)
	m.consumed = register(reg, m.consumed).(*prometheus.CounterVec)
	m.queueDepth = register(reg, m.queueDepth).(*prometheus.GaugeVec)
	m.handleLatency = register(reg, m.handleLatency).(*prometheus.HistogramVec)
	metricsByReg[reg] = m
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}

func (m *clientMetrics) observePublish(topic string, bytes int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(topic, result).Add(float64(count))
	m.publishBytes.WithLabelValues(topic).Add(float64(bytes))
	m.publishTime.WithLabelValues(topic).Observe(dur.Seconds())
}

func (m *clientMetrics) observeHandle(topic string, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.consumed.WithLabelValues(topic, result).Inc()
	m.handleLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
