package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/internal/encoder"
	"NeuralRoulette/internal/handler/api"
	"NeuralRoulette/internal/history"
	mid "NeuralRoulette/internal/middleware"
	"NeuralRoulette/internal/model"
	internalrepo "NeuralRoulette/internal/repository"
	"NeuralRoulette/internal/service/feed"
	"NeuralRoulette/internal/service/ratelimit"
	"NeuralRoulette/internal/strategy"
	"NeuralRoulette/internal/usecase"
	"NeuralRoulette/pkg/cache"
	pkgch "NeuralRoulette/pkg/clickhouse"
	"NeuralRoulette/pkg/config"
	xhttp "NeuralRoulette/pkg/http"
	pkgkafka "NeuralRoulette/pkg/kafka"
	"NeuralRoulette/pkg/logger"
	"NeuralRoulette/pkg/metrics"
	"NeuralRoulette/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		File:       cfg.Logger.File,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is
// disabled. It also starts shipping aggregated logs when the log collector is
// enabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, log *logger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(reg,
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	if c := cfg.Logger.Collector; c.Enabled {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   c.Interval,
			CountThreshold: c.Threshold,
			Topic:          c.Topic,
			Publisher:      producer,
			PublishTimeout: 5 * time.Second,
		})
	}
	return producer, nil
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(ctx context.Context, cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache picks Redis when connected and process memory otherwise. The
// cache backs the prediction endpoint and the model lock.
func ProvideCache(rc *cache.RedisCache, log *logger.Logger) (cache.Service, func()) {
	var c cache.Service = rc
	if rc == nil {
		c = cache.NewMemoryCache(cache.WithMemoryMaxSize(512), cache.WithMemoryCleanup(time.Minute))
	}
	return c, func() {
		if err := c.Close(); err != nil {
			log.Warn("cache close error", logger.Error(err))
		}
	}
}

func ProvideLocker(c cache.Service) repository.Locker { return c }

// ProvideHistoryStore persists the spin history in Redis. Without Redis the
// session starts cold.
func ProvideHistoryStore(cfg *config.Config, rc *cache.RedisCache) repository.HistoryStore {
	if rc == nil {
		return nil
	}
	key := cache.Key(rc.Prefix(), cfg.Redis.HistoryKey, cfg.Feed.WebSocket.TableID)
	return internalrepo.NewRedisHistory(rc.Client(), key, cfg.History.Capacity)
}

// ProvideRecorder opens the configured archive backend.
func ProvideRecorder(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Recorder, error) {
	var rec repository.Recorder
	switch cfg.Backend.Type {
	case "sqlite":
		r, err := internalrepo.NewSQLiteRecorder(cfg.SQLite.Path, log)
		if err != nil {
			return nil, err
		}
		rec = r
	case "clickhouse":
		client, err := pkgch.NewClient(ctx,
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		rec = internalrepo.NewClickHouseRecorder(client, "roulette")
	default:
		return internalrepo.NoopRecorder{}, nil
	}

	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rec.Init(ictx); err != nil {
		_ = rec.Close()
		return nil, fmt.Errorf("%s schema: %w", cfg.Backend.Type, err)
	}
	return rec, nil
}

// ProvidePublisher publishes rounds and reports to Kafka when a producer exists.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.Publisher {
	if producer == nil {
		return internalrepo.NoopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topics.Rounds, cfg.Kafka.Topics.Reports)
}

func simulatorConfig(cfg *config.Config) feed.SimulatorConfig {
	return feed.SimulatorConfig{
		TableID:  cfg.Feed.Simulate.TableID,
		Interval: cfg.Feed.Simulate.Interval,
		Seed:     cfg.Feed.Simulate.Seed,
		Count:    cfg.Feed.Simulate.Count,
	}
}

// ProvideSpinFeed builds the configured spin source.
func ProvideSpinFeed(cfg *config.Config, reg *prometheus.Registry, m repository.Metrics, log *logger.Logger) (repository.SpinFeed, error) {
	switch cfg.Feed.Source {
	case "simulate":
		return feed.NewSimulator(simulatorConfig(cfg), log), nil
	case "kafka":
		consumer, err := pkgkafka.NewConsumer(log, reg,
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
			pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
			pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
			pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		consumer.WithConsumerHook(pkgkafka.NewHookChain(
			pkgkafka.TraceHook(),
			pkgkafka.HookFuncs{
				Err: func(context.Context, string, kafka.Message, []byte, error) { m.RecordError("kafka_spin") },
			},
		))
		return feed.NewKafkaFeed(cfg.Kafka.Topics.Spins, consumer, log), nil
	default:
		ws := feed.NewWebSocket(feed.WebSocketConfig{
			URL:               cfg.Feed.WebSocket.URL,
			CasinoID:          cfg.Feed.WebSocket.CasinoID,
			TableID:           cfg.Feed.WebSocket.TableID,
			Currency:          cfg.Feed.WebSocket.Currency,
			Backfill:          cfg.Feed.WebSocket.Backfill,
			PingInterval:      cfg.Feed.WebSocket.PingInterval,
			HandshakeTimeout:  cfg.Feed.WebSocket.HandshakeTimeout,
			ReconnectDelay:    cfg.Feed.WebSocket.ReconnectDelay,
			MaxReconnectDelay: cfg.Feed.WebSocket.MaxReconnectDelay,
			MaxRetries:        cfg.Feed.WebSocket.MaxRetries,
		}, log)
		if !cfg.Feed.FallbackToSimulation {
			return ws, nil
		}
		return feed.NewFallback(ws, feed.NewSimulator(simulatorConfig(cfg), log), log), nil
	}
}

// ProvideEncoder creates the sequence encoder.
func ProvideEncoder(cfg *config.Config) (*encoder.Encoder, error) {
	scheme, err := encoder.ParseScheme(cfg.Encoder.Scheme)
	if err != nil {
		return nil, err
	}
	return encoder.New(cfg.Encoder.WindowLength, scheme)
}

// ProvideModel creates an untrained model sized for enc. Session.Prepare loads
// the strategy checkpoint into it.
func ProvideModel(cfg *config.Config, enc *encoder.Encoder, m repository.Metrics, log *logger.Logger) (*model.Manager, error) {
	profile := model.Profile{
		InputWidth:   enc.Width(),
		WindowLength: enc.Length(),
		Hidden1:      cfg.Model.Hidden1,
		Hidden2:      cfg.Model.Hidden2,
		Dense:        cfg.Model.Dense,
		Classes:      models.NumOutcomes,
		Dropout:      cfg.Model.Dropout,
	}
	return model.NewManager(profile,
		model.WithSeed(cfg.Model.Seed),
		model.WithLearningRate(cfg.Model.LearningRate),
		model.WithClipNorm(cfg.Training.ClipNorm),
		model.WithScheme(enc.Scheme()),
		model.WithLogger(log),
		model.WithMetrics(m),
	)
}

// ProvideEngine creates the betting engine for the configured strategy.
func ProvideEngine(cfg *config.Config) (*strategy.Engine, error) {
	kind, err := strategy.ParseKind(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	rule, err := strategy.ParsePayoutRule(cfg.Betting.PayoutRule)
	if err != nil {
		return nil, err
	}
	return strategy.NewEngine(kind, strategy.EngineConfig{
		StartingBalance:  decimal.NewFromFloat(cfg.Session.Balance),
		UnitStake:        decimal.NewFromFloat(cfg.Betting.UnitStake),
		MaxStakeFraction: decimal.NewFromFloat(cfg.Betting.MaxStakeFraction),
		MinBet:           decimal.NewFromFloat(cfg.Betting.MinBet),
		Rule:             rule,
		HistoryLimit:     cfg.Betting.HistoryLimit,
	})
}

// ProvideSession assembles the session use case.
func ProvideSession(
	cfg *config.Config,
	enc *encoder.Encoder,
	mgr *model.Manager,
	engine *strategy.Engine,
	rec repository.Recorder,
	pub repository.Publisher,
	store repository.HistoryStore,
	locker repository.Locker,
	m repository.Metrics,
	log *logger.Logger,
) (*usecase.Session, error) {
	return usecase.NewSession(usecase.SessionConfig{
		ModelPath:           cfg.ModelPath(cfg.Strategy),
		AutoTrain:           cfg.Session.AutoTrain,
		MaxSpins:            cfg.Session.MaxSpins,
		TrainingMode:        cfg.Training.Mode,
		BatchSize:           cfg.Training.BatchSize,
		BootstrapEpochs:     cfg.Training.BootstrapEpochs,
		BootstrapMinHistory: cfg.Training.BootstrapMinHistory,
		BootstrapBatchSize:  cfg.Training.BootstrapBatchSize,
		PeriodicInterval:    cfg.Training.PeriodicInterval,
		PeriodicEpochs:      cfg.Training.PeriodicEpochs,
		PeriodicBatchSize:   cfg.Training.PeriodicBatchSize,
		CheckpointEvery:     cfg.Checkpoint.EverySpins,
		LockTTL:             cfg.Session.LockTTL,
	}, usecase.SessionDeps{
		History:  history.New(cfg.History.Capacity),
		Encoder:  enc,
		Model:    mgr,
		Engine:   engine,
		Recorder: rec,
		Pub:      pub,
		Store:    store,
		Locker:   locker,
		Metrics:  m,
		Log:      log,
	})
}

// ProvideSpinCollector builds the pipeline between the feed and the session.
// A drained feed completes the session; gaps are recorded against it.
func ProvideSpinCollector(
	cfg *config.Config,
	src repository.SpinFeed,
	session *usecase.Session,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.SpinCollector {
	pipe := mid.NewSpinPipeline(session, m,
		mid.WithBufferSize(cfg.Feed.BufferSize),
		mid.WithGapHandler(session.OnGap),
		mid.WithDrainHook(func() { session.Finish(models.StatusCompleted, "feed_exhausted") }),
		mid.WithLogger(log),
	)
	return usecase.NewSpinCollector(src, session, m, pipe, log)
}

func ProvideReporter(cfg *config.Config, rec repository.Recorder, pub repository.Publisher, log *logger.Logger) *usecase.Reporter {
	return usecase.NewReporter(rec, pub, log, cfg.Session.ReportPath, os.Stdout)
}

func ProvideScheduler(session *usecase.Session, log *logger.Logger) *usecase.Scheduler {
	return usecase.NewScheduler(session, log)
}

// ProvideHTTPServer creates the API server, or nil when it is disabled.
func ProvideHTTPServer(
	cfg *config.Config,
	session *usecase.Session,
	c cache.Service,
	reg *prometheus.Registry,
	log *logger.Logger,
) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	h := api.NewSessionHandler(log, session,
		api.WithPredictionCache(c, 30*time.Second),
		api.WithRateLimiter(ratelimit.New(cfg.Server.PredictRPS, int(cfg.Server.PredictBurst))),
	)
	return xhttp.NewServer(log, h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithRegistry(reg, reg),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	session *usecase.Session,
	collector *usecase.SpinCollector,
	scheduler *usecase.Scheduler,
	reporter *usecase.Reporter,
	httpServer *xhttp.Server,
	rec repository.Recorder,
	pub repository.Publisher,
) *server.App {
	return server.New(cfg, log, session, collector, scheduler, reporter, httpServer, rec, pub)
}
