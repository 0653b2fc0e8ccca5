package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Strategy    string `yaml:"strategy" default:"top1" validate:"oneof=top1 top3 top18"`

	Session struct {
		Balance           float64       `yaml:"balance" default:"10" validate:"gt=0"`
		AutoTrain         bool          `yaml:"auto_train"`
		MaxSpins          int           `yaml:"max_spins" validate:"gte=0"`
		LockTTL           time.Duration `yaml:"lock_ttl" default:"6h"`
		StatusLogSchedule string        `yaml:"status_log_schedule" default:"@every 1m"`
		ReportPath        string        `yaml:"report_path"`
	} `yaml:"session"`

	Feed struct {
		Source               string `yaml:"source" default:"websocket" validate:"oneof=websocket simulate kafka"`
		FallbackToSimulation bool   `yaml:"fallback_to_simulation" default:"true"`
		BufferSize           int    `yaml:"buffer_size" default:"256" validate:"gt=0"`
		WebSocket            struct {
			URL               string        `yaml:"url" default:"wss://dga.pragmaticplaylive.net/ws" validate:"required"`
			CasinoID          string        `yaml:"casino_id" default:"ppcds00000003709"`
			TableID           string        `yaml:"table_id" default:"236" validate:"required"`
			Currency          string        `yaml:"currency" default:"USD"`
			Backfill          bool          `yaml:"backfill" default:"true"`
			PingInterval      time.Duration `yaml:"ping_interval" default:"5m"`
			HandshakeTimeout  time.Duration `yaml:"handshake_timeout" default:"10s"`
			ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"1s"`
			MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"30s"`
			MaxRetries        int           `yaml:"max_retries" default:"10" validate:"gte=0"`
		} `yaml:"websocket"`
		Simulate struct {
			Interval time.Duration `yaml:"interval" default:"5s"`
			Seed     int64         `yaml:"seed"`
			Count    int           `yaml:"count" validate:"gte=0"`
			TableID  string        `yaml:"table_id" default:"236"`
		} `yaml:"simulate"`
	} `yaml:"feed"`

	History struct {
		Capacity int `yaml:"capacity" default:"1000" validate:"gte=2"`
	} `yaml:"history"`

	Encoder struct {
		WindowLength int    `yaml:"window_length" default:"10" validate:"gte=10,lte=18"`
		Scheme       string `yaml:"scheme" default:"scalar" validate:"oneof=scalar onehot"`
	} `yaml:"encoder"`

	Model struct {
		Dir          string  `yaml:"dir" default:"models" validate:"required"`
		Hidden1      int     `yaml:"hidden1" default:"128" validate:"gt=0"`
		Hidden2      int     `yaml:"hidden2" default:"64" validate:"gt=0"`
		Dense        int     `yaml:"dense" default:"64" validate:"gt=0"`
		Dropout      float64 `yaml:"dropout" default:"0.2" validate:"gte=0,lt=1"`
		LearningRate float64 `yaml:"learning_rate" default:"0.001" validate:"gt=0"`
		Seed         int64   `yaml:"seed" default:"42"`
	} `yaml:"model"`

	Training struct {
		Mode                string  `yaml:"mode" default:"online" validate:"oneof=online periodic"`
		BatchSize           int     `yaml:"batch_size" default:"8" validate:"gt=0"`
		BootstrapEpochs     int     `yaml:"bootstrap_epochs" default:"50" validate:"gte=0"`
		BootstrapMinHistory int     `yaml:"bootstrap_min_history" default:"20" validate:"gte=0"`
		BootstrapBatchSize  int     `yaml:"bootstrap_batch_size" default:"32" validate:"gt=0"`
		PeriodicInterval    int     `yaml:"periodic_interval" default:"20" validate:"gt=0"`
		PeriodicEpochs      int     `yaml:"periodic_epochs" default:"5" validate:"gt=0"`
		PeriodicBatchSize   int     `yaml:"periodic_batch_size" default:"32" validate:"gt=0"`
		ClipNorm            float64 `yaml:"clip_norm" default:"5" validate:"gte=0"`
	} `yaml:"training"`

	Checkpoint struct {
		EverySpins int    `yaml:"every_spins" default:"100" validate:"gte=0"`
		Schedule   string `yaml:"schedule" default:"@every 5m"`
	} `yaml:"checkpoint"`

	Betting struct {
		UnitStake        float64 `yaml:"unit_stake" default:"0.01" validate:"gt=0"`
		MaxStakeFraction float64 `yaml:"max_stake_fraction" default:"0.1" validate:"gt=0,lte=1"`
		MinBet           float64 `yaml:"min_bet" default:"0.01" validate:"gt=0"`
		PayoutRule       string  `yaml:"payout_rule" default:"standard" validate:"oneof=standard house_keeps_stake"`
		HistoryLimit     int     `yaml:"history_limit" default:"1000" validate:"gte=0"`
	} `yaml:"betting"`

	Logger struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output     string `yaml:"output" default:"both" validate:"oneof=stdout stderr file both"`
		File       string `yaml:"file" default:"logs/roulette.log"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"50"`
		MaxBackups int    `yaml:"max_backups" default:"3"`
		MaxAgeDays int    `yaml:"max_age_days" default:"7"`
		Compress   bool   `yaml:"compress"`
		Collector  struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			Topic     string        `yaml:"topic" default:"roulette.ops"`
		} `yaml:"collector"`
	} `yaml:"logger"`

	Server struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		PredictRPS      float64       `yaml:"predict_rps" default:"5"`
		PredictBurst    float64       `yaml:"predict_burst" default:"10"`
	} `yaml:"server"`

	Backend struct {
		Type string `yaml:"type" default:"sqlite" validate:"oneof=sqlite clickhouse none"`
	} `yaml:"backend"`

	SQLite struct {
		Path string `yaml:"path" default:"data/roulette.db"`
	} `yaml:"sqlite"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"roulette"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Topics       struct {
			Spins   string `yaml:"spins" default:"roulette.spins"`
			Rounds  string `yaml:"rounds" default:"roulette.rounds"`
			Reports string `yaml:"reports" default:"roulette.reports"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"roulette-session"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"roulette.spins.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled    bool   `yaml:"enabled"`
		Host       string `yaml:"host" default:"localhost"`
		Port       int    `yaml:"port" default:"6379"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		PoolSize   int    `yaml:"pool_size" default:"10"`
		Prefix     string `yaml:"prefix" default:"roulette"`
		HistoryKey string `yaml:"history_key" default:"history"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// Load reads a YAML configuration file on top of the defaults.
// A missing file is not an error: the defaults are used as-is.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("ROULETTE_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("ROULETTE_STRATEGY"); v != "" {
		c.Strategy = v
	}
	if v := getenv("ROULETTE_BALANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ROULETTE_BALANCE: %w", err)
		}
		c.Session.Balance = f
	}
	if v := getenv("ROULETTE_AUTO_TRAIN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ROULETTE_AUTO_TRAIN: %w", err)
		}
		c.Session.AutoTrain = b
	}
	if v := getenv("FEED_SOURCE"); v != "" {
		c.Feed.Source = v
	}
	if v := getenv("WS_URL"); v != "" {
		c.Feed.WebSocket.URL = v
	}
	if v := getenv("TABLE_ID"); v != "" {
		c.Feed.WebSocket.TableID = v
	}
	if v := getenv("MODEL_DIR"); v != "" {
		c.Model.Dir = v
	}
	if v := getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	return nil
}

// Validate checks struct tag rules plus the cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Betting.MinBet > c.Session.Balance {
		return fmt.Errorf("betting.min_bet (%v) exceeds session.balance (%v)", c.Betting.MinBet, c.Session.Balance)
	}
	if c.History.Capacity <= c.Encoder.WindowLength {
		return fmt.Errorf("history.capacity must exceed encoder.window_length (%d <= %d)", c.History.Capacity, c.Encoder.WindowLength)
	}
	if c.Backend.Type == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for the clickhouse backend")
	}
	if c.Backend.Type == "sqlite" && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required for the sqlite backend")
	}
	if (c.Kafka.Enabled || c.Feed.Source == "kafka") && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Feed.Source == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("feed.source kafka requires kafka.enabled")
	}
	return nil
}

// ModelPath is where the given strategy's checkpoint lives.
func (c *Config) ModelPath(strategy string) string {
	return filepath.Join(c.Model.Dir, strategy+"_model.json")
}
