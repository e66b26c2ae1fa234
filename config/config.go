// Package config loads engine settings from an optional YAML file and
// KESTREL_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "KESTREL"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	WAL      WALConfig      `mapstructure:"wal"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type EngineConfig struct {
	Symbols   []string `mapstructure:"symbols"`
	QueueSize int      `mapstructure:"queue_size"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type WALConfig struct {
	Dir             string        `mapstructure:"dir"`
	SegmentSize     int64         `mapstructure:"segment_size"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	Sync            bool          `mapstructure:"sync"`
}

type OutboxConfig struct {
	Dir  string `mapstructure:"dir"`
	Sync bool   `mapstructure:"sync"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Driver       string        `mapstructure:"driver"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   uint32        `mapstructure:"max_retries"`
}

type SnapshotConfig struct {
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
	Depth    int           `mapstructure:"depth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("engine.symbols", []string{"BTC-USD"})
	v.SetDefault("engine.queue_size", 1024)

	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("wal.dir", "data/wal")
	v.SetDefault("wal.segment_size", 64<<20)
	v.SetDefault("wal.segment_duration", time.Hour)
	v.SetDefault("wal.sync", false)

	v.SetDefault("outbox.dir", "data/outbox")
	v.SetDefault("outbox.sync", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.driver", "sarama")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "kestrel.events")
	v.SetDefault("kafka.poll_interval", 250*time.Millisecond)
	v.SetDefault("kafka.batch_size", 512)
	v.SetDefault("kafka.max_retries", 10)

	v.SetDefault("snapshot.dir", "data/snapshots")
	v.SetDefault("snapshot.interval", time.Minute)
	v.SetDefault("snapshot.depth", 10)
}

// Load reads path if it is non-empty, then applies environment
// overrides such as KESTREL_GRPC_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "config file %s", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs error
	if len(c.Engine.Symbols) == 0 {
		errs = errors.CombineErrors(errs, errors.New("engine.symbols must not be empty"))
	}
	seen := make(map[string]bool, len(c.Engine.Symbols))
	for _, s := range c.Engine.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = errors.CombineErrors(errs, errors.New("engine.symbols contains an empty symbol"))
		}
		if seen[s] {
			errs = errors.CombineErrors(errs, errors.Newf("engine.symbols lists %q twice", s))
		}
		seen[s] = true
	}
	if c.Engine.QueueSize <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("engine.queue_size must be positive, got %d", c.Engine.QueueSize))
	}
	switch c.Kafka.Driver {
	case "sarama", "kafka-go":
	default:
		errs = errors.CombineErrors(errs, errors.Newf("kafka.driver %q is not sarama or kafka-go", c.Kafka.Driver))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = errors.CombineErrors(errs, errors.New("kafka.brokers must not be empty when kafka is enabled"))
	}
	if c.Kafka.PollInterval <= 0 {
		errs = errors.CombineErrors(errs, errors.New("kafka.poll_interval must be positive"))
	}
	if c.Snapshot.Interval < 0 {
		errs = errors.CombineErrors(errs, errors.New("snapshot.interval must not be negative"))
	}
	return errs
}
