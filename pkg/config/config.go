package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	// Mode selects the storage and broker wiring: "live" uses postgres/redis,
	// "paper" keeps sessions in memory.
	Mode string `yaml:"mode" default:"paper" validate:"oneof=live paper"`

	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Advisor    AdvisorConfig    `yaml:"advisor"`
	Driver     DriverConfig     `yaml:"driver"`
	Strategy   Strategy         `yaml:"strategy"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Topics       struct {
		Audit      string `yaml:"audit" default:"sweeptrader.audit"`
		TradeClose string `yaml:"trade_close" default:"sweeptrader.trade-close"`
		Logs       string `yaml:"logs" default:"sweeptrader.logs"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"sweeptrader"`
		Workers    int           `yaml:"workers" default:"1"`
		BufferSize int           `yaml:"buffer_size" default:"64"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"sweeptrader.trade-close.dlq"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"sweeptrader"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	QueryTimeout    time.Duration `yaml:"query_timeout" default:"5s"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"sweeptrader"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	// Queue receives trade-close events when kafka is disabled.
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"1"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	} `yaml:"queue"`
}

type BridgeConfig struct {
	BaseURL         string        `yaml:"base_url" default:"http://localhost:5005"`
	StreamURL       string        `yaml:"stream_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout" default:"10s"`
	QuoteMaxAge     time.Duration `yaml:"quote_max_age" default:"5s"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval    time.Duration `yaml:"ping_interval" default:"30s"`
	OrderAttempts   int           `yaml:"order_attempts" default:"3" validate:"gte=1"`
	OrderBackoff    time.Duration `yaml:"order_backoff" default:"300ms"`
	OrderMaxBackoff time.Duration `yaml:"order_max_backoff" default:"2s"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" default:"30s"`
}

type CalendarConfig struct {
	Enabled       bool          `yaml:"enabled" default:"true"`
	URL           string        `yaml:"url" default:"https://nfs.faireconomy.media/ff_calendar_thisweek.json"`
	Timeout       time.Duration `yaml:"timeout" default:"10s"`
	CacheTTL      time.Duration `yaml:"cache_ttl" default:"30m"`
	Horizon       time.Duration `yaml:"horizon" default:"2h"`
	RatePerMinute int           `yaml:"rate_per_minute" default:"6" validate:"gt=0"`
	Attempts      int           `yaml:"attempts" default:"2" validate:"gte=1"`
}

type AdvisorConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout" default:"40s"`
	RatePerMinute int           `yaml:"rate_per_minute" default:"20" validate:"gt=0"`
}

type DriverConfig struct {
	Symbols        []string      `yaml:"symbols" default:"[\"XAUUSD\"]" validate:"min=1,dive,required"`
	TickInterval   time.Duration `yaml:"tick_interval" default:"30s"`
	ErrorBackoff   time.Duration `yaml:"error_backoff" default:"5s"`
	HealthInterval time.Duration `yaml:"health_interval" default:"5m"`
	LockTTL        time.Duration `yaml:"lock_ttl" default:"2m"`
}

// Load reads a YAML file on top of the struct defaults and validates the result.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv is Load with SWEEP_* environment overrides (optionally sourced
// from a .env file) applied before validation.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}

	env, err := readEnv()
	if err != nil {
		return nil, fmt.Errorf("read env overrides: %w", err)
	}
	env.apply(c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if path == "" {
		return &c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

var validate = validator.New()

// Validate checks struct tags first, then the rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Mode == "live" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required in live mode")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Redis.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("redis.queue requires redis.enabled")
	}
	if c.Advisor.Enabled && c.Advisor.URL == "" {
		return fmt.Errorf("advisor.url is required when the advisor is enabled")
	}
	for i, s := range c.Driver.Symbols {
		c.Driver.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return c.Strategy.Validate()
}
