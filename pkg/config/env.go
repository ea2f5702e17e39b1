package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides carries the secrets and endpoints that differ per deployment.
// Empty values leave the YAML setting untouched.
type envOverrides struct {
	Environment   string   `envconfig:"ENVIRONMENT"`
	Mode          string   `envconfig:"MODE"`
	LogLevel      string   `envconfig:"LOG_LEVEL"`
	Symbols       []string `envconfig:"SYMBOLS"`
	PostgresDSN   string   `envconfig:"POSTGRES_DSN"`
	RedisAddr     string   `envconfig:"REDIS_ADDR"`
	RedisPassword string   `envconfig:"REDIS_PASSWORD"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	ClickHouse    struct {
		Host     string `envconfig:"HOST"`
		Password string `envconfig:"PASSWORD"`
	} `envconfig:"CLICKHOUSE"`
	BridgeURL     string `envconfig:"BRIDGE_URL"`
	BridgeAPIKey  string `envconfig:"BRIDGE_API_KEY"`
	AdvisorURL    string `envconfig:"ADVISOR_URL"`
	AdvisorAPIKey string `envconfig:"ADVISOR_API_KEY"`
}

func readEnv() (*envOverrides, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("sweep", &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *envOverrides) apply(c *Config) {
	setString(&c.Environment, e.Environment)
	setString(&c.Mode, e.Mode)
	setString(&c.Log.Level, e.LogLevel)
	setString(&c.Postgres.DSN, e.PostgresDSN)
	setString(&c.Redis.Addr, e.RedisAddr)
	setString(&c.Redis.Password, e.RedisPassword)
	setString(&c.ClickHouse.Host, e.ClickHouse.Host)
	setString(&c.ClickHouse.Password, e.ClickHouse.Password)
	setString(&c.Bridge.BaseURL, e.BridgeURL)
	setString(&c.Bridge.APIKey, e.BridgeAPIKey)
	setString(&c.Advisor.URL, e.AdvisorURL)
	setString(&c.Advisor.APIKey, e.AdvisorAPIKey)

	if len(e.Symbols) > 0 {
		c.Driver.Symbols = e.Symbols
	}
	if len(e.KafkaBrokers) > 0 {
		c.Kafka.Brokers = e.KafkaBrokers
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
