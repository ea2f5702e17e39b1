package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, []string{"XAUUSD"}, cfg.Driver.Symbols)
	assert.Equal(t, 30*time.Second, cfg.Driver.TickInterval)
	assert.Equal(t, 2*time.Minute, cfg.Driver.LockTTL)
	assert.Equal(t, 10.0, cfg.Strategy.Threshold.FloorPips)
	assert.Equal(t, 0.09, cfg.Strategy.Threshold.RangePct)
	assert.Equal(t, 1.3, cfg.Strategy.Displacement.KNormal)
	assert.Equal(t, 30*time.Minute, cfg.Strategy.Confirmation.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Strategy.Retest.Window())
	assert.Equal(t, []string{"10:30", "15:00"}, cfg.Strategy.Confluence.AuctionTimes)
	assert.Equal(t, 2, cfg.Strategy.Risk.DailyTradeLimit)
	assert.Equal(t, 30*time.Minute, cfg.Strategy.Cooldown.AfterTrade)
	assert.Equal(t, 3, cfg.Bridge.OrderAttempts)
	assert.Equal(t, 300*time.Millisecond, cfg.Bridge.OrderBackoff)
	assert.Equal(t, 40*time.Second, cfg.Advisor.Timeout)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode: live
postgres:
  dsn: postgres://localhost/sweep
driver:
  symbols: [" eurusd "]
  tick_interval: 10s
strategy:
  threshold:
    floor_pips: 12
  risk:
    daily_trade_limit: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, []string{"EURUSD"}, cfg.Driver.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Driver.TickInterval)
	assert.Equal(t, 12.0, cfg.Strategy.Threshold.FloorPips)
	assert.Equal(t, 3, cfg.Strategy.Risk.DailyTradeLimit)
	assert.Equal(t, 0.5, cfg.Strategy.Threshold.ATRCoefficient, "untouched keys keep defaults")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"live without dsn", "mode: live", "postgres.dsn is required"},
		{"kafka without brokers", "kafka: {enabled: true, brokers: []}", "kafka.brokers"},
		{"advisor without url", "advisor: {enabled: true}", "advisor.url"},
		{"queue without redis", "redis: {queue: {enabled: true}}", "redis.queue requires redis.enabled"},
		{"sl buffer out of range", "strategy: {entry: {sl_buffer_pips: 7}}", "SLBufferPips"},
		{"bad clock", "strategy: {asian_session: {end: '6am'}}", "invalid clock time"},
		{"grades not increasing", "strategy: {range_grade: {tight_max: 200}}", "strictly increasing"},
		{"unknown mode", "mode: backtest", "Mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadWithEnv(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("SWEEP_MODE", "live")
	t.Setenv("SWEEP_POSTGRES_DSN", "postgres://db/sweep")
	t.Setenv("SWEEP_SYMBOLS", "XAUUSD,EURUSD")
	t.Setenv("SWEEP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SWEEP_CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("SWEEP_BRIDGE_API_KEY", "secret")

	cfg, err := LoadWithEnv("")
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, "postgres://db/sweep", cfg.Postgres.DSN)
	assert.Equal(t, []string{"XAUUSD", "EURUSD"}, cfg.Driver.Symbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ch.internal", cfg.ClickHouse.Host)
	assert.Equal(t, "secret", cfg.Bridge.APIKey)
	assert.Equal(t, "info", cfg.Log.Level, "unset overrides leave config alone")
}

func TestStrategy_Instrument(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	in, err := cfg.Strategy.Instrument("xauusd")
	require.NoError(t, err)
	assert.Equal(t, 0.1, in.PipSize)

	_, err = cfg.Strategy.Instrument("BTCUSD")
	assert.ErrorContains(t, err, "no pip metadata")
}
