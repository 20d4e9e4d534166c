package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baebong3/fruitbasket-legal/internal/trend"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "kamis", cfg.DataSource.Kind)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/agri.db", cfg.Store.Path)
	assert.Equal(t, "last-seen", cfg.Cleaner.Strategy)
	assert.Equal(t, 7, cfg.Trend.Window)
	assert.InDelta(t, 0.20, cfg.Trend.AnomalyThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Compare.SeasonalYears)
	assert.Equal(t, "Asia/Seoul", cfg.Schedule.Timezone)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
data_source:
  kind: mock
  item_codes: ["211", "212"]
collector:
  workers: 2
  backoff_unit: 500ms
store:
  driver: pebble
  path: /tmp/agri
trend:
  window: 5
  levels:
    - {bound: 1.3, label: surge}
    - {bound: 1.0, inclusive: true, label: normal}
units:
  "211":
    canonical: kg
    factors: {box: 10}
telegram:
  bot_token: file-token
  chat_id: "1"
`)
	t.Setenv("AGRI_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("AGRI_STORE_DRIVER", "memory")
	t.Setenv("AGRI_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("AGRI_KAFKA_TOPIC", "agri")
	t.Setenv("AGRI_STORE_STALE_AFTER", "6h")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "/tmp/agri", cfg.Store.Path)
	assert.Equal(t, 6*time.Hour, cfg.Store.StaleAfter)
	assert.Equal(t, []string{"211", "212"}, cfg.DataSource.ItemCodes)
	assert.Equal(t, 2, cfg.Collector.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Collector.BackoffUnit)
	assert.Equal(t, 5, cfg.Trend.Window)
	assert.Len(t, cfg.Trend.Levels, 2)
	assert.Equal(t, "kg", cfg.Units["211"].Canonical)
	assert.Equal(t, "a:9092, b:9092", cfg.Kafka.Brokers)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "store: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		cfg.DataSource.CertKey = "key"
		cfg.DataSource.CertID = "id"
		return cfg
	}

	t.Run("defaults with credentials", func(t *testing.T) {
		assert.NoError(t, valid(t).Validate())
	})

	cases := map[string]func(*Config){
		"kamis without credentials": func(c *Config) { c.DataSource.CertKey = "" },
		"unknown driver":            func(c *Config) { c.Store.Driver = "mysql" },
		"postgres without dsn":      func(c *Config) { c.Store.Driver = "postgres" },
		"unknown strategy":          func(c *Config) { c.Cleaner.Strategy = "random" },
		"token without chat":        func(c *Config) { c.Telegram.BotToken = "t" },
		"brokers without topic":     func(c *Config) { c.Kafka.Brokers = "a:9092" },
		"bad timezone":              func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
		"bad log level":             func(c *Config) { c.Log.Level = "loud" },
		"negative stale cutoff":     func(c *Config) { c.Store.StaleAfter = -time.Hour },
		"unordered levels": func(c *Config) {
			c.Trend.Levels = nil
			c.Trend.Levels = append(c.Trend.Levels,
				levelCfg(1.0, "normal"), levelCfg(1.3, "surge"))
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid(t)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInitLogger(t *testing.T) {
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}

func levelCfg(bound float64, label string) trend.LevelConfig {
	return trend.LevelConfig{Bound: bound, Label: label}
}
