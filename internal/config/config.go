package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/baebong3/fruitbasket-legal/internal/cache"
	"github.com/baebong3/fruitbasket-legal/internal/store"
	"github.com/baebong3/fruitbasket-legal/internal/transform"
	"github.com/baebong3/fruitbasket-legal/internal/trend"
)

// EnvPrefix prefixes every environment override, e.g. AGRI_TELEGRAM_BOT_TOKEN.
// Leaf fields use split_words rather than explicit keys so that envconfig
// never falls back to an unprefixed variable such as PATH.
const EnvPrefix = "AGRI"

// Config holds all application configuration.
type Config struct {
	DataSource DataSourceConfig `yaml:"data_source" envconfig:"DATA_SOURCE"`
	Collector  CollectorConfig  `yaml:"collector" envconfig:"COLLECTOR"`
	Cleaner    CleanerConfig    `yaml:"cleaner" envconfig:"CLEANER"`
	Trend      TrendConfig      `yaml:"trend" envconfig:"TREND"`
	Compare    CompareConfig    `yaml:"compare" envconfig:"COMPARE"`
	Schedule   ScheduleConfig   `yaml:"schedule" envconfig:"SCHEDULE"`
	Store      StoreConfig      `yaml:"store" envconfig:"STORE"`
	Cache      CacheConfig      `yaml:"cache" envconfig:"CACHE"`
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Telegram   TelegramConfig   `yaml:"telegram" envconfig:"TELEGRAM"`
	Kafka      KafkaConfig      `yaml:"kafka" envconfig:"KAFKA"`
	Report     ReportConfig     `yaml:"report" envconfig:"REPORT"`
	RunLog     RunLogConfig     `yaml:"run_log" envconfig:"RUN_LOG"`
	Log        LogConfig        `yaml:"log" envconfig:"LOG"`

	Units map[string]transform.UnitConfig `yaml:"units" ignored:"true"`
	Proxy string                          `yaml:"proxy" split_words:"true"`
}

// DataSourceConfig selects the upstream price listing.
type DataSourceConfig struct {
	Kind        string   `yaml:"kind" split_words:"true" validate:"oneof=kamis mock"`
	BaseURL     string   `yaml:"base_url" split_words:"true" validate:"omitempty,url"`
	CertKey     string   `yaml:"cert_key" split_words:"true" validate:"required_if=Kind kamis"`
	CertID      string   `yaml:"cert_id" split_words:"true" validate:"required_if=Kind kamis"`
	Rows        int      `yaml:"rows" split_words:"true" validate:"gte=0"`
	ItemCodes   []string `yaml:"item_codes" split_words:"true"`
	MarketCodes []string `yaml:"market_codes" split_words:"true"`
	// MockFile is a JSON array of raw records served by the mock source.
	MockFile string `yaml:"mock_file" split_words:"true"`
}

// CollectorConfig bounds fan-out, pagination and retries.
type CollectorConfig struct {
	Workers        int           `yaml:"workers" split_words:"true" validate:"gte=1"`
	MaxPages       int           `yaml:"max_pages" split_words:"true" validate:"gte=1"`
	RatePerSecond  float64       `yaml:"rate_per_second" split_words:"true" validate:"gte=0"`
	Burst          int           `yaml:"burst" split_words:"true" validate:"gte=1"`
	MaxAttempts    int           `yaml:"max_attempts" split_words:"true" validate:"gte=1"`
	BackoffUnit    time.Duration `yaml:"backoff_unit" split_words:"true" validate:"gt=0"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" split_words:"true" validate:"gt=0"`
	LookbackDays   int           `yaml:"lookback_days" split_words:"true" validate:"gte=0"`
}

// CleanerConfig picks the dedup strategy.
type CleanerConfig struct {
	Strategy   string         `yaml:"strategy" split_words:"true" validate:"oneof=last-seen highest-confidence"`
	SourceRank map[string]int `yaml:"source_rank" split_words:"true"`
}

// TrendConfig tunes the analyzer.
type TrendConfig struct {
	Window           int                 `yaml:"window" split_words:"true" validate:"gte=1"`
	AnomalyThreshold float64             `yaml:"anomaly_threshold" split_words:"true" validate:"gt=0"`
	Levels           []trend.LevelConfig `yaml:"levels" ignored:"true" validate:"dive"`
}

type CompareConfig struct {
	SeasonalYears int `yaml:"seasonal_years" split_words:"true" validate:"gte=0"`
}

// ScheduleConfig uses six-field cron expressions (with seconds).
type ScheduleConfig struct {
	DailyCron  string `yaml:"daily_cron" split_words:"true" validate:"required"`
	Timezone   string `yaml:"timezone" split_words:"true" validate:"required"`
	RunOnStart bool   `yaml:"run_on_start" split_words:"true"`
}

// StoreConfig selects and configures the persistent store.
type StoreConfig struct {
	Driver string           `yaml:"driver" split_words:"true" validate:"oneof=sqlite postgres pebble memory"`
	Path   string           `yaml:"path" split_words:"true" validate:"required_if=Driver sqlite,required_if=Driver pebble"`
	DSN    string           `yaml:"dsn" split_words:"true" validate:"required_if=Driver postgres"`
	Pool   store.PoolConfig `yaml:"pool" envconfig:"POOL"`
	// StaleAfter frees an in_progress run marker this old, so a crashed run
	// does not block its interval. Zero keeps markers until cleared by hand.
	StaleAfter time.Duration `yaml:"stale_after" split_words:"true" validate:"gte=0"`
}

// CacheConfig fronts the read API. An empty Redis.Addr selects the in-memory cache.
type CacheConfig struct {
	TTL   time.Duration     `yaml:"ttl" split_words:"true" validate:"gte=0"`
	Redis cache.RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" split_words:"true" validate:"required"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
}

// TelegramConfig is optional; notifications are disabled without a token.
type TelegramConfig struct {
	BotToken     string `yaml:"bot_token" split_words:"true"`
	ChatID       string `yaml:"chat_id" split_words:"true" validate:"required_with=BotToken"`
	MaxAnomalies int    `yaml:"max_anomalies" split_words:"true" validate:"gte=0"`
}

// KafkaConfig is optional; events are not published without brokers.
type KafkaConfig struct {
	Brokers string `yaml:"brokers" split_words:"true"`
	Topic   string `yaml:"topic" split_words:"true" validate:"required_with=Brokers"`
}

// ReportConfig enables a workbook per completed run when Dir is set.
type ReportConfig struct {
	Dir string `yaml:"dir" split_words:"true"`
}

type RunLogConfig struct {
	Path     string `yaml:"path" split_words:"true"`
	Capacity int    `yaml:"capacity" split_words:"true" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" split_words:"true" validate:"oneof=json console"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "config: read %s", path)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, eris.Wrapf(err, "config: parse %s", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, eris.Wrap(err, "config: environment overrides")
	}
	if cfg.Proxy == "" {
		cfg.Proxy = os.Getenv("HTTPS_PROXY")
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataSource.Kind == "" {
		c.DataSource.Kind = "kamis"
	}
	if c.DataSource.BaseURL == "" && c.DataSource.Kind == "kamis" {
		c.DataSource.BaseURL = "https://www.kamis.or.kr/service/price/xml.do"
	}
	if c.DataSource.Rows == 0 {
		c.DataSource.Rows = 100
	}
	if c.Collector.Workers == 0 {
		c.Collector.Workers = 4
	}
	if c.Collector.MaxPages == 0 {
		c.Collector.MaxPages = 500
	}
	if c.Collector.Burst == 0 {
		c.Collector.Burst = 1
	}
	if c.Collector.RatePerSecond == 0 {
		c.Collector.RatePerSecond = 5
	}
	if c.Collector.MaxAttempts == 0 {
		c.Collector.MaxAttempts = 3
	}
	if c.Collector.BackoffUnit == 0 {
		c.Collector.BackoffUnit = time.Second
	}
	if c.Collector.AttemptTimeout == 0 {
		c.Collector.AttemptTimeout = 30 * time.Second
	}
	if c.Cleaner.Strategy == "" {
		c.Cleaner.Strategy = string(transform.DedupLastSeen)
	}
	if c.Trend.Window == 0 {
		c.Trend.Window = trend.DefaultWindow
	}
	if c.Trend.AnomalyThreshold == 0 {
		c.Trend.AnomalyThreshold = trend.DefaultAnomalyThreshold.InexactFloat64()
	}
	if c.Compare.SeasonalYears == 0 {
		c.Compare.SeasonalYears = 5
	}
	if c.Schedule.DailyCron == "" {
		c.Schedule.DailyCron = "0 30 18 * * *"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Asia/Seoul"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "sqlite":
			c.Store.Path = "data/agri.db"
		case "pebble":
			c.Store.Path = "data/agri.pebble"
		}
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = cache.DefaultTTL
	}
	if c.Cache.Redis.TTL == 0 {
		c.Cache.Redis.TTL = c.Cache.TTL
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Telegram.MaxAnomalies == 0 {
		c.Telegram.MaxAnomalies = 10
	}
	if c.RunLog.Path == "" {
		c.RunLog.Path = "data/runs.json"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks field constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return eris.Wrapf(err, "config: schedule.timezone %q", c.Schedule.Timezone)
	}
	if _, err := trend.LevelsFromConfig(c.Trend.Levels); err != nil {
		return eris.Wrap(err, "config: trend.levels")
	}
	if _, err := transform.UnitsFromConfig(c.Units); err != nil {
		return eris.Wrap(err, "config: units")
	}
	return nil
}

// Location returns the scheduling time zone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
