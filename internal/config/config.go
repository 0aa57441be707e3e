package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "RESEARCH"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Research ResearchConfig `mapstructure:"research"`
	Rates    RatesConfig    `mapstructure:"rates"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type BrowserConfig struct {
	Kind           string        `mapstructure:"kind"`
	UserDataDir    string        `mapstructure:"user_data_dir"`
	Profile        string        `mapstructure:"profile"`
	ExecutablePath string        `mapstructure:"executable_path"`
	Headless       bool          `mapstructure:"headless"`
	Args           []string      `mapstructure:"args"`
	Timeout        time.Duration `mapstructure:"timeout"`
	LockWait       time.Duration `mapstructure:"lock_wait"`
	LockPoll       time.Duration `mapstructure:"lock_poll"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	Locale         string        `mapstructure:"locale"`
	TimezoneID     string        `mapstructure:"timezone_id"`
}

type ResearchConfig struct {
	SitesFile         string        `mapstructure:"sites_file"`
	MaxPages          int           `mapstructure:"max_pages"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PageChangeTimeout time.Duration `mapstructure:"page_change_timeout"`
	NavigateRetries   int           `mapstructure:"navigate_retries"`
	RateLimitMin      time.Duration `mapstructure:"rate_limit_min"`
	RateLimitMax      time.Duration `mapstructure:"rate_limit_max"`
	MaxRetries        int           `mapstructure:"max_retries"`
	QueueBatchSize    int           `mapstructure:"queue_batch_size"`
}

type RatesConfig struct {
	Workbook       string  `mapstructure:"workbook"`
	ExchangeRate   float64 `mapstructure:"exchange_rate"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	ExtraFees      float64 `mapstructure:"extra_fees"`
}

type StorageConfig struct {
	Dir       string `mapstructure:"dir"`
	WriteXLSX bool   `mapstructure:"write_xlsx"`
}

type DatabaseConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	DBName      string        `mapstructure:"dbname"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_life"`
	MaxConnIdle time.Duration `mapstructure:"max_conn_idle"`
	Migrate     bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

type RelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SetDefaults registers every key, which also lets AutomaticEnv resolve
// RESEARCH_* variables during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("browser.kind", "edge")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.profile", "")
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.args", []string{
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--start-maximized",
	})
	v.SetDefault("browser.timeout", "30s")
	v.SetDefault("browser.lock_wait", "5s")
	v.SetDefault("browser.lock_poll", "500ms")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.locale", "zh-CN")
	v.SetDefault("browser.timezone_id", "Asia/Shanghai")

	v.SetDefault("research.sites_file", "")
	v.SetDefault("research.max_pages", 0)
	v.SetDefault("research.poll_interval", "500ms")
	v.SetDefault("research.page_change_timeout", "15s")
	v.SetDefault("research.navigate_retries", 3)
	v.SetDefault("research.rate_limit_min", "5s")
	v.SetDefault("research.rate_limit_max", "30s")
	v.SetDefault("research.max_retries", 3)
	v.SetDefault("research.queue_batch_size", 10)

	v.SetDefault("rates.workbook", "rates.xlsx")
	v.SetDefault("rates.exchange_rate", 0.08)
	v.SetDefault("rates.commission_rate", 0.15)
	v.SetDefault("rates.extra_fees", 0.0)

	v.SetDefault("storage.dir", "results")
	v.SetDefault("storage.write_xlsx", true)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "product_research")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_life", "1h")
	v.SetDefault("database.max_conn_idle", "30m")
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "stream:product_research")

	v.SetDefault("relay.poll_interval", "5s")
	v.SetDefault("relay.batch_size", 100)
	v.SetDefault("relay.stream_max_len", 100000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// NewViper returns a viper instance with defaults and env binding. When
// path is empty, ./config.yaml is read if it exists.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func Load(path string) (*Config, error) {
	v := NewViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if c.Research.RateLimitMin > c.Research.RateLimitMax {
		return fmt.Errorf("research.rate_limit_min cannot be greater than research.rate_limit_max")
	}

	if c.Research.MaxPages < 0 {
		return fmt.Errorf("research.max_pages cannot be negative")
	}

	if c.Research.MaxRetries < 0 {
		return fmt.Errorf("research.max_retries cannot be negative")
	}

	if c.Research.QueueBatchSize < 1 {
		return fmt.Errorf("research.queue_batch_size must be at least 1")
	}

	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("browser.timeout must be positive")
	}

	if c.Rates.ExchangeRate <= 0 {
		return fmt.Errorf("rates.exchange_rate must be positive")
	}

	if c.Rates.CommissionRate < 0 || c.Rates.CommissionRate >= 1 {
		return fmt.Errorf("rates.commission_rate must be in [0, 1)")
	}

	if c.Database.Enabled && c.Database.Port <= 0 {
		return fmt.Errorf("database.port must be positive")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("relay.batch_size must be at least 1")
	}

	if c.Relay.StreamMaxLen < 0 {
		return fmt.Errorf("relay.stream_max_len cannot be negative")
	}

	return nil
}
