package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"whale-relay/internal/logging"
)

// Dedup backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerting AlertingConfig `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the inbound webhook listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	DebugLog        bool          `mapstructure:"debug_log"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SecurityConfig holds request signing and destination policy.
type SecurityConfig struct {
	HMACSecret      string   `mapstructure:"hmac_secret"`
	SignatureHeader string   `mapstructure:"signature_header"`
	DefaultChatID   string   `mapstructure:"default_chat_id"`
	AllowChatIDs    []string `mapstructure:"allow_chat_ids"`
}

// DedupConfig selects the idempotency backend.
type DedupConfig struct {
	Backend         string        `mapstructure:"backend"`
	TTL             time.Duration `mapstructure:"ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// RedisConfig covers the shared dedup backend.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines delivery behaviour.
type AlertingConfig struct {
	Silent    bool           `mapstructure:"silent"`
	DebugEcho bool           `mapstructure:"debug_echo"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
	Retry     RetryConfig    `mapstructure:"retry"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RetryConfig bounds delivery retries.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

// legacyEnv maps keys to the bare environment names used by existing deployments.
var legacyEnv = map[string]string{
	"alerting.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
	"security.default_chat_id":    "DEFAULT_CHAT_ID",
	"security.hmac_secret":        "HMAC_SECRET",
	"security.allow_chat_ids":     "ALLOW_CHAT_IDS",
	"alerting.silent":             "ABSOLUTE_SILENCE",
	"alerting.debug_echo":         "DEBUG_ECHO",
	"server.debug_log":            "DEBUG_LOG",
	"server.port":                 "PORT",
}

const envPrefix = "WHALERELAY"

// Load builds configuration from env files, file, environment, and defaults.
// With no envFiles, ./.env is read when present. Variables already set win.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// bindLegacyEnv lets WHALERELAY_* win over the bare names.
func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "whale-relay")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", int64(5<<20))
	v.SetDefault("server.debug_log", false)

	v.SetDefault("security.signature_header", "X-Signature")
	v.SetDefault("security.allow_chat_ids", []string{})

	v.SetDefault("dedup.backend", BackendMemory)
	v.SetDefault("dedup.ttl", "5m")
	v.SetDefault("dedup.sweep_interval", "1m")
	v.SetDefault("dedup.key_prefix", "whale-relay:dedup:")
	v.SetDefault("dedup.advisory_lock_key", int64(0x77686c72))

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.silent", true)
	v.SetDefault("alerting.debug_echo", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.retry.max_attempts", 4)
	v.SetDefault("alerting.retry.initial_delay", "250ms")
	v.SetDefault("alerting.retry.max_delay", "10s")
	v.SetDefault("alerting.retry.backoff_factor", 2.0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalise() {
	ids := c.Security.AllowChatIDs[:0]
	for _, id := range c.Security.AllowChatIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.Security.AllowChatIDs = ids
	c.Dedup.Backend = strings.ToLower(strings.TrimSpace(c.Dedup.Backend))
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be greater than zero")
	}
	if c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup.ttl must be greater than zero")
	}
	switch c.Dedup.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url 必须配置 (dedup.backend=redis)")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn 必须配置 (dedup.backend=postgres)")
		}
	default:
		return fmt.Errorf("dedup.backend must be one of memory, redis, postgres; got %q", c.Dedup.Backend)
	}
	if c.Alerting.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("alerting.retry.max_attempts must be greater than zero")
	}
	return nil
}
