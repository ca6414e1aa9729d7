package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Redis  RedisConfig
	AMQP   AMQPConfig
	Fanout FanoutConfig
	Spool  SpoolConfig
	Ingest IngestConfig
	Log    LogConfig
}

type ServerConfig struct {
	Address        string
	RequestTimeout time.Duration
	CORSOrigins    []string
}

type StoreConfig struct {
	Backend     string
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	Channel  string
}

type AMQPConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}

type FanoutConfig struct {
	Buffer int
}

// SpoolConfig drives the directory poller. It is disabled when Dir is
// empty.
type SpoolConfig struct {
	Enabled  bool
	Dir      string
	Interval time.Duration
}

type IngestConfig struct {
	BusinessPhone string
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

// LoadAll reads the whole configuration from the environment. Every
// problem found is reported, joined into one error.
func LoadAll() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:        getEnv("SERVER_ADDRESS", ":8080"),
			RequestTimeout: time.Duration(intVar("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
			CORSOrigins:    splitList(os.Getenv("CORS_ORIGINS")),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		},
		Fanout: FanoutConfig{
			Buffer: intVar("FANOUT_BUFFER", 256),
		},
		Spool: SpoolConfig{
			Dir:      os.Getenv("SPOOL_DIR"),
			Interval: time.Duration(intVar("SPOOL_INTERVAL_SECONDS", 30)) * time.Second,
		},
		Ingest: IngestConfig{
			BusinessPhone: os.Getenv("BUSINESS_PHONE"),
		},
	}
	cfg.Spool.Enabled = cfg.Spool.Dir != ""

	if cfg.Store.Backend == BackendPostgres {
		url, err := requireEnv("POSTGRES_URL")
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Store.PostgresURL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intVar("REDIS_DB", 0),
			Channel:  getEnv("REDIS_CHANNEL", "chat:events"),
		}
	}

	if url := os.Getenv("AMQP_URL"); url != "" {
		cfg.AMQP = AMQPConfig{
			Enabled:  true,
			URL:      url,
			Exchange: getEnv("AMQP_EXCHANGE", "chat.events"),
		}
	}

	logCfg, err := LoadLog()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Log = logCfg

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLog reads only the logging settings. Commands that need no other
// configuration use it to set up logging before anything else loads.
func LoadLog() (LogConfig, error) {
	cfg := LogConfig{Format: strings.ToLower(getEnv("LOG_FORMAT", "text"))}
	return cfg, cfg.Set(getEnv("LOG_LEVEL", "info"), cfg.Format)
}

// Set applies a level and format, as given by flags, and validates them.
// An empty value keeps the current setting.
func (c *LogConfig) Set(level, format string) error {
	var errs []error
	if level != "" {
		if err := c.Level.UnmarshalText([]byte(level)); err != nil {
			errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
		}
	}
	if format != "" {
		c.Format = strings.ToLower(format)
	}
	if c.Format != "text" && c.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Format))
	}
	return joinErrors(errs)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Store.Backend != BackendPostgres && cfg.Store.Backend != BackendMemory {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, cfg.Store.Backend))
	}
	if cfg.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Fanout.Buffer <= 0 {
		errs = append(errs, errors.New("FANOUT_BUFFER must be > 0"))
	}
	if cfg.Spool.Interval <= 0 {
		errs = append(errs, errors.New("SPOOL_INTERVAL_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
