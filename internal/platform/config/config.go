// Package config loads application settings: defaults, then an optional
// YAML file, then environment overrides. Environment always wins so
// deployments can patch a single value without editing the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv  = "STORESCOUT_CONFIG"
	addrEnv        = "STORESCOUT_ADDR"
	logLevelEnv    = "STORESCOUT_LOG_LEVEL"
	databaseDSNEnv = "DATABASE_DSN"
	redisURLEnv    = "REDIS_URL"
	kafkaBrokerEnv = "KAFKA_BROKERS"
	fallbackURLEnv = "STORESCOUT_PROBE_FALLBACK_URL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Probe    ProbeConfig    `yaml:"probe"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN runs
// the service on the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig describes the Redis connection used for the batch lease. An
// empty URL falls back to the in-process lease.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	LeaseKey     string        `yaml:"leaseKey"`
	LeaseTTL     time.Duration `yaml:"leaseTTL"`
}

// KafkaConfig describes the sighting feed. No brokers means the consumer
// stays off.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Group   string   `yaml:"group"`
}

// Enabled reports whether the Kafka consumer should run.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// PipelineConfig bounds batch runs and retry scheduling.
type PipelineConfig struct {
	Concurrency int           `yaml:"concurrency"`
	BatchLimit  int           `yaml:"batchLimit"`
	RetryBase   time.Duration `yaml:"retryBase"`
	RetryCap    time.Duration `yaml:"retryCap"`
}

// ProbeConfig tunes the outbound HTTP probes. A non-empty FallbackURL
// enables the rendering-proxy fallback behind a circuit breaker on the
// direct path.
type ProbeConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"userAgent"`
	FallbackURL string        `yaml:"fallbackURL"`
}

// LoggingConfig selects the log level (debug, info, warn, error).
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment
// overrides.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		// Decoding over the defaults keeps every value the file omits.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(addrEnv); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(redisURLEnv); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(kafkaBrokerEnv); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv(fallbackURLEnv); v != "" {
		c.Probe.FallbackURL = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			LeaseKey:     "storescout:pipeline:lease",
			LeaseTTL:     15 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic: "storescout.sightings",
			Group: "storescout",
		},
		Pipeline: PipelineConfig{
			Concurrency: 8,
			BatchLimit:  100,
			RetryBase:   15 * time.Minute,
			RetryCap:    24 * time.Hour,
		},
		Probe: ProbeConfig{
			Timeout:   10 * time.Second,
			UserAgent: "storescout/1.0",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
