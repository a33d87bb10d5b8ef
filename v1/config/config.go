// Package config loads the service configuration from IMAGETEXT_*
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backends for the turn state.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// Buses for turn change notifications.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
	BusKafka  = "kafka"
)

// Artifact caches.
const (
	CacheMemory    = "memory"
	CacheRistretto = "ristretto"
	CacheRedis     = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	Addr           string `env:"IMAGETEXT_ADDR"             envDefault:":8080"`
	LogLevel       string `env:"IMAGETEXT_LOG_LEVEL"        envDefault:"info"`
	TraceStdout    bool   `env:"IMAGETEXT_TRACE_STDOUT"     envDefault:"false"`
	MaxUploadBytes int64  `env:"IMAGETEXT_MAX_UPLOAD_BYTES" envDefault:"33554432"`

	LeaseTTL      time.Duration `env:"IMAGETEXT_LEASE_TTL"      envDefault:"120s"`
	IdleTimeout   time.Duration `env:"IMAGETEXT_IDLE_TIMEOUT"   envDefault:"120s"`
	WaiterTimeout time.Duration `env:"IMAGETEXT_WAITER_TIMEOUT" envDefault:"60s"`
	SweepInterval time.Duration `env:"IMAGETEXT_SWEEP_INTERVAL" envDefault:"5s"`
	QueueEnabled  bool          `env:"IMAGETEXT_QUEUE_ENABLED"  envDefault:"true"`
	MaxEngineRun  time.Duration `env:"IMAGETEXT_MAX_ENGINE_RUN" envDefault:"10m"`

	Languages   []string `env:"IMAGETEXT_LANGUAGES"    envSeparator:"," envDefault:"eng"`
	MaxPixels   int      `env:"IMAGETEXT_MAX_PIXELS"   envDefault:"40000000"`
	OptimizePDF bool     `env:"IMAGETEXT_OPTIMIZE_PDF" envDefault:"true"`

	ArtifactCache string        `env:"IMAGETEXT_ARTIFACT_CACHE" envDefault:"memory"`
	ArtifactTTL   time.Duration `env:"IMAGETEXT_ARTIFACT_TTL"   envDefault:"10m"`

	Backend          string `env:"IMAGETEXT_BACKEND"           envDefault:"memory"`
	SQLitePath       string `env:"IMAGETEXT_SQLITE_PATH"       envDefault:"imagetext.db"`
	RedisAddr        string `env:"IMAGETEXT_REDIS_ADDR"        envDefault:"localhost:6379"`
	RedisPassword    string `env:"IMAGETEXT_REDIS_PASSWORD"`
	RedisDB          int    `env:"IMAGETEXT_REDIS_DB"          envDefault:"0"`
	FirestoreProject string `env:"IMAGETEXT_FIRESTORE_PROJECT"`

	Bus          string   `env:"IMAGETEXT_BUS"           envDefault:"memory"`
	NATSURL      string   `env:"IMAGETEXT_NATS_URL"      envDefault:"nats://127.0.0.1:4222"`
	KafkaBrokers []string `env:"IMAGETEXT_KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom parses vars instead of the process environment when vars is not
// nil.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"lease ttl":      c.LeaseTTL,
		"idle timeout":   c.IdleTimeout,
		"waiter timeout": c.WaiterTimeout,
		"sweep interval": c.SweepInterval,
		"max engine run": c.MaxEngineRun,
		"artifact ttl":   c.ArtifactTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if err := oneOf("backend", c.Backend, BackendMemory, BackendSQLite, BackendRedis, BackendFirestore); err != nil {
		return err
	}
	if err := oneOf("bus", c.Bus, BusMemory, BusRedis, BusNATS, BusKafka); err != nil {
		return err
	}
	if err := oneOf("artifact cache", c.ArtifactCache, CacheMemory, CacheRistretto, CacheRedis); err != nil {
		return err
	}
	if c.Backend == BackendSQLite && strings.TrimSpace(c.SQLitePath) == "" {
		return fmt.Errorf("config: sqlite backend requires IMAGETEXT_SQLITE_PATH")
	}
	if c.Backend == BackendFirestore && strings.TrimSpace(c.FirestoreProject) == "" {
		return fmt.Errorf("config: firestore backend requires IMAGETEXT_FIRESTORE_PROJECT")
	}
	if c.Bus == BusKafka && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("config: kafka bus requires IMAGETEXT_KAFKA_BROKERS")
	}
	if len(c.Languages) == 0 {
		return fmt.Errorf("config: at least one recognition language is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: max upload bytes must be positive")
	}
	return nil
}

// NeedsRedis reports whether any component talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.Backend == BackendRedis || c.Bus == BusRedis || c.ArtifactCache == CacheRedis
}

// SlogLevel maps LogLevel onto slog levels, defaulting to Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("config: unknown %s %q (want one of %s)", name, v, strings.Join(allowed, ", "))
}
