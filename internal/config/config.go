package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	Limiter LimiterConfig
	Guard   GuardConfig
	Admin   AdminConfig
	Jobs    JobsConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LimiterConfig holds the admission-control knobs: the persisted daily quota,
// the per-user burst bucket, the global bucket, and the user-facing denial copy.
// Denial templates substitute "{wait}" with a whole number of seconds.
type LimiterConfig struct {
	DailyTarget          float64
	DailyLimit           int
	BucketCapacity       float64
	GlobalBucketCapacity float64
	GlobalRefillTPS      float64
	MsgGlobalBusy        string
	MsgUserBusy          string
	MsgQuotaExceeded     string
}

// UserRefillTPS spreads the daily target over 24h as a continuous refill rate.
func (c LimiterConfig) UserRefillTPS() float64 {
	return c.DailyTarget / 86400.0
}

// GuardConfig configures the per-IP sliding-window flood guard on the HTTP API.
type GuardConfig struct {
	MaxReqs   int
	WindowSec int
}

type AdminConfig struct {
	APIKey string
}

type JobsConfig struct {
	CleanupInterval time.Duration
	SweepInterval   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		Limiter: LimiterConfig{
			DailyTarget:          k.Float64("daily.target"),
			DailyLimit:           k.Int("daily.limit"),
			BucketCapacity:       k.Float64("bucket.capacity"),
			GlobalBucketCapacity: k.Float64("global.bucket.capacity"),
			GlobalRefillTPS:      k.Float64("global.refill.rate.tps"),
			MsgGlobalBusy:        k.String("msg.global.busy"),
			MsgUserBusy:          k.String("msg.user.busy"),
			MsgQuotaExceeded:     k.String("msg.quota.exceeded"),
		},
		Guard: GuardConfig{
			MaxReqs:   k.Int("ipguard.max.reqs"),
			WindowSec: k.Int("ipguard.window.sec"),
		},
		Admin: AdminConfig{
			APIKey: k.String("admin.api.key"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "finsight"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "finsight"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Limiter.DailyTarget == 0 {
		cfg.Limiter.DailyTarget = 30
	}
	if cfg.Limiter.DailyLimit == 0 {
		cfg.Limiter.DailyLimit = 30
	}
	if cfg.Limiter.BucketCapacity == 0 {
		cfg.Limiter.BucketCapacity = 10
	}
	if cfg.Limiter.GlobalBucketCapacity == 0 {
		cfg.Limiter.GlobalBucketCapacity = 60
	}
	if cfg.Limiter.GlobalRefillTPS == 0 {
		cfg.Limiter.GlobalRefillTPS = 1.0
	}
	if cfg.Limiter.MsgGlobalBusy == "" {
		cfg.Limiter.MsgGlobalBusy = "The service is handling too many requests right now. Try again in {wait} seconds."
	}
	if cfg.Limiter.MsgUserBusy == "" {
		cfg.Limiter.MsgUserBusy = "Too many requests in a row. Try again in {wait} seconds."
	}
	if cfg.Limiter.MsgQuotaExceeded == "" {
		cfg.Limiter.MsgQuotaExceeded = "Daily free limit reached. Upgrade to Pro for unlimited requests."
	}
	if cfg.Guard.MaxReqs == 0 {
		cfg.Guard.MaxReqs = 120
	}
	if cfg.Guard.WindowSec == 0 {
		cfg.Guard.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cleanupStr := k.String("cleanup.interval")
	if cleanupStr == "" {
		cleanupStr = "24h"
	}
	cfg.Jobs.CleanupInterval, err = time.ParseDuration(cleanupStr)
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup interval: %w", err)
	}

	sweepStr := k.String("sweep.interval")
	if sweepStr == "" {
		sweepStr = "1h"
	}
	cfg.Jobs.SweepInterval, err = time.ParseDuration(sweepStr)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep interval: %w", err)
	}

	return cfg, nil
}
