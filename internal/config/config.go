// Package config loads the task core's boot-time configuration via
// viper, following the teacher's env-prefixed, read-once loader shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is read once at boot and never mutated afterward.
type Config struct {
	// StaleTimeout is the lease duration after which an in_progress
	// reservation is eligible for sweeper auto-unlock.
	StaleTimeout time.Duration

	// SweepInterval is how often the Stale Sweeper wakes; per §4.7 it must
	// be <= StaleTimeout/4.
	SweepInterval time.Duration

	// WriterRetryBudget bounds internal retries of a write transaction
	// before TransactionAborted surfaces to the caller.
	WriterRetryBudget int

	// QuerySlowLogThreshold flags queries exceeding this latency.
	QuerySlowLogThreshold time.Duration

	// EventQueueDepth bounds the Event Publisher's outgoing queue.
	EventQueueDepth int

	// Database connection parameters, used only when the Postgres store
	// backend is selected.
	DatabaseDSN string

	// SQSQueueURL, when set, routes published events to an AWS SQS sink
	// instead of the no-op sink.
	SQSQueueURL string

	// ListenAddress is the address the HTTP API binds to.
	ListenAddress string

	// RedisAddr, when set, attaches a two-tier (in-process LRU + Redis)
	// cache in front of the Query Engine's get_task_context reads.
	RedisAddr string

	// CacheTTL bounds how stale a cached get_task_context response may be.
	CacheTTL time.Duration

	// CacheL1Size is the in-process LRU's maximum entry count.
	CacheL1Size int
}

func defaults() *Config {
	return &Config{
		StaleTimeout:          24 * time.Hour,
		SweepInterval:         6 * time.Hour,
		WriterRetryBudget:     5,
		QuerySlowLogThreshold: 100 * time.Millisecond,
		EventQueueDepth:       1024,
		ListenAddress:         ":8080",
		CacheTTL:              15 * time.Second,
		CacheL1Size:           1000,
	}
}

// Load reads configuration from environment variables prefixed TASKCORE_
// (e.g. TASKCORE_STALE_TIMEOUT) and an optional config file, falling back
// to documented defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("taskcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("taskcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskcore")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := defaults()
	if v.IsSet("stale_timeout") {
		cfg.StaleTimeout = v.GetDuration("stale_timeout")
	}
	if v.IsSet("sweep_interval") {
		cfg.SweepInterval = v.GetDuration("sweep_interval")
	}
	if v.IsSet("writer_retry_budget") {
		cfg.WriterRetryBudget = v.GetInt("writer_retry_budget")
	}
	if v.IsSet("query_slow_log_threshold") {
		cfg.QuerySlowLogThreshold = v.GetDuration("query_slow_log_threshold")
	}
	if v.IsSet("event_queue_depth") {
		cfg.EventQueueDepth = v.GetInt("event_queue_depth")
	}
	cfg.DatabaseDSN = v.GetString("database_dsn")
	cfg.SQSQueueURL = v.GetString("sqs_queue_url")
	if v.IsSet("listen_address") {
		cfg.ListenAddress = v.GetString("listen_address")
	}
	cfg.RedisAddr = v.GetString("redis_addr")
	if v.IsSet("cache_ttl") {
		cfg.CacheTTL = v.GetDuration("cache_ttl")
	}
	if v.IsSet("cache_l1_size") {
		cfg.CacheL1Size = v.GetInt("cache_l1_size")
	}

	if cfg.SweepInterval > cfg.StaleTimeout/4 {
		cfg.SweepInterval = cfg.StaleTimeout / 4
	}
	return cfg, nil
}

// Default returns the documented defaults without touching the
// environment or filesystem — used by tests and as a fallback.
func Default() *Config {
	return defaults()
}
