package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Config holds pool daemon configuration
type Config struct {
	Server      ServerConfig            `json:"server" yaml:"server"`
	Client      ClientConfig            `json:"client" yaml:"client"`
	Nodes       []domain.NodeDescriptor `json:"nodes" yaml:"nodes"`
	Node        NodeConfig              `json:"node" yaml:"node"`
	Failover    FailoverConfig          `json:"failover" yaml:"failover"`
	Session     SessionConfig           `json:"session" yaml:"session"`
	Voice       VoiceConfig             `json:"voice" yaml:"voice"`
	Maintenance MaintenanceConfig       `json:"maintenance" yaml:"maintenance"`
	Redis       RedisConfig             `json:"redis" yaml:"redis"`
	Logger      logger.Config           `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// ClientConfig identifies this client to the nodes.
type ClientConfig struct {
	UserID     string `json:"user_id" yaml:"user_id"`
	ClientName string `json:"client_name" yaml:"client_name"`
}

type NodeConfig struct {
	ConnectTimeoutMS    int     `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	RequestTimeoutMS    int     `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	ReconnectTries      int     `json:"reconnect_tries" yaml:"reconnect_tries"`
	InfiniteReconnects  bool    `json:"infinite_reconnects" yaml:"infinite_reconnects"`
	ReconnectIntervalMS int     `json:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	BackoffBaseMS       int     `json:"backoff_base_ms" yaml:"backoff_base_ms"`
	BackoffMaxMS        int     `json:"backoff_max_ms" yaml:"backoff_max_ms"`
	BackoffMultiplier   float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	BackoffJitter       float64 `json:"backoff_jitter" yaml:"backoff_jitter"`
	AutoResume          bool    `json:"auto_resume" yaml:"auto_resume"`
	ResumeTimeoutSec    int     `json:"resume_timeout_sec" yaml:"resume_timeout_sec"`
	BreakerFailures     int     `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerOpenMS       int     `json:"breaker_open_ms" yaml:"breaker_open_ms"`
}

type FailoverConfig struct {
	Enabled               bool `json:"enabled" yaml:"enabled"`
	CooldownMS            int  `json:"cooldown_ms" yaml:"cooldown_ms"`
	MaxAttempts           int  `json:"max_attempts" yaml:"max_attempts"`
	MigrationRetries      int  `json:"migration_retries" yaml:"migration_retries"`
	MigrationRetryDelayMS int  `json:"migration_retry_delay_ms" yaml:"migration_retry_delay_ms"`
	BatchSize             int  `json:"batch_size" yaml:"batch_size"`
	RecordTTLMS           int  `json:"record_ttl_ms" yaml:"record_ttl_ms"`
}

type SessionConfig struct {
	BrokenTTLMS      int  `json:"broken_ttl_ms" yaml:"broken_ttl_ms"`
	MaxSnapshotQueue int  `json:"max_snapshot_queue" yaml:"max_snapshot_queue"`
	SettleDelayMS    int  `json:"settle_delay_ms" yaml:"settle_delay_ms"`
	ReconnectTries   int  `json:"reconnect_tries" yaml:"reconnect_tries"`
	ReconnectDelayMS int  `json:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	LeaveOnEnd       bool `json:"leave_on_end" yaml:"leave_on_end"`
	Autoplay         bool `json:"autoplay" yaml:"autoplay"`
	DefaultVolume    int  `json:"default_volume" yaml:"default_volume"`
	PersistTTLMS     int  `json:"persist_ttl_ms" yaml:"persist_ttl_ms"`
}

type VoiceConfig struct {
	PushStaleMS int `json:"push_stale_ms" yaml:"push_stale_ms"`
	// Channel is the redis pub/sub channel carrying voice gateway events.
	Channel string `json:"channel" yaml:"channel"`
	// CommandChannel is where join/leave commands are published.
	CommandChannel string `json:"command_channel" yaml:"command_channel"`
}

type MaintenanceConfig struct {
	IntervalMS    int `json:"interval_ms" yaml:"interval_ms"`
	ScoreCacheMS  int `json:"score_cache_ms" yaml:"score_cache_ms"`
	ScoreCacheMax int `json:"score_cache_max" yaml:"score_cache_max"`
	PersistEvery  int `json:"persist_every" yaml:"persist_every"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8095",
		},
		Client: ClientConfig{
			ClientName: "go-audio-node-pool/1.0",
		},
		Node: NodeConfig{
			ConnectTimeoutMS:    15000,
			RequestTimeoutMS:    10000,
			ReconnectTries:      5,
			ReconnectIntervalMS: 5000,
			BackoffBaseMS:       1000,
			BackoffMaxMS:        30000,
			BackoffMultiplier:   1.5,
			BackoffJitter:       0.2,
			AutoResume:          true,
			ResumeTimeoutSec:    60,
			BreakerFailures:     5,
			BreakerOpenMS:       10000,
		},
		Failover: FailoverConfig{
			Enabled:               true,
			CooldownMS:            5000,
			MaxAttempts:           3,
			MigrationRetries:      3,
			MigrationRetryDelayMS: 500,
			BatchSize:             10,
			RecordTTLMS:           600000, // 10m
		},
		Session: SessionConfig{
			BrokenTTLMS:      300000, // 5m
			MaxSnapshotQueue: 50,
			SettleDelayMS:    1000,
			ReconnectTries:   3,
			ReconnectDelayMS: 2000,
			DefaultVolume:    100,
			PersistTTLMS:     86400000, // 24h
		},
		Voice: VoiceConfig{
			PushStaleMS:    5000,
			Channel:        "voice:events",
			CommandChannel: "voice:commands",
		},
		Maintenance: MaintenanceConfig{
			IntervalMS:    60000,
			ScoreCacheMS:  5000,
			ScoreCacheMax: 256,
			PersistEvery:  1,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "pool:session:",
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "pool", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		// The logger is not initialized yet; an explicit path must exist.
		log.Printf("Config file not loaded, path: %s, error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, nil
	}

	return parsedCfg, nil
}

// MustLoad loads configuration or exits on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func millis(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (c NodeConfig) ConnectTimeout() time.Duration    { return millis(c.ConnectTimeoutMS, 15000) }
func (c NodeConfig) RequestTimeout() time.Duration    { return millis(c.RequestTimeoutMS, 10000) }
func (c NodeConfig) ReconnectInterval() time.Duration { return millis(c.ReconnectIntervalMS, 5000) }
func (c NodeConfig) BackoffBase() time.Duration       { return millis(c.BackoffBaseMS, 1000) }
func (c NodeConfig) BackoffMax() time.Duration        { return millis(c.BackoffMaxMS, 30000) }
func (c NodeConfig) BreakerOpen() time.Duration       { return millis(c.BreakerOpenMS, 10000) }
func (c NodeConfig) MaxReconnects() int               { return positive(c.ReconnectTries, 5) }

// ResumeTimeout is how long a node keeps our session after we drop off.
func (c NodeConfig) ResumeTimeout() time.Duration {
	return time.Duration(positive(c.ResumeTimeoutSec, 60)) * time.Second
}

func (c FailoverConfig) Cooldown() time.Duration { return millis(c.CooldownMS, 5000) }
func (c FailoverConfig) RecordTTL() time.Duration {
	return millis(c.RecordTTLMS, 600000)
}
func (c FailoverConfig) MigrationRetryDelay() time.Duration {
	return millis(c.MigrationRetryDelayMS, 500)
}
func (c FailoverConfig) Attempts() int { return positive(c.MaxAttempts, 3) }
func (c FailoverConfig) Retries() int  { return positive(c.MigrationRetries, 3) }
func (c FailoverConfig) Batch() int    { return positive(c.BatchSize, 10) }

func (c SessionConfig) BrokenTTL() time.Duration      { return millis(c.BrokenTTLMS, 300000) }
func (c SessionConfig) SettleDelay() time.Duration    { return millis(c.SettleDelayMS, 1000) }
func (c SessionConfig) ReconnectDelay() time.Duration { return millis(c.ReconnectDelayMS, 2000) }
func (c SessionConfig) PersistTTL() time.Duration     { return millis(c.PersistTTLMS, 86400000) }
func (c SessionConfig) SnapshotQueue() int            { return positive(c.MaxSnapshotQueue, 50) }
func (c SessionConfig) Reconnects() int               { return positive(c.ReconnectTries, 3) }

// Volume returns the starting volume clamped to the node range.
func (c SessionConfig) Volume() int {
	if c.DefaultVolume <= 0 {
		return 100
	}
	return min(c.DefaultVolume, 200)
}

func (c VoiceConfig) PushStale() time.Duration { return millis(c.PushStaleMS, 5000) }

func (c MaintenanceConfig) Interval() time.Duration   { return millis(c.IntervalMS, 60000) }
func (c MaintenanceConfig) ScoreCache() time.Duration { return millis(c.ScoreCacheMS, 5000) }
func (c MaintenanceConfig) ScoreCacheLimit() int      { return positive(c.ScoreCacheMax, 256) }
