// Package config loads the pipeline's environment-variable surface into a
// typed Config via viper, the way most of this corpus's service-shaped
// repos load configuration rather than hand-rolling os.Getenv parsing.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`

	BatchSize              int64         `mapstructure:"batch_size"`
	WorkerConcurrency      int           `mapstructure:"worker_concurrency"`
	EnableStreamRecovery   bool          `mapstructure:"enable_stream_recovery"`
	StreamRecoveryInterval time.Duration `mapstructure:"stream_recovery_interval"`
	StreamMinIdleTime      time.Duration `mapstructure:"stream_min_idle_time"`
	RuleSyncInterval       time.Duration `mapstructure:"rule_sync_interval"`

	RedisStreamKey       string `mapstructure:"redis_stream_key"`
	RedisConsumerGroup   string `mapstructure:"redis_consumer_group"`
	RedisConsumerName    string `mapstructure:"redis_consumer_name"`
	RedisRulesChannel    string `mapstructure:"redis_rules_channel"`
	RedisActionStreamKey string `mapstructure:"redis_action_stream_key"`

	RPCEnabled bool          `mapstructure:"rpc_enabled"`
	RPCURL     string        `mapstructure:"rpc_url"`
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from the process environment, applying the
// same defaults the original implementation's settings module used, and
// decodes it into Config via mapstructure's string-to-duration hook so
// "30s"-style env values land directly in time.Duration fields.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("database_url", "postgres://localhost:5432/reviewpipe")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)

	v.SetDefault("batch_size", 10)
	v.SetDefault("worker_concurrency", 8)
	v.SetDefault("enable_stream_recovery", true)
	v.SetDefault("stream_recovery_interval", "30s")
	v.SetDefault("stream_min_idle_time", "60s")
	v.SetDefault("rule_sync_interval", "60s")

	v.SetDefault("redis_stream_key", "reviewpipe:events")
	v.SetDefault("redis_consumer_group", "reviewpipe")
	v.SetDefault("redis_consumer_name", "worker-1")
	v.SetDefault("redis_rules_channel", "reviewpipe:rules:changes")
	v.SetDefault("redis_action_stream_key", "reviewpipe:actions")

	v.SetDefault("rpc_enabled", false)
	v.SetDefault("rpc_url", "")
	v.SetDefault("rpc_timeout", "5s")

	v.SetDefault("metrics_addr", ":9090")

	for _, key := range []string{
		"database_url", "redis_addr", "redis_db",
		"batch_size", "worker_concurrency", "enable_stream_recovery",
		"stream_recovery_interval", "stream_min_idle_time", "rule_sync_interval",
		"redis_stream_key", "redis_consumer_group", "redis_consumer_name",
		"redis_rules_channel", "redis_action_stream_key",
		"rpc_enabled", "rpc_url", "rpc_timeout", "metrics_addr",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
