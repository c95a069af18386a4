// Package config loads the engine's startup configuration from a TOML
// file, then layers environment-variable overrides on top — the same
// "file first, env wins" shape the teacher's config.Load used, just
// switched from JSON to TOML because this system's configuration is
// TOML-style (see the funding-rate and worker-count knobs below).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is every option this process reads at startup. It is loaded
// once; nothing here changes for the lifetime of the process.
type Config struct {
	Redis       RedisConfig       `toml:"redis"`
	Server      ServerConfig      `toml:"server"`
	Proxy       ProxyConfig       `toml:"proxy"`
	Logging     LoggingConfig     `toml:"logging"`
	FundingRate FundingRateConfig `toml:"funding_rate"`
	Vault       VaultConfig       `toml:"vault"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// RedisConfig is the queue backend's location and credentials.
type RedisConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// ServerConfig sizes the sharded worker pool and the per-series bound.
type ServerConfig struct {
	WorkerCount     int `toml:"worker_count"`
	MaxKlineCount   int `toml:"max_kline_count"`
	RedisDataExpire int `toml:"redis_data_expire"`
	InboxCapacity   int `toml:"inbox_capacity"`
}

// ProxyConfig optionally routes the websocket dial through a SOCKS5 proxy.
type ProxyConfig struct {
	Addr string `toml:"addr"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// FundingRateConfig holds the thresholds the funding-rate detector uses
// for dedup/rate-limiting.
type FundingRateConfig struct {
	MinFundingRate          float64 `toml:"min_funding_rate"`
	MinFundingRateChange    float64 `toml:"min_funding_rate_change"`
	FundingRateIntervalSecs int64   `toml:"funding_rate_interval"`
}

// VaultConfig optionally resolves Redis credentials from HashiCorp Vault
// instead of taking them from the TOML file directly.
type VaultConfig struct {
	Enabled    bool   `toml:"enabled"`
	Address    string `toml:"address"`
	Token      string `toml:"token"`
	MountPath  string `toml:"mount_path"`
	SecretPath string `toml:"secret_path"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// defaults mirrors the struct literal the teacher used for its zero-value
// fallback, adapted to this engine's knobs.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			WorkerCount:     8,
			MaxKlineCount:   200,
			RedisDataExpire: 60,
			InboxCapacity:   10_000,
		},
		Logging: LoggingConfig{Level: "debug"},
		Metrics: MetricsConfig{Enabled: true, ListenAddr: ":9090"},
	}
}

// Load reads path as TOML into a Config, falling back to built-in
// defaults for any section the file omits, then applies environment
// overrides (which always win). A missing or malformed file is a fatal
// configuration error: the caller should exit non-zero.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Server.WorkerCount < 1 {
		return nil, fmt.Errorf("config: server.worker_count must be >= 1, got %d", cfg.Server.WorkerCount)
	}
	if cfg.Server.MaxKlineCount < 4 {
		return nil, fmt.Errorf("config: server.max_kline_count must be >= 4 for detectors to ever fire, got %d", cfg.Server.MaxKlineCount)
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment-time environment variables win over
// whatever the TOML file says, matching the teacher's layering.
func applyEnvOverrides(cfg *Config) {
	cfg.Redis.Host = getEnvOrDefault("PERPX_REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvIntOrDefault("PERPX_REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.User = getEnvOrDefault("PERPX_REDIS_USER", cfg.Redis.User)
	cfg.Redis.Password = getEnvOrDefault("PERPX_REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Server.WorkerCount = getEnvIntOrDefault("PERPX_WORKER_COUNT", cfg.Server.WorkerCount)
	cfg.Server.MaxKlineCount = getEnvIntOrDefault("PERPX_MAX_KLINE_COUNT", cfg.Server.MaxKlineCount)

	cfg.Logging.Level = getEnvOrDefault("PERPX_LOG_LEVEL", cfg.Logging.Level)

	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
