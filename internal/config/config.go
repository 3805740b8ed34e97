package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Events     EventsConfig    `mapstructure:"events"`
	Dispatch   DispatchConfig  `mapstructure:"dispatch"`
	Gateway    GatewayConfig   `mapstructure:"gateway"`
	Vault      VaultConfig     `mapstructure:"vault"`
	Auth       AuthConfig      `mapstructure:"auth"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	LogLevel   string          `mapstructure:"log_level"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type EventsConfig struct {
	Sink    string   `mapstructure:"sink"` // "redis" | "kafka" | "none"
	Channel string   `mapstructure:"channel"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type DispatchConfig struct {
	RetryBase    time.Duration `mapstructure:"retry_base"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetainCount  int           `mapstructure:"retain_count"`
	DrainLimit   int           `mapstructure:"drain_limit"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type GatewayConfig struct {
	StationURLs     map[string]string `mapstructure:"station_urls"`
	URLTemplate     string            `mapstructure:"url_template"`
	ClusterTemplate string            `mapstructure:"cluster_template"`
	URL             string            `mapstructure:"url"`
	DispatchPath    string            `mapstructure:"dispatch_path"`
	APIKey          string            `mapstructure:"api_key"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	Breaker         BreakerConfig     `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type VaultConfig struct {
	EnclaveURL         string `mapstructure:"enclave_url"`
	Enabled            bool   `mapstructure:"enabled"`
	EncryptionRequired bool   `mapstructure:"encryption_required"`
}

type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// ---- Defaults used by Normalized ----

const (
	DefaultRetryBase    = 1000 * time.Millisecond
	DefaultMaxAttempts  = 6
	DefaultRetainCount  = 200
	DefaultDrainLimit   = 25
	MaxDrainLimit       = 100
	DefaultPollInterval = 5 * time.Second
	DefaultDispatchPath = "/v1/message"
	DefaultTimeout      = 12 * time.Second
)

// Normalized replaces non-positive knobs with safe defaults and clamps the
// drain limit, so a bad env value never stalls retries or floods the gateway.
func (d DispatchConfig) Normalized() DispatchConfig {
	if d.RetryBase <= 0 {
		d.RetryBase = DefaultRetryBase
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if d.RetainCount <= 0 {
		d.RetainCount = DefaultRetainCount
	}
	if d.DrainLimit <= 0 {
		d.DrainLimit = DefaultDrainLimit
	}
	if d.DrainLimit > MaxDrainLimit {
		d.DrainLimit = MaxDrainLimit
	}
	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}
	return d
}

func (g GatewayConfig) Normalized() GatewayConfig {
	if g.DispatchPath == "" {
		g.DispatchPath = DefaultDispatchPath
	}
	if g.Timeout <= 0 {
		g.Timeout = DefaultTimeout
	}
	return g
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (BRIDGE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (BRIDGE_*)
	v.SetEnvPrefix("BRIDGE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.Dispatch = cfg.Dispatch.Normalized()
	cfg.Gateway = cfg.Gateway.Normalized()

	return cfg, nil
}
