// Package config loads and validates the service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/ooi-harvest-request/internal/ooi"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	State   StateConfig   `mapstructure:"state"`
	OOI     OOIConfig     `mapstructure:"ooi"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Timeout TimeoutConfig `mapstructure:"timeout"`
}

// StateConfig locates the persisted response and status documents.
type StateConfig struct {
	Dir          string `mapstructure:"dir"`
	ResponsePath string `mapstructure:"response_path"`
	StatusPath   string `mapstructure:"status_path"`
}

// OOIConfig configures the remote data service client.
type OOIConfig struct {
	IndexURL       string          `mapstructure:"index_url"`
	M2MBaseURL     string          `mapstructure:"m2m_base_url"`
	ThreddsBaseURL string          `mapstructure:"thredds_base_url"`
	Username       string          `mapstructure:"username"`
	Token          string          `mapstructure:"token"`
	UserAgent      string          `mapstructure:"user_agent"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	MaxBodySize    int             `mapstructure:"max_body_size"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds outbound requests per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables pushing invocation metrics to a Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// NotifyConfig enables Pub/Sub status events.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LedgerConfig enables the Postgres invocation history.
type LedgerConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// WatchConfig drives the long-running watch command.
type WatchConfig struct {
	Schedule   string `mapstructure:"schedule"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// TimeoutConfig holds the check flow threshold.
type TimeoutConfig struct {
	FallbackAfter time.Duration `mapstructure:"fallback_after"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state.dir", ".")
	v.SetDefault("state.response_path", "history/response.json")
	v.SetDefault("state.status_path", "history/request.yaml")
	v.SetDefault("ooi.index_url", ooi.DefaultIndexURL)
	v.SetDefault("ooi.m2m_base_url", ooi.DefaultM2MBaseURL)
	v.SetDefault("ooi.thredds_base_url", ooi.DefaultThreddsBase)
	v.SetDefault("ooi.username", "")
	v.SetDefault("ooi.token", "")
	v.SetDefault("ooi.user_agent", "ooi-harvest-request/0.1")
	v.SetDefault("ooi.timeout", 60*time.Second)
	v.SetDefault("ooi.max_body_size", 0)
	v.SetDefault("ooi.rate_limit.rps", 2.0)
	v.SetDefault("ooi.rate_limit.burst", 2)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "ooi_harvest_request")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "harvest_invocations")
	v.SetDefault("watch.schedule", "@hourly")
	v.SetDefault("watch.listen_addr", "")
	v.SetDefault("timeout.fallback_after", 48*time.Hour)
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.State.Dir) == "" {
		return errors.New("state.dir must be set")
	}
	if c.State.ResponsePath == "" || c.State.StatusPath == "" {
		return errors.New("state.response_path and state.status_path must be set")
	}
	if c.State.ResponsePath == c.State.StatusPath {
		return errors.New("state.response_path and state.status_path must differ")
	}
	if c.OOI.IndexURL == "" || c.OOI.M2MBaseURL == "" || c.OOI.ThreddsBaseURL == "" {
		return errors.New("ooi.index_url, ooi.m2m_base_url and ooi.thredds_base_url must be set")
	}
	if c.OOI.Timeout <= 0 {
		return errors.New("ooi.timeout must be > 0")
	}
	if c.OOI.MaxBodySize < 0 {
		return errors.New("ooi.max_body_size must be >= 0")
	}
	if c.OOI.RateLimit.RPS < 0 || c.OOI.RateLimit.Burst < 0 {
		return errors.New("ooi.rate_limit values must be >= 0")
	}
	if c.Timeout.FallbackAfter <= 0 {
		return errors.New("timeout.fallback_after must be > 0")
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return errors.New("notify.project_id is required when notify.topic is set")
	}
	if c.Watch.Schedule == "" {
		return errors.New("watch.schedule must be set")
	}
	return nil
}

// HasCredentials reports whether authenticated requests can be made.
func (c OOIConfig) HasCredentials() bool {
	return c.Username != "" && c.Token != ""
}
