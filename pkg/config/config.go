// Package config holds the daemon configuration: radio timeouts, producer
// cadences, and logging. Defaults come from struct tags; a YAML file can
// override any field.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel   string `yaml:"log_level" default:"info"`
	DeviceName string `yaml:"device_name" default:"Kardio"`
	Adapter    string `yaml:"adapter" default:"hci0"`

	// Send-path timing.
	ConnectionTimeout      time.Duration `yaml:"connection_timeout" default:"10s"`
	FirstConnectionTimeout time.Duration `yaml:"first_connection_timeout" default:"30s"`
	PollInterval           time.Duration `yaml:"poll_interval" default:"1s"`
	SettleDelay            time.Duration `yaml:"settle_delay" default:"5s"`
	IdleGrace              time.Duration `yaml:"idle_grace" default:"1s"`

	// Advertising restart timing.
	RestartDelay   time.Duration `yaml:"restart_delay" default:"100ms"`
	RestartBackoff time.Duration `yaml:"restart_backoff" default:"500ms"`

	// Producer cadences.
	HeartRatePeriod time.Duration `yaml:"heart_rate_period" default:"1s"`
	SpO2Period      time.Duration `yaml:"spo2_period" default:"5s"`

	// Service toggle exercise (off by default).
	ToggleTest            bool          `yaml:"toggle_test" default:"false"`
	ToggleUnregisterDelay time.Duration `yaml:"toggle_unregister_delay" default:"10s"`
	ToggleReregisterDelay time.Duration `yaml:"toggle_reregister_delay" default:"5s"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// fileConfig mirrors Config for YAML decoding. Durations are strings in
// the file ("500ms", "10s"); yaml.v3 has no native duration support.
type fileConfig struct {
	LogLevel   *string `yaml:"log_level"`
	DeviceName *string `yaml:"device_name"`
	Adapter    *string `yaml:"adapter"`

	ConnectionTimeout      *string `yaml:"connection_timeout"`
	FirstConnectionTimeout *string `yaml:"first_connection_timeout"`
	PollInterval           *string `yaml:"poll_interval"`
	SettleDelay            *string `yaml:"settle_delay"`
	IdleGrace              *string `yaml:"idle_grace"`

	RestartDelay   *string `yaml:"restart_delay"`
	RestartBackoff *string `yaml:"restart_backoff"`

	HeartRatePeriod *string `yaml:"heart_rate_period"`
	SpO2Period      *string `yaml:"spo2_period"`

	ToggleTest            *bool   `yaml:"toggle_test"`
	ToggleUnregisterDelay *string `yaml:"toggle_unregister_delay"`
	ToggleReregisterDelay *string `yaml:"toggle_reregister_delay"`
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := fc.apply(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.DeviceName, fc.DeviceName)
	setString(&cfg.Adapter, fc.Adapter)
	if fc.ToggleTest != nil {
		cfg.ToggleTest = *fc.ToggleTest
	}

	var err error
	setDuration := func(dst *time.Duration, src *string, field string) {
		if src == nil || err != nil {
			return
		}
		var d time.Duration
		if d, err = time.ParseDuration(*src); err != nil {
			err = fmt.Errorf("%s: %w", field, err)
			return
		}
		*dst = d
	}
	setDuration(&cfg.ConnectionTimeout, fc.ConnectionTimeout, "connection_timeout")
	setDuration(&cfg.FirstConnectionTimeout, fc.FirstConnectionTimeout, "first_connection_timeout")
	setDuration(&cfg.PollInterval, fc.PollInterval, "poll_interval")
	setDuration(&cfg.SettleDelay, fc.SettleDelay, "settle_delay")
	setDuration(&cfg.IdleGrace, fc.IdleGrace, "idle_grace")
	setDuration(&cfg.RestartDelay, fc.RestartDelay, "restart_delay")
	setDuration(&cfg.RestartBackoff, fc.RestartBackoff, "restart_backoff")
	setDuration(&cfg.HeartRatePeriod, fc.HeartRatePeriod, "heart_rate_period")
	setDuration(&cfg.SpO2Period, fc.SpO2Period, "spo2_period")
	setDuration(&cfg.ToggleUnregisterDelay, fc.ToggleUnregisterDelay, "toggle_unregister_delay")
	setDuration(&cfg.ToggleReregisterDelay, fc.ToggleReregisterDelay, "toggle_reregister_delay")
	return err
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
