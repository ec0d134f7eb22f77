// Package config provides configuration loading, defaults, and live
// reload for the eda2d daemon.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"eda2power/internal/hw"
)

// DefaultListen is the historical EDA2 control port.
const DefaultListen = ":19999"

// ServerConfig holds network and authentication settings.
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// DecoderPins names the GPIO pins wired to the 74X138 ADC chip-select
// decoder.
type DecoderPins struct {
	A      string `yaml:"a"`
	B      string `yaml:"b"`
	C      string `yaml:"c"`
	Enable string `yaml:"enable"`
}

// HardwareConfig selects the buses and pins for the power board, or the
// in-memory simulator.
type HardwareConfig struct {
	Simulate    bool        `yaml:"simulate"`
	SPIDev      string      `yaml:"spi_dev"`
	I2CBus      string      `yaml:"i2c_bus"`
	DecoderPins DecoderPins `yaml:"decoder_pins"`
}

// OutputsConfig restricts which outputs remote callers may switch.
// Both lists hold glob patterns over output names.
type OutputsConfig struct {
	Switchable []string `yaml:"switchable"`
	Locked     []string `yaml:"locked"`
}

// TelemetryConfig controls the sample archive.
type TelemetryConfig struct {
	Path            string `yaml:"path"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	RetentionDays   int    `yaml:"retention_days"`
}

// Interval returns the monitor sampling interval.
func (t TelemetryConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// Retention returns the sample retention window.
func (t TelemetryConfig) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// AuditConfig controls audit logging of mutating API calls.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// LoggingConfig controls the daemon log.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config is the top-level configuration for eda2d.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Outputs   OutputsConfig   `yaml:"outputs"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads and parses a YAML configuration file. Fields absent from
// the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns a fresh Config with production defaults. Each call
// returns a distinct instance.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: DefaultListen,
		},
		Hardware: HardwareConfig{
			SPIDev: hw.DefaultSPIDev,
			I2CBus: hw.DefaultI2CBus,
			DecoderPins: DecoderPins{
				A:      hw.DefaultPinDecodeA,
				B:      hw.DefaultPinDecodeB,
				C:      hw.DefaultPinDecodeC,
				Enable: hw.DefaultPinDecodeEnable,
			},
		},
		Telemetry: TelemetryConfig{
			Path:            "/var/lib/eda2/telemetry.db",
			IntervalSeconds: 30,
			RetentionDays:   14,
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/var/log/eda2/audit.log",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "/var/log/eda2/eda2.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// BoardConfig converts the hardware section into the hw package's
// wiring description.
func (c *Config) BoardConfig() hw.BoardConfig {
	return hw.BoardConfig{
		SPIDev:    c.Hardware.SPIDev,
		I2CBus:    c.Hardware.I2CBus,
		PinA:      c.Hardware.DecoderPins.A,
		PinB:      c.Hardware.DecoderPins.B,
		PinC:      c.Hardware.DecoderPins.C,
		PinEnable: c.Hardware.DecoderPins.Enable,
	}
}

// ApplyEnvOverrides updates cfg in place from the environment:
//
//   - EDA2_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - EDA2_LISTEN overrides cfg.Server.Listen
func ApplyEnvOverrides(cfg *Config) {
	if token := os.Getenv("EDA2_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
	if listen := os.Getenv("EDA2_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
}

// EnsureAuthToken generates and sets a random auth token when none is
// configured, returning the token in use.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded random token.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
