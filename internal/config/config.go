// Package config loads and validates netprobe configuration files.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/logging"
)

// ICMP socket modes.
const (
	ICMPModeAuto         = "auto"
	ICMPModePrivileged   = "privileged"
	ICMPModeUnprivileged = "unprivileged"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete netprobe configuration
type Config struct {
	// Probe tuning shared by every native scanner
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// ICMP receive path
	ICMP ICMPConfig `yaml:"icmp" json:"icmp"`

	// External scanner backend
	External ExternalConfig `yaml:"external" json:"external"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScanningConfig holds scanning-related settings
type ScanningConfig struct {
	// Number of concurrent probe workers per batch
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=4096"`

	// Probe starts per second across a batch (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`

	// Maximum simultaneously open per-probe sockets
	MaxSockets int `yaml:"max_sockets" json:"max_sockets" validate:"min=1"`

	// TCP connect deadline
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" validate:"gt=0"`

	// Secondary read deadline for banner capture
	BannerTimeout time.Duration `yaml:"banner_timeout" json:"banner_timeout" validate:"gt=0"`

	// Maximum banner bytes kept per target
	BannerSize int `yaml:"banner_size" json:"banner_size" validate:"min=1,max=65535"`

	// UDP response window
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" validate:"gt=0"`

	// Echo reply window
	ICMPTimeout time.Duration `yaml:"icmp_timeout" json:"icmp_timeout" validate:"gt=0"`
}

// ICMPConfig holds ICMP correlator settings
type ICMPConfig struct {
	// Open the correlator at all
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Socket mode: auto, privileged (raw) or unprivileged (datagram)
	Mode string `yaml:"mode" json:"mode" validate:"oneof=auto privileged unprivileged"`

	// Listen addresses for each family
	ListenV4 string `yaml:"listen_v4" json:"listen_v4" validate:"omitempty,ip4_addr"`
	ListenV6 string `yaml:"listen_v6" json:"listen_v6" validate:"omitempty,ip6_addr"`
}

// ExternalConfig holds settings for the nmap-backed scanner
type ExternalConfig struct {
	// Path to the nmap binary; empty searches PATH
	NmapPath string `yaml:"nmap_path" json:"nmap_path"`

	// nmap timing template 0-5
	Timing int `yaml:"timing" json:"timing" validate:"min=0,max=5"`

	// Upper bound on a single nmap run
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Output (stdout, stderr, or file path)
	Output string `yaml:"output" json:"output" validate:"required"`

	// Log rotation for file output
	Rotation logging.RotationConfig `yaml:"rotation" json:"rotation"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Workers:        64,
			RateLimit:      0,
			MaxSockets:     256,
			ConnectTimeout: 2 * time.Second,
			BannerTimeout:  500 * time.Millisecond,
			BannerSize:     1024,
			ProbeTimeout:   2 * time.Second,
			ICMPTimeout:    2 * time.Second,
		},
		ICMP: ICMPConfig{
			Enabled:  true,
			Mode:     ICMPModeAuto,
			ListenV4: "0.0.0.0",
			ListenV6: "::",
		},
		External: ExternalConfig{
			Timing:  4,
			Timeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			Rotation: logging.RotationConfig{
				Enabled:    false,
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder covers both.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration, reporting the first offending field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("failed %q constraint", fe.Tag()), fe.Namespace(), fe.Value())
	}
	return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
}

// LoggingOptions converts the logging section into a logging.Config.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.Level == "debug",
		Rotation:  c.Logging.Rotation,
	}
}
