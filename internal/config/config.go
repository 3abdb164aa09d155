// Package config handles configuration for the pulsescan prober.
// Configuration is loaded from YAML files with defaults applied first;
// the CLI merges environment variables and flags on top via viper.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pulsenet/pulsescan/internal/errors"
	"github.com/pulsenet/pulsescan/internal/target"
)

// Default values applied before any file, environment, or flag overrides.
const (
	DefaultCount      = 1000
	DefaultWorkers    = 64
	DefaultRate       = 500
	DefaultTimeoutMS  = 1500
	DefaultPorts      = "80,443,22,8080"
	DefaultOutputPath = "pulse_results.log"
	DefaultOutputMode = "detailed"
	DefaultFormat     = "csv"

	DefaultAPIHost = "127.0.0.1"
	DefaultAPIPort = 8099

	maxWorkers = 4096

	configDirPerm  = 0755
	configFilePerm = 0644
)

// Config represents the complete application configuration
type Config struct {
	// Probing engine configuration
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Result sink configuration
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Ops endpoint configuration
	API APIConfig `yaml:"api" json:"api"`
}

// ScanConfig holds probing engine settings
type ScanConfig struct {
	// Number of addresses the random source draws before exhaustion
	Count int `yaml:"count" json:"count" validate:"min=1"`

	// Number of concurrent probe workers
	Workers int `yaml:"workers" json:"workers" validate:"min=1"`

	// Sustained probe admission rate in probes per second
	Rate int `yaml:"rate" json:"rate" validate:"min=1"`

	// Token bucket capacity; zero means same as rate
	Burst int `yaml:"burst" json:"burst" validate:"min=0"`

	// Per-probe connect timeout in milliseconds
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms" validate:"min=1"`

	// Port specification, accepting lists and lo-hi ranges ("80,443,8000-8010")
	Ports string `yaml:"ports" json:"ports" validate:"required"`

	// CIDR ranges to enumerate; selects the CIDR source when non-empty
	CIDRs []string `yaml:"cidrs" json:"cidrs"`

	// File of literal addresses, one per line; selects the file source
	AddressFile string `yaml:"address_file" json:"address_file"`

	// Replace network dials with synthetic outcomes
	Simulate bool `yaml:"simulate" json:"simulate"`
}

// OutputConfig holds result sink settings
type OutputConfig struct {
	// Output mode: "simple" (bare addresses) or "detailed" (full records)
	Mode string `yaml:"mode" json:"mode" validate:"oneof=simple detailed"`

	// Detailed record format: "csv" or "json"
	Format string `yaml:"format" json:"format" validate:"oneof=csv json"`

	// Result sink path, opened append-only
	Path string `yaml:"path" json:"path" validate:"required"`

	// Optional append-only log of non-success outcomes
	ErrorLog string `yaml:"error_log" json:"error_log"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, or file path)
	Output string `yaml:"output" json:"output" validate:"required"`
}

// APIConfig holds the optional ops endpoint settings
type APIConfig struct {
	// Enable the HTTP ops endpoint
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Address to bind to
	Host string `yaml:"host" json:"host" validate:"required"`

	// Port to listen on
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Count:     DefaultCount,
			Workers:   DefaultWorkers,
			Rate:      DefaultRate,
			Burst:     0,
			TimeoutMS: DefaultTimeoutMS,
			Ports:     DefaultPorts,
		},
		Output: OutputConfig{
			Mode:   DefaultOutputMode,
			Format: DefaultFormat,
			Path:   DefaultOutputPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		API: APIConfig{
			Enabled: false,
			Host:    DefaultAPIHost,
			Port:    DefaultAPIPort,
		},
	}
}

// Load loads configuration from a file. An empty path or a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - config path comes from the operator
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapConfigError(errors.CodeConfiguration,
				fmt.Sprintf("failed to parse config file %s", path), err)
		}
	default:
		return nil, errors.NewConfigError(errors.CodeConfiguration,
			fmt.Sprintf("unsupported config file format: %s", filepath.Ext(path)))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to marshal config", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, configDirPerm); err != nil {
			return errors.WrapConfigError(errors.CodeConfiguration,
				fmt.Sprintf("failed to create config directory %s", dir), err)
		}
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to write config file %s", path), err)
	}

	return nil
}

// Validate checks the configuration for errors. Struct tags cover the
// field-local rules; cross-field rules are checked by hand.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid value for %s", strings.ToLower(first.Namespace())),
				first.Namespace(), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "config validation failed", err)
	}

	if c.Scan.Workers > maxWorkers {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("workers must be at most %d", maxWorkers),
			"scan.workers", c.Scan.Workers)
	}

	if _, err := target.ParsePorts(c.Scan.Ports); err != nil {
		return errors.WrapConfigError(errors.CodePortInvalid,
			fmt.Sprintf("invalid port specification %q", c.Scan.Ports), err)
	}

	for _, cidr := range c.Scan.CIDRs {
		if _, err := target.ParseCIDR(cidr); err != nil {
			return errors.WrapConfigError(errors.CodeCIDRInvalid,
				fmt.Sprintf("invalid CIDR %q", cidr), err)
		}
	}

	if len(c.Scan.CIDRs) > 0 && c.Scan.AddressFile != "" {
		return errors.NewConfigError(errors.CodeValidation,
			"cidrs and address_file are mutually exclusive")
	}

	if c.Scan.AddressFile != "" {
		if _, err := os.Stat(c.Scan.AddressFile); err != nil {
			return errors.ErrAddressFile(c.Scan.AddressFile, err)
		}
	}

	return nil
}

// Timeout returns the per-probe timeout as a duration
func (c *ScanConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// EffectiveBurst returns the token bucket capacity, defaulting to the rate
func (c *ScanConfig) EffectiveBurst() int {
	if c.Burst > 0 {
		return c.Burst
	}
	return c.Rate
}

// SourceKind reports which address source the configuration selects
func (c *ScanConfig) SourceKind() string {
	switch {
	case len(c.CIDRs) > 0:
		return "cidr"
	case c.AddressFile != "":
		return "file"
	default:
		return "random"
	}
}

// GetAPIAddress returns the address the ops endpoint binds to
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// IsAPIEnabled returns whether the ops endpoint should be started
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}

// GetLogOutput returns the logging output destination
func (c *Config) GetLogOutput() string {
	if c.Logging.Output == "" {
		return "stderr"
	}
	return c.Logging.Output
}
