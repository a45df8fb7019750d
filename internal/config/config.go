// Package config loads server configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Development fallback secrets. Deployments must override both; Load warns
// when either is still in use.
const (
	DefaultDerivationSecret = "b4f19c8e6d2a4f7e9d3b2a7f0c8d5e6f4b1a2c3d6e7f8a90b1c2d3e4f5a6b7c"
	DefaultAdminToken       = "9f7e6b8c4a2d1f3e5b6c7d8a0f1e2c3b4d5a6f7b8c9e0d1f2a3b4c5d6e7f8a9"
)

// Config is the complete application configuration. Defaults come from
// Default() alone; envconfig tags carry no default values so that unset
// environment variables never overwrite file-configured fields.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Tracing  TracingConfig  `yaml:"tracing" envconfig:"TRACING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains the trust anchors and verification policy.
type SecurityConfig struct {
	// AdminToken gates the privileged /admin operations. Environment key:
	// KEYGATE_SECURITY_ADMIN_TOKEN.
	AdminToken string `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	// DerivationSecret keys the HMAC that maps hardware IDs to license
	// keys. Anyone holding it can forge valid keys. Environment key:
	// KEYGATE_SECURITY_DERIVATION_SECRET.
	DerivationSecret string `yaml:"derivation_secret" envconfig:"DERIVATION_SECRET"`
	// EnforceRevocation makes verification reject keys whose issuance
	// record is revoked, instead of pure recompute-and-compare.
	EnforceRevocation bool     `yaml:"enforce_revocation" envconfig:"ENFORCE_REVOCATION"`
	AllowedOrigins    []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS        bool     `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TracingConfig controls the OpenTelemetry span exporter.
type TracingConfig struct {
	// Exporter is "stdout" or "none".
	Exporter    string  `yaml:"exporter" envconfig:"EXPORTER"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// PathsConfig contains file system paths.
type PathsConfig struct {
	LedgerFile string `yaml:"ledger_file" envconfig:"LEDGER_FILE"`
}

// Load builds the configuration: Default() as the base, then the config
// file when present, then environment variables on top.
func Load() (*Config, error) {
	cfg := Default()

	if path := configFilePath(); path != "" {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		merge(cfg, fileCfg)
	}

	if err := envconfig.Process("KEYGATE", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.applySecretFallbacks()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// UsingDefaultSecrets reports which trust anchors are still the development
// fallbacks, so startup can log the deployment concern.
func (c *Config) UsingDefaultSecrets() (derivation, admin bool) {
	return c.Security.DerivationSecret == DefaultDerivationSecret,
		c.Security.AdminToken == DefaultAdminToken
}

func (c *Config) applySecretFallbacks() {
	if c.Security.DerivationSecret == "" {
		c.Security.DerivationSecret = DefaultDerivationSecret
	}
	if c.Security.AdminToken == "" {
		c.Security.AdminToken = DefaultAdminToken
	}
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge copies non-zero file values over the defaults. Environment
// processing runs afterwards and overrides both.
func merge(dst, file *Config) {
	if file.Server.Port != 0 {
		dst.Server.Port = file.Server.Port
	}
	if file.Server.ReadTimeout != 0 {
		dst.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout != 0 {
		dst.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.IdleTimeout != 0 {
		dst.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if file.Server.ShutdownTimeout != 0 {
		dst.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}
	if file.Security.AdminToken != "" {
		dst.Security.AdminToken = file.Security.AdminToken
	}
	if file.Security.DerivationSecret != "" {
		dst.Security.DerivationSecret = file.Security.DerivationSecret
	}
	if file.Security.EnforceRevocation {
		dst.Security.EnforceRevocation = true
	}
	if len(file.Security.AllowedOrigins) > 0 {
		dst.Security.AllowedOrigins = file.Security.AllowedOrigins
	}
	if file.Logging.Level != "" {
		dst.Logging.Level = file.Logging.Level
	}
	if file.Logging.Output != "" {
		dst.Logging.Output = file.Logging.Output
	}
	if file.Logging.FilePath != "" {
		dst.Logging.FilePath = file.Logging.FilePath
	}
	if file.Tracing.Exporter != "" {
		dst.Tracing.Exporter = file.Tracing.Exporter
	}
	if file.Tracing.SampleRatio != 0 {
		dst.Tracing.SampleRatio = file.Tracing.SampleRatio
	}
	if file.Paths.LedgerFile != "" {
		dst.Paths.LedgerFile = file.Paths.LedgerFile
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Paths.LedgerFile == "" {
		return fmt.Errorf("ledger file path must not be empty")
	}
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %q", c.Logging.Output)
	}
	switch c.Tracing.Exporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("invalid tracing exporter: %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be within [0, 1]")
	}
	return nil
}

// configFilePath returns the first config file found in common locations,
// or empty when env vars alone configure the process.
func configFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/keygated.log",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
		Paths: PathsConfig{
			LedgerFile: "data/ledger.json",
		},
	}
}
