package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix is the prefix for all environment variables, e.g. ENTITLE_SERVER_PORT.
const envPrefix = "ENTITLE"

// Config represents the complete application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	License     LicenseConfig     `yaml:"license" envconfig:"LICENSE"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" envconfig:"FINGERPRINT"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8090"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/entitlementd.log"`
}

// LicenseConfig contains entitlement configuration. The signing secret is
// injected here rather than embedded in the binary so deployments rotate it
// without a rebuild and tests pin a fixed value.
type LicenseConfig struct {
	Secret          string        `yaml:"secret" envconfig:"SECRET"`
	StorePath       string        `yaml:"store_path" envconfig:"STORE_PATH" default:"data/licenses.db"`
	StateFilePath   string        `yaml:"state_file_path" envconfig:"STATE_FILE_PATH" default:"data/license-state.dat"`
	TrialDays       int           `yaml:"trial_days" envconfig:"TRIAL_DAYS" default:"7"`
	ActivationRate  float64       `yaml:"activation_rate" envconfig:"ACTIVATION_RATE" default:"1"`
	ActivationBurst int           `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" default:"5"`
	CacheTTL        time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" default:"5m"`
}

// FingerprintConfig controls hardware probing. Sandboxed or virtualized
// environments can disable probes and force the documented fallback path.
type FingerprintConfig struct {
	DisableHardwareProbes bool `yaml:"disable_hardware_probes" envconfig:"DISABLE_HARDWARE_PROBES" default:"false"`
}

// Load loads configuration from the optional YAML file and environment
// variables. Environment variables take precedence over file values.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom loads configuration using the given YAML file path.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// envconfig fills defaults for zero fields and overrides with any
	// ENTITLE_* variables that are set.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to prepare data directories: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration invariants before the application starts.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.Secret == "" {
		return fmt.Errorf("license secret is required (set %s_LICENSE_SECRET)", envPrefix)
	}
	if c.License.TrialDays < 1 {
		return fmt.Errorf("trial days must be positive, got %d", c.License.TrialDays)
	}
	if c.License.ActivationRate <= 0 {
		return fmt.Errorf("activation rate must be positive, got %f", c.License.ActivationRate)
	}
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q (want stdout, file or both)", c.Logging.Output)
	}
	return nil
}

// ensureDirectories creates the directories that the store, state file and
// log file live in.
func (c *Config) ensureDirectories() error {
	dirs := []string{
		filepath.Dir(c.License.StorePath),
		filepath.Dir(c.License.StateFilePath),
	}
	if c.Logging.Output != "stdout" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// configFilePath returns the YAML config location, overridable via
// ENTITLE_CONFIG_FILE for packaged installs.
func configFilePath() string {
	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}
