// Package config loads application configuration from environment variables
// (FATHOM_* prefix) with an optional YAML overlay. Environment always wins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for all environment variables.
const EnvPrefix = "FATHOM"

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains abuse-resistance configuration for the public
// validation endpoints.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Blocking  BlockingConfig  `yaml:"blocking" envconfig:"BLOCKING"`
	// AdminAPIKeys maps API key -> client name for the admin routes.
	AdminAPIKeys map[string]string `yaml:"admin_api_keys" envconfig:"ADMIN_API_KEYS"`
}

// RateLimitConfig contains rate limiting configuration. The global token
// bucket shields the whole server; the per-endpoint window limits guard the
// individual license endpoints.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	GlobalRPS   float64       `yaml:"global_rps" envconfig:"GLOBAL_RPS" default:"100"`
	GlobalBurst int           `yaml:"global_burst" envconfig:"GLOBAL_BURST" default:"50"`
	MaxRequests int           `yaml:"max_requests" envconfig:"MAX_REQUESTS" default:"5"`
	Window      time.Duration `yaml:"window" envconfig:"WINDOW" default:"60s"`
}

// BlockingConfig contains IP block service configuration
type BlockingConfig struct {
	CacheStaleness  time.Duration `yaml:"cache_staleness" envconfig:"CACHE_STALENESS" default:"5m"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" envconfig:"CLEANUP_INTERVAL" default:"10m"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// PathsConfig contains file system paths. AppDataDir is vendor- and
// product-namespaced under the host OS user scope; relative paths resolve
// against it.
type PathsConfig struct {
	AppDataDir      string `yaml:"app_data_dir" envconfig:"APP_DATA_DIR"`
	LicenseFile     string `yaml:"license_file" envconfig:"LICENSE_FILE" default:"license.dat"`
	RevocationCache string `yaml:"revocation_cache" envconfig:"REVOCATION_CACHE" default:"revocations.json"`
	DatabaseFile    string `yaml:"database_file" envconfig:"DATABASE_FILE" default:"security.db"`
	LogsDir         string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// LicenseConfig contains client-side validator configuration
type LicenseConfig struct {
	ServerURL       string        `yaml:"server_url" envconfig:"SERVER_URL" default:"https://license.fathomos.io"`
	RecheckInterval time.Duration `yaml:"recheck_interval" envconfig:"RECHECK_INTERVAL" default:"5m"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"10s"`
	ClockTolerance  time.Duration `yaml:"clock_tolerance" envconfig:"CLOCK_TOLERANCE" default:"24h"`
}

// Load loads configuration from environment variables and, when present,
// the YAML config file.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}
	return "fathom.yaml"
}

func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileCfg, envCfg Config) Config {
	if envCfg.Server.Port == 0 {
		envCfg.Server.Port = fileCfg.Server.Port
	}
	if envCfg.License.ServerURL == "" {
		envCfg.License.ServerURL = fileCfg.License.ServerURL
	}
	if envCfg.Paths.AppDataDir == "" {
		envCfg.Paths.AppDataDir = fileCfg.Paths.AppDataDir
	}
	if len(envCfg.Security.AdminAPIKeys) == 0 {
		envCfg.Security.AdminAPIKeys = fileCfg.Security.AdminAPIKeys
	}
	return envCfg
}

// resolvePaths fills in the app-data directory and anchors relative paths
// beneath it.
func (c *Config) resolvePaths() error {
	if c.Paths.AppDataDir == "" {
		dir, err := DefaultAppDataDir()
		if err != nil {
			return err
		}
		c.Paths.AppDataDir = dir
	}

	c.Paths.LicenseFile = c.resolve(c.Paths.LicenseFile)
	c.Paths.RevocationCache = c.resolve(c.Paths.RevocationCache)
	c.Paths.DatabaseFile = c.resolve(c.Paths.DatabaseFile)
	c.Paths.LogsDir = c.resolve(c.Paths.LogsDir)

	return os.MkdirAll(c.Paths.AppDataDir, 0o700)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.AppDataDir, p)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Security.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max_requests must be positive")
	}
	if c.Security.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.License.RecheckInterval < time.Minute {
		return fmt.Errorf("license recheck interval must be at least 1m")
	}
	return nil
}

// DefaultAppDataDir returns the vendor/product-namespaced application data
// directory in the host OS user scope.
func DefaultAppDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(base, "Fathom", "FathomOS"), nil
}

// FileExists reports whether the path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
