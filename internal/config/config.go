package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Backup    BackupConfig    `yaml:"backup" envconfig:"BACKUP"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	// AdminKeyHash is a bcrypt hash of the admin API key required on
	// privileged endpoints (license creation, listing, backups).
	AdminKeyHash   string   `yaml:"admin_key_hash" envconfig:"ADMIN_KEY_HASH"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	// GlobalRPS bounds total request throughput ahead of the per-action limiter.
	GlobalRPS   float64 `yaml:"global_rps" envconfig:"GLOBAL_RPS" default:"100"`
	GlobalBurst int     `yaml:"global_burst" envconfig:"GLOBAL_BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/licensed.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir        string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	LicensesFile   string `yaml:"licenses_file" envconfig:"LICENSES_FILE" default:"licenses.json"`
	TrialsFile     string `yaml:"trials_file" envconfig:"TRIALS_FILE" default:"trials.json"`
	PurchasesFile  string `yaml:"purchases_file" envconfig:"PURCHASES_FILE" default:"purchases.jsonl"`
	WebhookLogFile string `yaml:"webhook_log_file" envconfig:"WEBHOOK_LOG_FILE" default:"webhook_logs.jsonl"`
	BackupsDir     string `yaml:"backups_dir" envconfig:"BACKUPS_DIR" default:"backups"`
}

// LicenseConfig contains license policy configuration
type LicenseConfig struct {
	TrialDuration   time.Duration `yaml:"trial_duration" envconfig:"TRIAL_DURATION" default:"168h"`
	OfflineGrace    time.Duration `yaml:"offline_grace" envconfig:"OFFLINE_GRACE" default:"72h"`
	DefaultDuration time.Duration `yaml:"default_duration" envconfig:"DEFAULT_DURATION" default:"8760h"`
	AllowDisposable bool          `yaml:"allow_disposable" envconfig:"ALLOW_DISPOSABLE" default:"false"`
}

// RateLimitConfig contains per-action rate limiting configuration
type RateLimitConfig struct {
	TrialCreate   ActionLimit `yaml:"trial_create" envconfig:"TRIAL_CREATE"`
	ForgotLicense ActionLimit `yaml:"forgot_license" envconfig:"FORGOT_LICENSE"`
	LoginValidate ActionLimit `yaml:"login_validate" envconfig:"LOGIN_VALIDATE"`
}

// ActionLimit describes one rate-limited action: at most MaxRequests within
// Window, with BlockDuration as the base block once exceeded.
type ActionLimit struct {
	MaxRequests   int           `yaml:"max_requests" envconfig:"MAX_REQUESTS"`
	Window        time.Duration `yaml:"window" envconfig:"WINDOW"`
	BlockDuration time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION"`
}

// BackupConfig contains backup scheduling and retention configuration
type BackupConfig struct {
	Enabled        bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	HourlyInterval time.Duration `yaml:"hourly_interval" envconfig:"HOURLY_INTERVAL" default:"1h"`
	KeepHourly     int           `yaml:"keep_hourly" envconfig:"KEEP_HOURLY" default:"24"`
	KeepDaily      int           `yaml:"keep_daily" envconfig:"KEEP_DAILY" default:"30"`
	KeepWeekly     int           `yaml:"keep_weekly" envconfig:"KEEP_WEEKLY" default:"12"`
	KeepMonthly    int           `yaml:"keep_monthly" envconfig:"KEEP_MONTHLY" default:"12"`
}

// Load loads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("IW", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	cfg.applyLimitDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
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

// mergeConfigs overlays file values onto the env-derived config. An
// explicitly set environment variable always wins; otherwise a value
// present in the file replaces the envconfig default. Zero-value checks
// alone cannot tell a default apart from a file value, so each merged
// field is guarded by a lookup of its environment variable.
func mergeConfigs(fileConfig, envConfig Config) Config {
	merged := envConfig

	if fileConfig.Server.Port != 0 && !envSet("IW_SERVER_PORT") {
		merged.Server.Port = fileConfig.Server.Port
	}
	if fileConfig.Security.AdminKeyHash != "" && !envSet("IW_SECURITY_ADMIN_KEY_HASH") {
		merged.Security.AdminKeyHash = fileConfig.Security.AdminKeyHash
	}
	if fileConfig.Paths.DataDir != "" && !envSet("IW_PATHS_DATA_DIR") {
		merged.Paths.DataDir = fileConfig.Paths.DataDir
	}
	if fileConfig.RateLimit.TrialCreate.MaxRequests != 0 && !envSet("IW_RATE_LIMIT_TRIAL_CREATE_MAX_REQUESTS") {
		merged.RateLimit.TrialCreate = fileConfig.RateLimit.TrialCreate
	}
	if fileConfig.RateLimit.ForgotLicense.MaxRequests != 0 && !envSet("IW_RATE_LIMIT_FORGOT_LICENSE_MAX_REQUESTS") {
		merged.RateLimit.ForgotLicense = fileConfig.RateLimit.ForgotLicense
	}
	if fileConfig.RateLimit.LoginValidate.MaxRequests != 0 && !envSet("IW_RATE_LIMIT_LOGIN_VALIDATE_MAX_REQUESTS") {
		merged.RateLimit.LoginValidate = fileConfig.RateLimit.LoginValidate
	}

	return merged
}

// envSet reports whether the variable is present in the environment,
// even when set to an empty string.
func envSet(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

// applyLimitDefaults fills per-action rate limits that are still zero after
// env and file processing.
func (c *Config) applyLimitDefaults() {
	if c.RateLimit.TrialCreate.MaxRequests == 0 {
		c.RateLimit.TrialCreate = ActionLimit{MaxRequests: 3, Window: 24 * time.Hour, BlockDuration: time.Hour}
	}
	if c.RateLimit.ForgotLicense.MaxRequests == 0 {
		c.RateLimit.ForgotLicense = ActionLimit{MaxRequests: 5, Window: time.Hour, BlockDuration: 30 * time.Minute}
	}
	if c.RateLimit.LoginValidate.MaxRequests == 0 {
		c.RateLimit.LoginValidate = ActionLimit{MaxRequests: 10, Window: 10 * time.Minute, BlockDuration: 15 * time.Minute}
	}
}

// validate checks configuration invariants
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.TrialDuration <= 0 {
		return fmt.Errorf("trial duration must be positive")
	}
	if c.License.OfflineGrace <= 0 {
		return fmt.Errorf("offline grace must be positive")
	}
	for name, l := range map[string]ActionLimit{
		"trial_create":   c.RateLimit.TrialCreate,
		"forgot_license": c.RateLimit.ForgotLicense,
		"login_validate": c.RateLimit.LoginValidate,
	} {
		if l.MaxRequests <= 0 || l.Window <= 0 || l.BlockDuration <= 0 {
			return fmt.Errorf("invalid rate limit config for %s", name)
		}
	}
	return nil
}

// EnsureDirectories creates the data, backup, and log directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.BackupsDir(),
		filepath.Dir(c.Logging.FilePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LicensesPath returns the resolved path of the license store file
func (c *Config) LicensesPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.LicensesFile)
}

// TrialsPath returns the resolved path of the trial store file
func (c *Config) TrialsPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.TrialsFile)
}

// PurchasesPath returns the resolved path of the purchase audit log
func (c *Config) PurchasesPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.PurchasesFile)
}

// WebhookLogPath returns the resolved path of the raw webhook log
func (c *Config) WebhookLogPath() string {
	return filepath.Join(c.Paths.DataDir, c.Paths.WebhookLogFile)
}

// BackupsDir returns the resolved backup directory
func (c *Config) BackupsDir() string {
	if filepath.IsAbs(c.Paths.BackupsDir) {
		return c.Paths.BackupsDir
	}
	return filepath.Join(c.Paths.DataDir, c.Paths.BackupsDir)
}

// getConfigFilePath returns the config file location, overridable via env
func getConfigFilePath() string {
	if path := os.Getenv("IW_CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}
