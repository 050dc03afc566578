package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is used when no config path is given on the command line
const DefaultConfigPath = "sync_config.json"

// Redaction modes
const (
	RedactionSentinel = "sentinel"
	RedactionEncrypt  = "encrypt"
	RedactionOmit     = "omit"
)

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,}$`)

// Config is the validated configuration for one process run
type Config struct {
	ServerURL               string `json:"server_url" env:"SERVER_URL" env-description:"Remote sync server base URL"`
	APIKey                  string `json:"api_key" env:"ACTIVITYWATCH_API_KEY" env-description:"API key sent as X-API-Key"`
	APIKeyFile              string `json:"api_key_file" env:"ACTIVITYWATCH_API_KEY_FILE"`
	ActivityWatchURL        string `json:"activitywatch_url" env:"ACTIVITYWATCH_URL" env-default:"http://localhost:5600"`
	SyncIntervalMinutes     int    `json:"sync_interval_minutes" env:"SYNC_INTERVAL_MINUTES" env-default:"30"`
	BatchSize               int    `json:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"1000"`
	WindowOverlapMinutes    int    `json:"window_overlap_minutes" env:"SYNC_WINDOW_OVERLAP_MINUTES" env-default:"5"`
	SourceRetentionHours    int    `json:"source_retention_hours" env:"SYNC_SOURCE_RETENTION_HOURS" env-default:"168"`
	MaxPagesPerBucket       int    `json:"max_pages_per_bucket" env-default:"10"`
	SyncOnlyInWorkHours     bool   `json:"sync_only_in_work_hours"`
	SpoolFailedBatches      bool   `json:"spool_failed_batches" env:"SYNC_SPOOL_FAILED_BATCHES"`
	SpoolMaxRetries         int    `json:"spool_max_retries" env-default:"10"`
	AuthEscalationThreshold int    `json:"auth_escalation_threshold" env-default:"3"`
	StateDir                string `json:"state_dir" env:"SYNC_STATE_DIR"`
	EncryptionKey           string `json:"encryption_key" env:"SYNC_ENCRYPTION_KEY"`
	ApplyCategoriesToSource bool   `json:"apply_categories_to_source"`

	UserInfo     UserInfo     `json:"user_info"`
	Privacy      Privacy      `json:"privacy"`
	Source       Timeouts     `json:"source"`
	Server       Timeouts     `json:"server"`
	Log          Log          `json:"log"`
	Telemetry    Telemetry    `json:"telemetry"`
	StatusServer StatusServer `json:"status_server"`

	apiKeySource string
}

// UserInfo identifies the user the records belong to
type UserInfo struct {
	Email      string `json:"email" env:"SYNC_USER_EMAIL"`
	UserID     string `json:"user_id" env:"SYNC_USER_ID"`
	Team       string `json:"team"`
	Department string `json:"department"`
}

// Privacy holds the privacy rule set
type Privacy struct {
	ExcludeKeywords     []string  `json:"exclude_keywords"`
	SensitiveKeywords   []string  `json:"sensitive_keywords"`
	ExcludedApps        []string  `json:"excluded_apps"`
	ExcludeURLPatterns  []string  `json:"exclude_url_patterns"`
	EncryptWindowTitles bool      `json:"encrypt_window_titles"`
	RedactionMode       string    `json:"redaction_mode" env-default:"sentinel"`
	WorkHoursOnly       bool      `json:"work_hours_only"`
	WorkHours           WorkHours `json:"work_hours"`
}

// WorkHours is an inclusive local time range in HH:MM
type WorkHours struct {
	Start string `json:"start" env-default:"09:00"`
	End   string `json:"end" env-default:"18:00"`
}

// Timeouts configures an HTTP collaborator
type Timeouts struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Log configures the logger
type Log struct {
	Level      string `json:"level" env:"LOG_LEVEL" env-default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" env-default:"json"`
	File       string `json:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `json:"max_size_mb" env-default:"10"`
	MaxBackups int    `json:"max_backups" env-default:"5"`
	MaxAgeDays int    `json:"max_age_days" env-default:"30"`
}

// Telemetry configures tracing
type Telemetry struct {
	Enabled   bool   `json:"enabled" env:"SYNC_TRACING_ENABLED"`
	TraceFile string `json:"trace_file"`
}

// StatusServer configures the local status endpoint
type StatusServer struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port" env-default:"5666"`
}

// DefaultExcludeURLPatterns are applied to browser URLs when none are configured
var DefaultExcludeURLPatterns = []string{
	"bank", "paypal", "secure", "login", "auth",
	"password", "account", "billing", "payment",
}

// DefaultSensitiveKeywords mark titles and urls for redaction when none are configured
var DefaultSensitiveKeywords = []string{
	"confidential", "private", "salary", "payroll",
	"medical", "diagnosis", "ssn", "social security", "tax return",
}

// ConfigError reports a missing or invalid configuration
type ConfigError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("invalid config %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads, defaults and validates the configuration file at path
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	if err := cfg.resolveAPIKey(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg.applyDefaults()

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &ConfigError{Path: path, Problems: problems}
	}

	return &cfg, nil
}

// resolveAPIKey applies the precedence env > key file > config value.
// cleanenv has already applied the environment override.
func (c *Config) resolveAPIKey() error {
	if v, ok := os.LookupEnv("ACTIVITYWATCH_API_KEY"); ok && v != "" {
		c.apiKeySource = "environment"
		return nil
	}

	if c.APIKeyFile != "" {
		data, err := os.ReadFile(c.APIKeyFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read api key file: %w", err)
		}
		if key := strings.TrimSpace(string(data)); key != "" {
			c.APIKey = key
			c.apiKeySource = "key_file"
			return nil
		}
	}

	if c.APIKey != "" {
		c.apiKeySource = "config_file"
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	c.ActivityWatchURL = strings.TrimRight(c.ActivityWatchURL, "/")

	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = 10
	}
	if c.Server.TimeoutSeconds <= 0 {
		c.Server.TimeoutSeconds = 30
	}
	if c.Privacy.ExcludeURLPatterns == nil {
		c.Privacy.ExcludeURLPatterns = append([]string(nil), DefaultExcludeURLPatterns...)
	}
	if c.Privacy.SensitiveKeywords == nil {
		c.Privacy.SensitiveKeywords = append([]string(nil), DefaultSensitiveKeywords...)
	}
	if c.Privacy.EncryptWindowTitles {
		c.Privacy.RedactionMode = RedactionEncrypt
	}
	if c.StateDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.StateDir = filepath.Join(dir, "aw-sync")
		} else {
			c.StateDir = ".aw-sync"
		}
	}
}

// Validate returns every problem found in the configuration
func (c *Config) Validate() []string {
	var problems []string

	if c.ServerURL == "" {
		problems = append(problems, "server_url is required")
	} else if !isHTTPURL(c.ServerURL) {
		problems = append(problems, "server_url must be an http(s) URL")
	}
	if !isHTTPURL(c.ActivityWatchURL) {
		problems = append(problems, "activitywatch_url must be an http(s) URL")
	}
	if c.APIKey == "" {
		problems = append(problems, "api_key is required (config, api_key_file or ACTIVITYWATCH_API_KEY)")
	} else if !apiKeyPattern.MatchString(c.APIKey) {
		problems = append(problems, "api_key must be at least 16 characters of [A-Za-z0-9_-]")
	}
	if strings.TrimSpace(c.UserInfo.Email) == "" {
		problems = append(problems, "user_info.email is required")
	} else if !strings.Contains(c.UserInfo.Email, "@") {
		problems = append(problems, "user_info.email is not an email address")
	}
	if c.SyncIntervalMinutes <= 0 {
		problems = append(problems, "sync_interval_minutes must be positive")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size must be positive")
	}
	if c.WindowOverlapMinutes < 0 {
		problems = append(problems, "window_overlap_minutes must not be negative")
	}
	if c.SourceRetentionHours < 0 {
		problems = append(problems, "source_retention_hours must not be negative")
	}
	if c.MaxPagesPerBucket <= 0 {
		problems = append(problems, "max_pages_per_bucket must be positive")
	}

	switch c.Privacy.RedactionMode {
	case RedactionSentinel, RedactionEncrypt, RedactionOmit:
	default:
		problems = append(problems, fmt.Sprintf("privacy.redaction_mode %q is not one of sentinel, encrypt, omit", c.Privacy.RedactionMode))
	}
	if c.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			problems = append(problems, "encryption_key must be 32 bytes, base64 encoded")
		}
	}
	for _, p := range c.Privacy.ExcludeURLPatterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			problems = append(problems, fmt.Sprintf("privacy.exclude_url_patterns: %q: %v", p, err))
		}
	}
	if _, err := ParseClock(c.Privacy.WorkHours.Start); err != nil {
		problems = append(problems, fmt.Sprintf("privacy.work_hours.start: %v", err))
	}
	if _, err := ParseClock(c.Privacy.WorkHours.End); err != nil {
		problems = append(problems, fmt.Sprintf("privacy.work_hours.end: %v", err))
	}
	if c.StatusServer.Enabled && (c.StatusServer.Port <= 0 || c.StatusServer.Port > 65535) {
		problems = append(problems, "status_server.port must be a valid port")
	}

	return problems
}

// APIKeySource reports where the API key came from
func (c *Config) APIKeySource() string {
	if c.apiKeySource == "" {
		return "none"
	}
	return c.apiKeySource
}

// SyncInterval returns the loop interval
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// WindowOverlap returns how far before the checkpoint each window starts
func (c *Config) WindowOverlap() time.Duration {
	return time.Duration(c.WindowOverlapMinutes) * time.Minute
}

// SourceRetention returns how long the daemon is assumed to keep events; zero means unbounded
func (c *Config) SourceRetention() time.Duration {
	return time.Duration(c.SourceRetentionHours) * time.Hour
}

// SourceTimeout returns the timeout for local daemon calls
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// ServerTimeout returns the timeout for remote server calls
func (c *Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// StateDBPath is the SQLite database holding the checkpoint
func (c *Config) StateDBPath() string {
	return filepath.Join(c.StateDir, "state.db")
}

// StatusFilePath is the JSON mirror of the checkpoint read by collaborators
func (c *Config) StatusFilePath() string {
	return filepath.Join(c.StateDir, "last_sync_status.json")
}

// LockPath is the file locked around each cycle
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, "sync.lock")
}

// ParseClock parses an HH:MM wall clock time into minutes after midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
