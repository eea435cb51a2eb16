package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"invoicesync/internal/logger"
)

// Source retrieval modes.
const (
	ModeAll          = "all"
	ModeReadyForPost = "ready-for-post"
)

type Config struct {
	// Accounts-payable API
	SourceBaseURL      string
	SourceClientID     string
	SourceClientSecret string
	SourceEntityID     string
	SourceMode         string
	SourceStage        string
	SourcePageSize     int
	SourceMaxPages     int
	SourceTimeout      time.Duration
	SourceRateLimit    float64
	SourceTokenTTL     time.Duration

	// Ledger database (SQLite file)
	LedgerDatabase string

	// Batch processing
	BatchWorkers int

	// Notifications
	NotifyRecipients    string
	NotifySubjectPrefix string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	SMTPFrom            string

	// HTTP surface
	ServerAddr string
	PublicURL  string

	// Optional: Google Sheets export of run outcomes
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads configuration from the environment. When path is set, the file is
// read first and environment variables override its values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	env := &source{v: v}

	config := &Config{
		SourceBaseURL:        strings.TrimRight(env.get("SOURCE_BASE_URL", "https://api.myalii.app/api"), "/"),
		SourceClientID:       env.get("SOURCE_CLIENT_ID", ""),
		SourceClientSecret:   env.get("SOURCE_CLIENT_SECRET", ""),
		SourceEntityID:       env.get("SOURCE_ENTITY_ID", ""),
		SourceMode:           env.get("SOURCE_MODE", ModeAll),
		SourceStage:          env.get("SOURCE_STAGE", "FinalReview"),
		SourcePageSize:       env.getInt("SOURCE_PAGE_SIZE", 2000),
		SourceMaxPages:       env.getInt("SOURCE_MAX_PAGES", 20),
		SourceTimeout:        env.getDuration("SOURCE_TIMEOUT", 60*time.Second),
		SourceRateLimit:      env.getFloat("SOURCE_RATE_LIMIT", 5),
		SourceTokenTTL:       env.getDuration("SOURCE_TOKEN_TTL", 30*time.Minute),
		LedgerDatabase:       env.get("LEDGER_DATABASE", "ledger.db"),
		BatchWorkers:         env.getInt("BATCH_WORKERS", 12),
		NotifyRecipients:     env.get("NOTIFY_EMAIL_RECIPIENTS", ""),
		NotifySubjectPrefix:  env.get("NOTIFY_SUBJECT_PREFIX", "[Ledger Integration]"),
		SMTPHost:             env.get("SMTP_HOST", ""),
		SMTPPort:             env.getInt("SMTP_PORT", 587),
		SMTPUsername:         env.get("SMTP_USERNAME", ""),
		SMTPPassword:         env.get("SMTP_PASSWORD", ""),
		SMTPFrom:             env.get("SMTP_FROM", ""),
		ServerAddr:           env.get("SERVER_ADDR", ":8080"),
		PublicURL:            strings.TrimRight(env.get("PUBLIC_URL", "http://localhost:8080"), "/"),
		GoogleSheetURL:       env.get("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet: env.get("GOOGLE_SHEET_WORKSHEET", "Invoice Sync"),
		LogLevel:             env.get("LOG_LEVEL", "info"),
		LogFormat:            env.get("LOG_FORMAT", "console"),
		LogTimeFormat:        env.get("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:            env.get("LOG_OUTPUT", "stdout"),
	}

	if env.err != nil {
		return nil, fmt.Errorf("config validation failed: %w", env.err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.SourceMode != ModeAll && c.SourceMode != ModeReadyForPost {
		return fmt.Errorf("SOURCE_MODE must be %q or %q, got %q", ModeAll, ModeReadyForPost, c.SourceMode)
	}
	if c.SourcePageSize <= 0 {
		return fmt.Errorf("SOURCE_PAGE_SIZE must be positive")
	}
	if c.SourceMaxPages <= 0 {
		return fmt.Errorf("SOURCE_MAX_PAGES must be positive")
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive")
	}
	if c.LedgerDatabase == "" {
		return fmt.Errorf("LEDGER_DATABASE is required")
	}
	return nil
}

// ValidateSource checks the settings needed to talk to the accounts-payable API.
func (c *Config) ValidateSource() error {
	if c.SourceClientID == "" {
		return fmt.Errorf("SOURCE_CLIENT_ID is required")
	}
	if c.SourceClientSecret == "" {
		return fmt.Errorf("SOURCE_CLIENT_SECRET is required")
	}
	if c.SourceMode == ModeReadyForPost && c.SourceEntityID == "" {
		return fmt.Errorf("SOURCE_ENTITY_ID is required for mode %s", ModeReadyForPost)
	}
	return nil
}

// ValidateNotify checks that recipients, when configured, can be reached.
func (c *Config) ValidateNotify() error {
	if strings.TrimSpace(c.NotifyRecipients) == "" {
		return nil
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required when NOTIFY_EMAIL_RECIPIENTS is set")
	}
	if c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when NOTIFY_EMAIL_RECIPIENTS is set")
	}
	return nil
}

// NotificationsEnabled reports whether error emails can be delivered.
func (c *Config) NotificationsEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// source resolves keys from the environment or the config file and keeps the
// first parse error.
type source struct {
	v   *viper.Viper
	err error
}

func (s *source) get(key, defaultValue string) string {
	if value := strings.TrimSpace(s.v.GetString(key)); value != "" {
		return value
	}
	return defaultValue
}

func (s *source) getInt(key string, defaultValue int) int {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.fail(key, raw, err)
		return defaultValue
	}
	return n
}

func (s *source) getFloat(key string, defaultValue float64) float64 {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.fail(key, raw, err)
		return defaultValue
	}
	return f
}

func (s *source) getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		s.fail(key, raw, err)
		return defaultValue
	}
	return d
}

func (s *source) fail(key, raw string, err error) {
	if s.err == nil {
		s.err = fmt.Errorf("%s: invalid value %q: %w", key, raw, err)
	}
}
