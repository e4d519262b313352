package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Storage
	DataDir      string
	DatasetPath  string
	SQLiteDBPath string
	LockPath     string

	RetentionWindow int

	// Parent organization directory
	DirectoryDir            string
	DirectoryGlob           string
	DirectoryContractColumn string
	DirectoryParentColumn   string

	// CMS fetch
	CMSBaseURL       string
	FetchTimeout     time.Duration
	FetchConcurrency int
	FetchUserAgent   string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Drive
	DriveCredentialsJSON string
	DriveCredentialsFile string
	DriveFileID          string
	DriveUpload          bool

	// HTTP Server
	Port               string
	CacheSize          int
	CacheTTL           time.Duration
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Worker
	UpdateInterval time.Duration
	LockStaleness  time.Duration

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		DataDir:      getEnv("DATA_DIR", "cms_ma_enrollment_data"),
		DatasetPath:  getEnv("DATASET_PATH", "combined_enrollment.csv"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/enroll.db"),
		LockPath:     getEnv("LOCK_PATH", ""),

		RetentionWindow: getEnvInt("RETENTION_WINDOW", 24),

		DirectoryDir:            getEnv("DIRECTORY_DIR", ""),
		DirectoryGlob:           getEnv("DIRECTORY_GLOB", "*.csv"),
		DirectoryContractColumn: getEnv("DIRECTORY_CONTRACT_COLUMN", ""),
		DirectoryParentColumn:   getEnv("DIRECTORY_PARENT_COLUMN", ""),

		CMSBaseURL:       getEnv("CMS_BASE_URL", "https://www.cms.gov"),
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", 2*time.Minute),
		FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", 2),
		FetchUserAgent:   getEnv("FETCH_USER_AGENT", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "enrollment"),
		AMQPQueue:    getEnv("AMQP_QUEUE", ""),

		DriveCredentialsJSON: getEnv("GDRIVE_CREDENTIALS", ""),
		DriveCredentialsFile: getEnv("GDRIVE_CREDENTIALS_FILE", ""),
		DriveFileID:          getEnv("GDRIVE_FILE_ID", ""),
		DriveUpload:          getEnvBool("GDRIVE_UPLOAD", true),

		Port:               getEnv("PORT", "8081"),
		CacheSize:          getEnvInt("CACHE_SIZE", 512),
		CacheTTL:           getEnvDuration("CACHE_TTL", 10*time.Minute),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		UpdateInterval: getEnvDuration("UPDATE_INTERVAL", 24*time.Hour),
		LockStaleness:  getEnvDuration("LOCK_STALENESS", 6*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(cfg.DataDir, ".combine.lock")
	}

	return cfg
}

// DriveEnabled reports whether uploads are switched on and credentials are
// configured.
func (c *Config) DriveEnabled() bool {
	return c.DriveUpload && (c.DriveCredentialsJSON != "" || c.DriveCredentialsFile != "")
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DataDir == "" {
		errors = append(errors, "data directory cannot be empty")
	}
	if c.DatasetPath == "" {
		errors = append(errors, "dataset path cannot be empty")
	}

	if c.RetentionWindow < 1 || c.RetentionWindow > 240 {
		errors = append(errors, fmt.Sprintf("invalid retention window %d: must be between 1 and 240", c.RetentionWindow))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if parsedURL, err := url.Parse(c.CMSBaseURL); err != nil || parsedURL.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid CMS base URL '%s'", c.CMSBaseURL))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid CMS base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}

	if c.FetchTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %v: must be at least 1 second", c.FetchTimeout))
	}
	if c.FetchConcurrency < 1 || c.FetchConcurrency > 16 {
		errors = append(errors, fmt.Sprintf("invalid fetch concurrency %d: must be between 1 and 16", c.FetchConcurrency))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if (c.DirectoryContractColumn == "") != (c.DirectoryParentColumn == "") {
		errors = append(errors, "DIRECTORY_CONTRACT_COLUMN and DIRECTORY_PARENT_COLUMN must be set together")
	}

	if c.DriveCredentialsFile != "" {
		if _, err := os.Stat(c.DriveCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google Drive credentials file does not exist: %s", c.DriveCredentialsFile))
		}
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	}

	if c.UpdateInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid update interval %v: must be at least 1 minute", c.UpdateInterval))
	} else if c.UpdateInterval > 31*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid update interval %v: must be at most 31 days", c.UpdateInterval))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
