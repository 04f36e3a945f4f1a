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
	// HTTP Server
	Port               string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	CookieSecure       bool

	// Workspace
	DataBackend  string
	SQLiteDBPath string
	SessionTTL   time.Duration

	// Presentation
	PreviewRows    int
	DateLayout     string
	CurrencySymbol string

	// AMQP (optional for the web app, required by the worker)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Export targets
	GoogleSpreadsheetID string
	GoogleResultSheet   string
	ExportDir           string

	// Worker sweep for runs whose message was lost
	ExportInterval  time.Duration
	ExportBatchSize int
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		MaxUploadBytes:     getEnvInt64("MAX_UPLOAD_BYTES", 32<<20),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CookieSecure:       getEnv("COOKIE_SECURE", "false") == "true",

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/rollup.db"),
		SessionTTL:   getEnvDuration("SESSION_TTL", 2*time.Hour),

		PreviewRows:    getEnvInt("PREVIEW_ROWS", 5),
		DateLayout:     getEnv("DATE_LAYOUT", time.DateOnly),
		CurrencySymbol: getEnv("CURRENCY_SYMBOL", "¥"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "rollup"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "rollup_exports"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleResultSheet:   getEnv("GOOGLE_RESULT_SHEET", "完整汇总表"),
		ExportDir:           getEnv("EXPORT_DIR", ""),

		ExportInterval:  getEnvDuration("EXPORT_INTERVAL", 5*time.Minute),
		ExportBatchSize: getEnvInt("EXPORT_BATCH_SIZE", 10),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.MaxUploadBytes < 1<<10 || c.MaxUploadBytes > 512<<20 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be between 1KiB and 512MiB", c.MaxUploadBytes))
	}
	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be zero (disabled) or positive", c.RateLimitPerMinute))
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	if c.PreviewRows < 1 || c.PreviewRows > 100 {
		errors = append(errors, fmt.Sprintf("invalid preview rows %d: must be between 1 and 100", c.PreviewRows))
	}
	if !isTimeLayout(c.DateLayout) {
		errors = append(errors, fmt.Sprintf("invalid date layout '%s': must be a Go time layout such as 2006-01-02", c.DateLayout))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" && strings.TrimSpace(c.GoogleResultSheet) == "" {
		errors = append(errors, "Google result sheet name is required when GOOGLE_SPREADSHEET_ID is set")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateWorker checks what the export worker needs on top of Validate.
func (c *Config) ValidateWorker() error {
	var errors []string
	if c.DataBackend != "sqlite" {
		errors = append(errors, "the export worker reads runs from SQLite: DATA_BACKEND must be 'sqlite'")
	}
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required by the export worker")
	}
	if c.GoogleSpreadsheetID == "" && c.ExportDir == "" {
		errors = append(errors, "at least one export target is required: GOOGLE_SPREADSHEET_ID or EXPORT_DIR")
	}
	if c.ExportInterval < 10*time.Second {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be at least 10 seconds", c.ExportInterval))
	}
	if c.ExportBatchSize < 1 || c.ExportBatchSize > 100 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be between 1 and 100", c.ExportBatchSize))
	}
	if len(errors) > 0 {
		return fmt.Errorf("worker configuration invalid:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// isTimeLayout reports whether layout contains at least one reference field.
func isTimeLayout(layout string) bool {
	if strings.TrimSpace(layout) == "" {
		return false
	}
	ref := time.Date(2001, 3, 4, 0, 0, 0, 0, time.UTC)
	return ref.Format(layout) != layout
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
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
