package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"spendbook/internal/auth"
	"spendbook/internal/middleware"

	"github.com/joho/godotenv"
)

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

const minSessionSecretLen = 32

type Config struct {
	// HTTP Server
	Port           string
	SecureCookie   bool
	TrustedProxies []string

	// Database
	DatabaseURL   string
	MongoDatabase string

	// Authentication
	AuthEnabled       bool
	SessionSecret     string
	AllowRegistration bool
	AdminUser         string
	AdminPassword     string
	LoginRateLimit    int

	// AMQP
	AMQPURL      string
	AMQPExchange string

	// Logging
	LogLevel       string
	LogDevelopment bool
}

// LoadDotEnv reads .env into the environment when the file exists.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load() *Config {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		dbURL = getEnv("DB_PATH", "expenses.db")
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		SecureCookie:   getEnvBool("SECURE_COOKIE", false),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		DatabaseURL:   dbURL,
		MongoDatabase: getEnv("MONGO_DATABASE", "expense_tracker_db"),

		AuthEnabled:       getEnvBool("AUTH_ENABLED", true),
		SessionSecret:     getEnv("SESSION_SECRET", ""),
		AllowRegistration: getEnvBool("ALLOW_REGISTRATION", true),
		AdminUser:         getEnv("ADMIN_USER", ""),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		LoginRateLimit:    getEnvInt("LOGIN_RATE_LIMIT", 10),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expenses"),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogDevelopment: getEnvBool("LOG_DEVELOPMENT", false),
	}
}

// Backend derives the storage backend from the database URL scheme.
// Anything without a recognised scheme is a SQLite path.
func (c *Config) Backend() string {
	lower := strings.ToLower(c.DatabaseURL)
	switch {
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return BackendMongo
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return BackendPostgres
	default:
		return BackendSQLite
	}
}

// SQLitePath returns the SQLite file path, without an optional sqlite:// prefix.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DatabaseURL == "" || c.SQLitePath() == "" {
		errs = append(errs, "database URL cannot be empty")
	}
	if c.Backend() == BackendMongo && c.MongoDatabase == "" {
		errs = append(errs, "MONGO_DATABASE cannot be empty when using the mongo backend")
	}

	if c.AuthEnabled {
		if len(c.SessionSecret) < minSessionSecretLen {
			errs = append(errs, fmt.Sprintf("SESSION_SECRET must be at least %d characters when authentication is enabled", minSessionSecretLen))
		}
		if (c.AdminUser == "") != (c.AdminPassword == "") {
			errs = append(errs, "ADMIN_USER and ADMIN_PASSWORD must be set together")
		} else if c.AdminPassword != "" {
			if err := auth.ValidatePassword(c.AdminPassword); err != nil {
				errs = append(errs, fmt.Sprintf("invalid ADMIN_PASSWORD: %v", err))
			}
		}
		if c.LoginRateLimit < 1 {
			errs = append(errs, fmt.Sprintf("invalid login rate limit %d: must be at least 1", c.LoginRateLimit))
		}
	}

	if _, err := middleware.ParseProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRUSTED_PROXIES: %v", err))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
