package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	App      AppConfig
	Jobs     JobsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SQLitePath string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret     string
	LogLevel      string
	EconomicsFile string
}

// JobsConfig controls how the accrual tick and the weekly pool cycle are triggered.
type JobsConfig struct {
	// TriggerMode is one of "scheduler", "request" or "both".
	TriggerMode       string
	CheckInterval     time.Duration
	DailyHour         int
	PoolHour          int
	RequestCheckEvery time.Duration
	LeaseTTL          time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config, err := LoadForTooling()
	if err != nil {
		return nil, err
	}
	if config.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return config, nil
}

// LoadForTooling is Load without the JWT secret requirement, for operator commands.
func LoadForTooling() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "rewards_ledger"),
			SQLitePath: getEnv("SQLITE_PATH", "rewards_ledger.db"),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		},
		App: AppConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			EconomicsFile: getEnv("ECONOMICS_FILE", ""),
		},
		Jobs: JobsConfig{
			TriggerMode:       getEnv("JOB_TRIGGER_MODE", "scheduler"),
			CheckInterval:     getDuration("JOB_CHECK_INTERVAL", 15*time.Minute),
			DailyHour:         getInt("DAILY_EARNINGS_HOUR", 0),
			PoolHour:          getInt("GLOBAL_POOL_HOUR", 23),
			RequestCheckEvery: getDuration("JOB_REQUEST_CHECK_EVERY", 5*time.Minute),
			LeaseTTL:          getDuration("JOB_LEASE_TTL", 30*time.Minute),
		},
	}

	switch config.Database.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", config.Database.Driver)
	}

	switch config.Jobs.TriggerMode {
	case "scheduler", "request", "both":
	default:
		return nil, fmt.Errorf("unsupported JOB_TRIGGER_MODE %q", config.Jobs.TriggerMode)
	}

	if config.Jobs.DailyHour < 0 || config.Jobs.DailyHour > 23 {
		return nil, fmt.Errorf("DAILY_EARNINGS_HOUR must be between 0 and 23")
	}
	if config.Jobs.PoolHour < 0 || config.Jobs.PoolHour > 23 {
		return nil, fmt.Errorf("GLOBAL_POOL_HOUR must be between 0 and 23")
	}

	return config, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// SchedulerEnabled reports whether the ticker-driven jobs should run.
func (j JobsConfig) SchedulerEnabled() bool {
	return j.TriggerMode == "scheduler" || j.TriggerMode == "both"
}

// RequestTriggerEnabled reports whether incoming requests may kick off a job check.
func (j JobsConfig) RequestTriggerEnabled() bool {
	return j.TriggerMode == "request" || j.TriggerMode == "both"
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
