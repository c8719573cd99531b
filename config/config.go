package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Storage
	DBPath string

	// Ledger policy
	DefaultRate     decimal.Decimal // flat rate used when a loan carries no memoized rate
	DeductSameMonth bool            // first installment due in the issuance month
	FYStartMonth    int             // financial year start month, 1-12

	// Undo
	UndoDepth int

	// Scheduler
	SchedulerEnabled  bool          // automatic catch-up of overdue loans
	SchedulerInterval time.Duration // how often the scheduler checks
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBPath: getEnv("DB_PATH", "./data/ledger.db"),

		DefaultRate:     getEnvDecimal("DEFAULT_RATE", decimal.NewFromFloat(0.15)),
		DeductSameMonth: getEnv("DEDUCT_SAME_MONTH", "false") == "true",
		FYStartMonth:    getEnvInt("FY_START_MONTH", 4),

		UndoDepth: getEnvInt("UNDO_DEPTH", 50),

		SchedulerEnabled:  getEnv("SCHEDULER_ENABLED", "true") == "true",
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
