// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Logger   LoggerConfig
	Redis    RedisConfig
	Schedule ScheduleConfig
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LoggerConfig struct {
	Level string
	Human bool
}

// RedisConfig is optional. An empty Addr keeps chain locking in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// ScheduleConfig drives the periodic recompute. A zero Interval disables it.
type ScheduleConfig struct {
	Interval     time.Duration
	LookbackDays int
}

// Load reads a .env file from the working directory if there is one, then the environment.
// Variables already set in the environment win over the file.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:        getEnv("FRESHSTOCK_HTTP_ADDR", ":8080"),
			CORSOrigins: getEnvSlice("FRESHSTOCK_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("FRESHSTOCK_DB_DRIVER", "sqlite3"),
			DSN:             getEnv("FRESHSTOCK_DB_DSN", "freshstock.db"),
			MaxOpenConns:    getEnvInt("FRESHSTOCK_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("FRESHSTOCK_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("FRESHSTOCK_DB_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Logger: LoggerConfig{
			Level: getEnv("FRESHSTOCK_LOG_LEVEL", "info"),
			Human: getEnvBool("FRESHSTOCK_LOG_HUMAN", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("FRESHSTOCK_REDIS_ADDR", ""),
			Password: getEnv("FRESHSTOCK_REDIS_PASSWORD", ""),
			DB:       getEnvInt("FRESHSTOCK_REDIS_DB", 0),
			LockTTL:  time.Duration(getEnvInt("FRESHSTOCK_LOCK_TTL", 30)) * time.Second,
		},
		Schedule: ScheduleConfig{
			Interval:     time.Duration(getEnvInt("FRESHSTOCK_RECOMPUTE_INTERVAL", 0)) * time.Second,
			LookbackDays: getEnvInt("FRESHSTOCK_RECOMPUTE_LOOKBACK_DAYS", 7),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
