// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Auth     AuthConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig selects the driver and holds its connection settings.
// DSNOverride (DATABASE_DSN) wins over the discrete fields.
type DatabaseConfig struct {
	Driver      string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	Path        string // sqlite file
	DSNOverride string
	Debug       bool
}

type AppConfig struct {
	Dev        bool
	Migrations bool
	Metrics    bool
	// ProfileCacheTTL bounds how long a role change takes to apply.
	ProfileCacheTTL time.Duration
	// CORSOrigins enables CORS for these origins; empty disables it.
	CORSOrigins []string
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type LogConfig struct {
	Level string
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.DSNOverride != "" {
		return d.DSNOverride
	}
	if d.Driver == DriverSQLite {
		return d.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format, as expected
// by the SQL migration runner.
func (d DatabaseConfig) URL() string {
	if strings.HasPrefix(d.DSNOverride, "postgres://") || strings.HasPrefix(d.DSNOverride, "postgresql://") {
		return d.DSNOverride
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if !c.App.Dev && c.Auth.Secret == devSecret {
		return fmt.Errorf("JWT_SECRET must be set outside dev mode")
	}
	return nil
}

const devSecret = "dev-pos-secret"

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:      strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "pos"),
			Password:    getEnv("DB_PASSWORD", "pos123"),
			DBName:      getEnv("DB_NAME", "pos"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			Path:        getEnv("DB_PATH", "pos.db"),
			DSNOverride: strings.Trim(strings.TrimSpace(os.Getenv("DATABASE_DSN")), `"'`),
			Debug:       getEnvBool("DB_DEBUG", false),
		},
		App: AppConfig{
			Dev:             getEnvBool("DEV", true),
			Migrations:      getEnvBool("MIGRATIONS", false),
			Metrics:         getEnvBool("METRICS", true),
			ProfileCacheTTL: time.Duration(getEnvInt("PROFILE_CACHE_SECONDS", 300)) * time.Second,
			CORSOrigins:     getEnvList("CORS_ORIGINS"),
		},
		Auth: AuthConfig{
			Secret:   getEnv("JWT_SECRET", devSecret),
			TokenTTL: time.Duration(getEnvInt("TOKEN_TTL_MINUTES", 24*60)) * time.Minute,
		},
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
