package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Development-only keys. Deployments override them through the environment.
const (
	devCardEncryptionKey = "6b1f0a8c2d4e3f5a7b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a"
	devCardLookupKey     = "a1f0e9d8c7b6a5f4e3d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7f6e5d4c3b2a1f0"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	ServerPort  string
	DBDriver    string
	DatabaseDSN string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	JWTSecret   string
	SwaggerHost string

	CardEncryptionKey string
	CardLookupKey     string

	LogLevel  string
	LogFormat string

	LookupIndexSchedule string
	TransferCacheTTL    time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// Load builds Config from environment with sensible defaults.
func Load() *Config {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = getEnv("MYSQL_DSN", "user:password@tcp(localhost:3306)/bankcards?charset=utf8mb4&parseTime=True&loc=Local")
	}

	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DatabaseDSN: dsn,
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		RedisPass:   os.Getenv("REDIS_PASSWORD"),
		JWTSecret:   getEnv("JWT_SECRET", "change-me"),
		SwaggerHost: os.Getenv("SWAGGER_HOST"),

		CardEncryptionKey: getEnv("CARD_ENCRYPTION_KEY", devCardEncryptionKey),
		CardLookupKey:     getEnv("CARD_LOOKUP_KEY", devCardLookupKey),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),

		// an explicitly empty value disables the job
		LookupIndexSchedule: getEnvAllowEmpty("LOOKUP_INDEX_SCHEDULE", "@every 10m"),
		TransferCacheTTL:    time.Duration(getEnvInt("TRANSFER_CACHE_TTL_SECONDS", 60)) * time.Second,

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SenderEmail:  os.Getenv("SENDER_EMAIL"),
	}
}

// Validate checks required fields and key material.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.DBDriver {
	case "mysql", "postgres":
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver))
	}

	if key, err := hex.DecodeString(c.CardEncryptionKey); err != nil {
		errs = append(errs, errors.New("CARD_ENCRYPTION_KEY must be hex encoded"))
	} else if n := len(key); n != 16 && n != 24 && n != 32 {
		errs = append(errs, fmt.Errorf("CARD_ENCRYPTION_KEY must decode to 16, 24 or 32 bytes, got %d", n))
	}
	if key, err := hex.DecodeString(c.CardLookupKey); err != nil {
		errs = append(errs, errors.New("CARD_LOOKUP_KEY must be hex encoded"))
	} else if len(key) < 32 {
		errs = append(errs, fmt.Errorf("CARD_LOOKUP_KEY must decode to at least 32 bytes, got %d", len(key)))
	}

	if c.SMTPHost != "" && c.SenderEmail == "" {
		errs = append(errs, errors.New("SENDER_EMAIL is required when SMTP_HOST is set"))
	}
	if c.TransferCacheTTL < 0 {
		errs = append(errs, errors.New("TRANSFER_CACHE_TTL_SECONDS must not be negative"))
	}

	return errors.Join(errs...)
}

// UsesDevKeys reports whether the built-in development card keys are in use.
func (c *Config) UsesDevKeys() bool {
	return c.CardEncryptionKey == devCardEncryptionKey || c.CardLookupKey == devCardLookupKey
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAllowEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}
