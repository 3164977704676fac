package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// 実行環境を表す定数。
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Google
	GoogleClientID string

	// Session
	SessionTTL         int // アイドルタイムアウト（秒）
	AbsoluteSessionTTL int // 絶対タイムアウト（秒）

	// Rate Limit
	RateLimitGeneral int // req/min/user
	RateLimitAuth    int // req/min/IP

	// Cleanup
	ActivityRetentionDays int
	CleanupInterval       time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.AppEnv = getEnvString("APP_ENV", EnvDevelopment)
	switch cfg.AppEnv {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return nil, fmt.Errorf("invalid APP_ENV: %q (allowed: development, production, test)", cfg.AppEnv)
	}

	// Optional fields with defaults
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.SessionTTL = getEnvInt("SESSION_TTL", 86400)
	cfg.AbsoluteSessionTTL = getEnvInt("ABSOLUTE_SESSION_TTL", 604800)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ActivityRetentionDays = getEnvInt("ACTIVITY_RETENTION_DAYS", 180)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.SessionTTL <= 0 || cfg.AbsoluteSessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL and ABSOLUTE_SESSION_TTL must be positive")
	}

	return cfg, nil
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// IdleTimeout はアイドルタイムアウトをtime.Durationで返す。
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.SessionTTL) * time.Second
}

// AbsoluteTimeout は絶対タイムアウトをtime.Durationで返す。
func (c *Config) AbsoluteTimeout() time.Duration {
	return time.Duration(c.AbsoluteSessionTTL) * time.Second
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
