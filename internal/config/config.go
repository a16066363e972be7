package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // 最小イメージでもTIMEZONEを解決できるようにする
)

// 購読ストアのバックエンド
const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Schedule provider
	ESPAPIToken           string
	ESPBaseURL            string
	ESPTestMode           string
	ESPRateLimitPerMinute int
	StatusURL             string
	ProviderTimeout       time.Duration

	// Store
	StoreBackend      string
	SubscriptionsFile string
	DatabaseURL       string

	// Timers
	Timezone              string
	Location              *time.Location
	StagePollBufferMinute int
	ScheduleRefreshCron   string

	// Chat
	ChatWebhookURL string
	FrontendToken  string

	// Server
	ServerPort       string
	RateLimitGeneral int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.ESPAPIToken = os.Getenv("ESP_API_TOKEN")
	if cfg.ESPAPIToken == "" {
		missing = append(missing, "ESP_API_TOKEN")
	}

	cfg.FrontendToken = os.Getenv("FRONTEND_TOKEN")
	if cfg.FrontendToken == "" {
		missing = append(missing, "FRONTEND_TOKEN")
	}

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendFile))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreBackend == StoreBackendPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ESPBaseURL = getEnvString("ESP_BASE_URL", "https://developer.sepush.co.za/business/2.0")
	cfg.ESPTestMode = strings.ToLower(os.Getenv("ESP_TEST_MODE"))
	cfg.ESPRateLimitPerMinute = getEnvInt("ESP_RATE_LIMIT_PER_MINUTE", 30)
	cfg.StatusURL = getEnvString("STATUS_URL", "https://loadshedding.eskom.co.za/LoadShedding/GetStatus")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.SubscriptionsFile = getEnvString("SUBSCRIPTIONS_FILE", "subscriptions.json")
	cfg.Timezone = getEnvString("TIMEZONE", "Africa/Johannesburg")
	cfg.StagePollBufferMinute = getEnvInt("STAGE_POLL_BUFFER_MINUTE", 30)
	cfg.ScheduleRefreshCron = getEnvString("SCHEDULE_REFRESH_CRON", "0 0 * * *")
	cfg.ChatWebhookURL = os.Getenv("CHAT_WEBHOOK_URL")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

// validate は列挙値と範囲を検証する。
func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendFile, StoreBackendPostgres:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: must be %q or %q", c.StoreBackend, StoreBackendFile, StoreBackendPostgres)
	}

	switch c.ESPTestMode {
	case "", "current", "future":
	default:
		return fmt.Errorf("invalid ESP_TEST_MODE %q: must be empty, \"current\" or \"future\"", c.ESPTestMode)
	}

	if c.StagePollBufferMinute < 0 || c.StagePollBufferMinute > 59 {
		return fmt.Errorf("invalid STAGE_POLL_BUFFER_MINUTE %d: must be between 0 and 59", c.StagePollBufferMinute)
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("invalid PROVIDER_TIMEOUT %s: must be positive", c.ProviderTimeout)
	}

	return nil
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
