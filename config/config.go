package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port        string `validate:"required"`
	DatabaseURL string `validate:"required"`
	RedisAddr   string `validate:"required"`
	RabbitURL   string `validate:"required"`

	TwilioAccountSID string `validate:"required"`
	TwilioAuthToken  string `validate:"required"`
	TwilioFromNumber string `validate:"required,e164"`
	// Public base URL used to build the status callback and to reconstruct
	// webhook request URLs for signature validation.
	PublicBaseURL string `validate:"required,url"`

	SendQueue          string
	WorkerConcurrency  int `validate:"min=1,max=64"`
	MaxRetries         int `validate:"min=0,max=10"`
	RequestTimeoutSecs int `validate:"min=1,max=300"`

	RateLimitWindow time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, loading a .env file first
// if one is present. Environment variables win over .env values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RabbitURL:          os.Getenv("RABBITMQ_URL"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		PublicBaseURL:      os.Getenv("PUBLIC_BASE_URL"),
		SendQueue:          getEnv("SEND_QUEUE", "tribsms_send"),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		MaxRetries:         getEnvInt("MAX_RETRIES", 3),
		RequestTimeoutSecs: getEnvInt("REQUEST_TIMEOUT_SECONDS", 30),
		RateLimitWindow:    time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}
