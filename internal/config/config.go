package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServiceConfig drives cmd/support-service.
type ServiceConfig struct {
	MongoURI          string
	MongoDB           string
	RedisURL          string
	JWTSecret         string
	ServerPort        string
	AllowedOrigins    []string
	OpenAIKey         string
	OpenAIModel       string
	SendRatePerMinute int
	QueueCacheTTL     time.Duration
}

// DeskConfig drives the cmd/support-desk console.
type DeskConfig struct {
	APIURL              string
	Token               string
	StaffID             string
	SessionPollInterval time.Duration
	MessagePollInterval time.Duration
	ActionTimeout       time.Duration
}

func LoadConfig() (*ServiceConfig, error) {
	if err := loadEnv(); err != nil {
		return nil, err
	}

	cfg := &ServiceConfig{
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        getEnv("MONGO_DB", "support"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
	}

	var err error
	if cfg.SendRatePerMinute, err = getInt("SEND_RATE_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	if cfg.QueueCacheTTL, err = getDuration("QUEUE_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	switch {
	case cfg.MongoURI == "":
		return nil, errors.New("MONGO_URI is required")
	case cfg.RedisURL == "":
		return nil, errors.New("REDIS_URL is required")
	case cfg.JWTSecret == "":
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func LoadDeskConfig() (*DeskConfig, error) {
	if err := loadEnv(); err != nil {
		return nil, err
	}

	cfg := &DeskConfig{
		APIURL:  strings.TrimRight(strings.Trim(getEnv("SUPPORT_API_URL", "http://localhost:8080"), "\""), "/"),
		Token:   os.Getenv("SUPPORT_TOKEN"),
		StaffID: os.Getenv("SUPPORT_STAFF_ID"),
	}

	var err error
	if cfg.SessionPollInterval, err = getDuration("SESSION_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MessagePollInterval, err = getDuration("MESSAGE_POLL_INTERVAL", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.ActionTimeout, err = getDuration("ACTION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		return nil, errors.New("SUPPORT_TOKEN is required")
	}
	return cfg, nil
}

// loadEnv reads .env when present; a missing file is not an error.
func loadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
