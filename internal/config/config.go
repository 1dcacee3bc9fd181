package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Session  SessionConfig
	Google   GoogleConfig
	OpenAlex OpenAlexConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Port         string
	BaseURL      string // external URL, used for OAuth redirect_uri
	FrontendURL  string // SPA to redirect to after login
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RequestTimeout bounds each request end to end, including upstream
	// fan-out.
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	// URL is optional; when empty the server runs on in-memory stores.
	URL string
}

type SessionConfig struct {
	Secret string
	MaxAge time.Duration
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
}

type OpenAlexConfig struct {
	// Mailto identifies us to OpenAlex's polite pool for a higher quota.
	Mailto  string
	Timeout time.Duration
	// RequestsPerSecond sizes the token-bucket limiter. The polite pool
	// allows 10 rps.
	RequestsPerSecond float64
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
			FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:5173"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
			RequestTimeout: getDurationEnv("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Session: SessionConfig{
			Secret: getEnv("SESSION_SECRET", "dev-session-secret-change-in-production"),
			MaxAge: getDurationEnv("SESSION_MAX_AGE", 30*24*time.Hour),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		},
		OpenAlex: OpenAlexConfig{
			Mailto:            getEnv("OPENALEX_MAILTO", ""),
			Timeout:           getDurationEnv("OPENALEX_TIMEOUT", 15*time.Second),
			RequestsPerSecond: getFloatEnv("OPENALEX_RPS", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: getSliceEnv("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
