package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration
type Config struct {
	// Server
	ServerPort string

	// Simulated execution
	MinDuration time.Duration
	MaxDuration time.Duration
	FailureRate float64
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		MinDuration: time.Duration(getEnvInt("MIN_DURATION_MS", 1000)) * time.Millisecond,
		MaxDuration: time.Duration(getEnvInt("MAX_DURATION_MS", 5000)) * time.Millisecond,
		FailureRate: getEnvFloat("FAILURE_RATE", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
