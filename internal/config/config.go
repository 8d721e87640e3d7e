package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the relay server's environment-driven configuration.
type Config struct {
	Server ServerConfig
	Relay  RelayConfig
}

type ServerConfig struct {
	// Engine selects the HTTP stack: "hertz" (default) or "echo".
	Engine string
	Port   string
	// ReadTimeout bounds request header reads; websocket connections are
	// long-lived and deliberately unbounded.
	ReadTimeout time.Duration
}

type RelayConfig struct {
	// SendBuffer is the per-participant outbound queue size; messages to a
	// slow consumer are dropped once it fills.
	SendBuffer int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Engine:      getEnvOrDefault("SERVER_ENGINE", "hertz"),
			Port:        getEnvOrDefault("PORT", ":8080"),
			ReadTimeout: getDurationOrDefault("READ_TIMEOUT", "15s"),
		},
		Relay: RelayConfig{
			SendBuffer: getIntOrDefault("SEND_BUFFER", 16),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}
