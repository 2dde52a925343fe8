// Package config loads runtime settings from the environment (and an
// optional .env file) and holds the protocol timing constants.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

const (
	// WebSocket
	WriteWait  = 10 * time.Second
	PongWait   = 60 * time.Second
	PingPeriod = (PongWait * 9) / 10

	// Persistence calls made on behalf of one inbound event.
	StoreTimeout = 5 * time.Second

	DefaultJWTSecret = "dev-only-secret-change-me"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port string

	// Storage
	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret string
	JWTIssuer string

	// Security
	AllowedOrigins []string

	// WebSocket
	SendBufferSize int
	MaxMessageSize int64
	EventRate      rate.Limit
	EventBurst     int

	// HTTP
	HTTPRate  rate.Limit
	HTTPBurst int

	// Chat
	HistoryLimit int
	// SingleReactionPerUser limits each user to one reaction per message.
	SingleReactionPerUser bool

	// Logging
	LogLevel string
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:           "8080",
		JWTSecret:      DefaultJWTSecret,
		JWTIssuer:      "relaychat",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
		SendBufferSize: 256,
		MaxMessageSize: 64 << 10,
		EventRate:      20,
		EventBurst:     40,
		HTTPRate:       10,
		HTTPBurst:      20,
		HistoryLimit:   200,
		LogLevel:       "info",
	}
}

// Load reads .env (if present) and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not loaded, using process environment")
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}

	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = intEnv("REDIS_DB", cfg.RedisDB)

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseOrigins(v)
	}

	cfg.SendBufferSize = positiveIntEnv("SEND_BUFFER_SIZE", cfg.SendBufferSize)
	cfg.MaxMessageSize = int64(positiveIntEnv("MAX_MESSAGE_SIZE", int(cfg.MaxMessageSize)))
	cfg.EventRate = rate.Limit(positiveIntEnv("EVENT_RATE", int(cfg.EventRate)))
	cfg.EventBurst = positiveIntEnv("EVENT_BURST", cfg.EventBurst)
	cfg.HTTPRate = rate.Limit(positiveIntEnv("HTTP_RATE", int(cfg.HTTPRate)))
	cfg.HTTPBurst = positiveIntEnv("HTTP_BURST", cfg.HTTPBurst)
	cfg.HistoryLimit = positiveIntEnv("HISTORY_LIMIT", cfg.HistoryLimit)

	if v := os.Getenv("SINGLE_REACTION_PER_USER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SingleReactionPerUser = b
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	return cfg
}

// AllowOrigin reports whether a WebSocket handshake origin is acceptable.
// An empty origin (non-browser client) is always allowed.
func (c *Config) AllowOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Silent reports whether logging should be discarded.
func (c *Config) Silent() bool {
	return c.LogLevel == "silent" || c.LogLevel == "off"
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func positiveIntEnv(key string, def int) int {
	if n := intEnv(key, def); n > 0 {
		return n
	}
	return def
}

// parseOrigins parses comma-separated origins
func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
