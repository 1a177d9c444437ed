package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables are not
// overridden.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overlays environment variables on cfg. Unset or invalid values
// leave the current setting untouched.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = parseList(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		if size, err := ParseByteSize(maxSize); err == nil && size > 0 {
			cfg.Server.MaxMessageSize = size
		}
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if v, ok := os.LookupEnv("TRUST_PROXY_HEADERS"); ok {
		cfg.Server.TrustProxyHeaders = parseBool(v, cfg.Server.TrustProxyHeaders)
	}

	if secret := os.Getenv("CHATHUB_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if pass := os.Getenv("CHATHUB_SUPER_PASS"); pass != "" {
		cfg.Moderation.SuperPass = pass
	}
	if path := os.Getenv("CHATHUB_BAN_DB"); path != "" {
		cfg.Moderation.BanDB = path
	}
	if users := os.Getenv("CHATHUB_ELEVATED_USERS"); users != "" {
		cfg.Moderation.ElevatedUsers = parseList(users)
	}
	if v, ok := os.LookupEnv("CHATHUB_ELEVATE_LOOPBACK"); ok {
		cfg.Moderation.ElevateLoopback = parseBool(v, cfg.Moderation.ElevateLoopback)
	}

	if provider := os.Getenv("CHATHUB_AI_PROVIDER"); provider != "" {
		cfg.Generation.Provider = provider
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		cfg.Generation.BaseURL = url
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		cfg.Generation.TextModel = model
	}
	if model := os.Getenv("OLLAMA_VISION_MODEL"); model != "" {
		cfg.Generation.VisionModel = model
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseInterval accepts a Go duration ("500ms") or a whole number of seconds.
func parseInterval(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return b
	}
	return defaultValue
}
