// Package config defines runtime defaults, file and environment loading, and
// validation for the chathub service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// ServerConfig holds the transport settings including security controls.
type ServerConfig struct {
	Port              string        `yaml:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	MaxMessageSize    ByteSize      `yaml:"max_message_size"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
	SendBuffer        int           `yaml:"send_buffer"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// ModerationConfig configures bans, elevation and admin management.
type ModerationConfig struct {
	BanDB                string   `yaml:"ban_db"`
	EnforceOriginBinding bool     `yaml:"enforce_origin_binding"`
	ElevateLoopback      bool     `yaml:"elevate_loopback"`
	ElevatedUsers        []string `yaml:"elevated_users"`
	SuperPass            string   `yaml:"super_pass"`
}

// ChatConfig bounds message and channel sizes.
type ChatConfig struct {
	HistoryLimit   int           `yaml:"history_limit"`
	MaxTextLength  int           `yaml:"max_text_length"`
	GroupNameMax   int           `yaml:"group_name_max"`
	DMBlockDefault time.Duration `yaml:"dm_block_default"`
}

// GenerationConfig selects and tunes the text-generation backend.
type GenerationConfig struct {
	Provider     string        `yaml:"provider"`
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	TextModel    string        `yaml:"text_model"`
	VisionModel  string        `yaml:"vision_model"`
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  float64       `yaml:"temperature"`
	NumPredict   int           `yaml:"num_predict"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// RetentionConfig schedules purging of idle private history.
type RetentionConfig struct {
	Enabled bool          `yaml:"enabled"`
	Cron    string        `yaml:"cron"`
	IdleFor time.Duration `yaml:"idle_for"`
}

// LoggingConfig selects the zap level and the json or console encoder.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the full service configuration. It is built once at startup and
// passed explicitly to every component.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Auth       AuthConfig       `yaml:"auth"`
	Moderation ModerationConfig `yaml:"moderation"`
	Chat       ChatConfig       `yaml:"chat"`
	Generation GenerationConfig `yaml:"generation"`
	Retention  RetentionConfig  `yaml:"retention"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

const (
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
	ProviderNone   = "none"
)

const defaultSystemPrompt = "You are a concise, helpful assistant. Keep answers under 60 words unless asked to elaborate. Respond to the person that prompted you."

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            ":8080",
			AllowedOrigins:  []string{"http://localhost:8080"},
			MaxMessageSize:  64 * 1024,
			SendBuffer:      256,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Moderation: ModerationConfig{
			BanDB: "data/bans",
		},
		Chat: ChatConfig{
			HistoryLimit:   100,
			MaxTextLength:  4000,
			GroupNameMax:   20,
			DMBlockDefault: 24 * time.Hour,
		},
		Generation: GenerationConfig{
			Provider:     ProviderOllama,
			Enabled:      true,
			BaseURL:      "http://localhost:11434",
			TextModel:    "llama3:8b",
			VisionModel:  "llava:7b",
			SystemPrompt: defaultSystemPrompt,
			Temperature:  0.6,
			NumPredict:   200,
			Timeout:      2 * time.Minute,
			MaxAttempts:  3,
		},
		Retention: RetentionConfig{
			Cron:    "0 * * * *",
			IdleFor: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an error
// unless required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Sanitize replaces invalid or missing values with defaults.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	if cfg.Server.SendBuffer <= 0 {
		cfg.Server.SendBuffer = def.Server.SendBuffer
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	cfg.Server.AllowedOrigins = trimAll(cfg.Server.AllowedOrigins)

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	cfg.Moderation.ElevatedUsers = trimAll(cfg.Moderation.ElevatedUsers)

	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = def.Chat.HistoryLimit
	}
	if cfg.Chat.MaxTextLength <= 0 {
		cfg.Chat.MaxTextLength = def.Chat.MaxTextLength
	}
	if cfg.Chat.GroupNameMax <= 0 {
		cfg.Chat.GroupNameMax = def.Chat.GroupNameMax
	}
	if cfg.Chat.DMBlockDefault <= 0 {
		cfg.Chat.DMBlockDefault = def.Chat.DMBlockDefault
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Generation.Provider)) {
	case ProviderOllama, "":
		cfg.Generation.Provider = ProviderOllama
	case ProviderMock:
		cfg.Generation.Provider = ProviderMock
	default:
		cfg.Generation.Provider = ProviderNone
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = def.Generation.BaseURL
	}
	cfg.Generation.BaseURL = strings.TrimRight(cfg.Generation.BaseURL, "/")
	if cfg.Generation.TextModel == "" {
		cfg.Generation.TextModel = def.Generation.TextModel
	}
	if cfg.Generation.VisionModel == "" {
		cfg.Generation.VisionModel = def.Generation.VisionModel
	}
	if cfg.Generation.SystemPrompt == "" {
		cfg.Generation.SystemPrompt = def.Generation.SystemPrompt
	}
	if cfg.Generation.Temperature < 0 {
		cfg.Generation.Temperature = def.Generation.Temperature
	}
	if cfg.Generation.NumPredict <= 0 {
		cfg.Generation.NumPredict = def.Generation.NumPredict
	}
	if cfg.Generation.Timeout <= 0 {
		cfg.Generation.Timeout = def.Generation.Timeout
	}
	if cfg.Generation.MaxAttempts <= 0 {
		cfg.Generation.MaxAttempts = def.Generation.MaxAttempts
	}

	if !gronx.New().IsValid(cfg.Retention.Cron) {
		cfg.Retention.Cron = def.Retention.Cron
	}
	if cfg.Retention.IdleFor <= 0 {
		cfg.Retention.IdleFor = def.Retention.IdleFor
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format != "console" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" || !strings.HasPrefix(cfg.Metrics.Path, "/") {
		cfg.Metrics.Path = def.Metrics.Path
	}
	return cfg
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
