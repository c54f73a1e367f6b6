// Package server provides configuration helpers that define runtime defaults,
// validation and loading for the chat relay.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values for optional configuration fields.
const (
	DefaultPort           = ":8080"
	DefaultMaxMessageSize = 4096
	DefaultSendBufferSize = 256
)

// Config holds the server configuration settings.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxMessageSize int64    `yaml:"max_message_size"`
	SendBufferSize int      `yaml:"send_buffer_size"`
	StaticDir      string   `yaml:"static_dir"`
}

func defaultConfig() Config {
	return Config{
		Port: DefaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: DefaultMaxMessageSize,
		SendBufferSize: DefaultSendBufferSize,
	}
}

// sanitizeConfig replaces invalid values with defaults and normalizes origins.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = DefaultSendBufferSize
	}

	origins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	if allowAll {
		origins = append(origins, "*")
	}
	cfg.AllowedOrigins = origins

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

// LoadConfigFile reads a YAML config file, expanding ${VAR} references, and
// layers it over the defaults. Environment variables still take precedence.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if buffer := os.Getenv("SEND_BUFFER_SIZE"); buffer != "" {
		cfg.SendBufferSize = parseIntValue(buffer, cfg.SendBufferSize)
	}

	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}
