/*
 * This file is part of VoxScribe (https://github.com/voxscribe/voxscribe).
 * Copyright (C) 2025 VoxScribe Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend type discriminators. The factory validates against this closed set.
const (
	BackendOpenAI   = "openai"
	BackendWhisperd = "whisperd"
	BackendLocal    = "local"
)

// Config holds all configuration for the VoxScribe hub
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Backends map[string]BackendConfig
	Active   string // active backend type discriminator
	Export   ExportConfig
	Logging  LoggingConfig
	NATS     NATSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StorageConfig holds persistent store configuration
type StorageConfig struct {
	DBPath  string
	DataDir string // transcription artifacts live under <DataDir>/transcriptions
}

// BackendConfig describes one transcription backend endpoint
type BackendConfig struct {
	Type       string
	URL        string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// ExportConfig holds export formatter output configuration
type ExportConfig struct {
	Dir string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	URL           string
	Enabled       bool
	MaxReconnect  int
	ReconnectWait time.Duration
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	// Missing .env is the normal case in production.
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("VOX_HOST", "0.0.0.0"),
			Port:         getEnvInt("VOX_PORT", 8080),
			ReadTimeout:  getEnvDuration("VOX_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("VOX_WRITE_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			DBPath:  getEnvString("VOX_DB_PATH", "./data/voxscribe-hub.db"),
			DataDir: getEnvString("VOX_DATA_DIR", "./data"),
		},
		Backends: map[string]BackendConfig{
			BackendOpenAI: {
				Type:       BackendOpenAI,
				URL:        getEnvString("OPENAI_API_URL", "https://api.openai.com/v1"),
				APIKey:     getEnvString("OPENAI_API_KEY", ""),
				Model:      getEnvString("OPENAI_MODEL", "whisper-1"),
				Timeout:    getEnvDuration("OPENAI_TIMEOUT", 120*time.Second),
				MaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 3),
			},
			BackendWhisperd: {
				Type:       BackendWhisperd,
				URL:        getEnvString("WHISPERD_URL", "http://localhost:9000"),
				APIKey:     getEnvString("WHISPERD_API_KEY", ""),
				Model:      getEnvString("WHISPERD_MODEL", "base"),
				Timeout:    getEnvDuration("WHISPERD_TIMEOUT", 300*time.Second),
				MaxRetries: getEnvInt("WHISPERD_MAX_RETRIES", 3),
			},
			BackendLocal: {
				Type:    BackendLocal,
				URL:     getEnvString("WHISPER_MODEL_PATH", "./models/ggml-base.en.bin"),
				Model:   getEnvString("WHISPER_MODEL_NAME", "ggml-base.en"),
				Timeout: getEnvDuration("WHISPER_TIMEOUT", 600*time.Second),
			},
		},
		Active: strings.ToLower(getEnvString("VOX_BACKEND", BackendOpenAI)),
		Export: ExportConfig{
			Dir: getEnvString("VOX_EXPORT_DIR", "./exports"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		NATS: NATSConfig{
			URL:           getEnvString("NATS_URL", "nats://localhost:4222"),
			Enabled:       getEnvBool("NATS_ENABLED", false),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// ActiveBackend resolves the configuration for the requested backend type.
// An empty type selects the configured active backend. The second return
// value is false when the type is unknown or the backend is not usable
// (for example an OpenAI backend without an API key).
func (c *Config) ActiveBackend(backendType string) (BackendConfig, bool) {
	if backendType == "" {
		backendType = c.Active
	}

	backend, ok := c.Backends[strings.ToLower(backendType)]
	if !ok {
		return BackendConfig{}, false
	}

	if backend.Type == BackendOpenAI && backend.APIKey == "" {
		return BackendConfig{}, false
	}

	return backend, true
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("database path must be provided")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory must be provided")
	}

	if _, ok := c.Backends[c.Active]; !ok {
		return fmt.Errorf("unknown active backend type: %s", c.Active)
	}

	for name, backend := range c.Backends {
		if backend.URL == "" {
			return fmt.Errorf("backend %s: URL must be provided", name)
		}
		if backend.Timeout <= 0 {
			return fmt.Errorf("backend %s: timeout must be positive: %s", name, backend.Timeout)
		}
		if backend.MaxRetries < 0 {
			return fmt.Errorf("backend %s: max retries must not be negative: %d", name, backend.MaxRetries)
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
