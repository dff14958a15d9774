// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GoogleConfig holds the OAuth client used to refresh agent credentials.
type GoogleConfig struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	// TokenURL overrides the Google token endpoint (tests, proxies).
	TokenURL string `validate:"omitempty,url"`
	// GmailEndpoint overrides the Gmail API base URL.
	GmailEndpoint string `validate:"omitempty,url"`
}

// LLMConfig holds completion and embedding service settings.
type LLMConfig struct {
	APIKey          string  `validate:"required"`
	BaseURL         string  `validate:"omitempty,url"`
	ChatModel       string  `validate:"required"`
	ClassifierModel string  `validate:"required"`
	EmbeddingModel  string  `validate:"required"`
	Temperature     float64 `validate:"gte=0,lte=2"`
}

// Config holds all configuration for the mail agent service.
type Config struct {
	DatabaseURL string `validate:"required"`

	// Redis
	RedisURL  string `validate:"required"`
	JobsQueue string `validate:"required"`

	Google GoogleConfig
	LLM    LLMConfig

	// Poller
	PollInterval     time.Duration `validate:"gt=0"`
	MaxUnread        int64         `validate:"gt=0"`
	AgentConcurrency int           `validate:"gt=0"`

	// Knowledge retrieval
	SimilarityThreshold float64 `validate:"gte=0,lte=1"`
	MaxChunks           int     `validate:"gt=0"`
	ChunkSize           int     `validate:"gt=0"`

	TokenLifetime time.Duration `validate:"gt=0"`
	CallTimeout   time.Duration `validate:"gt=0"`

	// Sentry alerting, disabled when DSN is empty.
	SentryDSN         string
	SentryEnvironment string

	Workers  int    `validate:"gt=0"`
	Port     int    `validate:"gt=0,lte=65535"`
	LogLevel string `validate:"oneof=debug info warn error"`
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Jobs string `yaml:"jobs"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Google struct {
		ClientID      string `yaml:"client_id"`
		ClientSecret  string `yaml:"client_secret"`
		TokenURL      string `yaml:"token_url"`
		GmailEndpoint string `yaml:"gmail_endpoint"`
	} `yaml:"google"`
	LLM struct {
		APIKey          string   `yaml:"api_key"`
		BaseURL         string   `yaml:"base_url"`
		ChatModel       string   `yaml:"chat_model"`
		ClassifierModel string   `yaml:"classifier_model"`
		EmbeddingModel  string   `yaml:"embedding_model"`
		Temperature     *float64 `yaml:"temperature"`
	} `yaml:"llm"`
	Sentry struct {
		DSN         string `yaml:"dsn"`
		Environment string `yaml:"environment"`
	} `yaml:"sentry"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

var validate = validator.New()

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes plus environment fallbacks.
// Empty data is allowed; every setting then comes from the environment.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	temperature := envOrDefaultFloat("LLM_TEMPERATURE", 0.7)
	if raw.LLM.Temperature != nil {
		temperature = *raw.LLM.Temperature
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		JobsQueue:   firstNonEmpty(raw.Redis.Queues.Jobs, envOrDefault("JOBS_QUEUE", "mailagent:jobs")),
		Google: GoogleConfig{
			ClientID:      firstNonEmpty(raw.Google.ClientID, os.Getenv("GOOGLE_CLIENT_ID")),
			ClientSecret:  firstNonEmpty(raw.Google.ClientSecret, os.Getenv("GOOGLE_CLIENT_SECRET")),
			TokenURL:      firstNonEmpty(raw.Google.TokenURL, os.Getenv("GOOGLE_TOKEN_URL")),
			GmailEndpoint: firstNonEmpty(raw.Google.GmailEndpoint, os.Getenv("GMAIL_ENDPOINT")),
		},
		LLM: LLMConfig{
			APIKey:          firstNonEmpty(raw.LLM.APIKey, os.Getenv("OPENAI_API_KEY")),
			BaseURL:         firstNonEmpty(raw.LLM.BaseURL, os.Getenv("OPENAI_BASE_URL")),
			ChatModel:       firstNonEmpty(raw.LLM.ChatModel, envOrDefault("LLM_CHAT_MODEL", "gpt-4o-mini")),
			ClassifierModel: firstNonEmpty(raw.LLM.ClassifierModel, envOrDefault("LLM_CLASSIFIER_MODEL", "gpt-4o-mini")),
			EmbeddingModel:  firstNonEmpty(raw.LLM.EmbeddingModel, envOrDefault("LLM_EMBEDDING_MODEL", "text-embedding-3-small")),
			Temperature:     temperature,
		},
		PollInterval:        envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		MaxUnread:           int64(envOrDefaultInt("POLL_MAX_UNREAD", 10)),
		AgentConcurrency:    envOrDefaultInt("POLL_AGENT_CONCURRENCY", 1),
		SimilarityThreshold: envOrDefaultFloat("KNOWLEDGE_SIMILARITY_THRESHOLD", 0.7),
		MaxChunks:           envOrDefaultInt("KNOWLEDGE_MAX_CHUNKS", 5),
		ChunkSize:           envOrDefaultInt("KNOWLEDGE_CHUNK_SIZE", 1200),
		TokenLifetime:       envOrDefaultDuration("TOKEN_LIFETIME", time.Hour),
		CallTimeout:         envOrDefaultDuration("CALL_TIMEOUT", 30*time.Second),
		SentryDSN:           firstNonEmpty(raw.Sentry.DSN, os.Getenv("SENTRY_DSN")),
		SentryEnvironment:   firstNonEmpty(raw.Sentry.Environment, envOrDefault("SENTRY_ENVIRONMENT", "production")),
		Workers:             envOrDefaultInt("WORKERS", 4),
		Port:                envOrDefaultInt("PORT", 8080),
		LogLevel:            strings.ToLower(firstNonEmpty(raw.Logging.Level, envOrDefault("LOG_LEVEL", "info"))),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
