// Package config provides centralized configuration for the server.
// Values are loaded from environment variables with sensible defaults; an
// optional YAML file (CONFIG_FILE) overrides provider and pipeline tuning.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string

	// DBPath is the path to the SQLite database file.
	DBPath string

	// Provider selects the default generation backend:
	// "openai", "claude", "gemini", "ollama".
	Provider string

	// OpenAIKey is the API key for the OpenAI service.
	OpenAIKey string

	// OpenAIBaseURL is the base URL for the OpenAI-compatible API.
	OpenAIBaseURL string

	// OpenAIModel is the model identifier for OpenAI completions.
	OpenAIModel string

	// AnthropicKey is the API key for the Anthropic Claude service.
	AnthropicKey string

	// AnthropicModel is the model identifier for Claude completions.
	AnthropicModel string

	// GeminiKey is the API key for the Google Gemini service.
	GeminiKey string

	// GeminiModel is the model identifier for Gemini completions.
	GeminiModel string

	// OllamaURL is the base URL for the local Ollama server.
	OllamaURL string

	// OllamaModel is the model identifier for Ollama completions.
	OllamaModel string

	// MaxAttempts is the retry budget per generation phase.
	MaxAttempts int

	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerThreshold int

	// Cooldown is the pause between completed queue items.
	Cooldown time.Duration

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string
}

// fileConfig is the YAML override schema. Only non-zero fields override the
// environment-derived values.
type fileConfig struct {
	Provider string `yaml:"provider"`
	Models   struct {
		OpenAI    string `yaml:"openai"`
		Anthropic string `yaml:"anthropic"`
		Gemini    string `yaml:"gemini"`
		Ollama    string `yaml:"ollama"`
	} `yaml:"models"`
	Pipeline struct {
		MaxAttempts      int    `yaml:"max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		BreakerThreshold int    `yaml:"breaker_threshold"`
		Cooldown         string `yaml:"cooldown"`
	} `yaml:"pipeline"`
}

// Load reads configuration from environment variables, applying defaults,
// then applies the optional YAML file named by CONFIG_FILE.
func Load() (Config, error) {
	loadEnvFile(".env.local")

	cfg := Config{
		Port:             envOr("PORT", "8080"),
		DBPath:           envOr("DB_PATH", "neuronotes.db"),
		Provider:         envOr("PROVIDER", "openai"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      envOr("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicKey:     os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:   envOr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GeminiKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:      envOr("OLLAMA_MODEL", "llama3"),
		MaxAttempts:      envInt("MAX_ATTEMPTS", 3),
		RetryBaseDelay:   envDuration("RETRY_BASE_DELAY", 2*time.Second),
		BreakerThreshold: envInt("BREAKER_THRESHOLD", 3),
		Cooldown:         envDuration("COOLDOWN", time.Second),
		CORSOrigin:       envOr("CORS_ORIGIN", "*"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	if fc.Provider != "" {
		c.Provider = fc.Provider
	}
	if fc.Models.OpenAI != "" {
		c.OpenAIModel = fc.Models.OpenAI
	}
	if fc.Models.Anthropic != "" {
		c.AnthropicModel = fc.Models.Anthropic
	}
	if fc.Models.Gemini != "" {
		c.GeminiModel = fc.Models.Gemini
	}
	if fc.Models.Ollama != "" {
		c.OllamaModel = fc.Models.Ollama
	}
	if fc.Pipeline.MaxAttempts > 0 {
		c.MaxAttempts = fc.Pipeline.MaxAttempts
	}
	if fc.Pipeline.RetryBaseDelay != "" {
		d, err := time.ParseDuration(fc.Pipeline.RetryBaseDelay)
		if err != nil {
			return fmt.Errorf("retry_base_delay: %w", err)
		}
		c.RetryBaseDelay = d
	}
	if fc.Pipeline.BreakerThreshold > 0 {
		c.BreakerThreshold = fc.Pipeline.BreakerThreshold
	}
	if fc.Pipeline.Cooldown != "" {
		d, err := time.ParseDuration(fc.Pipeline.Cooldown)
		if err != nil {
			return fmt.Errorf("cooldown: %w", err)
		}
		c.Cooldown = d
	}
	return nil
}

// UseStubs returns true when no API key is configured for the selected
// provider.
func (c Config) UseStubs() bool {
	switch c.Provider {
	case "claude":
		return c.AnthropicKey == ""
	case "gemini":
		return c.GeminiKey == ""
	case "ollama":
		return false // Ollama runs locally, no key needed
	default:
		return c.OpenAIKey == ""
	}
}

// loadEnvFile reads KEY=VALUE pairs from path into the process environment.
// Variables already set in the real environment are never overwritten. A
// missing file is not an error.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		os.Setenv(key, value)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
