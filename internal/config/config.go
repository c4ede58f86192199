// SPDX-License-Identifier: MIT

// Package config loads and validates the v2d runtime configuration.
// Precedence: environment > config file > defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry backend selectors.
const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// AppConfig is the complete runtime configuration of the daemon.
type AppConfig struct {
	// Server
	ListenAddr     string `yaml:"listenAddr"`
	DataDir        string `yaml:"dataDir"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsAddr    string `yaml:"metricsAddr"`

	// Logging
	LogLevel string `yaml:"logLevel"`

	// Auth: "user:token" pairs, comma separated in env form.
	APITokens map[string]string `yaml:"apiTokens"` // token -> user id

	// Upload limits
	MaxUploadBytes  int64 `yaml:"maxUploadBytes"`
	UploadRateLimit int   `yaml:"uploadRateLimit"` // requests per minute per IP, 0 disables

	// Job registry
	RegistryBackend string        `yaml:"registryBackend"` // "memory" or "redis"
	JobTTL          time.Duration `yaml:"jobTTL"`          // retention of terminal jobs, 0 disables eviction
	JanitorInterval time.Duration `yaml:"janitorInterval"`

	// Redis (only used when RegistryBackend == "redis")
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// Pipeline
	StageTimeout time.Duration `yaml:"stageTimeout"`

	// Collaborators
	TranscribeBaseURL string `yaml:"transcribeBaseURL"`
	TranscribeAPIKey  string `yaml:"transcribeAPIKey"`
	ExtractBaseURL    string `yaml:"extractBaseURL"`
	ExtractAPIKey     string `yaml:"extractAPIKey"`
	ExtractModel      string `yaml:"extractModel"`

	// Decision store
	DecisionDBPath string `yaml:"decisionDBPath"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr:      ":8080",
		DataDir:         "/var/lib/v2d",
		MetricsEnabled:  true,
		MetricsAddr:     ":9090",
		LogLevel:        "info",
		APITokens:       map[string]string{},
		MaxUploadBytes:  10 << 20, // 10 MiB
		UploadRateLimit: 30,
		RegistryBackend: RegistryMemory,
		JobTTL:          24 * time.Hour,
		JanitorInterval: 10 * time.Minute,
		RedisAddr:       "localhost:6379",
		StageTimeout:    60 * time.Second,
		ExtractModel:    "gpt-4o-mini",
	}
}

// Load builds the effective configuration: defaults, overlaid by an optional
// YAML file, overlaid by environment variables.
func Load(configPath string) (AppConfig, error) {
	cfg := Defaults()

	if configPath != "" {
		if err := mergeFile(&cfg, configPath); err != nil {
			return cfg, err
		}
	}

	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func mergeFile(cfg *AppConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.ListenAddr = ParseString("V2D_LISTEN", cfg.ListenAddr)
	cfg.DataDir = ParseString("V2D_DATA", cfg.DataDir)
	cfg.MetricsEnabled = ParseBool("V2D_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = ParseString("V2D_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = ParseString("V2D_LOG_LEVEL", cfg.LogLevel)

	if raw := ParseString("V2D_API_TOKENS", ""); raw != "" {
		if tokens, err := ParseTokenPairs(raw); err == nil {
			cfg.APITokens = tokens
		}
	}

	cfg.MaxUploadBytes = ParseInt64("V2D_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.UploadRateLimit = ParseInt("V2D_UPLOAD_RATE_LIMIT", cfg.UploadRateLimit)

	cfg.RegistryBackend = ParseString("V2D_REGISTRY", cfg.RegistryBackend)
	cfg.JobTTL = ParseDuration("V2D_JOB_TTL", cfg.JobTTL)
	cfg.JanitorInterval = ParseDuration("V2D_JANITOR_INTERVAL", cfg.JanitorInterval)

	cfg.RedisAddr = ParseString("V2D_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = ParseString("V2D_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = ParseInt("V2D_REDIS_DB", cfg.RedisDB)

	cfg.StageTimeout = ParseDuration("V2D_STAGE_TIMEOUT", cfg.StageTimeout)

	cfg.TranscribeBaseURL = ParseString("V2D_TRANSCRIBE_BASE_URL", cfg.TranscribeBaseURL)
	cfg.TranscribeAPIKey = ParseString("V2D_TRANSCRIBE_API_KEY", cfg.TranscribeAPIKey)
	cfg.ExtractBaseURL = ParseString("V2D_EXTRACT_BASE_URL", cfg.ExtractBaseURL)
	cfg.ExtractAPIKey = ParseString("V2D_EXTRACT_API_KEY", cfg.ExtractAPIKey)
	cfg.ExtractModel = ParseString("V2D_EXTRACT_MODEL", cfg.ExtractModel)

	cfg.DecisionDBPath = ParseString("V2D_DECISION_DB", cfg.DecisionDBPath)
}

// ParseTokenPairs parses "user:token,user2:token2" into a token -> user map.
func ParseTokenPairs(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		user, token, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(user) == "" || strings.TrimSpace(token) == "" {
			return nil, fmt.Errorf("invalid token pair %q, want user:token", part)
		}
		if _, dup := tokens[strings.TrimSpace(token)]; dup {
			return nil, fmt.Errorf("duplicate token for user %q", user)
		}
		tokens[strings.TrimSpace(token)] = strings.TrimSpace(user)
	}
	return tokens, nil
}

// Validate checks invariants that must hold before the daemon starts.
func (c AppConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage timeout must be positive, got %s", c.StageTimeout)
	}
	if c.JobTTL < 0 {
		return fmt.Errorf("job TTL must not be negative, got %s", c.JobTTL)
	}
	switch c.RegistryBackend {
	case RegistryMemory:
	case RegistryRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("registry backend is redis but redis address is empty")
		}
	default:
		return fmt.Errorf("unknown registry backend %q", c.RegistryBackend)
	}
	for _, base := range []string{c.TranscribeBaseURL, c.ExtractBaseURL} {
		if base == "" {
			continue
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid collaborator base URL %q: %w", base, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported collaborator URL scheme %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("collaborator base URL %q is missing host", base)
		}
	}
	return nil
}

// DecisionDB returns the effective SQLite path for the decision store.
func (c AppConfig) DecisionDB() string {
	if c.DecisionDBPath != "" {
		return c.DecisionDBPath
	}
	return c.DataDir + "/decisions.db"
}
