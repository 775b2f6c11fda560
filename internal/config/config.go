// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	CORSOrigins []string

	// Primary completion provider: rotating credential pool, short timeout.
	PrimaryBaseURL string
	PrimaryModel   string
	PrimaryKeys    []string
	PrimaryTimeout time.Duration

	// Fallback provider: single key, single attempt, longer timeout.
	FallbackBaseURL string
	FallbackModel   string
	FallbackKey     string
	FallbackTimeout time.Duration
	FallbackReferer string
	FallbackTitle   string

	// Simulated human response delay range.
	DelayMin time.Duration
	DelayMax time.Duration

	// Session store.
	StoreBackend    string // "memory" or "sqlite"
	DBPath          string
	SessionCapacity int
	SessionTTL      time.Duration
	SweepInterval   time.Duration

	// Trap artifacts.
	StaticDir string

	// Optional analyzer sidecar for redaction/classification/media.
	AnalyzerURL     string
	AnalyzerTimeout time.Duration

	Evidence EvidenceConfig
}

// EvidenceConfig controls NDJSON conversation evidence logging.
type EvidenceConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Store backend names.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		PrimaryBaseURL: getEnv("PRIMARY_BASE_URL", "https://api.groq.com/openai/v1"),
		PrimaryModel:   getEnv("PRIMARY_MODEL", "llama3-70b-8192"),
		PrimaryKeys:    splitList(os.Getenv("PRIMARY_API_KEYS")),
		PrimaryTimeout: getEnvDuration("PRIMARY_TIMEOUT", 10*time.Second),

		FallbackBaseURL: getEnv("FALLBACK_BASE_URL", "https://openrouter.ai/api/v1"),
		FallbackModel:   getEnv("FALLBACK_MODEL", "meta-llama/llama-3.1-70b-instruct"),
		FallbackKey:     os.Getenv("FALLBACK_API_KEY"),
		FallbackTimeout: getEnvDuration("FALLBACK_TIMEOUT", 15*time.Second),
		FallbackReferer: getEnv("FALLBACK_REFERER", ""),
		FallbackTitle:   getEnv("FALLBACK_TITLE", ""),

		DelayMin: getEnvDuration("DELAY_MIN", 4*time.Second),
		DelayMax: getEnvDuration("DELAY_MAX", 8*time.Second),

		StoreBackend:    getEnv("STORE_BACKEND", StoreMemory),
		DBPath:          getEnv("DB_PATH", "./data/honeypot.db"),
		SessionCapacity: getEnvInt("SESSION_CAPACITY", 10000),
		SessionTTL:      getEnvDuration("SESSION_TTL", 24*time.Hour),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),

		StaticDir: getEnv("STATIC_DIR", "./static"),

		AnalyzerURL:     getEnv("ANALYZER_URL", ""),
		AnalyzerTimeout: getEnvDuration("ANALYZER_TIMEOUT", 30*time.Second),

		Evidence: EvidenceConfig{
			Enabled:   getEnvBool("EVIDENCE_ENABLED", true),
			Dir:       getEnv("EVIDENCE_DIR", "./data/evidence"),
			QueueSize: getEnvInt("EVIDENCE_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.StoreBackend != StoreMemory && c.StoreBackend != StoreSQLite {
		return fmt.Errorf("STORE_BACKEND must be %q or %q", StoreMemory, StoreSQLite)
	}
	if c.StoreBackend == StoreSQLite && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty with the sqlite backend")
	}
	if c.SessionCapacity <= 0 {
		return fmt.Errorf("SESSION_CAPACITY must be > 0")
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return fmt.Errorf("DELAY_MIN/DELAY_MAX must satisfy 0 <= min <= max")
	}
	if c.PrimaryTimeout <= 0 || c.FallbackTimeout <= 0 {
		return fmt.Errorf("provider timeouts must be > 0")
	}
	if c.StaticDir == "" {
		return fmt.Errorf("STATIC_DIR cannot be empty")
	}
	if c.Evidence.Enabled && c.Evidence.Dir == "" {
		return fmt.Errorf("EVIDENCE_DIR cannot be empty when evidence logging is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// splitList parses a comma-separated list, trimming blanks.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
