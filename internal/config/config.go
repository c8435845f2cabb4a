// Package config handles compute agent configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Agent backends.
const (
	BackendMemory = "memory"
	BackendDuckDB = "duckdb"
)

// S3Config holds credentials for s3:// dataset sources.
type S3Config struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string // "path" (default) or "vhost"
}

// Configured returns true when key, secret and region are all set.
func (s S3Config) Configured() bool {
	return s.KeyID != "" && s.Secret != "" && s.Region != ""
}

// GCSConfig holds credentials for gs:// dataset sources.
type GCSConfig struct {
	CredentialsFile string // service account JSON key file
	Endpoint        string // override for emulators
}

// Configured returns true when a credentials file is set.
func (g GCSConfig) Configured() bool {
	return g.CredentialsFile != ""
}

// AzureConfig holds credentials for az:// dataset sources.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	ServiceURL  string // defaults to https://<account>.blob.core.windows.net/
}

// Configured returns true when account name and key are both set.
func (a AzureConfig) Configured() bool {
	return a.AccountName != "" && a.AccountKey != ""
}

// Config holds the configuration for the compute agent.
type Config struct {
	ListenAddr     string // HTTP listen address (default ":9443")
	GRPCListenAddr string // gRPC listen address; empty disables the gRPC server
	AgentToken     string // shared secret for request signing (required)
	LogLevel       string // log level: debug, info, warn, error (default "info")
	Env            string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second per client (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // empty disables CORS handling

	DatasetsFile string // YAML dataset manifest (optional)
	Backend      string // memory (default) or duckdb
	MaxMemoryGB  int    // DuckDB memory cap; 0 leaves the DuckDB default

	// SignatureMaxSkew bounds the age of a signed request (default 5m).
	SignatureMaxSkew time.Duration

	S3    S3Config
	GCS   GCSConfig
	Azure AzureConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the agent is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		GRPCListenAddr: os.Getenv("GRPC_LISTEN_ADDR"),
		AgentToken:     os.Getenv("AGENT_TOKEN"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
		DatasetsFile:   os.Getenv("DATASETS_FILE"),
		Backend:        strings.ToLower(strings.TrimSpace(os.Getenv("AGENT_BACKEND"))),
		S3: S3Config{
			KeyID:    os.Getenv("S3_KEY_ID"),
			Secret:   os.Getenv("S3_SECRET"),
			Endpoint: os.Getenv("S3_ENDPOINT"),
			Region:   os.Getenv("S3_REGION"),
			URLStyle: os.Getenv("S3_URL_STYLE"),
		},
		GCS: GCSConfig{
			CredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
			Endpoint:        os.Getenv("GCS_ENDPOINT"),
		},
		Azure: AzureConfig{
			AccountName: os.Getenv("AZURE_STORAGE_ACCOUNT"),
			AccountKey:  os.Getenv("AZURE_STORAGE_KEY"),
			ServiceURL:  os.Getenv("AZURE_STORAGE_URL"),
		},
	}

	if cfg.AgentToken == "" {
		return nil, fmt.Errorf("AGENT_TOKEN is required")
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = n
	}
	if v := os.Getenv("MAX_MEMORY_GB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_MEMORY_GB: %w", err)
		}
		cfg.MaxMemoryGB = n
	}
	if v := os.Getenv("SIGNATURE_MAX_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SIGNATURE_MAX_SKEW: %w", err)
		}
		cfg.SignatureMaxSkew = d
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9443"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if cfg.SignatureMaxSkew == 0 {
		cfg.SignatureMaxSkew = 5 * time.Minute
	}

	switch cfg.Backend {
	case BackendMemory, BackendDuckDB:
	default:
		return nil, fmt.Errorf("invalid AGENT_BACKEND %q (memory or duckdb)", cfg.Backend)
	}
	if cfg.MaxMemoryGB > 0 && cfg.Backend != BackendDuckDB {
		cfg.Warnings = append(cfg.Warnings, "MAX_MEMORY_GB is ignored by the memory backend")
	}
	if cfg.DatasetsFile == "" {
		cfg.Warnings = append(cfg.Warnings, "DATASETS_FILE not set; the agent starts with no datasets")
	}
	if (cfg.S3.KeyID == "") != (cfg.S3.Secret == "") {
		return nil, fmt.Errorf("both S3_KEY_ID and S3_SECRET must be set together")
	}
	if (cfg.Azure.AccountName == "") != (cfg.Azure.AccountKey == "") {
		return nil, fmt.Errorf("both AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY must be set together")
	}
	if cfg.S3.KeyID != "" && cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
		cfg.Warnings = append(cfg.Warnings, "S3_REGION not set; using us-east-1")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if len(cfg.AgentToken) < 16 {
			return nil, fmt.Errorf("AGENT_TOKEN must be at least 16 characters in production (ENV=production)")
		}
		for _, o := range cfg.CORSAllowedOrigins {
			if o == "*" {
				return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
			}
		}
	}

	return cfg, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		// Variables already in the environment win.
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
