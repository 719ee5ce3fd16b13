package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for inplace-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, tokens, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Browser  BrowserConfig  `yaml:"browser"`
	VCS      VCSConfig      `yaml:"vcs"`
	LLM      LLMConfig      `yaml:"llm"`
	Publish  PublishConfig  `yaml:"publish"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"inplace"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"inplace_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// AnalysisConfig bounds the cost of a site crawl and tunes classification.
type AnalysisConfig struct {
	MaxPages               int `yaml:"max_pages" env:"ANALYSIS_MAX_PAGES" env-default:"50"`
	MaxDepth               int `yaml:"max_depth" env:"ANALYSIS_MAX_DEPTH" env-default:"3"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" env:"ANALYSIS_MAX_CONSECUTIVE_FAILURES" env-default:"3"`

	// ClassifierStrategy selects how candidates are scored: "rules" or "model".
	ClassifierStrategy string `yaml:"classifier_strategy" env:"ANALYSIS_CLASSIFIER_STRATEGY" env-default:"rules"`

	// MinConfidence filters candidates below the cutoff before they reach the catalog.
	// 0 disables the cutoff and leaves filtering to the exclusion rules.
	MinConfidence float64 `yaml:"min_confidence" env:"ANALYSIS_MIN_CONFIDENCE" env-default:"0"`

	// RulesFile optionally points at a YAML file overriding the built-in exclusion rules.
	RulesFile string `yaml:"rules_file" env:"ANALYSIS_RULES_FILE" env-default:""`

	// StaleJobAfter is how long a job may go without a heartbeat before the reaper fails it.
	StaleJobAfter time.Duration `yaml:"stale_job_after" env:"ANALYSIS_STALE_JOB_AFTER" env-default:"5m"`

	// ReaperSchedule is the cron spec for the stale job reaper.
	ReaperSchedule string `yaml:"reaper_schedule" env:"ANALYSIS_REAPER_SCHEDULE" env-default:"@every 1m"`
}

// BrowserConfig configures the page loader used by the crawler.
type BrowserConfig struct {
	UserAgent string        `yaml:"user_agent" env:"BROWSER_USER_AGENT" env-default:"inplace-engine-crawler/1.0"`
	Timeout   time.Duration `yaml:"timeout" env:"BROWSER_TIMEOUT" env-default:"20s"`
}

// VCSConfig configures the version-control host gateway.
type VCSConfig struct {
	APIBaseURL string        `yaml:"api_base_url" env:"VCS_API_BASE_URL" env-default:"https://api.github.com"`
	Token      string        `yaml:"-" env:"VCS_TOKEN"` // Secret - not in YAML
	Timeout    time.Duration `yaml:"timeout" env:"VCS_TIMEOUT" env-default:"30s"`
}

// LLMConfig configures the model-backed classification strategy.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4000"`
}

// IsAvailable returns true if a model is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.Model != ""
}

// PublishConfig configures pull request creation.
type PublishConfig struct {
	BranchPrefix string `yaml:"branch_prefix" env:"PUBLISH_BRANCH_PREFIX" env-default:"content"`
	MaxEdits     int    `yaml:"max_edits" env:"PUBLISH_MAX_EDITS" env-default:"100"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and environment variables apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.parseComplexFields()

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validateAnalysis(); err != nil {
		return nil, fmt.Errorf("invalid analysis configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.Analysis.ClassifierStrategy = strings.ToLower(strings.TrimSpace(c.Analysis.ClassifierStrategy))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
}

// validateTLS ensures TLS configuration is valid if provided.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateAnalysis() error {
	a := c.Analysis
	if a.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1")
	}
	if a.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if a.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1")
	}
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1]")
	}
	switch a.ClassifierStrategy {
	case "rules":
	case "model":
		if !c.LLM.IsAvailable() {
			return fmt.Errorf("classifier_strategy=model requires llm.model")
		}
	default:
		return fmt.Errorf("unknown classifier_strategy %q", a.ClassifierStrategy)
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection settings as a postgres:// URL, which golang-migrate requires.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
