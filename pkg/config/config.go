package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the postmint system.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Auth       AuthConfig       `yaml:"auth"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Patterns   PatternsConfig   `yaml:"patterns"`
	Stock      StockConfig      `yaml:"stock"`
	Generation GenerationConfig `yaml:"generation"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Providers  []ProviderConfig `yaml:"providers"`
	Accounts   []AccountConfig  `yaml:"accounts"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures post/pattern/test persistence.
type DatabaseConfig struct {
	Type string `yaml:"type"` // "postgres", "memory"
	DSN  string `yaml:"dsn"`
}

// RedisConfig configures the optional completion cache backend.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig configures the outcome/event message bus.
type NATSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	StreamName string `yaml:"stream_name"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	AdminPasswordHash string        `yaml:"admin_password_hash"` // bcrypt
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// ScoringConfig selects the rubric and thresholds. Two historical rubrics
// exist (10-point and 15-point); the profile keeps both available without
// hard-coding either.
type ScoringConfig struct {
	Profile          string `yaml:"profile"` // "default" (10-point), "extended" (15-point)
	PassThreshold    int    `yaml:"pass_threshold"`
	SuccessThreshold int    `yaml:"success_threshold"` // min score for a success pattern
}

// PatternsConfig bounds the pattern store.
type PatternsConfig struct {
	MaxPerCategory int `yaml:"max_per_category"` // success patterns kept per account/category
	MaxBad         int `yaml:"max_bad"`          // global bound on bad patterns
	BaselineOffset int `yaml:"baseline_offset"`  // weight = max(1, score - offset)
	ExampleCount   int `yaml:"example_count"`    // examples fed into a prompt
}

// StockConfig bounds the per-account inventory.
type StockConfig struct {
	MinPerAccount     int `yaml:"min_per_account"`
	MaxPerAccount     int `yaml:"max_per_account"`
	MinQualityScore   int `yaml:"min_quality_score"` // stocking bar, below the pass threshold
	RefillConcurrency int `yaml:"refill_concurrency"`
}

// GenerationConfig bounds the generator loop.
type GenerationConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // provider rate limit
	DefaultProvider   string        `yaml:"default_provider"`
}

// KnowledgeConfig locates the read-only snippet corpus.
type KnowledgeConfig struct {
	Dir       string `yaml:"dir"`
	HotReload bool   `yaml:"hot_reload"`
}

// ProviderConfig describes one text-generation provider.
type ProviderConfig struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"` // "openai", "ollama", "mock"
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// AccountConfig is one configured destination persona/brand.
type AccountConfig struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Category string   `yaml:"category"` // knowledge corpus key
	Targets  []string `yaml:"targets"`
	Benefits []string `yaml:"benefits"`
	Provider string   `yaml:"provider"` // overrides generation.default_provider
}

// ConfigError indicates invalid or missing configuration. It fails fast and
// is never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// LoadFromFile reads and validates a YAML configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Database.Type == "" {
		c.Database.Type = "memory"
	}
	if c.NATS.StreamName == "" {
		c.NATS.StreamName = "POSTMINT"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "postmint"
	}
	if c.Scoring.Profile == "" {
		c.Scoring.Profile = "default"
	}
	if c.Scoring.PassThreshold == 0 {
		c.Scoring.PassThreshold = 8
	}
	if c.Scoring.SuccessThreshold == 0 {
		c.Scoring.SuccessThreshold = 7
	}
	if c.Patterns.MaxPerCategory == 0 {
		c.Patterns.MaxPerCategory = 20
	}
	if c.Patterns.MaxBad == 0 {
		c.Patterns.MaxBad = 100
	}
	if c.Patterns.BaselineOffset == 0 {
		c.Patterns.BaselineOffset = 6
	}
	if c.Patterns.ExampleCount == 0 {
		c.Patterns.ExampleCount = 3
	}
	if c.Stock.MinPerAccount == 0 {
		c.Stock.MinPerAccount = 3
	}
	if c.Stock.MaxPerAccount == 0 {
		c.Stock.MaxPerAccount = 10
	}
	if c.Stock.MinQualityScore == 0 {
		c.Stock.MinQualityScore = 6
	}
	if c.Stock.RefillConcurrency == 0 {
		c.Stock.RefillConcurrency = 4
	}
	if c.Generation.MaxAttempts == 0 {
		c.Generation.MaxAttempts = 5
	}
	if c.Generation.AttemptTimeout == 0 {
		c.Generation.AttemptTimeout = 30 * time.Second
	}
	if c.Generation.RequestsPerMinute == 0 {
		c.Generation.RequestsPerMinute = 30
	}
	if c.Knowledge.Dir == "" {
		c.Knowledge.Dir = "knowledge"
	}
}

// applyEnvOverrides lets deployment secrets come from the environment
// instead of the config file.
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("POSTMINT_DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
		c.Database.Type = "postgres"
	}
	if url := os.Getenv("POSTMINT_NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}
	if addr := os.Getenv("POSTMINT_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if secret := os.Getenv("POSTMINT_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if hash := os.Getenv("POSTMINT_ADMIN_PASSWORD_HASH"); hash != "" {
		c.Auth.AdminPasswordHash = hash
	}
}

// Validate checks invariants the rest of the system depends on.
// Violations are configuration errors: fail fast, never retried.
func (c *Config) Validate() error {
	if c.Database.Type != "memory" && c.Database.Type != "postgres" {
		return &ConfigError{Field: "database.type", Reason: fmt.Sprintf("unsupported type %q", c.Database.Type)}
	}
	if c.Database.Type == "postgres" && c.Database.DSN == "" {
		return &ConfigError{Field: "database.dsn", Reason: "required for postgres"}
	}
	if c.Scoring.Profile != "default" && c.Scoring.Profile != "extended" {
		return &ConfigError{Field: "scoring.profile", Reason: fmt.Sprintf("unknown profile %q", c.Scoring.Profile)}
	}
	if c.Stock.MinPerAccount > c.Stock.MaxPerAccount {
		return &ConfigError{Field: "stock.min_per_account", Reason: "must not exceed max_per_account"}
	}
	if c.Generation.MaxAttempts < 1 {
		return &ConfigError{Field: "generation.max_attempts", Reason: "must be at least 1"}
	}
	if len(c.Accounts) == 0 {
		return &ConfigError{Field: "accounts", Reason: "at least one account is required"}
	}
	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if a.ID == "" {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d].id", i), Reason: "required"}
		}
		if seen[a.ID] {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d].id", i), Reason: "duplicate account id"}
		}
		seen[a.ID] = true
		if len(a.Targets) == 0 || len(a.Benefits) == 0 {
			return &ConfigError{Field: fmt.Sprintf("accounts[%d]", i), Reason: "targets and benefits catalogs must not be empty"}
		}
	}
	for i, p := range c.Providers {
		switch p.Type {
		case "openai", "ollama", "mock":
		default:
			return &ConfigError{Field: fmt.Sprintf("providers[%d].type", i), Reason: fmt.Sprintf("unsupported type %q", p.Type)}
		}
	}
	return nil
}

// Account returns the configuration for an account ID, or nil.
func (c *Config) Account(id string) *AccountConfig {
	for i := range c.Accounts {
		if c.Accounts[i].ID == id {
			return &c.Accounts[i]
		}
	}
	return nil
}

// AccountIDs returns all configured account IDs in declaration order.
func (c *Config) AccountIDs() []string {
	ids := make([]string, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		ids = append(ids, a.ID)
	}
	return ids
}
