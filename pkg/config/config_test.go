package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Accounts: []AccountConfig{
			{ID: "acct", Name: "テスト", Category: "sidejob", Targets: []string{"主婦"}, Benefits: []string{"在宅"}},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 8090, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, "POSTMINT", cfg.NATS.StreamName)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "default", cfg.Scoring.Profile)
	assert.Equal(t, 8, cfg.Scoring.PassThreshold)
	assert.Equal(t, 7, cfg.Scoring.SuccessThreshold)
	assert.Equal(t, 20, cfg.Patterns.MaxPerCategory)
	assert.Equal(t, 100, cfg.Patterns.MaxBad)
	assert.Equal(t, 6, cfg.Patterns.BaselineOffset)
	assert.Equal(t, 3, cfg.Patterns.ExampleCount)
	assert.Equal(t, 3, cfg.Stock.MinPerAccount)
	assert.Equal(t, 10, cfg.Stock.MaxPerAccount)
	assert.Equal(t, 6, cfg.Stock.MinQualityScore)
	assert.Equal(t, 4, cfg.Stock.RefillConcurrency)
	assert.Equal(t, 5, cfg.Generation.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Generation.AttemptTimeout)
	assert.Equal(t, 30, cfg.Generation.RequestsPerMinute)
	assert.Equal(t, "knowledge", cfg.Knowledge.Dir)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.HTTPPort = 9000
	cfg.Scoring.PassThreshold = 12
	cfg.ApplyDefaults()

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 12, cfg.Scoring.PassThreshold)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown database type", func(c *Config) { c.Database.Type = "sqlite" }, "database.type"},
		{"postgres without dsn", func(c *Config) { c.Database.Type = "postgres" }, "database.dsn"},
		{"unknown scoring profile", func(c *Config) { c.Scoring.Profile = "strict" }, "scoring.profile"},
		{"min above max stock", func(c *Config) { c.Stock.MinPerAccount = 20 }, "stock.min_per_account"},
		{"zero attempts", func(c *Config) { c.Generation.MaxAttempts = -1 }, "generation.max_attempts"},
		{"no accounts", func(c *Config) { c.Accounts = nil }, "accounts"},
		{"account without id", func(c *Config) { c.Accounts[0].ID = "" }, "accounts[0].id"},
		{"account without targets", func(c *Config) { c.Accounts[0].Targets = nil }, "accounts[0]"},
		{"unknown provider type", func(c *Config) {
			c.Providers = []ProviderConfig{{ID: "p", Type: "bedrock"}}
		}, "providers[0].type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateDuplicateAccountID(t *testing.T) {
	cfg := validConfig()
	dup := cfg.Accounts[0]
	cfg.Accounts = append(cfg.Accounts, dup)

	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "accounts[1].id", cfgErr.Field)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  http_port: 9191
scoring:
  profile: extended
accounts:
  - id: main
    name: メイン
    category: sidejob
    targets: ["主婦", "学生"]
    benefits: ["在宅", "日払い"]
providers:
  - id: mock
    type: mock
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.HTTPPort)
	assert.Equal(t, "extended", cfg.Scoring.Profile)
	assert.Equal(t, 8, cfg.Scoring.PassThreshold, "default fills unset fields")
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, []string{"main"}, cfg.AccountIDs())
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accounts: []\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POSTMINT_DATABASE_DSN", "postgres://env")
	t.Setenv("POSTMINT_NATS_URL", "nats://env:4222")
	t.Setenv("POSTMINT_JWT_SECRET", "env-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
accounts:
  - id: main
    name: メイン
    category: sidejob
    targets: ["主婦"]
    benefits: ["在宅"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestAccountLookup(t *testing.T) {
	cfg := validConfig()
	assert.NotNil(t, cfg.Account("acct"))
	assert.Nil(t, cfg.Account("missing"))
}
