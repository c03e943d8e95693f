package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/course-rag/rag"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "course-rag-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), ":8000", cfg.Server.Addr)
	assert.Equal(suite.T(), 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(suite.T(), rag.DefaultDatabaseDSN, cfg.Database.DSN)
	assert.Equal(suite.T(), rag.DefaultDatabaseType, cfg.Database.Type)
	assert.Equal(suite.T(), "openai", cfg.LLM.Provider)
	assert.Equal(suite.T(), 5, cfg.Index.MaxResults)
	assert.InDelta(suite.T(), 0.6, cfg.Index.CourseMatchMaxDistance, 1e-9)
	assert.Equal(suite.T(), 2, cfg.Session.MaxHistory)
	assert.Equal(suite.T(), "memory", cfg.Session.Store)
	assert.Equal(suite.T(), time.Second, cfg.Harness.RateLimitRefillRate)
	assert.True(suite.T(), cfg.Harness.EnableGuardrails)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
database:
  dsn: "test.db"
llm:
  provider: "anthropic"
  model: "claude-sonnet-4-5"
index:
  max_results: 3
  course_match_max_distance: 0.4
session:
  store: "libsql"
  max_history: 4
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "test.db", cfg.Database.DSN)
	assert.Equal(suite.T(), "anthropic", cfg.LLM.Provider)
	assert.Equal(suite.T(), "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(suite.T(), 3, cfg.Index.MaxResults)
	assert.InDelta(suite.T(), 0.4, cfg.Index.CourseMatchMaxDistance, 1e-9)
	assert.Equal(suite.T(), "libsql", cfg.Session.Store)
	assert.Equal(suite.T(), 4, cfg.Session.MaxHistory)
	// untouched keys keep their defaults
	assert.Equal(suite.T(), 32, cfg.Index.EmbedBatchSize)
}

func (suite *ConfigTestSuite) TestEnvironmentOverridesDefaults() {
	suite.T().Setenv("COURSE_RAG_LLM_API_KEY", "sk-env")
	suite.T().Setenv("COURSE_RAG_SESSION_MAX_HISTORY", "7")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "sk-env", cfg.LLM.APIKey)
	assert.Equal(suite.T(), 7, cfg.Session.MaxHistory)
}

func (suite *ConfigTestSuite) TestDotEnvIsLoaded() {
	err := os.WriteFile(filepath.Join(suite.tempDir, ".env"), []byte("COURSE_RAG_EMBEDDING_API_KEY=sk-dotenv\n"), 0o644)
	require.NoError(suite.T(), err)
	suite.T().Cleanup(func() { os.Unsetenv("COURSE_RAG_EMBEDDING_API_KEY") })

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), "sk-dotenv", cfg.Embedding.APIKey)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
llm:
  provider: "openai"
  invalid_yaml: [unclosed bracket
`
	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	err := os.WriteFile(configFile, []byte(malformedContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestAppConfigGlobal() {
	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), cfg.Server.Addr, AppConfig.Server.Addr)
}

func validConfig() Config {
	return Config{
		LLM:       LLMConfig{Provider: "openai", APIKey: "sk-test"},
		Embedding: EmbeddingConfig{Provider: "openai", APIKey: "sk-test"},
		Index:     IndexConfig{Backend: "libsql", MaxResults: 5},
		Session:   SessionConfig{Store: "memory", MaxHistory: 2},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantErr     bool
		wantMissing bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing llm key", mutate: func(c *Config) { c.LLM.APIKey = "" }, wantErr: true, wantMissing: true},
		{name: "ollama needs no key", mutate: func(c *Config) { c.LLM.Provider = "ollama"; c.LLM.APIKey = "" }},
		{name: "missing embedding key", mutate: func(c *Config) { c.Embedding.APIKey = "" }, wantErr: true, wantMissing: true},
		{name: "hash embedder needs no key", mutate: func(c *Config) { c.Embedding.Provider = "hash"; c.Embedding.APIKey = "" }},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "bogus" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Index.Backend = "postgres" }, wantErr: true},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.Index.Backend = "postgres"
			c.Database.PostgresDSN = "postgres://localhost/rag"
		}},
		{name: "unknown store", mutate: func(c *Config) { c.Session.Store = "redis" }, wantErr: true},
		{name: "zero history", mutate: func(c *Config) { c.Session.MaxHistory = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantMissing {
				assert.ErrorIs(t, err, ErrMissingCredential)
			}
		})
	}
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		cfg, err := LoadConfig("")
		if err != nil {
			b.Fatal(err)
		}
		_ = cfg
	}
}
