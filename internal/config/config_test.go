package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected openai, got %s", cfg.LLM.Provider)
	}
	if cfg.Cache.TTLDays != 30 {
		t.Errorf("expected ttl 30, got %d", cfg.Cache.TTLDays)
	}
	if cfg.Cache.AgentType != "classic" {
		t.Errorf("expected classic, got %s", cfg.Cache.AgentType)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[llm]
model = "gpt-4.1-mini"

[cache]
ttl_days = 7
agent_type = "langchain"

[search]
serper_api_key = "sk-serper"
`), 0644)

	cfg := Load(path)
	if cfg.LLM.Model != "gpt-4.1-mini" {
		t.Errorf("expected gpt-4.1-mini, got %s", cfg.LLM.Model)
	}
	if cfg.Cache.TTLDays != 7 {
		t.Errorf("expected ttl 7, got %d", cfg.Cache.TTLDays)
	}
	if cfg.Cache.AgentType != "langchain" {
		t.Errorf("expected langchain, got %s", cfg.Cache.AgentType)
	}
	if cfg.Search.SerperAPIKey != "sk-serper" {
		t.Errorf("expected sk-serper, got %s", cfg.Search.SerperAPIKey)
	}
	// Defaults preserved
	if cfg.LLM.Provider != "openai" {
		t.Errorf("default should be preserved, got %s", cfg.LLM.Provider)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONCIERGE_LLM_API_KEY", "env-key")
	t.Setenv("CONCIERGE_SERPER_API_KEY", "env-serper")

	cfg := Load("/nonexistent/path.toml")
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Search.SerperAPIKey != "env-serper" {
		t.Errorf("expected env-serper, got %s", cfg.Search.SerperAPIKey)
	}
	// Fallback: router gets the main LLM key
	if cfg.Router.APIKey != "env-key" {
		t.Errorf("expected router fallback to env-key, got %s", cfg.Router.APIKey)
	}
}

func TestPostgresEnvSwitchesBackend(t *testing.T) {
	t.Setenv("CONCIERGE_POSTGRES_URL", "postgres://u:p@localhost/cache")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Cache.Backend != "postgres" {
		t.Errorf("expected postgres backend, got %s", cfg.Cache.Backend)
	}
	if cfg.Cache.PostgresURL == "" {
		t.Error("postgres url not set")
	}
}
