// Package config loads concierge configuration from TOML with env overrides.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Router    RouterConfig    `toml:"router"`
	Cache     CacheConfig     `toml:"cache"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	Search    SearchConfig    `toml:"search"`
	Safety    SafetyConfig    `toml:"safety"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
}

// RouterConfig optionally points routing decisions at a cheaper model.
// Empty fields fall back to the main LLM settings.
type RouterConfig struct {
	Model  string `toml:"model"`
	APIKey string `toml:"api_key"`
}

type CacheConfig struct {
	Backend     string `toml:"backend"` // "sqlite" or "postgres"
	Path        string `toml:"path"`    // sqlite file
	PostgresURL string `toml:"postgres_url"`
	TTLDays     int    `toml:"ttl_days"`
	AgentType   string `toml:"agent_type"`
}

type KnowledgeConfig struct {
	Dir string `toml:"dir"`
}

type SearchConfig struct {
	SerperAPIKey string `toml:"serper_api_key"`
	MaxResults   int    `toml:"max_results"`
	FetchPages   int    `toml:"fetch_pages"`
}

// SafetyConfig adds deployment-specific disallowed phrases on top of the
// built-in guard lists.
type SafetyConfig struct {
	Patterns []string `toml:"patterns"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "openai", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
		Cache:     CacheConfig{Backend: "sqlite", Path: "concierge.db", TTLDays: 30, AgentType: "classic"},
		Knowledge: KnowledgeConfig{Dir: "docs"},
		Search:    SearchConfig{MaxResults: 5},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "concierge.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CONCIERGE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CONCIERGE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CONCIERGE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CONCIERGE_ROUTER_API_KEY"); v != "" {
		cfg.Router.APIKey = v
	}
	if v := os.Getenv("CONCIERGE_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("CONCIERGE_POSTGRES_URL"); v != "" {
		cfg.Cache.PostgresURL = v
		cfg.Cache.Backend = "postgres"
	}
	if v := os.Getenv("CONCIERGE_KNOWLEDGE_DIR"); v != "" {
		cfg.Knowledge.Dir = v
	}
	if v := os.Getenv("CONCIERGE_SERPER_API_KEY"); v != "" {
		cfg.Search.SerperAPIKey = v
	}
	if v := os.Getenv("CONCIERGE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Router.Model == "" {
		cfg.Router.Model = cfg.LLM.Model
	}
	if cfg.Router.APIKey == "" {
		cfg.Router.APIKey = cfg.LLM.APIKey
	}
	if cfg.Cache.AgentType == "" {
		cfg.Cache.AgentType = "classic"
	}

	return cfg
}
