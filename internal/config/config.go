// Package config loads quarterdeck's YAML configuration with environment
// overrides. The config file lives at <home>/config.yaml; a missing file
// yields defaults and NeedsGenesis so first-run setup can write one.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // custom endpoint (e.g. OpenRouter)
}

// LLMConfig holds configuration for the generation backend.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic",
	// "openai", "openai_compatible". Empty disables generation and the
	// deterministic fallback is used instead.
	Provider string `yaml:"provider"`

	GeminiModel    string `yaml:"gemini_model"`
	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIModel    string `yaml:"openai_model"`

	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`
}

// OTelConfig controls trace export.
type OTelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "otlp"
	Endpoint string `yaml:"endpoint"` // otlp collector, host:port
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// AuthToken guards mutating gateway endpoints. Empty disables auth,
	// which is acceptable for the default loopback bind only.
	AuthToken string `yaml:"auth_token"`

	// AutosaveDelaySeconds is the selection-write debounce window.
	AutosaveDelaySeconds int `yaml:"autosave_delay_seconds"`

	LLM  LLMConfig  `yaml:"llm"`
	OTel OTelConfig `yaml:"otel"`

	// Providers holds per-provider API keys and endpoints.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// RolloverPrompt enables the quarter-boundary rollover notification.
	RolloverPrompt bool `yaml:"rollover_prompt"`

	NeedsGenesis bool `yaml:"-"`
}

// AutosaveDelay returns the debounce window as a duration.
func (c Config) AutosaveDelay() time.Duration {
	return time.Duration(c.AutosaveDelaySeconds) * time.Second
}

// ProviderAPIKey returns the API key for the given provider, checking env
// overrides first.
func (c Config) ProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":    "GEMINI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok {
			return p.APIKey
		}
	}
	return ""
}

// ResolveLLM returns the effective provider, model and API key.
func (c Config) ResolveLLM() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	switch provider {
	case "anthropic":
		model = c.LLM.AnthropicModel
	case "openai", "openai_compatible":
		model = c.LLM.OpenAIModel
	case "google":
		model = c.LLM.GeminiModel
	}
	return provider, model, c.ProviderAPIKey(provider)
}

// Fingerprint returns a stable hash of the reload-relevant settings.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|autosave=%d|provider=%s",
		c.BindAddr, c.LogLevel, c.AutosaveDelaySeconds, c.LLM.Provider)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		BindAddr:             "127.0.0.1:18990",
		LogLevel:             "info",
		AutosaveDelaySeconds: 2,
		RolloverPrompt:       true,
	}
}

// HomeDir resolves the quarterdeck home directory, honoring the
// QUARTERDECK_HOME override.
func HomeDir() string {
	if override := os.Getenv("QUARTERDECK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".quarterdeck")
}

// Load reads config.yaml from the home directory, applies environment
// overrides, and fills defaults.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory, used by tests and the
// --home flag.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create quarterdeck home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18990"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AutosaveDelaySeconds <= 0 {
		cfg.AutosaveDelaySeconds = 2
	}
	if cfg.OTel.Exporter == "" {
		cfg.OTel.Exporter = "stdout"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("QUARTERDECK_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("QUARTERDECK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("QUARTERDECK_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("QUARTERDECK_AUTOSAVE_DELAY_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.AutosaveDelaySeconds = v
		}
	}
	if raw := os.Getenv("QUARTERDECK_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("GEMINI_MODEL"); raw != "" {
		cfg.LLM.GeminiModel = raw
	}
	if raw := os.Getenv("QUARTERDECK_OTEL_ENDPOINT"); raw != "" {
		cfg.OTel.Endpoint = raw
		cfg.OTel.Exporter = "otlp"
		cfg.OTel.Enabled = true
	}
}

// Genesis writes a default config.yaml so first-run users have a file to
// edit and SetProvider has a file to update. An existing file is never
// touched.
func Genesis(homeDir string) error {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create quarterdeck home: %w", err)
	}
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config.yaml: %w", err)
	}
	out, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetProvider updates the LLM provider block in config.yaml, preserving
// unrelated settings. An empty model keeps the stored model for that
// provider.
func SetProvider(homeDir, provider, model string) error {
	path := ConfigPath(homeDir)
	raw, err := loadRawConfig(path)
	if err != nil {
		return err
	}
	llm, _ := raw["llm"].(map[string]any)
	if llm == nil {
		llm = make(map[string]any)
	}
	llm["provider"] = provider
	if model != "" {
		switch provider {
		case "anthropic":
			llm["anthropic_model"] = model
		case "openai", "openai_compatible":
			llm["openai_model"] = model
		default:
			llm["gemini_model"] = model
		}
	}
	raw["llm"] = llm
	return saveRawConfig(path, raw)
}

func loadRawConfig(path string) (map[string]any, error) {
	raw := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

func saveRawConfig(path string, raw map[string]any) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
