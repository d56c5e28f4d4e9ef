package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Server       ServerConfig
	LLM          LLMConfig
	Conversation ConversationConfig
	Collect      CollectConfig
	Storage      StorageConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port       int
	SessionTTL string
}

type LLMConfig struct {
	Provider        string
	Model           string
	APIKey          string
	BaseURL         string
	ClassifyTimeout string
	FollowupTimeout string
	RespondTimeout  string
}

type ConversationConfig struct {
	MaxHistoryPairs int
	PreserveInitial int
}

type CollectConfig struct {
	InteractionThreshold int
	Interval             int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       4200,
			SessionTTL: "30m",
		},
		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "gpt-4o",
			ClassifyTimeout: "15s",
			FollowupTimeout: "2s",
			RespondTimeout:  "30s",
		},
		Conversation: ConversationConfig{
			MaxHistoryPairs: 10,
			PreserveInitial: 2,
		},
		Collect: CollectConfig{
			InteractionThreshold: 2,
			Interval:             3,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/lexi/config.json, then applies LEXI_* environment
// variables on top. Secrets are never stored in the config file: the
// OpenAI API key is read from LEXI_OPENAI_API_KEY, falling back to
// OPENAI_API_KEY.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if strings.EqualFold(cfg.LLM.Provider, "openai") && cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key. " +
			"Set it via environment variable LEXI_OPENAI_API_KEY (or OPENAI_API_KEY), " +
			"or switch to a local provider: lexi config set llm.provider ollama")
	}

	return cfg, nil
}
