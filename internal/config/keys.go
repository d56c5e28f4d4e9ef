package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LEXI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.session_ttl", typ: kString, env: "LEXI_SERVER_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Server.SessionTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.SessionTTL },
	},
	{
		key: "llm.provider", typ: kString, env: "LEXI_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "LEXI_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "LEXI_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "LEXI_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.classify_timeout", typ: kString, env: "LEXI_LLM_CLASSIFY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.ClassifyTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ClassifyTimeout },
	},
	{
		key: "llm.followup_timeout", typ: kString, env: "LEXI_LLM_FOLLOWUP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.FollowupTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.FollowupTimeout },
	},
	{
		key: "llm.respond_timeout", typ: kString, env: "LEXI_LLM_RESPOND_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.RespondTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.RespondTimeout },
	},
	{
		key: "conversation.max_history_pairs", typ: kInt, env: "LEXI_CONVERSATION_MAX_HISTORY_PAIRS",
		apply:   func(cfg *Config, v any) { cfg.Conversation.MaxHistoryPairs = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.MaxHistoryPairs },
	},
	{
		key: "conversation.preserve_initial", typ: kInt, env: "LEXI_CONVERSATION_PRESERVE_INITIAL",
		apply:   func(cfg *Config, v any) { cfg.Conversation.PreserveInitial = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.PreserveInitial },
	},
	{
		key: "collect.interaction_threshold", typ: kInt, env: "LEXI_COLLECT_INTERACTION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Collect.InteractionThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Collect.InteractionThreshold },
	},
	{
		key: "collect.interval", typ: kInt, env: "LEXI_COLLECT_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Collect.Interval = v.(int) },
		extract: func(cfg Config) any { return cfg.Collect.Interval },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LEXI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "LEXI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
