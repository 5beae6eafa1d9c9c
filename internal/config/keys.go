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

// specs is the single table of config keys. Secret keys are never read from
// or written to the config file.
var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FALAIMAGEM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FALAIMAGEM_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "bridge.base_url", typ: kString, env: "FALAIMAGEM_BRIDGE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Bridge.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.BaseURL },
	},
	{
		key: "bridge.timeout_seconds", typ: kInt, env: "FALAIMAGEM_BRIDGE_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Bridge.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Bridge.TimeoutSeconds },
	},
	{
		key: "description.provider", typ: kString, env: "FALAIMAGEM_DESCRIPTION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Description.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Description.Provider },
	},
	{
		key: "description.model", typ: kString, env: "FALAIMAGEM_DESCRIPTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Description.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Description.Model },
	},
	{
		key: "description.base_url", typ: kString, env: "FALAIMAGEM_DESCRIPTION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Description.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Description.BaseURL },
	},
	{
		key: "description.max_tokens", typ: kInt, env: "FALAIMAGEM_DESCRIPTION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Description.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Description.MaxTokens },
	},
	{
		key: "description.timeout_seconds", typ: kInt, env: "FALAIMAGEM_DESCRIPTION_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Description.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Description.TimeoutSeconds },
	},
	{
		key: "openai.api_key", typ: kString, env: "FALAIMAGEM_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Description.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Description.OpenAIAPIKey },
	},
	{
		key: "gemini.api_key", typ: kString, env: "FALAIMAGEM_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Description.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Description.GeminiAPIKey },
	},
	{
		key: "speech.provider", typ: kString, env: "FALAIMAGEM_SPEECH_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Speech.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Provider },
	},
	{
		key: "speech.model", typ: kString, env: "FALAIMAGEM_SPEECH_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Speech.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Model },
	},
	{
		key: "speech.voice", typ: kString, env: "FALAIMAGEM_SPEECH_VOICE",
		apply:   func(cfg *Config, v any) { cfg.Speech.Voice = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Voice },
	},
	{
		key: "speech.base_url", typ: kString, env: "FALAIMAGEM_SPEECH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Speech.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.BaseURL },
	},
	{
		key: "speech.timeout_seconds", typ: kInt, env: "FALAIMAGEM_SPEECH_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Speech.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Speech.TimeoutSeconds },
	},
	{
		key: "speech.polly_region", typ: kString, env: "FALAIMAGEM_SPEECH_POLLY_REGION",
		apply:   func(cfg *Config, v any) { cfg.Speech.PollyRegion = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.PollyRegion },
	},
	{
		key: "speech.polly_voice", typ: kString, env: "FALAIMAGEM_SPEECH_POLLY_VOICE",
		apply:   func(cfg *Config, v any) { cfg.Speech.PollyVoice = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.PollyVoice },
	},
	{
		key: "speech.polly_engine", typ: kString, env: "FALAIMAGEM_SPEECH_POLLY_ENGINE",
		apply:   func(cfg *Config, v any) { cfg.Speech.PollyEngine = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.PollyEngine },
	},
	{
		key: "confirmation.max_concurrent", typ: kInt, env: "FALAIMAGEM_CONFIRMATION_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Confirmation.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Confirmation.MaxConcurrent },
	},
	{
		key: "confirmation.timeout_seconds", typ: kInt, env: "FALAIMAGEM_CONFIRMATION_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Confirmation.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Confirmation.TimeoutSeconds },
	},
	{
		key: "api.token", typ: kString, env: "FALAIMAGEM_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "FALAIMAGEM_LOG_LEVEL",
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

// applySecretFallbacks fills secrets still empty after the environment from
// the secrets file.
func applySecretFallbacks(cfg *Config, store secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := store.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
