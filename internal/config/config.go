package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Bridge       BridgeConfig
	Description  DescriptionConfig
	Speech       SpeechConfig
	Confirmation ConfirmationConfig
	API          APIConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type BridgeConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

type DescriptionConfig struct {
	Provider       string // "openai" or "gemini"
	Model          string // empty selects the provider default
	BaseURL        string
	MaxTokens      int
	TimeoutSeconds int
	OpenAIAPIKey   string
	GeminiAPIKey   string
}

type SpeechConfig struct {
	Provider       string // "openai" or "polly"
	Model          string
	Voice          string
	BaseURL        string
	TimeoutSeconds int
	PollyRegion    string
	PollyVoice     string
	PollyEngine    string
}

type ConfirmationConfig struct {
	MaxConcurrent  int
	TimeoutSeconds int
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c BridgeConfig) Timeout() time.Duration       { return seconds(c.TimeoutSeconds) }
func (c DescriptionConfig) Timeout() time.Duration  { return seconds(c.TimeoutSeconds) }
func (c SpeechConfig) Timeout() time.Duration       { return seconds(c.TimeoutSeconds) }
func (c ConfirmationConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

// SlogLevel maps Log.Level to a slog level, defaulting to Info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Bridge: BridgeConfig{
			BaseURL:        "http://whatsapp:3000",
			TimeoutSeconds: 30,
		},
		Description: DescriptionConfig{
			Provider:       "openai",
			BaseURL:        "https://api.openai.com/v1",
			MaxTokens:      200,
			TimeoutSeconds: 60,
		},
		Speech: SpeechConfig{
			Provider:       "openai",
			Model:          "tts-1",
			Voice:          "alloy",
			BaseURL:        "https://api.openai.com/v1",
			TimeoutSeconds: 60,
			PollyRegion:    "us-east-1",
			PollyVoice:     "Camila",
			PollyEngine:    "neural",
		},
		Confirmation: ConfirmationConfig{
			MaxConcurrent:  16,
			TimeoutSeconds: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/falaimagem/config.json, then environment variables.
//
// A .env file in the working directory is loaded first; variables already
// set in the process environment win over it. Environment variables
// (FALAIMAGEM_*) override file values. Secrets are never read from the config
// file: they come from the environment, falling back to the secrets file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecretFallbacks(&cfg, secrets)

	return cfg, nil
}

// Validate checks that the selected providers are known and have the
// credentials they need. It is only required by the server.
func (c Config) Validate() error {
	var errs []error

	switch c.Description.Provider {
	case "openai":
		if c.Description.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("missing required config: OpenAI API key. Set it via environment variable FALAIMAGEM_OPENAI_API_KEY"))
		}
	case "gemini":
		if c.Description.GeminiAPIKey == "" {
			errs = append(errs, errors.New("missing required config: Gemini API key. Set it via environment variable FALAIMAGEM_GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("description.provider must be openai or gemini, got %q", c.Description.Provider))
	}

	switch c.Speech.Provider {
	case "openai":
		if c.Description.OpenAIAPIKey == "" && c.Description.Provider != "openai" {
			errs = append(errs, errors.New("missing required config: OpenAI API key for speech. Set it via environment variable FALAIMAGEM_OPENAI_API_KEY"))
		}
	case "polly":
		if c.Speech.PollyRegion == "" {
			errs = append(errs, errors.New("speech.polly_region is required when speech.provider is polly"))
		}
		if !slices.Contains([]string{"standard", "neural"}, c.Speech.PollyEngine) {
			errs = append(errs, fmt.Errorf("speech.polly_engine must be standard or neural, got %q", c.Speech.PollyEngine))
		}
	default:
		errs = append(errs, fmt.Errorf("speech.provider must be openai or polly, got %q", c.Speech.Provider))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "falaimagem-data"
		}
	}
	return filepath.Join(dir, "falaimagem")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "falaimagem", "config.json")
}
