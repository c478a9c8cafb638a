package werewolf

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/rs/zerolog/log"
)

// Config holds all service configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type Config struct {
	// Server
	DB   string `json:"db"`   // database connection string
	Addr string `json:"addr"` // HTTP listen address
	Dev  bool   `json:"dev"`  // dev mode: human-readable console logging

	LogLevel string `json:"log_level"` // trace | debug | info | warn | error

	// AI narrator
	NarratorProvider    string `json:"narrator_provider"`    // ollama | openai | claude | gemini | groq | openai-compatible
	NarratorModel       string `json:"narrator_model"`       // model name
	NarratorOllamaURL   string `json:"narrator_ollama_url"`  // Ollama server URL
	NarratorURL         string `json:"narrator_url"`         // base URL for openai-compatible
	NarratorAPIKey      string `json:"narrator_api_key"`     // API key for openai-compatible
	NarratorTemperature string `json:"narrator_temperature"` // float 0-1 as string
	GroqAPIKey          string `json:"groq_api_key"`         // API key for groq provider
}

func DefaultConfig() Config {
	return Config{
		DB:                "file::memory:?cache=shared",
		Addr:              ":8080",
		LogLevel:          "info",
		NarratorOllamaURL: "http://localhost:11434",
	}
}

// LoadConfig builds a config by layering: defaults → env vars → JSON config file.
// CLI flag overrides are applied separately by FlagValues.ApplyTo after flag.Parse.
func LoadConfig(configPath string) Config {
	cfg := DefaultConfig()

	// Layer 1: env vars
	envStr := os.Getenv
	envBool := func(key string) (val bool, set bool) {
		v := os.Getenv(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envStr("NARRATOR_PROVIDER"); v != "" {
		cfg.NarratorProvider = v
	}
	if v := envStr("NARRATOR_MODEL"); v != "" {
		cfg.NarratorModel = v
	}
	if v := envStr("NARRATOR_OLLAMA_URL"); v != "" {
		cfg.NarratorOllamaURL = v
	}
	if v := envStr("NARRATOR_URL"); v != "" {
		cfg.NarratorURL = v
	}
	if v := envStr("NARRATOR_API_KEY"); v != "" {
		cfg.NarratorAPIKey = v
	}
	if v := envStr("NARRATOR_TEMPERATURE"); v != "" {
		cfg.NarratorTemperature = v
	}
	if v := envStr("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}

	// Layer 2: JSON config file — only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("config file parse failed")
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Info().Str("path", configPath).Msg("config file loaded")
		}
	} else if !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", configPath).Msg("config file read failed")
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *Config, m map[string]json.RawMessage) {
	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := m[key]; ok {
			json.Unmarshal(v, dst)
		}
	}
	str("db", &cfg.DB)
	str("addr", &cfg.Addr)
	boolean("dev", &cfg.Dev)
	str("log_level", &cfg.LogLevel)
	str("narrator_provider", &cfg.NarratorProvider)
	str("narrator_model", &cfg.NarratorModel)
	str("narrator_ollama_url", &cfg.NarratorOllamaURL)
	str("narrator_url", &cfg.NarratorURL)
	str("narrator_api_key", &cfg.NarratorAPIKey)
	str("narrator_temperature", &cfg.NarratorTemperature)
	str("groq_api_key", &cfg.GroqAPIKey)
}

// FlagValues holds pointers to all registered CLI flags.
type FlagValues struct {
	ConfigPath          *string
	db                  *string
	addr                *string
	dev                 *bool
	logLevel            *string
	narratorProvider    *string
	narratorModel       *string
	narratorOllamaURL   *string
	narratorURL         *string
	narratorAPIKey      *string
	narratorTemperature *string
	groqAPIKey          *string
}

// RegisterFlags registers all CLI flags and returns pointers to their values.
// Call flag.Parse() after this, then ApplyTo to layer them over the loaded config.
func RegisterFlags() FlagValues {
	return FlagValues{
		ConfigPath:          flag.String("config", "config.json", "path to JSON config file"),
		db:                  flag.String("db", "", "database connection string"),
		addr:                flag.String("addr", "", "HTTP listen address (e.g. :8080)"),
		dev:                 flag.Bool("dev", false, "enable development mode (console logging)"),
		logLevel:            flag.String("log-level", "", "log level (trace|debug|info|warn|error)"),
		narratorProvider:    flag.String("narrator-provider", "", "AI narrator provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		narratorModel:       flag.String("narrator-model", "", "AI narrator model name"),
		narratorOllamaURL:   flag.String("narrator-ollama-url", "", "Ollama server URL"),
		narratorURL:         flag.String("narrator-url", "", "base URL for openai-compatible provider"),
		narratorAPIKey:      flag.String("narrator-api-key", "", "API key for narrator provider"),
		narratorTemperature: flag.String("narrator-temperature", "", "sampling temperature 0-1"),
		groqAPIKey:          flag.String("groq-api-key", "", "Groq API key"),
	}
}

// ApplyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv FlagValues) ApplyTo(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "addr":
			cfg.Addr = *fv.addr
		case "dev":
			cfg.Dev = *fv.dev
		case "log-level":
			cfg.LogLevel = *fv.logLevel
		case "narrator-provider":
			cfg.NarratorProvider = *fv.narratorProvider
		case "narrator-model":
			cfg.NarratorModel = *fv.narratorModel
		case "narrator-ollama-url":
			cfg.NarratorOllamaURL = *fv.narratorOllamaURL
		case "narrator-url":
			cfg.NarratorURL = *fv.narratorURL
		case "narrator-api-key":
			cfg.NarratorAPIKey = *fv.narratorAPIKey
		case "narrator-temperature":
			cfg.NarratorTemperature = *fv.narratorTemperature
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
