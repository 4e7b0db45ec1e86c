package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Log       LogConfig
	Pipeline  PipelineConfig
	Reranking RerankingConfig
	API       APIConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL    string
	FastModel  string
	DeepModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type PipelineConfig struct {
	Domain           string
	RefineTimeout    string
	CritiqueTimeout  string
	HistoryTimeout   string
	SynthesisTimeout string
}

type RerankingConfig struct {
	Enabled bool
	Timeout string
}

// APIConfig holds the optional bearer token protecting the HTTP API.
// Empty means the API is open; the token is env-only, never written to the
// config backend.
type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4100,
			MCPPort: 4101,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "phi3.5",
			DeepModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Pipeline: PipelineConfig{
			Domain:           "analysis",
			RefineTimeout:    "15s",
			CritiqueTimeout:  "30s",
			HistoryTimeout:   "45s",
			SynthesisTimeout: "60s",
		},
		Reranking: RerankingConfig{
			Enabled: false,
			Timeout: "10s",
		},
	}
}

// Load reads configuration from the platform-native backend and environment.
//
// On macOS the backend is UserDefaults (domain: com.chronicle.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/chronicle/config.json.
//
// Environment variables (CHRONICLE_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}

// LogLevel maps the configured level name to a slog.Level, defaulting to
// info for unknown names.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration parses a config duration string, falling back to def when the
// value is empty or malformed.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse duration %q: %v. Using default %s.\n", raw, err, def)
		return def
	}
	return d
}
