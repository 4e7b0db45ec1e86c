package config

import (
	"log/slog"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	data map[string]any
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false, nil
	}
	return s, true, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, false, nil
	}
	return i, true, nil
}

func (m *memBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *memBackend) Delete(key string) error          { delete(m.data, key); return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(&memBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4101 {
		t.Errorf("Server.MCPPort = %d, want 4101", cfg.Server.MCPPort)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Pipeline.Domain != "analysis" {
		t.Errorf("Pipeline.Domain = %q, want analysis", cfg.Pipeline.Domain)
	}
	if cfg.Reranking.Enabled {
		t.Error("Reranking.Enabled = true by default")
	}
}

func TestBackendValues(t *testing.T) {
	b := &memBackend{data: map[string]any{
		"server.port":         5100,
		"ollama.deep_model":   "custom-deep",
		"pipeline.domain":     "climate",
		"reranking.enabled":   "true",
		"reranking.timeout":   "20s",
		"storage.data_dir":    "/tmp/chronicle-test",
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5100 {
		t.Errorf("Server.Port = %d, want 5100", cfg.Server.Port)
	}
	if cfg.Ollama.DeepModel != "custom-deep" {
		t.Errorf("Ollama.DeepModel = %q", cfg.Ollama.DeepModel)
	}
	if cfg.Pipeline.Domain != "climate" {
		t.Errorf("Pipeline.Domain = %q", cfg.Pipeline.Domain)
	}
	if !cfg.Reranking.Enabled {
		t.Error("Reranking.Enabled = false, want true")
	}
	if cfg.Storage.DataDir != "/tmp/chronicle-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestEnvOverride(t *testing.T) {
	b := &memBackend{data: map[string]any{
		"ollama.fast_model": "file-model",
	}}

	t.Setenv("CHRONICLE_OLLAMA_FAST_MODEL", "env-model")
	t.Setenv("CHRONICLE_SERVER_PORT", "6100")
	t.Setenv("CHRONICLE_API_TOKEN", "sekrit")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.FastModel != "env-model" {
		t.Errorf("Ollama.FastModel = %q, want env-model", cfg.Ollama.FastModel)
	}
	if cfg.Server.Port != 6100 {
		t.Errorf("Server.Port = %d, want 6100", cfg.Server.Port)
	}
	if cfg.API.Token != "sekrit" {
		t.Errorf("API.Token = %q", cfg.API.Token)
	}
}

func TestSecretNotShown(t *testing.T) {
	cfg := defaults()
	cfg.API.Token = "sekrit"

	for _, ki := range ShowAll(cfg) {
		if ki.Key == "api.token" || ki.Value == "sekrit" {
			t.Errorf("ShowAll exposed secret key: %+v", ki)
		}
	}
}

func TestLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, c := range cases {
		cfg := Config{Log: LogConfig{Level: c.in}}
		if got := cfg.LogLevel(); got != c.want {
			t.Errorf("LogLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("25s", time.Second); got != 25*time.Second {
		t.Errorf("Duration(25s) = %v", got)
	}
	if got := Duration("", 3*time.Second); got != 3*time.Second {
		t.Errorf("Duration(empty) = %v, want default", got)
	}
	if got := Duration("nonsense", 3*time.Second); got != 3*time.Second {
		t.Errorf("Duration(nonsense) = %v, want default", got)
	}
}
