package config

import (
	"log/slog"
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("AUTHORIZED_USER_ID", "42")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{"LLM_MODEL", "DATA_DIR", "PROMPTS_BASE_DIR", "API_PORT", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.AuthorizedUserID != 42 {
		t.Errorf("AuthorizedUserID = %d", cfg.Telegram.AuthorizedUserID)
	}
	if cfg.LLM.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if cfg.Storage.DataDir != "./data" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Prompts.BaseDir != "./prompts" {
		t.Errorf("BaseDir = %q", cfg.Prompts.BaseDir)
	}
	if cfg.API.Port != 4000 {
		t.Errorf("Port = %d", cfg.API.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadMissingBotToken(t *testing.T) {
	setRequired(t)
	t.Setenv("BOT_TOKEN", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "BOT_TOKEN") {
		t.Fatalf("Load() error = %v, want missing BOT_TOKEN", err)
	}
}

func TestLoadBadUserID(t *testing.T) {
	setRequired(t)
	t.Setenv("AUTHORIZED_USER_ID", "not-a-number")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "AUTHORIZED_USER_ID") {
		t.Fatalf("Load() error = %v, want AUTHORIZED_USER_ID complaint", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LLM_MODEL", "claude-test-model")
	t.Setenv("DATA_DIR", "/tmp/sb-data")
	t.Setenv("PROMPTS_USER_DIR", "/tmp/sb-prompts")
	t.Setenv("API_PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "claude-test-model" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if cfg.Storage.DataDir != "/tmp/sb-data" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Prompts.UserDir != "/tmp/sb-prompts" {
		t.Errorf("UserDir = %q", cfg.Prompts.UserDir)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Port = %d", cfg.API.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadOllamaProviderSkipsAPIKey(t *testing.T) {
	setRequired(t)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_MODEL", "mistral-nemo")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("Provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.OllamaBaseURL != "http://localhost:11434" {
		t.Errorf("OllamaBaseURL = %q", cfg.LLM.OllamaBaseURL)
	}
}

func TestLoadBadProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("LLM_PROVIDER", "openai")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "LLM_PROVIDER") {
		t.Fatalf("Load() error = %v, want LLM_PROVIDER complaint", err)
	}
}

func TestLoadBadPort(t *testing.T) {
	setRequired(t)
	t.Setenv("API_PORT", "not-a-port")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "API_PORT") {
		t.Fatalf("Load() error = %v, want API_PORT complaint", err)
	}
}
