// Package config loads service configuration from the environment,
// with an optional .env file for development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Telegram TelegramConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Prompts  PromptsConfig
	API      APIConfig
	LogLevel slog.Level
}

type TelegramConfig struct {
	BotToken         string
	AuthorizedUserID int64
}

type LLMConfig struct {
	Provider      string // "anthropic" or "ollama"
	APIKey        string
	Model         string
	OllamaBaseURL string
}

type StorageConfig struct {
	DataDir        string
	MessagesFile   string // optional raw message journal
	OverviewMDPath string // optional markdown mirror of the overview
}

type PromptsConfig struct {
	BaseDir string
	UserDir string // optional; enables the user prompt tier
	RepoURL string // optional; enables git sync of the user tier
}

type APIConfig struct {
	Port  int
	Token string // optional; empty disables the HTTP API entirely
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-20250514",
			OllamaBaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Prompts: PromptsConfig{
			BaseDir: "./prompts",
		},
		API: APIConfig{
			Port: 4000,
		},
		LogLevel: slog.LevelInfo,
	}
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables take precedence over it.
func Load() (Config, error) {
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := defaults()

	cfg.Telegram.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.Telegram.BotToken == "" {
		return Config{}, fmt.Errorf("missing required config: BOT_TOKEN")
	}

	rawUserID := os.Getenv("AUTHORIZED_USER_ID")
	if rawUserID == "" {
		return Config{}, fmt.Errorf("missing required config: AUTHORIZED_USER_ID")
	}
	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("AUTHORIZED_USER_ID must be a numeric Telegram user id: %w", err)
	}
	cfg.Telegram.AuthorizedUserID = userID

	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		if provider != "anthropic" && provider != "ollama" {
			return Config{}, fmt.Errorf("LLM_PROVIDER must be \"anthropic\" or \"ollama\", got %q", provider)
		}
		cfg.LLM.Provider = provider
	}
	cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if cfg.LLM.Provider == "anthropic" && cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: ANTHROPIC_API_KEY")
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if base := os.Getenv("OLLAMA_BASE_URL"); base != "" {
		cfg.LLM.OllamaBaseURL = base
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	cfg.Storage.MessagesFile = os.Getenv("MESSAGES_FILE")
	cfg.Storage.OverviewMDPath = os.Getenv("OVERVIEW_MD_PATH")

	if dir := os.Getenv("PROMPTS_BASE_DIR"); dir != "" {
		cfg.Prompts.BaseDir = dir
	}
	cfg.Prompts.UserDir = os.Getenv("PROMPTS_USER_DIR")
	cfg.Prompts.RepoURL = os.Getenv("PROMPTS_REPO_URL")

	if rawPort := os.Getenv("API_PORT"); rawPort != "" {
		port, err := strconv.Atoi(rawPort)
		if err != nil || port < 1 || port > 65535 {
			return Config{}, fmt.Errorf("API_PORT must be a valid port number, got %q", rawPort)
		}
		cfg.API.Port = port
	}
	cfg.API.Token = os.Getenv("API_TOKEN")

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", raw, err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}
