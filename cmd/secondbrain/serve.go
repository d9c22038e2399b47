package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scotthw/secondbrain/internal/api"
	"github.com/scotthw/secondbrain/internal/bot"
	"github.com/scotthw/secondbrain/internal/brain"
	"github.com/scotthw/secondbrain/internal/config"
	"github.com/scotthw/secondbrain/internal/convlog"
	"github.com/scotthw/secondbrain/internal/fetch"
	"github.com/scotthw/secondbrain/internal/llm"
	"github.com/scotthw/secondbrain/internal/msglog"
	"github.com/scotthw/secondbrain/internal/prompt"
	"github.com/scotthw/secondbrain/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

// buildBrain wires the orchestrator and its collaborators from config.
// The returned cleanup closes the stores.
func buildBrain(cfg config.Config) (*brain.Brain, *convlog.Log, func(), error) {
	st, err := store.Open(cfg.Storage.DataDir, store.WithOverviewMirror(cfg.Storage.OverviewMDPath))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening knowledge store: %w", err)
	}

	conversations, err := convlog.Open(cfg.Storage.DataDir)
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("opening conversation log: %w", err)
	}

	cleanup := func() {
		if err := conversations.Close(); err != nil {
			slog.Warn("closing conversation log", "error", err)
		}
		if err := st.Close(); err != nil {
			slog.Warn("closing knowledge store", "error", err)
		}
	}

	prompts := prompt.NewManager(cfg.Prompts.BaseDir, cfg.Prompts.UserDir, cfg.Prompts.RepoURL)

	var client llm.Client
	if cfg.LLM.Provider == "ollama" {
		client = llm.NewOllama(cfg.LLM.OllamaBaseURL, cfg.LLM.Model)
	} else {
		client = llm.NewAnthropic(cfg.LLM.APIKey, cfg.LLM.Model)
	}

	fetcher := fetch.New(0)

	return brain.New(client, st, prompts, fetcher, conversations), conversations, cleanup, nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	fmt.Fprintf(os.Stderr, "secondbrain version %s\n", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, conversations, cleanup, err := buildBrain(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var journal bot.MessageJournal
	if cfg.Storage.MessagesFile != "" {
		j, err := msglog.New(cfg.Storage.MessagesFile)
		if err != nil {
			return fmt.Errorf("opening message journal: %w", err)
		}
		journal = j
	}

	tg, err := bot.New(cfg.Telegram.BotToken, cfg.Telegram.AuthorizedUserID, b, journal)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := tg.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.API.Token != "" {
		handler := api.NewHandler(api.Deps{
			Brain:         b,
			Conversations: conversations,
			Token:         cfg.API.Token,
		})
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.API.Port)
		srv := &http.Server{Addr: addr, Handler: handler}

		g.Go(func() error {
			slog.Info("http api listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		slog.Info("http api disabled (no API_TOKEN configured)")
	}

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shutting down...")
	return err
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Logs go to stderr; stdout belongs to the MCP transport.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, _, cleanup, err := buildBrain(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := api.NewMCPServer(api.MCPDeps{Brain: b})
	stdio := mcpserver.NewStdioServer(srv)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}
