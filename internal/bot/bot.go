// Package bot is the Telegram transport. It routes a single authorized
// user's messages and commands onto the orchestrator and owns the
// in-memory pending feature proposal produced by gap detection.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/scotthw/secondbrain/internal/brain"
	"github.com/scotthw/secondbrain/internal/knowledge"
)

const listLimit = 10

// Orchestrator is the surface of the brain the transport calls.
type Orchestrator interface {
	Capture(ctx context.Context, text string) (string, bool, error)
	Query(ctx context.Context, question string) (string, error)
	CheckCapabilityGap(ctx context.Context, question, answer string) *brain.GapProposal
	EvolvePrompt(ctx context.Context, name, newText string) string
	Overview(ctx context.Context) string
	RefreshOverview(ctx context.Context) (string, error)
	Recent(limit int) ([]knowledge.KnowledgeItem, error)
	Search(query string, limit int) ([]knowledge.SearchResult, error)
}

// MessageJournal receives every raw inbound message before processing.
type MessageJournal interface {
	Append(userID int64, username, text string) error
}

// Bot long-polls Telegram and dispatches to the orchestrator.
type Bot struct {
	api          *tgbotapi.BotAPI
	brain        Orchestrator
	journal      MessageJournal // optional
	authorizedID int64
	pending      *brain.GapProposal
}

// New connects to the Telegram API. journal may be nil.
func New(token string, authorizedID int64, orch Orchestrator, journal MessageJournal) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return &Bot{
		api:          api,
		brain:        orch,
		journal:      journal,
		authorizedID: authorizedID,
	}, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	slog.Info("bot started", "username", b.api.Self.UserName, "authorized_user", b.authorizedID)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := update.Message
			if msg == nil || msg.From == nil || msg.Text == "" {
				continue
			}
			in := inbound{
				userID:   msg.From.ID,
				username: senderName(msg.From),
				text:     msg.Text,
			}
			if msg.IsCommand() {
				in.command = msg.Command()
				in.args = strings.TrimSpace(msg.CommandArguments())
			}
			reply := b.handle(ctx, in)
			if reply == "" {
				continue
			}
			if _, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
				slog.Error("sending reply failed", "error", err)
			}
		}
	}
}

func senderName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

// inbound is one normalized incoming message.
type inbound struct {
	userID   int64
	username string
	command  string // empty for plain messages
	args     string
	text     string
}

// handle dispatches a message and returns the reply text. A reply of ""
// means stay silent (unauthorized senders get no response at all).
func (b *Bot) handle(ctx context.Context, in inbound) string {
	if in.userID != b.authorizedID {
		slog.Warn("ignoring message from unauthorized user", "user_id", in.userID)
		return ""
	}

	switch in.command {
	case "":
		return b.handleCapture(ctx, in)
	case "start":
		return "Hello! I'm your second brain.\n\n" +
			"Send me anything and I'll file it away. Then:\n" +
			"/ask <question> - answer from your knowledge base\n" +
			"/search <query> - full-text search\n" +
			"/recent - latest items\n" +
			"/overview - the rolling overview\n" +
			"/refresh - regenerate the overview\n" +
			"/addfeature - apply the last proposed prompt improvement"
	case "ask":
		return b.handleAsk(ctx, in.args)
	case "search":
		return b.handleSearch(in.args)
	case "recent":
		return b.handleRecent()
	case "overview":
		return b.brain.Overview(ctx)
	case "refresh":
		status, err := b.brain.RefreshOverview(ctx)
		if err != nil {
			slog.Error("overview refresh misconfigured", "error", err)
			return "Configuration error: " + err.Error()
		}
		return status
	case "addfeature":
		return b.handleAddFeature(ctx)
	default:
		return "Unknown command. Try /start for the list."
	}
}

func (b *Bot) handleCapture(ctx context.Context, in inbound) string {
	if b.journal != nil {
		if err := b.journal.Append(in.userID, in.username, in.text); err != nil {
			slog.Warn("message journal write failed", "error", err)
		}
	}

	reply, capabilityRequest, err := b.brain.Capture(ctx, in.text)
	if err != nil {
		slog.Error("capture misconfigured", "error", err)
		return "Configuration error: " + err.Error()
	}
	if capabilityRequest {
		reply = b.withGapProposal(ctx, in.text, reply)
	}
	return reply
}

func (b *Bot) handleAsk(ctx context.Context, question string) string {
	if question == "" {
		return "Usage: /ask <question>"
	}
	answer, err := b.brain.Query(ctx, question)
	if err != nil {
		slog.Error("query misconfigured", "error", err)
		return "Configuration error: " + err.Error()
	}
	return b.withGapProposal(ctx, question, answer)
}

// withGapProposal runs gap detection on an answer and, when a gap is
// confirmed, stores the proposal and appends an offer to the reply.
func (b *Bot) withGapProposal(ctx context.Context, question, answer string) string {
	gap := b.brain.CheckCapabilityGap(ctx, question, answer)
	if gap == nil {
		return answer
	}
	b.pending = gap

	var sb strings.Builder
	sb.WriteString(answer)
	sb.WriteString("\n\nI think I spotted a gap in what I can do:\n")
	sb.WriteString(gap.GapDescription)
	if gap.Proposal != "" {
		sb.WriteString("\n\nProposed fix: ")
		sb.WriteString(gap.Proposal)
	}
	if gap.PromptName != "" && gap.PromptUpdate != "" {
		sb.WriteString("\n\nSend /addfeature to apply the proposed update to the '")
		sb.WriteString(gap.PromptName)
		sb.WriteString("' prompt.")
	}
	return sb.String()
}

func (b *Bot) handleAddFeature(ctx context.Context) string {
	if b.pending == nil {
		return "No pending feature proposal. Ask me something first."
	}
	gap := b.pending
	b.pending = nil

	if gap.PromptName == "" || gap.PromptUpdate == "" {
		return "The last proposal had no concrete prompt update to apply:\n" + gap.GapDescription
	}
	return b.brain.EvolvePrompt(ctx, gap.PromptName, gap.PromptUpdate)
}

func (b *Bot) handleSearch(query string) string {
	if query == "" {
		return "Usage: /search <query>"
	}
	results, err := b.brain.Search(query, listLimit)
	if err != nil {
		slog.Error("search failed", "error", err)
		return "Search failed."
	}
	if len(results) == 0 {
		return "No matching items found."
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, formatItemLine(r.Item))
	}
	return strings.Join(lines, "\n\n")
}

func (b *Bot) handleRecent() string {
	items, err := b.brain.Recent(listLimit)
	if err != nil {
		slog.Error("listing recent items failed", "error", err)
		return "Couldn't load recent items."
	}
	if len(items) == 0 {
		return "Nothing stored yet. Send me a message!"
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s\n  %s", formatItemLine(item),
			item.CreatedAt.Format("2006-01-02 15:04")))
	}
	return strings.Join(lines, "\n\n")
}

func formatItemLine(item knowledge.KnowledgeItem) string {
	line := fmt.Sprintf("[%s] %s", item.Type, item.DisplaySummary(100))
	if len(item.Tags) > 0 {
		line += "\n  Tags: " + strings.Join(item.Tags, ", ")
	}
	return line
}
