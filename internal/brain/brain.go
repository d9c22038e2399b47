// Package brain orchestrates the knowledge pipelines: capturing
// messages into the store, answering questions from it, detecting
// capability gaps in answers, and evolving the prompt templates that
// drive both. It composes the store, fetcher, model gateway, prompt
// manager, and conversation log behind one API; the transport layer
// calls nothing else.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scotthw/secondbrain/internal/fetch"
	"github.com/scotthw/secondbrain/internal/knowledge"
	"github.com/scotthw/secondbrain/internal/llm"
)

const (
	// fallbackSaveReply is returned when the model is unavailable and the
	// message is stored as a raw note instead.
	fallbackSaveReply = "Saved to knowledge base."

	// queryApology is returned when the model fails and no search results
	// exist to fall back on.
	queryApology = "I couldn't process that query right now."

	searchLimit        = 10
	plainResultsLimit  = 5
	refreshRecentLimit = 50
)

// capabilitySignals are phrases in an answer suggesting the assistant
// structurally lacks what it needs to respond. The cheap scan gates the
// expensive gap-analysis model call.
var capabilitySignals = []string{
	"i don't have",
	"i do not have",
	"no information",
	"not stored",
	"can't find",
	"cannot find",
	"no data",
	"not tracked",
	"don't track",
	"do not track",
	"no record",
	"haven't stored",
	"have not stored",
	"isn't tracked",
	"is not tracked",
}

// Store is the knowledge persistence contract the brain depends on.
type Store interface {
	SaveItem(item *knowledge.KnowledgeItem) (int64, error)
	Search(query string, limit int) ([]knowledge.SearchResult, error)
	Recent(limit int) ([]knowledge.KnowledgeItem, error)
	GetOverview() (string, error)
	SaveOverview(text string) error
}

// ConversationLog receives an audit record of every model interaction.
type ConversationLog interface {
	Record(rec *knowledge.ConversationRecord) (int64, error)
}

// Fetcher retrieves readable content from a URL, best-effort.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, bool)
}

// PromptSource resolves and updates named prompt templates.
type PromptSource interface {
	Load(name string, vars map[string]string) (string, error)
	Update(name, newText string) (string, error)
	HasUserTier() bool
}

// GapProposal describes a confirmed capability gap and, optionally, a
// concrete prompt replacement that would close it.
type GapProposal struct {
	GapDescription string
	Proposal       string
	PromptName     string
	PromptUpdate   string
}

// Brain is the knowledge orchestrator. Construct one at startup and
// hand it to the transport handlers; it holds no per-request state.
type Brain struct {
	llm     llm.Client
	store   Store
	prompts PromptSource
	fetcher Fetcher         // optional; nil disables URL enrichment
	log     ConversationLog // optional; nil disables audit logging
}

// New wires a Brain from its collaborators. fetcher and convLog may be
// nil; store, client, and prompts are required.
func New(client llm.Client, store Store, prompts PromptSource, fetcher Fetcher, convLog ConversationLog) *Brain {
	return &Brain{
		llm:     client,
		store:   store,
		prompts: prompts,
		fetcher: fetcher,
		log:     convLog,
	}
}

// Capture processes an incoming message into the knowledge base and
// returns the user-facing reply plus a flag indicating the model asked
// for a capability it lacks. The only error it returns is a missing
// prompt template, which is a configuration defect; every runtime
// failure degrades to saving the raw text as a note.
func (b *Brain) Capture(ctx context.Context, text string) (string, bool, error) {
	urls := fetch.ExtractURLs(text)
	var urlContent string
	if len(urls) > 0 && b.fetcher != nil {
		// Only the first URL is fetched; the rest are ignored.
		urlContent, _ = b.fetcher.Fetch(ctx, urls[0])
	}

	overview := b.loadOverview()

	userMessage := text
	if urlContent != "" {
		userMessage += "\n\n--- Fetched URL Content ---\n" + urlContent
	}

	system, err := b.capturePrompt(overview)
	if err != nil {
		return "", false, err
	}

	raw, err := b.llm.Analyze(ctx, userMessage, system, 0)
	if err != nil {
		slog.Warn("model analysis failed, saving as raw note", "error", err)
		return b.fallbackSave(text, urls), false, nil
	}
	analysis, err := knowledge.ParseAnalysis(raw)
	if err != nil {
		slog.Warn("model returned unusable analysis, saving as raw note", "error", err)
		return b.fallbackSave(text, urls), false, nil
	}

	b.logConversation(interactionRecord{
		interactionType: "capture",
		userMessage:     userMessage,
		systemPrompt:    system,
		llmResponse:     raw,
		parsedType:      string(analysis.Type),
		parsedTags:      analysis.Tags,
		parsedSummary:   analysis.Summary,
	})

	// The item carries the original message text, not the model's summary.
	item := knowledge.NewItem(text, analysis.Type, analysis.Tags, analysis.Summary)
	if len(urls) > 0 {
		item.SourceURL = urls[0]
		item.URLContent = urlContent
	}
	if _, err := b.store.SaveItem(&item); err != nil {
		slog.Error("saving captured item failed", "error", err)
	}

	if len(analysis.ExtractedItems) > 0 {
		b.saveExtractedItems(analysis.ExtractedItems, item.SourceURL, analysis.Tags)
	}

	if analysis.OverviewUpdate != "" {
		if err := b.store.SaveOverview(analysis.OverviewUpdate); err != nil {
			slog.Error("saving overview update failed", "error", err)
		}
	}

	return analysis.Response, analysis.CapabilityRequest, nil
}

// fallbackSave stores the message as an unclassified note. This path is
// the end of the line: a store failure is logged and the confirmation
// is still returned.
func (b *Brain) fallbackSave(text string, urls []string) string {
	item := knowledge.NewItem(text, knowledge.TypeNote, []string{}, "")
	if len(urls) > 0 {
		item.SourceURL = urls[0]
	}
	if _, err := b.store.SaveItem(&item); err != nil {
		slog.Error("fallback save failed", "error", err)
	}
	return fallbackSaveReply
}

// saveExtractedItems persists each model-extracted sub-item as its own
// reference item. Entries without a summary are skipped; parent tags
// come first in the merged tag list; the parent's source URL propagates
// to every sub-item. Individual save failures do not stop the rest.
func (b *Brain) saveExtractedItems(extracted []knowledge.ExtractedItem, sourceURL string, parentTags []string) {
	for _, raw := range extracted {
		if raw.Summary == "" {
			continue
		}
		item := knowledge.NewItem(raw.Summary, knowledge.TypeReference,
			knowledge.MergeTags(parentTags, raw.Tags), raw.Summary)
		item.SourceURL = sourceURL
		if _, err := b.store.SaveItem(&item); err != nil {
			slog.Error("saving extracted item failed", "summary", raw.Summary, "error", err)
		}
	}
}

// Query answers a question against the knowledge base. Model failures
// degrade to a plain listing of matching items, or a fixed apology when
// nothing matched. The only returned error is a missing prompt template.
func (b *Brain) Query(ctx context.Context, question string) (string, error) {
	overview := b.loadOverview()

	results, err := b.store.Search(question, searchLimit)
	if err != nil {
		slog.Warn("search failed during query", "error", err)
		results = nil
	}

	system, err := b.queryPrompt(overview, formatSearchContext(results))
	if err != nil {
		return "", err
	}

	answer, err := b.llm.Analyze(ctx, question, system, 0)
	if err != nil {
		slog.Warn("model query failed", "error", err)
		if len(results) > 0 {
			return formatPlainResults(results), nil
		}
		return queryApology, nil
	}

	b.logConversation(interactionRecord{
		interactionType: "query",
		userMessage:     question,
		systemPrompt:    system,
		llmResponse:     answer,
	})
	return answer, nil
}

// rawGap mirrors the JSON shape of the gap-analysis response.
// can_answer defaults to true so a malformed response never confirms
// a gap by accident.
type rawGap struct {
	CanAnswer      *bool  `json:"can_answer"`
	GapDescription string `json:"gap_description"`
	Proposal       string `json:"proposal"`
	PromptName     string `json:"prompt_name"`
	PromptUpdate   string `json:"prompt_update"`
}

// CheckCapabilityGap inspects an answer for signs that the assistant
// structurally cannot help, and if so asks the model to confirm the gap
// and propose a fix. Returns nil when no gap is detected; every failure
// in this path is swallowed so it can never degrade ordinary querying.
func (b *Brain) CheckCapabilityGap(ctx context.Context, question, answer string) *GapProposal {
	if !signalsInsufficientCapability(answer) {
		return nil
	}

	system, err := b.gapPrompt()
	if err != nil {
		slog.Warn("capability gap prompt unavailable", "error", err)
		return nil
	}

	userMsg := fmt.Sprintf("User asked: %s\n\nBot answered: %s", question, answer)
	raw, err := b.llm.Analyze(ctx, userMsg, system, 0)
	if err != nil {
		slog.Warn("capability gap detection failed", "error", err)
		return nil
	}

	b.logConversation(interactionRecord{
		interactionType: "capability_gap",
		userMessage:     userMsg,
		systemPrompt:    system,
		llmResponse:     raw,
	})

	var data rawGap
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Warn("capability gap response was not valid JSON", "error", err)
		return nil
	}
	if data.CanAnswer == nil || *data.CanAnswer {
		return nil
	}
	return &GapProposal{
		GapDescription: data.GapDescription,
		Proposal:       data.Proposal,
		PromptName:     data.PromptName,
		PromptUpdate:   data.PromptUpdate,
	}
}

// EvolvePrompt writes an updated prompt template through the prompt
// manager and reports the outcome as user-presentable text.
func (b *Brain) EvolvePrompt(ctx context.Context, name, newText string) string {
	if !b.prompts.HasUserTier() {
		return "Prompt evolution not available: no user prompts directory configured."
	}
	version, err := b.prompts.Update(name, newText)
	if err != nil {
		slog.Warn("prompt evolution failed", "name", name, "error", err)
		return fmt.Sprintf("Failed to update prompt '%s': %v", name, err)
	}
	return fmt.Sprintf("Prompt '%s' updated and pushed. Commit: %s", name, version)
}

// Overview returns the current rolling overview, or an onboarding hint
// when none has been written yet.
func (b *Brain) Overview(ctx context.Context) string {
	overview := b.loadOverview()
	if overview == "" {
		return "No overview yet. Send me some messages first!"
	}
	return overview
}

// RefreshOverview regenerates the rolling overview from recent items
// with a dedicated model call. The only returned error is a missing
// prompt template.
func (b *Brain) RefreshOverview(ctx context.Context) (string, error) {
	overview := b.loadOverview()

	recent, err := b.store.Recent(refreshRecentLimit)
	if err != nil {
		slog.Warn("loading recent items for refresh failed", "error", err)
	}

	system, err := b.refreshPrompt(overview, formatItemsForPrompt(recent))
	if err != nil {
		return "", err
	}

	const refreshRequest = "Please regenerate the rolling overview."
	newOverview, err := b.llm.Analyze(ctx, refreshRequest, system, 0)
	if err != nil {
		slog.Warn("overview refresh failed", "error", err)
		return "Couldn't refresh the overview right now.", nil
	}

	b.logConversation(interactionRecord{
		interactionType: "overview_refresh",
		userMessage:     refreshRequest,
		systemPrompt:    system,
		llmResponse:     newOverview,
	})

	if err := b.store.SaveOverview(newOverview); err != nil {
		slog.Error("saving refreshed overview failed", "error", err)
		return "Couldn't refresh the overview right now.", nil
	}
	return "Overview refreshed.", nil
}

// Recent returns the newest knowledge items.
func (b *Brain) Recent(limit int) ([]knowledge.KnowledgeItem, error) {
	return b.store.Recent(limit)
}

// Search runs a full-text search over the knowledge base.
func (b *Brain) Search(query string, limit int) ([]knowledge.SearchResult, error) {
	return b.store.Search(query, limit)
}

// loadOverview reads the overview, degrading a store failure to "".
func (b *Brain) loadOverview() string {
	overview, err := b.store.GetOverview()
	if err != nil {
		slog.Warn("loading overview failed", "error", err)
		return ""
	}
	return overview
}

type interactionRecord struct {
	interactionType string
	userMessage     string
	systemPrompt    string
	llmResponse     string
	parsedType      string
	parsedTags      []string
	parsedSummary   string
}

// logConversation appends an audit record, best-effort. The log is
// never on the critical path of capture or query.
func (b *Brain) logConversation(ir interactionRecord) {
	if b.log == nil {
		return
	}
	rec := knowledge.NewConversationRecord(ir.interactionType, ir.userMessage, ir.systemPrompt, ir.llmResponse)
	rec.ParsedType = ir.parsedType
	rec.ParsedSummary = ir.parsedSummary
	if len(ir.parsedTags) > 0 {
		if tags, err := json.Marshal(ir.parsedTags); err == nil {
			rec.ParsedTags = string(tags)
		}
	}
	if _, err := b.log.Record(&rec); err != nil {
		slog.Warn("failed to log conversation", "error", err)
	}
}

func signalsInsufficientCapability(answer string) bool {
	lower := strings.ToLower(answer)
	for _, signal := range capabilitySignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

// formatSearchContext renders search results as a context block for the
// query prompt. An empty result set renders as "" and the prompt builder
// substitutes an explicit placeholder.
func formatSearchContext(results []knowledge.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[%s] %s\n  Tags: %s",
			r.Item.Type, r.Item.DisplaySummary(100), tagList(r.Item.Tags)))
	}
	return strings.Join(lines, "\n\n")
}

// formatPlainResults renders search results for direct user display,
// used when the model is unavailable.
func formatPlainResults(results []knowledge.SearchResult) string {
	if len(results) > plainResultsLimit {
		results = results[:plainResultsLimit]
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[%s] %s", r.Item.Type, r.Item.DisplaySummary(80)))
	}
	return strings.Join(lines, "\n\n")
}

// formatItemsForPrompt renders knowledge items for the overview refresh
// prompt, including creation times.
func formatItemsForPrompt(items []knowledge.KnowledgeItem) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("[%s] %s\n  Tags: %s\n  Created: %s",
			item.Type, item.DisplaySummary(100), tagList(item.Tags),
			item.CreatedAt.Format("2006-01-02 15:04")))
	}
	return strings.Join(lines, "\n\n")
}

func tagList(tags []string) string {
	if len(tags) == 0 {
		return "no tags"
	}
	return strings.Join(tags, ", ")
}
