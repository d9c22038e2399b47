// Package api exposes the orchestrator over HTTP for scripts and
// personal tooling, plus an MCP server for agent integrations. The
// Telegram bot remains the primary surface; this one is headless.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scotthw/secondbrain/internal/brain"
	"github.com/scotthw/secondbrain/internal/knowledge"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Orchestrator is the brain surface the HTTP and MCP layers call.
type Orchestrator interface {
	Capture(ctx context.Context, text string) (string, bool, error)
	Query(ctx context.Context, question string) (string, error)
	CheckCapabilityGap(ctx context.Context, question, answer string) *brain.GapProposal
	Overview(ctx context.Context) string
	RefreshOverview(ctx context.Context) (string, error)
	Recent(limit int) ([]knowledge.KnowledgeItem, error)
	Search(query string, limit int) ([]knowledge.SearchResult, error)
}

// ConversationLister reads back the model-interaction audit trail.
type ConversationLister interface {
	Recent(limit int) ([]knowledge.ConversationRecord, error)
}

// Deps holds everything the HTTP handler needs.
type Deps struct {
	Brain         Orchestrator
	Conversations ConversationLister // optional; nil disables /conversations
	Token         string
}

// NewHandler builds the HTTP API. All routes except /health require the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/capture", handleCapture(deps))
		r.Post("/query", handleQuery(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/recent", handleRecent(deps))
		r.Get("/overview", handleOverview(deps))
		r.Post("/overview/refresh", handleRefresh(deps))
		r.Get("/conversations", handleConversations(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type captureRequest struct {
	Text string `json:"text"`
}

func handleCapture(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req captureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		reply, capabilityRequest, err := deps.Brain.Capture(r.Context(), req.Text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "capture failed: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"reply":              reply,
			"capability_request": capabilityRequest,
		})
	}
}

type queryRequest struct {
	Question string `json:"question"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		answer, err := deps.Brain.Query(r.Context(), req.Question)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "query failed: %v", err)
			return
		}

		resp := map[string]any{"answer": answer}
		if gap := deps.Brain.CheckCapabilityGap(r.Context(), req.Question, answer); gap != nil {
			resp["capability_gap"] = map[string]string{
				"gap_description": gap.GapDescription,
				"proposal":        gap.Proposal,
				"prompt_name":     gap.PromptName,
			}
		}
		writeJSON(w, resp)
	}
}

// itemJSON is the wire shape of a knowledge item.
type itemJSON struct {
	ID        int64    `json:"id"`
	Type      string   `json:"type"`
	Content   string   `json:"content"`
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	SourceURL string   `json:"source_url,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func toItemJSON(item knowledge.KnowledgeItem) itemJSON {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return itemJSON{
		ID:        item.ID,
		Type:      string(item.Type),
		Content:   item.Content,
		Summary:   item.Summary,
		Tags:      tags,
		SourceURL: item.SourceURL,
		CreatedAt: item.CreatedAt.Format(time.RFC3339),
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 10, 50)

		results, err := deps.Brain.Search(query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		type resultJSON struct {
			itemJSON
			Rank    float64 `json:"rank"`
			Snippet string  `json:"snippet,omitempty"`
		}
		out := make([]resultJSON, len(results))
		for i, res := range results {
			out[i] = resultJSON{
				itemJSON: toItemJSON(res.Item),
				Rank:     res.Rank,
				Snippet:  res.Snippet,
			}
		}
		writeJSON(w, out)
	}
}

func handleRecent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		items, err := deps.Brain.Recent(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing recent items failed: %v", err)
			return
		}
		out := make([]itemJSON, len(items))
		for i, item := range items {
			out[i] = toItemJSON(item)
		}
		writeJSON(w, out)
	}
}

func handleOverview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"overview": deps.Brain.Overview(r.Context())})
	}
}

func handleRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Brain.RefreshOverview(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "refresh failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": status})
	}
}

func handleConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Conversations == nil {
			httpError(w, http.StatusNotFound, "not_found", "conversation log not configured")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Conversations.Recent(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing conversations failed: %v", err)
			return
		}

		type recordJSON struct {
			ID              int64  `json:"id"`
			Timestamp       string `json:"timestamp"`
			InteractionType string `json:"interaction_type"`
			UserMessage     string `json:"user_message"`
			LLMResponse     string `json:"llm_response"`
			ParsedType      string `json:"parsed_type,omitempty"`
			ParsedTags      string `json:"parsed_tags,omitempty"`
			ParsedSummary   string `json:"parsed_summary,omitempty"`
		}
		out := make([]recordJSON, len(records))
		for i, rec := range records {
			out[i] = recordJSON{
				ID:              rec.ID,
				Timestamp:       rec.Timestamp.Format(time.RFC3339),
				InteractionType: rec.InteractionType,
				UserMessage:     rec.UserMessage,
				LLMResponse:     rec.LLMResponse,
				ParsedType:      rec.ParsedType,
				ParsedTags:      rec.ParsedTags,
				ParsedSummary:   rec.ParsedSummary,
			}
		}
		writeJSON(w, out)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
