// Package knowledge defines the data model shared by the store, the
// conversation log, and the orchestrator.
package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ItemType classifies a knowledge item.
type ItemType string

const (
	TypeNote      ItemType = "note"
	TypeIdea      ItemType = "idea"
	TypeTask      ItemType = "task"
	TypeReference ItemType = "reference"
	TypeLink      ItemType = "link"
	TypeJournal   ItemType = "journal"
)

// ItemTypes lists every valid item type, in display order.
var ItemTypes = []ItemType{TypeNote, TypeIdea, TypeTask, TypeReference, TypeLink, TypeJournal}

// ParseItemType validates a raw label against the closed item-type set.
func ParseItemType(raw string) (ItemType, error) {
	for _, t := range ItemTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid item_type %q, must be one of: %s", raw, ItemTypeLabels())
}

// ItemTypeLabels returns the valid type labels as a comma-separated string,
// used when rendering prompts.
func ItemTypeLabels() string {
	labels := make([]string, len(ItemTypes))
	for i, t := range ItemTypes {
		labels[i] = string(t)
	}
	return strings.Join(labels, ", ")
}

// KnowledgeItem is a single piece of captured knowledge. Content and
// CreatedAt are immutable once the item is constructed; ID is zero until
// the store assigns one on first save.
type KnowledgeItem struct {
	ID         int64
	Content    string
	Type       ItemType
	Tags       []string
	Summary    string
	SourceURL  string
	URLContent string
	CreatedAt  time.Time
}

// NewItem constructs a KnowledgeItem stamped with the current UTC time.
func NewItem(content string, itemType ItemType, tags []string, summary string) KnowledgeItem {
	return KnowledgeItem{
		Content:   content,
		Type:      itemType,
		Tags:      tags,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
}

// DisplaySummary returns the summary, falling back to a truncated prefix
// of the content when no summary was stored.
func (k KnowledgeItem) DisplaySummary(max int) string {
	if k.Summary != "" {
		return k.Summary
	}
	return TruncateRunes(k.Content, max)
}

// TruncateRunes cuts s to at most max characters, never splitting a
// multi-byte rune.
func TruncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// SearchResult pairs an item with its relevance rank (lower is more
// relevant, bm25 convention) and a display snippet. Never persisted.
type SearchResult struct {
	Item    KnowledgeItem
	Rank    float64
	Snippet string
}

// ConversationRecord is one LLM interaction, kept for audit and debugging.
// No pipeline reads these back.
type ConversationRecord struct {
	ID              int64
	Timestamp       time.Time
	InteractionType string
	UserMessage     string
	SystemPrompt    string
	LLMResponse     string
	ParsedType      string
	ParsedTags      string // JSON array stored as text
	ParsedSummary   string
}

// NewConversationRecord builds a record stamped with the current UTC time.
func NewConversationRecord(interactionType, userMessage, systemPrompt, llmResponse string) ConversationRecord {
	return ConversationRecord{
		Timestamp:       time.Now().UTC(),
		InteractionType: interactionType,
		UserMessage:     userMessage,
		SystemPrompt:    systemPrompt,
		LLMResponse:     llmResponse,
	}
}

// ExtractedItem is one sub-item the model pulled out of a single message,
// e.g. one event from a page listing several.
type ExtractedItem struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// AnalysisResult is the parsed structured output of a capture-analysis
// model call. Ephemeral; lives only for the duration of one capture.
type AnalysisResult struct {
	Type              ItemType
	Tags              []string
	Summary           string
	Response          string
	OverviewUpdate    string // empty means "no change"
	ExtractedItems    []ExtractedItem
	CapabilityRequest bool
}

// rawAnalysis mirrors the JSON shape the model is instructed to emit.
type rawAnalysis struct {
	ItemType          *string         `json:"item_type"`
	Tags              *[]string       `json:"tags"`
	Summary           *string         `json:"summary"`
	Response          *string         `json:"response"`
	OverviewUpdate    *string         `json:"overview_update"`
	ExtractedItems    []ExtractedItem `json:"extracted_items"`
	CapabilityRequest bool            `json:"capability_request"`
}

// ParseAnalysis parses the JSON a model returned for a capture analysis.
// Markdown code fences around the JSON are tolerated. Missing required
// fields, malformed JSON, or an unknown item_type label are errors; the
// caller falls back to a raw-note save on any of them.
func ParseAnalysis(raw string) (AnalysisResult, error) {
	cleaned := stripCodeFences(raw)

	var data rawAnalysis
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return AnalysisResult{}, fmt.Errorf("model returned invalid JSON: %w", err)
	}

	var missing []string
	if data.ItemType == nil {
		missing = append(missing, "item_type")
	}
	if data.Tags == nil {
		missing = append(missing, "tags")
	}
	if data.Summary == nil {
		missing = append(missing, "summary")
	}
	if data.Response == nil {
		missing = append(missing, "response")
	}
	if len(missing) > 0 {
		return AnalysisResult{}, fmt.Errorf("model JSON missing required fields: %s", strings.Join(missing, ", "))
	}

	itemType, err := ParseItemType(*data.ItemType)
	if err != nil {
		return AnalysisResult{}, err
	}

	result := AnalysisResult{
		Type:              itemType,
		Tags:              *data.Tags,
		Summary:           *data.Summary,
		Response:          *data.Response,
		ExtractedItems:    data.ExtractedItems,
		CapabilityRequest: data.CapabilityRequest,
	}
	if data.OverviewUpdate != nil {
		result.OverviewUpdate = *data.OverviewUpdate
	}
	return result, nil
}

// stripCodeFences removes a surrounding markdown code fence, which models
// sometimes wrap around JSON output despite instructions.
func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	end := len(lines) - 1
	for end > 0 && !strings.HasPrefix(strings.TrimSpace(lines[end]), "```") {
		end--
	}
	if end == 0 {
		// No closing fence (e.g. output truncated right after the opening
		// one). Leave the text as-is and let JSON parsing reject it.
		return cleaned
	}
	return strings.Join(lines[1:end], "\n")
}

// MergeTags appends extra tags onto base, dropping duplicates while
// preserving first-seen order. Base tags always come first.
func MergeTags(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, t := range base {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	for _, t := range extra {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}
