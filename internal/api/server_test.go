package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/scotthw/secondbrain/internal/brain"
	"github.com/scotthw/secondbrain/internal/knowledge"
)

const testToken = "test-token-12345"

type fakeBrain struct {
	captureReply string
	captureFlag  bool
	captured     []string
	queryAnswer  string
	gap          *brain.GapProposal
	overview     string
	refreshMsg   string
	recent       []knowledge.KnowledgeItem
	results      []knowledge.SearchResult
}

func (f *fakeBrain) Capture(ctx context.Context, text string) (string, bool, error) {
	f.captured = append(f.captured, text)
	return f.captureReply, f.captureFlag, nil
}

func (f *fakeBrain) Query(ctx context.Context, q string) (string, error) {
	return f.queryAnswer, nil
}

func (f *fakeBrain) CheckCapabilityGap(ctx context.Context, q, a string) *brain.GapProposal {
	return f.gap
}

func (f *fakeBrain) Overview(ctx context.Context) string { return f.overview }

func (f *fakeBrain) RefreshOverview(ctx context.Context) (string, error) {
	return f.refreshMsg, nil
}

func (f *fakeBrain) Recent(limit int) ([]knowledge.KnowledgeItem, error) {
	return f.recent, nil
}

func (f *fakeBrain) Search(q string, limit int) ([]knowledge.SearchResult, error) {
	return f.results, nil
}

type fakeConversations struct {
	records []knowledge.ConversationRecord
}

func (f *fakeConversations) Recent(limit int) ([]knowledge.ConversationRecord, error) {
	return f.records, nil
}

func newTestHandler(b *fakeBrain) http.Handler {
	return NewHandler(Deps{Brain: b, Token: testToken})
}

func authReq(method, url, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func TestHealthNoAuth(t *testing.T) {
	h := newTestHandler(&fakeBrain{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestHandler(&fakeBrain{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/recent", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/recent", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for wrong token", rr.Code)
	}
}

func TestCapture(t *testing.T) {
	b := &fakeBrain{captureReply: "Saved!", captureFlag: true}
	h := newTestHandler(b)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/capture", `{"text":"remember the milk"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Reply             string `json:"reply"`
		CapabilityRequest bool   `json:"capability_request"`
	}
	decodeBody(t, rr, &resp)
	if resp.Reply != "Saved!" || !resp.CapabilityRequest {
		t.Errorf("resp = %+v", resp)
	}
	if len(b.captured) != 1 || b.captured[0] != "remember the milk" {
		t.Errorf("captured = %v", b.captured)
	}
}

func TestCaptureEmptyText(t *testing.T) {
	h := newTestHandler(&fakeBrain{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/capture", `{"text":""}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestQueryIncludesGap(t *testing.T) {
	b := &fakeBrain{
		queryAnswer: "I don't track that.",
		gap: &brain.GapProposal{
			GapDescription: "no expense tracking",
			Proposal:       "extend the capture prompt",
			PromptName:     "capture",
		},
	}
	h := newTestHandler(b)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/query", `{"question":"expenses?"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Answer        string `json:"answer"`
		CapabilityGap *struct {
			GapDescription string `json:"gap_description"`
			PromptName     string `json:"prompt_name"`
		} `json:"capability_gap"`
	}
	decodeBody(t, rr, &resp)
	if resp.Answer != "I don't track that." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.CapabilityGap == nil || resp.CapabilityGap.GapDescription != "no expense tracking" {
		t.Errorf("capability_gap = %+v", resp.CapabilityGap)
	}
}

func TestSearch(t *testing.T) {
	item := knowledge.NewItem("grant info", knowledge.TypeReference, []string{"grants"}, "Grant A")
	item.ID = 7
	b := &fakeBrain{results: []knowledge.SearchResult{{Item: item, Rank: -1.5, Snippet: "grant <b>info</b>"}}}
	h := newTestHandler(b)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search?q=grants", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp []struct {
		ID      int64    `json:"id"`
		Type    string   `json:"type"`
		Summary string   `json:"summary"`
		Tags    []string `json:"tags"`
		Rank    float64  `json:"rank"`
		Snippet string   `json:"snippet"`
	}
	decodeBody(t, rr, &resp)
	if len(resp) != 1 {
		t.Fatalf("got %d results", len(resp))
	}
	if resp[0].ID != 7 || resp[0].Type != "reference" || resp[0].Rank != -1.5 {
		t.Errorf("result = %+v", resp[0])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newTestHandler(&fakeBrain{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/search", ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRecentAndOverview(t *testing.T) {
	item := knowledge.NewItem("a note", knowledge.TypeNote, nil, "a note")
	b := &fakeBrain{recent: []knowledge.KnowledgeItem{item}, overview: "## Projects"}
	h := newTestHandler(b)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/recent", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("recent status = %d", rr.Code)
	}
	var items []struct {
		Type string   `json:"type"`
		Tags []string `json:"tags"`
	}
	decodeBody(t, rr, &items)
	if len(items) != 1 || items[0].Type != "note" {
		t.Errorf("items = %+v", items)
	}
	if items[0].Tags == nil {
		t.Error("tags should serialize as an empty array, not null")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/overview", ""))
	var ov struct {
		Overview string `json:"overview"`
	}
	decodeBody(t, rr, &ov)
	if ov.Overview != "## Projects" {
		t.Errorf("overview = %q", ov.Overview)
	}
}

func TestRefresh(t *testing.T) {
	h := newTestHandler(&fakeBrain{refreshMsg: "Overview refreshed."})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/overview/refresh", ""))
	var resp struct {
		Status string `json:"status"`
	}
	decodeBody(t, rr, &resp)
	if resp.Status != "Overview refreshed." {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestConversations(t *testing.T) {
	rec := knowledge.NewConversationRecord("query", "q", "sys", "a")
	rec.ID = 3
	rec.Timestamp = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := NewHandler(Deps{
		Brain:         &fakeBrain{},
		Conversations: &fakeConversations{records: []knowledge.ConversationRecord{rec}},
		Token:         testToken,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp []struct {
		ID              int64  `json:"id"`
		InteractionType string `json:"interaction_type"`
	}
	decodeBody(t, rr, &resp)
	if len(resp) != 1 || resp[0].ID != 3 || resp[0].InteractionType != "query" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestConversationsNotConfigured(t *testing.T) {
	h := newTestHandler(&fakeBrain{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/conversations", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
