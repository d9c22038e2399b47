package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scotthw/secondbrain/internal/knowledge"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveItem(t *testing.T, s *Store, item knowledge.KnowledgeItem) knowledge.KnowledgeItem {
	t.Helper()
	if _, err := s.SaveItem(&item); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	return item
}

func TestSaveAssignsID(t *testing.T) {
	s := openTestStore(t)

	item := knowledge.NewItem("first note", knowledge.TypeNote, nil, "")
	id, err := s.SaveItem(&item)
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero id")
	}
	if item.ID != id {
		t.Errorf("item.ID = %d, want %d", item.ID, id)
	}

	item2 := knowledge.NewItem("second note", knowledge.TypeNote, nil, "")
	id2, err := s.SaveItem(&item2)
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if id2 <= id {
		t.Errorf("ids not monotonically increasing: %d then %d", id, id2)
	}
}

func TestGetItemRoundTrip(t *testing.T) {
	s := openTestStore(t)

	orig := knowledge.KnowledgeItem{
		Content:    "Check out this grants page",
		Type:       knowledge.TypeLink,
		Tags:       []string{"grants", "nsw"},
		Summary:    "NSW grants",
		SourceURL:  "https://example.com/grants",
		URLContent: "Grants Page\n\nApply by March",
		CreatedAt:  time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
	saved := saveItem(t, s, orig)

	got, err := s.GetItem(saved.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Content != orig.Content {
		t.Errorf("Content = %q", got.Content)
	}
	if got.Type != knowledge.TypeLink {
		t.Errorf("Type = %q", got.Type)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "grants" || got.Tags[1] != "nsw" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Summary != orig.Summary || got.SourceURL != orig.SourceURL || got.URLContent != orig.URLContent {
		t.Errorf("fields did not round-trip: %+v", got)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, orig.CreatedAt)
	}
}

func TestGetItemNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetItem(999); err != ErrNotFound {
		t.Errorf("GetItem(999) err = %v, want ErrNotFound", err)
	}
}

func TestSearchORSemantics(t *testing.T) {
	s := openTestStore(t)

	a := saveItem(t, s, knowledge.NewItem("The grant covers funding for research", knowledge.TypeNote, nil, ""))
	saveItem(t, s, knowledge.NewItem("Completely unrelated gardening tips", knowledge.TypeNote, nil, ""))

	results, err := s.Search("grants funding deadline", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Item.ID != a.ID {
		t.Errorf("matched item %d, want %d", results[0].Item.ID, a.ID)
	}
}

func TestSearchPunctuationTolerated(t *testing.T) {
	s := openTestStore(t)
	saveItem(t, s, knowledge.NewItem("Several grants are open until March", knowledge.TypeNote, nil, ""))

	results, err := s.Search("what grants are open in March?", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a match despite trailing punctuation")
	}
}

func TestSearchMatchesTags(t *testing.T) {
	s := openTestStore(t)
	saveItem(t, s, knowledge.NewItem("some content", knowledge.TypeIdea, []string{"robotics"}, ""))

	results, err := s.Search("robotics", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (tag match)", len(results))
	}
}

func TestSearchLimitAndSnippet(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		saveItem(t, s, knowledge.NewItem("recurring keyword entry", knowledge.TypeNote, nil, ""))
	}
	saveItem(t, s, knowledge.KnowledgeItem{
		Content:   strings.Repeat("keyword ", 50),
		Type:      knowledge.TypeNote,
		CreatedAt: time.Now().UTC(),
	})

	results, err := s.Search("keyword", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want limit 3", len(results))
	}
	for _, r := range results {
		if r.Snippet == "" {
			t.Error("expected non-empty snippet")
		}
		if len(r.Snippet) > 100 {
			t.Errorf("snippet too long: %d chars", len(r.Snippet))
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s := openTestStore(t)
	saveItem(t, s, knowledge.NewItem("anything", knowledge.TypeNote, nil, ""))

	results, err := s.Search("?!...", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("punctuation-only query returned %d results", len(results))
	}
}

func TestRecentOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		saveItem(t, s, knowledge.KnowledgeItem{
			Content:   "item",
			Type:      knowledge.TypeNote,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	items, err := s.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.After(items[i-1].CreatedAt) {
			t.Errorf("items not newest-first at index %d", i)
		}
	}
}

func TestCount(t *testing.T) {
	s := openTestStore(t)

	n, err := s.Count()
	if err != nil || n != 0 {
		t.Fatalf("Count = %d, %v; want 0", n, err)
	}
	saveItem(t, s, knowledge.NewItem("one", knowledge.TypeNote, nil, ""))
	saveItem(t, s, knowledge.NewItem("two", knowledge.TypeNote, nil, ""))
	n, err = s.Count()
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v; want 2", n, err)
	}
}

func TestOverviewDefaultEmpty(t *testing.T) {
	s := openTestStore(t)
	text, err := s.GetOverview()
	if err != nil {
		t.Fatalf("GetOverview: %v", err)
	}
	if text != "" {
		t.Errorf("GetOverview = %q, want empty", text)
	}
}

func TestOverviewOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveOverview("v1"); err != nil {
		t.Fatalf("SaveOverview: %v", err)
	}
	if err := s.SaveOverview("v2"); err != nil {
		t.Fatalf("SaveOverview: %v", err)
	}

	text, err := s.GetOverview()
	if err != nil {
		t.Fatalf("GetOverview: %v", err)
	}
	if text != "v2" {
		t.Errorf("GetOverview = %q, want v2", text)
	}
}

func TestOverviewMirrorWritten(t *testing.T) {
	dir := t.TempDir()
	mirror := filepath.Join(dir, "exports", "overview.md")
	s := openTestStore(t, WithOverviewMirror(mirror))

	if err := s.SaveOverview("Projects: robotics club"); err != nil {
		t.Fatalf("SaveOverview: %v", err)
	}

	data, err := os.ReadFile(mirror)
	if err != nil {
		t.Fatalf("reading mirror file: %v", err)
	}
	if !strings.Contains(string(data), "Projects: robotics club") {
		t.Errorf("mirror missing overview text: %q", data)
	}
	if !strings.HasPrefix(string(data), "# Knowledge Base Overview") {
		t.Errorf("mirror missing header: %q", data)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	saveItem(t, s1, knowledge.NewItem("persisted", knowledge.TypeNote, nil, ""))
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	n, err := s2.Count()
	if err != nil || n != 1 {
		t.Errorf("Count after reopen = %d, %v; want 1", n, err)
	}
}
