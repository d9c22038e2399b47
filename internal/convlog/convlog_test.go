package convlog

import (
	"testing"
	"time"

	"github.com/scotthw/secondbrain/internal/knowledge"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAssignsID(t *testing.T) {
	l := openTestLog(t)

	rec := knowledge.NewConversationRecord("capture", "hello", "system", "response")
	id, err := l.Record(&rec)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero id")
	}
	if rec.ID != id {
		t.Errorf("rec.ID = %d, want %d", rec.ID, id)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	l := openTestLog(t)

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, msg := range []string{"first", "second", "third"} {
		rec := knowledge.ConversationRecord{
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
			InteractionType: "query",
			UserMessage:     msg,
			SystemPrompt:    "sys",
			LLMResponse:     "resp",
		}
		if _, err := l.Record(&rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	records, err := l.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].UserMessage != "third" || records[1].UserMessage != "second" {
		t.Errorf("wrong order: %q then %q", records[0].UserMessage, records[1].UserMessage)
	}
}

func TestRecordParsedFields(t *testing.T) {
	l := openTestLog(t)

	rec := knowledge.NewConversationRecord("capture", "msg", "sys", "resp")
	rec.ParsedType = "link"
	rec.ParsedTags = `["grants"]`
	rec.ParsedSummary = "a summary"
	if _, err := l.Record(&rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	records, err := l.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	got := records[0]
	if got.ParsedType != "link" || got.ParsedTags != `["grants"]` || got.ParsedSummary != "a summary" {
		t.Errorf("parsed fields did not round-trip: %+v", got)
	}
}
