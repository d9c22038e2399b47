// Package convlog records every model interaction in an append-only
// SQLite log. Nothing in the capture or query pipelines reads it back;
// it exists for post-hoc inspection only, so callers treat writes as
// best-effort.
package convlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scotthw/secondbrain/internal/knowledge"
)

// Log is an append-only audit trail of LLM interactions.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the conversation database in dataDir. Pass
// ":memory:" for an in-memory log (used by tests).
func Open(dataDir string) (*Log, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "conversations.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening conversation database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging conversation database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		interaction_type TEXT NOT NULL,
		user_message TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		llm_response TEXT NOT NULL,
		parsed_type TEXT,
		parsed_tags TEXT,
		parsed_summary TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating conversations table: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one interaction and assigns its ID.
func (l *Log) Record(rec *knowledge.ConversationRecord) (int64, error) {
	res, err := l.db.Exec(`
		INSERT INTO conversations
			(timestamp, interaction_type, user_message, system_prompt,
			 llm_response, parsed_type, parsed_tags, parsed_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.InteractionType,
		rec.UserMessage, rec.SystemPrompt, rec.LLMResponse,
		rec.ParsedType, rec.ParsedTags, rec.ParsedSummary,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting conversation record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading assigned id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// Recent returns the newest records first.
func (l *Log) Recent(limit int) ([]knowledge.ConversationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(`
		SELECT id, timestamp, interaction_type, user_message, system_prompt,
		       llm_response, parsed_type, parsed_tags, parsed_summary
		FROM conversations ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent conversations: %w", err)
	}
	defer rows.Close()

	var records []knowledge.ConversationRecord
	for rows.Next() {
		var rec knowledge.ConversationRecord
		var ts string
		var parsedType, parsedTags, parsedSummary sql.NullString
		if err := rows.Scan(&rec.ID, &ts, &rec.InteractionType, &rec.UserMessage,
			&rec.SystemPrompt, &rec.LLMResponse, &parsedType, &parsedTags, &parsedSummary); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp for record %d: %w", rec.ID, err)
		}
		rec.Timestamp = t
		rec.ParsedType = parsedType.String
		rec.ParsedTags = parsedTags.String
		rec.ParsedSummary = parsedSummary.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
