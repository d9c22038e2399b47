// Package store persists knowledge items and the rolling overview in
// SQLite, with FTS5 full-text search over content, summary, and tags.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scotthw/secondbrain/internal/knowledge"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// overviewKey is the primary key of the single logical overview row.
const overviewKey = "__rolling_overview__"

// snippetLen bounds the content prefix used when an item has no summary.
const snippetLen = 100

// Store wraps a SQLite database holding knowledge items and the overview.
type Store struct {
	db *sql.DB

	// overviewMirror, when non-empty, receives a rendered markdown copy
	// of the overview on every SaveOverview. Failures there only warn.
	overviewMirror string

	ftsAvailable bool
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithOverviewMirror makes SaveOverview also write a rendered markdown
// document to path. Mirror failures never fail the save.
func WithOverviewMirror(path string) Option {
	return func(s *Store) { s.overviewMirror = path }
}

// Open opens (or creates) the knowledge database in dataDir and runs
// pending migrations. Pass ":memory:" as dataDir for an in-memory
// database (used by tests).
func Open(dataDir string, opts ...Option) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "knowledge.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	s.ensureSearchIndex()

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// ensureSearchIndex creates the FTS5 virtual table and the triggers that
// keep it in sync with items. Index writes share the insert's transaction
// because they run through triggers. A SQLite build without FTS5 degrades
// to Search returning no results instead of failing Open.
func (s *Store) ensureSearchIndex() {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS items_fts
		USING fts5(content, summary, tags, content=items, content_rowid=id)`)
	if err != nil {
		slog.Error("FTS5 unavailable, full-text search disabled", "error", err)
		s.ftsAvailable = false
		return
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS items_ai AFTER INSERT ON items BEGIN
			INSERT INTO items_fts(rowid, content, summary, tags)
			VALUES (new.id, new.content, new.summary, new.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS items_ad AFTER DELETE ON items BEGIN
			INSERT INTO items_fts(items_fts, rowid, content, summary, tags)
			VALUES ('delete', old.id, old.content, old.summary, old.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS items_au AFTER UPDATE ON items BEGIN
			INSERT INTO items_fts(items_fts, rowid, content, summary, tags)
			VALUES ('delete', old.id, old.content, old.summary, old.tags);
			INSERT INTO items_fts(rowid, content, summary, tags)
			VALUES (new.id, new.content, new.summary, new.tags);
		END`,
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			slog.Error("creating FTS sync trigger failed, full-text search disabled", "error", err)
			s.ftsAvailable = false
			return
		}
	}

	s.ftsAvailable = true
}

// SaveItem persists an item and assigns its ID. The FTS index row is
// written by trigger inside the same implicit transaction as the insert.
func (s *Store) SaveItem(item *knowledge.KnowledgeItem) (int64, error) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("marshalling tags: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO items (content, item_type, tags, summary, source_url, url_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Content, string(item.Type), string(tagsJSON), item.Summary,
		item.SourceURL, item.URLContent, item.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading assigned id: %w", err)
	}
	item.ID = id
	return id, nil
}

// GetItem retrieves an item by ID. Returns ErrNotFound when absent.
func (s *Store) GetItem(id int64) (knowledge.KnowledgeItem, error) {
	row := s.db.QueryRow(`
		SELECT id, content, item_type, tags, summary, source_url, url_content, created_at
		FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return knowledge.KnowledgeItem{}, ErrNotFound
	}
	return item, err
}

// Search runs an OR-of-terms full-text query over content, summary, and
// tags, ranked by bm25 (lower is more relevant). Punctuation in the query
// is stripped rather than passed to the FTS parser, so a trailing "?"
// never hides otherwise-matching terms. A disabled or failing search
// index degrades to an empty result set.
func (s *Store) Search(query string, limit int) ([]knowledge.SearchResult, error) {
	if !s.ftsAvailable {
		return nil, nil
	}
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT items.id, items.content, items.item_type, items.tags, items.summary,
		       items.source_url, items.url_content, items.created_at,
		       bm25(items_fts) AS rank
		FROM items_fts
		JOIN items ON items.id = items_fts.rowid
		WHERE items_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		slog.Warn("full-text search failed", "query", query, "error", err)
		return nil, nil
	}
	defer rows.Close()

	var results []knowledge.SearchResult
	for rows.Next() {
		var item knowledge.KnowledgeItem
		var tagsJSON, createdAt string
		var rank float64
		if err := rows.Scan(&item.ID, &item.Content, &item.Type, &tagsJSON, &item.Summary,
			&item.SourceURL, &item.URLContent, &createdAt, &rank); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if err := finishItem(&item, tagsJSON, createdAt); err != nil {
			return nil, err
		}
		results = append(results, knowledge.SearchResult{
			Item:    item,
			Rank:    rank,
			Snippet: item.DisplaySummary(snippetLen),
		})
	}
	return results, rows.Err()
}

// buildMatchQuery turns free text into an FTS5 match expression: terms
// are stripped of punctuation, double-quoted, and joined with OR so a
// document matches if it contains any of them.
func buildMatchQuery(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 127 {
			return r
		}
		return ' '
	}, query)

	terms := strings.Fields(cleaned)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Recent returns the newest items first; equal timestamps fall back to
// insertion order, newest insert first.
func (s *Store) Recent(limit int) ([]knowledge.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, content, item_type, tags, summary, source_url, url_content, created_at
		FROM items ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent items: %w", err)
	}
	defer rows.Close()

	var items []knowledge.KnowledgeItem
	for rows.Next() {
		var item knowledge.KnowledgeItem
		var tagsJSON, createdAt string
		if err := rows.Scan(&item.ID, &item.Content, &item.Type, &tagsJSON, &item.Summary,
			&item.SourceURL, &item.URLContent, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		if err := finishItem(&item, tagsJSON, createdAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Count returns the total number of stored items.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM items").Scan(&count)
	return count, err
}

// GetOverview returns the rolling overview text, or "" if never written.
func (s *Store) GetOverview() (string, error) {
	var text string
	err := s.db.QueryRow("SELECT text FROM overview WHERE key = ?", overviewKey).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading overview: %w", err)
	}
	return text, nil
}

// SaveOverview replaces the rolling overview wholesale. When a mirror
// path is configured, the new text is also rendered to a markdown file;
// a mirror failure warns without rolling back the save.
func (s *Store) SaveOverview(text string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO overview (key, text, updated_at)
		VALUES (?, ?, ?)`,
		overviewKey, text, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving overview: %w", err)
	}

	s.exportOverviewMarkdown(text)
	return nil
}

func (s *Store) exportOverviewMarkdown(text string) {
	if s.overviewMirror == "" {
		return
	}
	rendered := fmt.Sprintf("# Knowledge Base Overview\n\n_Last updated: %s_\n\n%s\n",
		time.Now().UTC().Format("2006-01-02 15:04 UTC"), text)
	if err := os.MkdirAll(filepath.Dir(s.overviewMirror), 0o755); err != nil {
		slog.Warn("creating overview mirror directory failed", "path", s.overviewMirror, "error", err)
		return
	}
	if err := os.WriteFile(s.overviewMirror, []byte(rendered), 0o644); err != nil {
		slog.Warn("writing overview mirror failed", "path", s.overviewMirror, "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (knowledge.KnowledgeItem, error) {
	var item knowledge.KnowledgeItem
	var tagsJSON, createdAt string
	if err := row.Scan(&item.ID, &item.Content, &item.Type, &tagsJSON, &item.Summary,
		&item.SourceURL, &item.URLContent, &createdAt); err != nil {
		return knowledge.KnowledgeItem{}, err
	}
	if err := finishItem(&item, tagsJSON, createdAt); err != nil {
		return knowledge.KnowledgeItem{}, err
	}
	return item, nil
}

func finishItem(item *knowledge.KnowledgeItem, tagsJSON, createdAt string) error {
	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		return fmt.Errorf("parsing tags for item %d: %w", item.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return fmt.Errorf("parsing created_at for item %d: %w", item.ID, err)
	}
	item.CreatedAt = t
	return nil
}
