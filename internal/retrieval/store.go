// Package retrieval persists notes about completed work and retrieves
// the ones relevant to a new task. Notes survive across sessions in a
// sqlite database, so later runs in the same workspace can draw on what
// earlier runs did.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	_ "modernc.org/sqlite"

	"yaver/internal/logging"
)

// ContextRetriever is the read side the executor depends on.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Note, error)
}

// Note is one remembered unit of work.
type Note struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore is a sqlite-backed note store with keyword retrieval.
type MemoryStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewMemoryStore creates or opens the store at dbPath, creating parent
// directories as needed.
func NewMemoryStore(dbPath string) (*MemoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &MemoryStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *MemoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_notes_task ON notes(task_id);
	`)
	return err
}

// Close closes the database connection.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// Remember stores a note about a completed task.
func (s *MemoryStore) Remember(ctx context.Context, taskID, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (task_id, title, content) VALUES (?, ?, ?)`,
		taskID, title, content)
	if err != nil {
		return fmt.Errorf("failed to store note: %w", err)
	}
	logging.Retrieval("remembered note for task %s: %s", taskID, title)
	return nil
}

// Retrieve returns the k notes most relevant to the query, best first.
// Relevance is keyword overlap with title matches weighted double.
// Notes with no overlap are never returned.
func (s *MemoryStore) Retrieve(ctx context.Context, query string, k int) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keywords := extractKeywords(query)
	if len(keywords) == 0 || k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, title, content, created_at FROM notes ORDER BY id DESC LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	type scored struct {
		note  Note
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.TaskID, &n.Title, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if sc := scoreNote(&n, keywords); sc > 0 {
			candidates = append(candidates, scored{note: n, score: sc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newer notes win ties; rows arrive newest-first and the sort is
	// stable.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	notes := make([]Note, len(candidates))
	for i, c := range candidates {
		notes[i] = c.note
	}
	logging.Retrieval("retrieved %d/%d notes for query len=%d", len(notes), k, len(query))
	return notes, nil
}

func scoreNote(n *Note, keywords []string) float64 {
	title := strings.ToLower(n.Title)
	content := strings.ToLower(n.Content)
	var score float64
	for _, kw := range keywords {
		if strings.Contains(title, kw) {
			score += 2
		}
		if strings.Contains(content, kw) {
			score += 1
		}
	}
	return score
}

// stopWords are terms too common in task descriptions to discriminate.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"to": true, "of": true, "in": true, "on": true, "for": true,
	"with": true, "is": true, "are": true, "be": true, "this": true,
	"that": true, "it": true, "as": true, "by": true, "from": true,
	"add": true, "fix": true, "implement": true, "create": true,
	"update": true, "make": true, "use": true, "should": true,
	"task": true, "file": true, "code": true,
}

// extractKeywords lowercases the query, splits on non-identifier runes
// and drops stop words and short tokens.
func extractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool)
	var keywords []string
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		keywords = append(keywords, f)
	}
	return keywords
}
