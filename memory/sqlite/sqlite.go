// Package sqlite implements tideline.MemoryProvider using pure-Go SQLite.
//
// The store can own its database file (New) or share the connection of
// store/sqlite (NewWithDB) so memories live next to conversations.
package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nevindra/tideline"
	"github.com/nevindra/tideline/memory"

	_ "modernc.org/sqlite"
)

// Option configures a memory Store.
type Option func(*Store)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used for creation times and interval
// scopes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps remembered facts in a memories table.
type Store struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
	now    func() time.Time
}

var _ tideline.MemoryProvider = (*Store)(nil)

// New opens a memory store on its own SQLite file.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := NewWithDB(db, opts...)
	s.owned = true
	return s, nil
}

// NewWithDB uses an existing connection. Close leaves it open.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS memories_created ON memories(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory sqlite: init: %w", err)
		}
	}
	return nil
}

// Add stores a new fact after cleaning it.
func (s *Store) Add(ctx context.Context, content, conversationID string) (tideline.MemoryEntry, error) {
	cleaned, err := memory.Clean(content)
	if err != nil {
		return tideline.MemoryEntry{}, err
	}
	e := tideline.MemoryEntry{
		ID:             tideline.NewID(),
		Content:        cleaned,
		ConversationID: conversationID,
		CreatedAt:      s.now().UnixMilli(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, conversation_id, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.Content, e.ConversationID, e.CreatedAt)
	if err != nil {
		return tideline.MemoryEntry{}, fmt.Errorf("add memory: %w", err)
	}
	if err := s.prune(ctx); err != nil {
		s.logger.Warn("memory prune failed", "error", err)
	}
	s.logger.Debug("memory stored", "memory_id", e.ID, "conversation_id", conversationID)
	return e, nil
}

// Update replaces the content of a fact.
func (s *Store) Update(ctx context.Context, id, content string) error {
	cleaned, err := memory.Clean(content)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET content = ? WHERE id = ?`, cleaned, id)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update memory %s: %w", id, tideline.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete memory %s: %w", id, tideline.ErrNotFound)
	}
	return nil
}

// List returns up to limit facts, most recent first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]tideline.MemoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx,
		`SELECT id, content, conversation_id, created_at FROM memories
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

// Search returns facts matching any term of query, best match first. An
// empty query lists the most recent facts.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]tideline.MemoryEntry, error) {
	if strings.TrimSpace(query) == "" {
		return s.List(ctx, limit)
	}
	terms := memory.Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	conds := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, t := range terms {
		conds[i] = `LOWER(content) LIKE ? ESCAPE '\'`
		args[i] = "%" + escapeLike(t) + "%"
	}
	entries, err := s.query(ctx,
		`SELECT id, content, conversation_id, created_at FROM memories
		 WHERE `+strings.Join(conds, " OR ")+`
		 ORDER BY created_at DESC, rowid DESC`, args...)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(entries, func(a, b tideline.MemoryEntry) int {
		return cmp.Compare(memory.Score(b.Content, terms), memory.Score(a.Content, terms))
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Select returns the facts offered proactively under scope, most recent
// first.
func (s *Store) Select(ctx context.Context, scope tideline.MemoryScope) ([]tideline.MemoryEntry, error) {
	switch scope.Filter {
	case tideline.MemoryInterval:
		since := s.now().Add(-scope.Interval).UnixMilli()
		return s.query(ctx,
			`SELECT id, content, conversation_id, created_at FROM memories
			 WHERE created_at >= ? ORDER BY created_at DESC, rowid DESC`, since)
	case tideline.MemoryCount:
		if scope.Count <= 0 {
			return nil, nil
		}
		return s.List(ctx, scope.Count)
	case tideline.MemoryAll:
		return s.List(ctx, 0)
	}
	return nil, nil
}

// FormattedProactiveContext renders the facts selected by scope. It returns
// "" when the scope is off or selects nothing.
func (s *Store) FormattedProactiveContext(ctx context.Context, scope tideline.MemoryScope) (string, error) {
	entries, err := s.Select(ctx, scope)
	if err != nil {
		return "", err
	}
	return tideline.FormatProactiveContext(scope, entries), nil
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// prune keeps the memory.MaxEntries most recent facts.
func (s *Store) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE id NOT IN (
			SELECT id FROM memories ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, memory.MaxEntries)
	return err
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]tideline.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []tideline.MemoryEntry
	for rows.Next() {
		var e tideline.MemoryEntry
		if err := rows.Scan(&e.ID, &e.Content, &e.ConversationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(errors.New("iterate memories"), err)
	}
	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
