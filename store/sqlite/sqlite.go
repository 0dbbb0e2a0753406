// Package sqlite implements tideline.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/tideline"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. The store emits debug logs for every
// operation with timing and key parameters.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements tideline.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ tideline.Store = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// New opens the SQLite file at dbPath. The pool is limited to one
// connection so concurrent writers serialize instead of failing with
// SQLITE_BUSY.
func New(dbPath string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s, nil
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	ddl := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			icon TEXT NOT NULL DEFAULT '',
			model_chat TEXT NOT NULL DEFAULT '',
			model_auxiliary TEXT NOT NULL DEFAULT '',
			model_visual_auxiliary TEXT NOT NULL DEFAULT '',
			should_auto_rename INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			document TEXT NOT NULL,
			reasoning_content TEXT NOT NULL DEFAULT '',
			thinking_duration_ms INTEGER NOT NULL DEFAULT 0,
			is_thinking_fold INTEGER NOT NULL DEFAULT 0,
			web_search_status TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			text_representation TEXT NOT NULL DEFAULT '',
			image_representation BLOB,
			preview_image BLOB,
			raw_data BLOB,
			storage_suffix TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS attachments_message ON attachments(message_id, position)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Debug("sqlite: init ok", "duration", time.Since(start))
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, conv tideline.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, icon, model_chat, model_auxiliary, model_visual_auxiliary, should_auto_rename, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Icon, conv.ModelChat, conv.ModelAuxiliary, conv.ModelVisualAuxiliary,
		boolToInt(conv.ShouldAutoRename), conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Debug("sqlite: conversation created", "conversation_id", conv.ID)
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (tideline.Conversation, error) {
	var c tideline.Conversation
	var rename int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, icon, model_chat, model_auxiliary, model_visual_auxiliary, should_auto_rename, created_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.Icon, &c.ModelChat, &c.ModelAuxiliary, &c.ModelVisualAuxiliary, &rename, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tideline.Conversation{}, fmt.Errorf("get conversation %s: %w", id, tideline.ErrNotFound)
	}
	if err != nil {
		return tideline.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	c.ShouldAutoRename = rename != 0
	return c, nil
}

func (s *Store) UpdateConversation(ctx context.Context, conv tideline.Conversation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, icon = ?, model_chat = ?, model_auxiliary = ?,
		 model_visual_auxiliary = ?, should_auto_rename = ? WHERE id = ?`,
		conv.Title, conv.Icon, conv.ModelChat, conv.ModelAuxiliary, conv.ModelVisualAuxiliary,
		boolToInt(conv.ShouldAutoRename), conv.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update conversation %s: %w", conv.ID, tideline.ErrNotFound)
	}
	return nil
}

// ListConversations returns all conversations, newest first.
func (s *Store) ListConversations(ctx context.Context) ([]tideline.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, icon, model_chat, model_auxiliary, model_visual_auxiliary, should_auto_rename, created_at
		 FROM conversations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []tideline.Conversation
	for rows.Next() {
		var c tideline.Conversation
		var rename int
		if err := rows.Scan(&c.ID, &c.Title, &c.Icon, &c.ModelChat, &c.ModelAuxiliary, &c.ModelVisualAuxiliary, &rename, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.ShouldAutoRename = rename != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Messages ---

// ListMessages returns messages in creation order. Messages created within
// the same millisecond keep their insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]tideline.Message, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, document, reasoning_content, thinking_duration_ms,
		        is_thinking_fold, web_search_status, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []tideline.Message
	for rows.Next() {
		var (
			m        tideline.Message
			thinking int64
			fold     int
			status   sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Document, &m.ReasoningContent,
			&thinking, &fold, &status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ThinkingDuration = time.Duration(thinking) * time.Millisecond
		m.IsThinkingFold = fold != 0
		if status.Valid && status.String != "" {
			if err := json.Unmarshal([]byte(status.String), &m.WebSearchStatus); err != nil {
				s.logger.Warn("sqlite: undecodable web search status", "message_id", m.ID, "error", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	s.logger.Debug("sqlite: list messages ok", "conversation_id", conversationID, "count", len(out), "duration", time.Since(start))
	return out, nil
}

// PutMessage inserts msg or updates the row with the same ID in place.
func (s *Store) PutMessage(ctx context.Context, msg tideline.Message) error {
	var status *string
	if msg.Role == tideline.RoleWebSearch {
		data, err := json.Marshal(msg.WebSearchStatus)
		if err != nil {
			return fmt.Errorf("encode web search status: %w", err)
		}
		v := string(data)
		status = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, document, reasoning_content, thinking_duration_ms,
		                       is_thinking_fold, web_search_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   role = excluded.role,
		   document = excluded.document,
		   reasoning_content = excluded.reasoning_content,
		   thinking_duration_ms = excluded.thinking_duration_ms,
		   is_thinking_fold = excluded.is_thinking_fold,
		   web_search_status = excluded.web_search_status`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Document, msg.ReasoningContent,
		msg.ThinkingDuration.Milliseconds(), boolToInt(msg.IsThinkingFold), status, msg.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: put message failed", "message_id", msg.ID, "error", err)
		return fmt.Errorf("put message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message and its attachments.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE message_id = ?`, id); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.logger.Debug("sqlite: message deleted", "message_id", id)
	return nil
}

// --- Attachments ---

// PutAttachments replaces the attachments of a message in one transaction.
func (s *Store) PutAttachments(ctx context.Context, messageID string, atts []tideline.Attachment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("clear attachments: %w", err)
	}
	for i, a := range atts {
		id := a.ID
		if id == "" {
			id = tideline.NewID()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (id, message_id, position, type, name, text_representation,
			                          image_representation, preview_image, raw_data, storage_suffix)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, messageID, i, string(a.Type), a.Name, a.TextRepresentation,
			a.ImageRepresentation, a.PreviewImage, a.RawData, a.StorageSuffix,
		)
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attachments: %w", err)
	}
	s.logger.Debug("sqlite: attachments stored", "message_id", messageID, "count", len(atts))
	return nil
}

func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]tideline.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, type, name, text_representation, image_representation,
		        preview_image, raw_data, storage_suffix
		 FROM attachments WHERE message_id = ? ORDER BY position`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []tideline.Attachment
	for rows.Next() {
		var a tideline.Attachment
		var typ string
		if err := rows.Scan(&a.ID, &a.MessageID, &typ, &a.Name, &a.TextRepresentation,
			&a.ImageRepresentation, &a.PreviewImage, &a.RawData, &a.StorageSuffix); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.Type = tideline.AttachmentType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DB returns the underlying connection pool so other components (such as
// memory/sqlite) can share the serialized connection.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
