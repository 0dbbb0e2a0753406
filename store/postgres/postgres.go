// Package postgres implements tideline.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/tideline"
)

// Store implements tideline.Store backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithLogger sets a structured logger for store operations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

var _ tideline.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			icon TEXT NOT NULL DEFAULT '',
			model_chat TEXT NOT NULL DEFAULT '',
			model_auxiliary TEXT NOT NULL DEFAULT '',
			model_visual_auxiliary TEXT NOT NULL DEFAULT '',
			should_auto_rename BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			document TEXT NOT NULL,
			reasoning_content TEXT NOT NULL DEFAULT '',
			thinking_duration_ms BIGINT NOT NULL DEFAULT 0,
			is_thinking_fold BOOLEAN NOT NULL DEFAULT FALSE,
			web_search_status JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, created_at, seq)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			text_representation TEXT NOT NULL DEFAULT '',
			image_representation BYTEA,
			preview_image BYTEA,
			raw_data BYTEA,
			storage_suffix TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS attachments_message_idx ON attachments(message_id, position)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, conv tideline.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, title, icon, model_chat, model_auxiliary, model_visual_auxiliary, should_auto_rename, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		conv.ID, conv.Title, conv.Icon, conv.ModelChat, conv.ModelAuxiliary, conv.ModelVisualAuxiliary,
		conv.ShouldAutoRename, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (tideline.Conversation, error) {
	var c tideline.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, icon, model_chat, model_auxiliary, model_visual_auxiliary, should_auto_rename, created_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Title, &c.Icon, &c.ModelChat, &c.ModelAuxiliary, &c.ModelVisualAuxiliary, &c.ShouldAutoRename, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tideline.Conversation{}, fmt.Errorf("postgres: get conversation %s: %w", id, tideline.ErrNotFound)
	}
	if err != nil {
		return tideline.Conversation{}, fmt.Errorf("postgres: get conversation: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateConversation(ctx context.Context, conv tideline.Conversation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $1, icon = $2, model_chat = $3, model_auxiliary = $4,
		 model_visual_auxiliary = $5, should_auto_rename = $6 WHERE id = $7`,
		conv.Title, conv.Icon, conv.ModelChat, conv.ModelAuxiliary, conv.ModelVisualAuxiliary,
		conv.ShouldAutoRename, conv.ID)
	if err != nil {
		return fmt.Errorf("postgres: update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update conversation %s: %w", conv.ID, tideline.ErrNotFound)
	}
	return nil
}

// --- Messages ---

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]tideline.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, document, reasoning_content, thinking_duration_ms,
		        is_thinking_fold, web_search_status, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at, seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var out []tideline.Message
	for rows.Next() {
		var (
			m        tideline.Message
			role     string
			thinking int64
			status   []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Document, &m.ReasoningContent,
			&thinking, &m.IsThinkingFold, &status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Role = tideline.Role(role)
		m.ThinkingDuration = time.Duration(thinking) * time.Millisecond
		if len(status) > 0 {
			if err := json.Unmarshal(status, &m.WebSearchStatus); err != nil {
				s.logger.Warn("postgres: undecodable web search status", "message_id", m.ID, "error", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) PutMessage(ctx context.Context, msg tideline.Message) error {
	var status []byte
	if msg.Role == tideline.RoleWebSearch {
		data, err := json.Marshal(msg.WebSearchStatus)
		if err != nil {
			return fmt.Errorf("postgres: encode web search status: %w", err)
		}
		status = data
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, document, reasoning_content, thinking_duration_ms,
		                       is_thinking_fold, web_search_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   role = EXCLUDED.role,
		   document = EXCLUDED.document,
		   reasoning_content = EXCLUDED.reasoning_content,
		   thinking_duration_ms = EXCLUDED.thinking_duration_ms,
		   is_thinking_fold = EXCLUDED.is_thinking_fold,
		   web_search_status = EXCLUDED.web_search_status`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Document, msg.ReasoningContent,
		msg.ThinkingDuration.Milliseconds(), msg.IsThinkingFold, status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put message: %w", err)
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete message: %w", err)
	}
	return nil
}

// --- Attachments ---

// PutAttachments replaces the attachments of a message in one transaction.
func (s *Store) PutAttachments(ctx context.Context, messageID string, atts []tideline.Attachment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("postgres: clear attachments: %w", err)
	}
	batch := &pgx.Batch{}
	for i, a := range atts {
		id := a.ID
		if id == "" {
			id = tideline.NewID()
		}
		batch.Queue(
			`INSERT INTO attachments (id, message_id, position, type, name, text_representation,
			                          image_representation, preview_image, raw_data, storage_suffix)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, messageID, i, string(a.Type), a.Name, a.TextRepresentation,
			a.ImageRepresentation, a.PreviewImage, a.RawData, a.StorageSuffix)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert attachments: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]tideline.Attachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, type, name, text_representation, image_representation,
		        preview_image, raw_data, storage_suffix
		 FROM attachments WHERE message_id = $1 ORDER BY position`, messageID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attachments: %w", err)
	}
	defer rows.Close()

	var out []tideline.Attachment
	for rows.Next() {
		var a tideline.Attachment
		var typ string
		if err := rows.Scan(&a.ID, &a.MessageID, &typ, &a.Name, &a.TextRepresentation,
			&a.ImageRepresentation, &a.PreviewImage, &a.RawData, &a.StorageSuffix); err != nil {
			return nil, fmt.Errorf("postgres: scan attachment: %w", err)
		}
		a.Type = tideline.AttachmentType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close is a no-op. The caller owns the pool.
func (s *Store) Close() error { return nil }
