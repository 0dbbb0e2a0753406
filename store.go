package tideline

import "context"

// Store persists conversations, their messages and attachments.
// Implementations: store/sqlite, store/postgres.
type Store interface {
	// --- Conversations ---
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	UpdateConversation(ctx context.Context, conv Conversation) error

	// --- Messages ---
	// ListMessages returns a conversation's messages in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// PutMessage inserts msg or replaces the row with the same ID.
	PutMessage(ctx context.Context, msg Message) error
	DeleteMessage(ctx context.Context, id string) error

	// --- Attachments ---
	// PutAttachments replaces the attachments of a message.
	PutAttachments(ctx context.Context, messageID string, atts []Attachment) error
	ListAttachments(ctx context.Context, messageID string) ([]Attachment, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// NewConversation creates and persists a conversation that renames itself
// after its first turn.
func NewConversation(ctx context.Context, s Store, title string) (Conversation, error) {
	conv := Conversation{
		ID:               NewID(),
		Title:            title,
		ShouldAutoRename: true,
		CreatedAt:        NowMilli(),
	}
	if err := s.CreateConversation(ctx, conv); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}
