package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/tideline"
)

// testStore connects to TIDELINE_TEST_POSTGRES_DSN or skips.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TIDELINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TIDELINE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	s := New(pool)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv, err := tideline.NewConversation(ctx, s, "New Conversation")
	if err != nil {
		t.Fatal(err)
	}
	conv.Title = "Renamed"
	conv.ShouldAutoRename = false
	if err := s.UpdateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil || got != conv {
		t.Errorf("GetConversation = %+v, %v", got, err)
	}
	if _, err := s.GetConversation(ctx, tideline.NewID()); !errors.Is(err, tideline.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMessagesAndAttachments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := tideline.NewConversation(ctx, s, "t")

	ids := []string{tideline.NewID(), tideline.NewID(), tideline.NewID()}
	for i, id := range ids {
		m := tideline.Message{ID: id, ConversationID: conv.ID, Role: tideline.RoleUser, Document: "m", CreatedAt: 42}
		if i == 1 {
			m.Role = tideline.RoleWebSearch
			m.WebSearchStatus = tideline.WebSearchStatus{Queries: []string{"q"}, ProcessProgress: -1}
		}
		if err := s.PutMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.ListMessages(ctx, conv.ID)
	if err != nil || len(got) != 3 {
		t.Fatalf("ListMessages = %d, %v", len(got), err)
	}
	for i := range ids {
		if got[i].ID != ids[i] {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, ids[i])
		}
	}
	if got[1].WebSearchStatus.ProcessProgress != -1 {
		t.Errorf("status = %+v", got[1].WebSearchStatus)
	}

	atts := []tideline.Attachment{{Type: tideline.AttachmentText, Name: "a.txt", TextRepresentation: "hello"}}
	if err := s.PutAttachments(ctx, ids[0], atts); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteMessage(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ListAttachments(ctx, ids[0]); len(got) != 0 {
		t.Errorf("attachments survived message deletion: %+v", got)
	}
}
