package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nevindra/tideline"
	"github.com/nevindra/tideline/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	s, err := New(filepath.Join(t.TempDir(), "memory.db"), WithClock(c.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, c
}

func TestAddListUpdateDelete(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	first, err := s.Add(ctx, "  Lives in   Osaka ", "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Content != "Lives in Osaka" {
		t.Errorf("content = %q", first.Content)
	}
	c.t = c.t.Add(time.Minute)
	second, _ := s.Add(ctx, "Prefers metric units", "")

	list, err := s.List(ctx, 0)
	if err != nil || len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("List = %+v, %v", list, err)
	}

	if err := s.Update(ctx, first.ID, "Lives in Kyoto"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, second.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = s.List(ctx, 0)
	if len(list) != 1 || list[0].Content != "Lives in Kyoto" {
		t.Errorf("after update/delete = %+v", list)
	}

	if err := s.Delete(ctx, second.ID); !errors.Is(err, tideline.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	if err := s.Update(ctx, "missing", "x y"); !errors.Is(err, tideline.ErrNotFound) {
		t.Errorf("update err = %v, want ErrNotFound", err)
	}
	if _, err := s.Add(ctx, "ok", ""); !errors.Is(err, memory.ErrTrivial) {
		t.Errorf("trivial add err = %v", err)
	}
}

func TestSearch(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	for _, f := range []string{"Lives in Osaka", "Works as a nurse in Osaka", "Has a cat named 100%"} {
		s.Add(ctx, f, "")
		c.t = c.t.Add(time.Second)
	}

	got, err := s.Search(ctx, "nurse osaka", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !strings.Contains(got[0].Content, "nurse") {
		t.Errorf("Search = %+v", got)
	}
	if got, _ := s.Search(ctx, "100%", 0); len(got) != 1 {
		t.Errorf("escaped search = %+v", got)
	}
	if got, _ := s.Search(ctx, "a", 0); got != nil {
		t.Errorf("empty terms should match nothing, got %+v", got)
	}
}

func TestSelectScopes(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()
	start := c.t
	s.Add(ctx, "old fact about gardening", "")
	c.t = start.Add(48 * time.Hour)
	s.Add(ctx, "recent fact about cycling", "")
	c.t = start.Add(49 * time.Hour)
	s.Add(ctx, "newest fact about baking", "")

	tests := []struct {
		name  string
		scope tideline.MemoryScope
		want  int
	}{
		{"off", tideline.MemoryScope{Filter: tideline.MemoryOff}, 0},
		{"interval", tideline.MemoryScope{Filter: tideline.MemoryInterval, Interval: 24 * time.Hour}, 2},
		{"count", tideline.MemoryScope{Filter: tideline.MemoryCount, Count: 1}, 1},
		{"count zero", tideline.MemoryScope{Filter: tideline.MemoryCount}, 0},
		{"all", tideline.MemoryScope{Filter: tideline.MemoryAll}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Select(ctx, tt.scope)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("Select = %d entries, want %d", len(got), tt.want)
			}
			if len(got) > 0 && got[0].Content != "newest fact about baking" {
				t.Errorf("first = %q, want most recent", got[0].Content)
			}
		})
	}
}

func TestFormattedProactiveContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	out, err := s.FormattedProactiveContext(ctx, tideline.MemoryScope{Filter: tideline.MemoryAll})
	if err != nil || out != "" {
		t.Errorf("empty store = %q, %v", out, err)
	}

	s.Add(ctx, "Allergic to peanuts", "")
	out, _ = s.FormattedProactiveContext(ctx, tideline.MemoryScope{Filter: tideline.MemoryAll})
	if !strings.HasPrefix(out, "Proactive Memory Context\nScope: all memories") || !strings.Contains(out, "1. [") || !strings.Contains(out, "Allergic to peanuts") {
		t.Errorf("context = %q", out)
	}
}

func TestSharedDB(t *testing.T) {
	owner, _ := newTestStore(t)
	shared := NewWithDB(owner.db)
	if err := shared.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.List(context.Background(), 0); err != nil {
		t.Errorf("shared Close closed the owner's db: %v", err)
	}
}
