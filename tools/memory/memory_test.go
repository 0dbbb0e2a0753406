package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/nevindra/tideline"
)

type fakeStore struct {
	entries []tideline.MemoryEntry
	limits  []int
}

func (f *fakeStore) Add(_ context.Context, content, conv string) (tideline.MemoryEntry, error) {
	if strings.TrimSpace(content) == "" {
		return tideline.MemoryEntry{}, fmt.Errorf("memory content is empty")
	}
	e := tideline.MemoryEntry{ID: fmt.Sprintf("m%d", len(f.entries)+1), Content: content, ConversationID: conv}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeStore) Search(_ context.Context, query string, limit int) ([]tideline.MemoryEntry, error) {
	f.limits = append(f.limits, limit)
	var out []tideline.MemoryEntry
	for _, e := range f.entries {
		if strings.Contains(strings.ToLower(e.Content), strings.ToLower(query)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) List(_ context.Context, limit int) ([]tideline.MemoryEntry, error) {
	f.limits = append(f.limits, limit)
	return f.entries, nil
}

func (f *fakeStore) Update(_ context.Context, id, content string) error {
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].Content = content
			return nil
		}
	}
	return fmt.Errorf("update memory %s: %w", id, tideline.ErrNotFound)
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete memory %s: %w", id, tideline.ErrNotFound)
}

func run(t *testing.T, tool *Tool, name string, args any) tideline.ToolResult {
	t.Helper()
	raw, _ := json.Marshal(args)
	res, err := tool.Execute(context.Background(), name, raw)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func TestDefinitions(t *testing.T) {
	tool := New(&fakeStore{})
	var names []string
	for _, d := range tool.Definitions() {
		names = append(names, d.Name)
		if !json.Valid(d.Parameters) {
			t.Errorf("%s: invalid schema", d.Name)
		}
	}
	want := "store_memory,recall_memory,list_memories,update_memory,delete_memory"
	if strings.Join(names, ",") != want {
		t.Errorf("names = %v", names)
	}
	if tool.Capabilities()&tideline.CapMemory == 0 {
		t.Error("memory tools must carry CapMemory")
	}
}

func TestRegistryMemoryPrompt(t *testing.T) {
	reg := tideline.NewToolRegistry(New(&fakeStore{}))
	if !reg.HasCapability(tideline.CapMemory) {
		t.Error("registry should report memory capability")
	}
	if !strings.Contains(reg.MemoryPrompt(), "store_memory") {
		t.Errorf("MemoryPrompt = %q", reg.MemoryPrompt())
	}
}

func TestStoreRecallUpdateDelete(t *testing.T) {
	store := &fakeStore{}
	tool := New(store, WithConversationID("conv-9"))

	res := run(t, tool, "store_memory", map[string]string{"content": "Lives in Osaka"})
	if res.Error != "" || !strings.Contains(res.Content, "m1") {
		t.Fatalf("store = %+v", res)
	}
	if store.entries[0].ConversationID != "conv-9" {
		t.Errorf("conversation id = %q", store.entries[0].ConversationID)
	}

	res = run(t, tool, "recall_memory", map[string]any{"query": "osaka", "limit": 500})
	if !strings.Contains(res.Content, "Lives in Osaka") {
		t.Errorf("recall = %+v", res)
	}
	if store.limits[0] != maxRecallLimit {
		t.Errorf("limit = %d, want clamp to %d", store.limits[0], maxRecallLimit)
	}
	if res := run(t, tool, "recall_memory", map[string]string{"query": "tokyo"}); res.Content != "No matching memories." {
		t.Errorf("no match = %+v", res)
	}

	if res := run(t, tool, "update_memory", map[string]string{"id": "m1", "content": "Lives in Kyoto"}); res.Error != "" {
		t.Errorf("update = %+v", res)
	}
	if res := run(t, tool, "update_memory", map[string]string{"id": "m7", "content": "x"}); res.Error != "no memory with id m7" {
		t.Errorf("update missing = %+v", res)
	}

	res = run(t, tool, "list_memories", map[string]any{})
	if !strings.Contains(res.Content, "[m1]") || !strings.Contains(res.Content, "Kyoto") {
		t.Errorf("list = %+v", res)
	}
	if store.limits[len(store.limits)-1] != defaultRecallLimit {
		t.Errorf("default limit = %d", store.limits[len(store.limits)-1])
	}

	if res := run(t, tool, "delete_memory", map[string]string{"id": "m1"}); res.Content != "Memory deleted." {
		t.Errorf("delete = %+v", res)
	}
	if res := run(t, tool, "list_memories", nil); res.Content != "No memories stored." {
		t.Errorf("empty list = %+v", res)
	}
}

func TestExecuteErrors(t *testing.T) {
	tool := New(&fakeStore{})
	if res := run(t, tool, "store_memory", map[string]string{"content": " "}); res.Error == "" {
		t.Error("empty content should fail")
	}
	if res := run(t, tool, "delete_memory", map[string]string{}); res.Error != "id is required" {
		t.Errorf("missing id = %+v", res)
	}
	if res := run(t, tool, "forget_all", nil); !strings.HasPrefix(res.Error, "unknown memory tool") {
		t.Errorf("unknown = %+v", res)
	}
	res, _ := tool.Execute(context.Background(), "store_memory", json.RawMessage(`{`))
	if !strings.HasPrefix(res.Error, "invalid args") {
		t.Errorf("bad json = %+v", res)
	}
}
