// Package todo implements the turn-visible task list: a per-session
// store plus the TodoRead and TodoWrite tools over it.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
)

// Store holds a session's todos. onChange fires after every mutation
// with a snapshot, which the session uses to emit todos_updated and mark
// itself dirty.
type Store struct {
	mu       sync.Mutex
	items    []protocol.TodoItem
	onChange func([]protocol.TodoItem)
}

func NewStore(onChange func([]protocol.TodoItem)) *Store {
	return &Store{onChange: onChange}
}

// Items returns a snapshot.
func (s *Store) Items() []protocol.TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.TodoItem(nil), s.items...)
}

// Replace swaps the whole list, assigning ids to new entries.
func (s *Store) Replace(items []protocol.TodoItem) []protocol.TodoItem {
	s.mu.Lock()
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].Status == "" {
			items[i].Status = protocol.TodoPending
		}
	}
	s.items = items
	snapshot := append([]protocol.TodoItem(nil), s.items...)
	s.mu.Unlock()
	s.notify(snapshot)
	return snapshot
}

// Add appends one pending item.
func (s *Store) Add(content string) []protocol.TodoItem {
	s.mu.Lock()
	s.items = append(s.items, protocol.TodoItem{
		ID:      uuid.NewString(),
		Content: content,
		Status:  protocol.TodoPending,
	})
	snapshot := append([]protocol.TodoItem(nil), s.items...)
	s.mu.Unlock()
	s.notify(snapshot)
	return snapshot
}

// Remove deletes the item with the given id.
func (s *Store) Remove(id string) []protocol.TodoItem {
	s.mu.Lock()
	kept := s.items[:0]
	for _, item := range s.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	s.items = kept
	snapshot := append([]protocol.TodoItem(nil), s.items...)
	s.mu.Unlock()
	s.notify(snapshot)
	return snapshot
}

// Load replaces the list without firing onChange, for session restore.
func (s *Store) Load(items []protocol.TodoItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]protocol.TodoItem(nil), items...)
}

func (s *Store) notify(items []protocol.TodoItem) {
	if s.onChange != nil {
		s.onChange(items)
	}
}

func render(items []protocol.TodoItem) string {
	if len(items) == 0 {
		return "(no todos)"
	}
	var sb strings.Builder
	for i, item := range items {
		mark := " "
		switch item.Status {
		case protocol.TodoInProgress:
			mark = "~"
		case protocol.TodoCompleted:
			mark = "x"
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, mark, item.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

type readParams struct{}

// ReadTool returns the current todo list.
type ReadTool struct {
	store *Store
}

func NewReadTool(store *Store) *ReadTool { return &ReadTool{store: store} }

func (t *ReadTool) Name() string { return "TodoRead" }

func (t *ReadTool) Description() string {
	return "Read the current todo list for this session."
}

func (t *ReadTool) Schema() json.RawMessage { return agent.SchemaFor[readParams]() }

func (t *ReadTool) Mutating() bool { return false }

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: render(t.store.Items())}, nil
}

type writeParams struct {
	Todos []todoInput `json:"todos" jsonschema:"description=The full todo list; replaces the previous list"`
}

type todoInput struct {
	ID      string `json:"id,omitempty" jsonschema:"description=Existing item id to preserve; omit for new items"`
	Content string `json:"content" jsonschema:"description=The task text"`
	Status  string `json:"status" jsonschema:"description=pending | in_progress | completed"`
}

// WriteTool replaces the todo list wholesale, the way the model tracks
// multi-step work.
type WriteTool struct {
	store *Store
}

func NewWriteTool(store *Store) *WriteTool { return &WriteTool{store: store} }

func (t *WriteTool) Name() string { return "TodoWrite" }

func (t *WriteTool) Description() string {
	return "Replace the todo list. Send the complete list; items not included are removed."
}

func (t *WriteTool) Schema() json.RawMessage { return agent.SchemaFor[writeParams]() }

func (t *WriteTool) Mutating() bool { return true }

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input writeParams
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	items := make([]protocol.TodoItem, 0, len(input.Todos))
	for _, in := range input.Todos {
		status := in.Status
		switch status {
		case protocol.TodoPending, protocol.TodoInProgress, protocol.TodoCompleted:
		case "":
			status = protocol.TodoPending
		default:
			return &agent.ToolResult{Content: fmt.Sprintf("invalid status %q", in.Status), IsError: true}, nil
		}
		items = append(items, protocol.TodoItem{ID: in.ID, Content: in.Content, Status: status})
	}
	updated := t.store.Replace(items)
	return &agent.ToolResult{Content: render(updated)}, nil
}
