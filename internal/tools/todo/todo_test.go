package todo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/forge/internal/protocol"
)

func TestStoreAddRemove(t *testing.T) {
	var notified [][]protocol.TodoItem
	store := NewStore(func(items []protocol.TodoItem) {
		notified = append(notified, items)
	})

	items := store.Add("first task")
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0].ID)
	assert.Equal(t, protocol.TodoPending, items[0].Status)

	store.Add("second task")
	items = store.Remove(items[0].ID)
	require.Len(t, items, 1)
	assert.Equal(t, "second task", items[0].Content)

	assert.Len(t, notified, 3, "every mutation notifies")
}

func TestStoreReplaceAssignsIDs(t *testing.T) {
	store := NewStore(nil)
	items := store.Replace([]protocol.TodoItem{
		{Content: "keep id", ID: "fixed"},
		{Content: "needs id"},
	})
	require.Len(t, items, 2)
	assert.Equal(t, "fixed", items[0].ID)
	assert.NotEmpty(t, items[1].ID)
	assert.Equal(t, protocol.TodoPending, items[1].Status)
}

func TestStoreLoadIsSilent(t *testing.T) {
	fired := 0
	store := NewStore(func([]protocol.TodoItem) { fired++ })

	store.Load([]protocol.TodoItem{{ID: "a", Content: "restored", Status: protocol.TodoCompleted}})
	assert.Zero(t, fired, "restore must not emit")
	require.Len(t, store.Items(), 1)
}

func TestReadToolRendersList(t *testing.T) {
	store := NewStore(nil)
	store.Replace([]protocol.TodoItem{
		{Content: "waiting", Status: protocol.TodoPending},
		{Content: "working", Status: protocol.TodoInProgress},
		{Content: "finished", Status: protocol.TodoCompleted},
	})

	res, err := NewReadTool(store).Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "1. [ ] waiting\n2. [~] working\n3. [x] finished", res.Content)
}

func TestReadToolEmptyList(t *testing.T) {
	res, err := NewReadTool(NewStore(nil)).Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "(no todos)", res.Content)
}

func TestWriteToolReplacesList(t *testing.T) {
	store := NewStore(nil)
	store.Add("stale entry")

	res, err := NewWriteTool(store).Execute(context.Background(), json.RawMessage(`{
		"todos": [
			{"content": "new entry", "status": "in_progress"},
			{"content": "defaulted"}
		]
	}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	items := store.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "new entry", items[0].Content)
	assert.Equal(t, protocol.TodoInProgress, items[0].Status)
	assert.Equal(t, protocol.TodoPending, items[1].Status, "missing status defaults to pending")
}

func TestWriteToolRejectsBadStatus(t *testing.T) {
	store := NewStore(nil)
	res, err := NewWriteTool(store).Execute(context.Background(),
		json.RawMessage(`{"todos":[{"content":"x","status":"paused"}]}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, `invalid status "paused"`)
	assert.Empty(t, store.Items(), "the list is untouched on rejection")
}
