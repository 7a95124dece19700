package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/turn"
	"github.com/haasonsaas/forge/internal/workspace/checkpoint"
)

// snapshotVersion guards against reading files written by an
// incompatible layout.
const snapshotVersion = 1

// snapshot is the on-disk session file. One file per session under
// <state-dir>/sessions/<id>.json, written atomically via rename.
type snapshot struct {
	Version          int                  `json:"version"`
	ID               string               `json:"id"`
	Name             string               `json:"name,omitempty"`
	WorkingDirectory string               `json:"working_directory"`
	IsSSH            bool                 `json:"is_ssh,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	History          []agent.Message      `json:"history,omitempty"`
	Todos            []protocol.TodoItem  `json:"todos,omitempty"`
	PendingPlan      *turn.Plan           `json:"pending_plan,omitempty"`
	PendingDiffs     []protocol.FileDiff  `json:"pending_diffs,omitempty"`
	TokenStats       protocol.Usage       `json:"token_stats"`
	Checkpoints      *checkpoint.Snapshot `json:"checkpoints,omitempty"`
}

// snapshot assembles the serializable state under the session lock.
func (s *Session) snapshot() *snapshot {
	s.mu.Lock()
	snap := &snapshot{
		Version:          snapshotVersion,
		ID:               s.ID,
		Name:             s.name,
		WorkingDirectory: s.WorkingDirectory,
		IsSSH:            s.IsSSH,
		CreatedAt:        s.createdAt,
		UpdatedAt:        s.updatedAt,
		History:          append([]agent.Message(nil), s.history...),
		PendingPlan:      s.pendingPlan,
		PendingDiffs:     append([]protocol.FileDiff(nil), s.pendingDiffs...),
		TokenStats:       s.tokenStats,
	}
	s.mu.Unlock()
	snap.Todos = s.todos.Items()
	snap.Checkpoints = s.ws.Checkpoints.Snapshot()
	return snap
}

// save writes the session file atomically.
func (s *Session) save(dir string) error {
	snap := s.snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(dir, s.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit session %s: %w", s.ID, err)
	}
	return nil
}

// restore rehydrates in-memory state from a snapshot. Called once at
// load, before the session is reachable, so no locking discipline with
// running turns is needed.
func (s *Session) restore(snap *snapshot) {
	s.mu.Lock()
	s.name = snap.Name
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	s.history = snap.History
	s.pendingPlan = snap.PendingPlan
	s.pendingDiffs = snap.PendingDiffs
	s.tokenStats = snap.TokenStats
	s.mu.Unlock()
	s.todos.Load(snap.Todos)
	s.ws.Checkpoints.Load(snap.Checkpoints)
}

// readSnapshot loads and validates one session file.
func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported session version %d in %s", snap.Version, filepath.Base(path))
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("session file %s has no id", filepath.Base(path))
	}
	return &snap, nil
}
