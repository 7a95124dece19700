package session

import (
	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/turn"
)

// replaySnapshot is the session state one reconnect needs.
type replaySnapshot struct {
	name    string
	history []agent.Message
	plan    *turn.Plan
	diffs   []protocol.FileDiff
	usage   protocol.Usage
	running bool
}

// snapshotLocked copies replay state. Callers hold s.mu.
func (s *Session) snapshotLocked() replaySnapshot {
	return replaySnapshot{
		name:    s.name,
		history: append([]agent.Message(nil), s.history...),
		plan:    s.pendingPlan,
		diffs:   append([]protocol.FileDiff(nil), s.pendingDiffs...),
		usage:   s.tokenStats,
		running: s.agentRunning,
	}
}

// SubscribeReplay registers a subscriber and replays the session into
// it. Registration and the snapshot happen under the same lock that
// admits broadcasts, and the subscriber stays gated until the resumed
// frame is enqueued, so live events from a running turn always arrive
// after the replay sequence.
func (s *Session) SubscribeReplay() *Subscriber {
	sub := NewSubscriber()
	sub.gated = true

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.replayInto(sub, snap)
	sub.release()
	return sub
}

// Replay sends the session snapshot into a detached subscriber, one
// that is not registered for broadcasts.
func (s *Session) Replay(sub *Subscriber) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.replayInto(sub, snap)
}

// replayInto emits the reconnect sequence: an init frame, the history
// as replay events, the suspended state when a plan or diff decision is
// pending, and a resumed frame reporting whether a turn is running.
func (s *Session) replayInto(sub *Subscriber, snap replaySnapshot) {
	sub.sendNow(protocol.Event{
		Type:        protocol.EventInit,
		SessionName: snap.name,
		Data: map[string]any{
			"session_id":        s.ID,
			"working_directory": s.WorkingDirectory,
			"is_ssh":            s.IsSSH,
		},
	})

	for _, msg := range snap.history {
		for _, block := range msg.Content {
			switch block.Type {
			case agent.BlockText:
				typ := protocol.EventReplayText
				if msg.Role == agent.RoleUser {
					typ = protocol.EventReplayUser
				}
				sub.sendNow(protocol.Event{Type: typ, Content: block.Text})
			case agent.BlockThinking:
				sub.sendNow(protocol.Event{Type: protocol.EventReplayThinking, Content: block.Text})
			case agent.BlockToolUse:
				sub.sendNow(protocol.Event{
					Type:    protocol.EventReplayToolCall,
					Content: block.Name,
					Data: map[string]any{
						"id":    block.ID,
						"name":  block.Name,
						"input": string(block.Input),
					},
				})
			case agent.BlockToolResult:
				sub.sendNow(protocol.Event{
					Type:    protocol.EventReplayToolResult,
					Content: block.Content,
					Data: map[string]any{
						"tool_use_id": block.ToolUseID,
						"success":     !block.IsError,
					},
				})
			}
		}
	}

	if snap.plan != nil || len(snap.diffs) > 0 {
		state := protocol.Event{
			Type:  protocol.EventReplayState,
			Files: snap.diffs,
			Todos: s.todos.Items(),
			Usage: &snap.usage,
			Data: map[string]any{
				"awaiting_build":       snap.plan != nil,
				"awaiting_keep_revert": len(snap.diffs) > 0,
			},
		}
		if snap.plan != nil {
			state.Steps = snap.plan.Steps
			state.PlanText = snap.plan.PlanText
			state.PlanFile = snap.plan.PlanFile
		}
		sub.sendNow(state)
	}

	sub.sendNow(protocol.Event{Type: protocol.EventReplayDone})
	sub.sendNow(protocol.Event{Type: protocol.EventResumed, AgentRunning: &snap.running})
}
