// Package protocol defines the wire protocol between the backend and the
// IDE client: the outbound event envelope and the inbound client messages.
package protocol

import "encoding/json"

// Event types emitted to the client. Every outbound frame carries exactly
// one of these in its "type" field.
const (
	// Lifecycle
	EventInit             = "init"
	EventDone             = "done"
	EventCancelled        = "cancelled"
	EventError            = "error"
	EventResetDone        = "reset_done"
	EventResumed          = "resumed"
	EventStatus           = "status"
	EventStreamRetry      = "stream_retry"
	EventStreamRecovering = "stream_recovering"
	EventStreamFailed     = "stream_failed"

	// Reasoning and text
	EventThinkingStart = "thinking_start"
	EventThinking      = "thinking"
	EventThinkingEnd   = "thinking_end"
	EventTextStart     = "text_start"
	EventText          = "text"
	EventTextEnd       = "text_end"

	// Tools
	EventToolCall              = "tool_call"
	EventToolResult            = "tool_result"
	EventCommandStart          = "command_start"
	EventCommandOutput         = "command_output"
	EventCommandPartialFailure = "command_partial_failure"
	EventAutoApproved          = "auto_approved"

	// Phases
	EventPhaseStart    = "phase_start"
	EventPhaseEnd      = "phase_end"
	EventScoutStart    = "scout_start"
	EventScoutProgress = "scout_progress"
	EventScoutEnd      = "scout_end"

	// Plan / build
	EventPlan             = "plan"
	EventUpdatedPlan      = "updated_plan"
	EventPlanStepProgress = "plan_step_progress"
	EventPlanRejected     = "plan_rejected"
	EventNoPlan           = "no_plan"

	// Review
	EventDiff            = "diff"
	EventNoChanges       = "no_changes"
	EventKept            = "kept"
	EventReverted        = "reverted"
	EventRevertedToStep  = "reverted_to_step"
	EventClearKeepRevert = "clear_keep_revert"

	// Checkpoints
	EventCheckpointList     = "checkpoint_list"
	EventCheckpointCreated  = "checkpoint_created"
	EventCheckpointRestored = "checkpoint_restored"
	EventCheckpointError    = "checkpoint_error"

	// Interactive
	EventUserQuestion      = "user_question"
	EventTodosUpdated      = "todos_updated"
	EventSessionNameUpdate = "session_name_update"
	EventFileChanged       = "file_changed"

	// Replay
	EventReplayUser       = "replay_user"
	EventReplayText       = "replay_text"
	EventReplayThinking   = "replay_thinking"
	EventReplayToolCall   = "replay_tool_call"
	EventReplayToolResult = "replay_tool_result"
	EventReplayState      = "replay_state"
	EventReplayDone       = "replay_done"
)

// Event is the outbound envelope. Type is always set; the remaining
// fields are populated per event kind and omitted otherwise.
type Event struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	// Plan / build
	Steps    []string `json:"steps,omitempty"`
	PlanText string   `json:"plan_text,omitempty"`
	PlanFile string   `json:"plan_file,omitempty"`
	Step     int      `json:"step,omitempty"`
	Total    int      `json:"total,omitempty"`

	// Review
	Files        []FileDiff `json:"files,omitempty"`
	Paths        []string   `json:"paths,omitempty"`
	Cumulative   bool       `json:"cumulative,omitempty"`
	NoCheckpoint bool       `json:"no_checkpoint,omitempty"`

	// Interactive
	Question    string     `json:"question,omitempty"`
	Context     string     `json:"context,omitempty"`
	Options     []string   `json:"options,omitempty"`
	ToolUseID   string     `json:"tool_use_id,omitempty"`
	Todos       []TodoItem `json:"todos,omitempty"`
	SessionName string     `json:"session_name,omitempty"`
	Path        string     `json:"path,omitempty"`

	// Lifecycle
	AgentRunning *bool  `json:"agent_running,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Elapsed      string `json:"elapsed,omitempty"`
}

// FileDiff describes one changed file in a diff or reverted event.
type FileDiff struct {
	Path      string `json:"path"`
	Label     string `json:"label,omitempty"` // "modified" | "new_file"
	Diff      string `json:"diff,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// File labels used in FileDiff and pending diffs.
const (
	LabelModified = "modified"
	LabelNewFile  = "new_file"
)

// TodoItem is a single entry in the session todo list.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending | in_progress | completed
}

// Todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// Usage carries token accounting for a turn or a whole session.
type Usage struct {
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	CacheReadTokens int     `json:"cache_read_tokens,omitempty"`
	ContextPercent  float64 `json:"context_percent,omitempty"`
}

// Marshal encodes the event as a single JSON frame.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Simple constructors for the common envelope shapes. Richer events are
// built literally at the emit site.

// NewEvent returns a bare event of the given type.
func NewEvent(typ string) *Event {
	return &Event{Type: typ}
}

// NewContentEvent returns an event carrying only content text.
func NewContentEvent(typ, content string) *Event {
	return &Event{Type: typ, Content: content}
}

// NewDataEvent returns an event carrying a data payload.
func NewDataEvent(typ string, data map[string]any) *Event {
	return &Event{Type: typ, Data: data}
}

// NewErrorEvent returns an error event with the given message.
func NewErrorEvent(message string) *Event {
	return &Event{Type: EventError, Content: message}
}
