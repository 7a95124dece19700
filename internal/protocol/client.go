package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client message types accepted on the event WebSocket.
const (
	ClientTask              = "task"
	ClientCancel            = "cancel"
	ClientBuild             = "build"
	ClientReplan            = "replan"
	ClientRejectPlan        = "reject_plan"
	ClientKeep              = "keep"
	ClientRevert            = "revert"
	ClientRevertToStep      = "revert_to_step"
	ClientUserAnswer        = "user_answer"
	ClientReset             = "reset"
	ClientCheckpointList    = "checkpoint_list"
	ClientCheckpointRestore = "checkpoint_restore"
	ClientAddTodo           = "add_todo"
	ClientRemoveTodo        = "remove_todo"
)

// ClientMessage is one inbound JSON frame from the IDE.
type ClientMessage struct {
	Type         string   `json:"type"`
	Content      string   `json:"content,omitempty"`
	Images       []Image  `json:"images,omitempty"`
	Context      string   `json:"context,omitempty"`
	Steps        []string `json:"steps,omitempty"`
	Step         int      `json:"step,omitempty"`
	ToolUseID    string   `json:"tool_use_id,omitempty"`
	Answer       string   `json:"answer,omitempty"`
	CheckpointID string   `json:"checkpoint_id,omitempty"`
	ID           string   `json:"id,omitempty"`
}

// Image is an inline attachment on a task message.
type Image struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return nil, fmt.Errorf("client message missing type")
	}
	switch msg.Type {
	case ClientTask:
		if strings.TrimSpace(msg.Content) == "" {
			return nil, fmt.Errorf("task requires content")
		}
	case ClientUserAnswer:
		if msg.ToolUseID == "" {
			return nil, fmt.Errorf("user_answer requires tool_use_id")
		}
	case ClientRevertToStep:
		if msg.Step <= 0 {
			return nil, fmt.Errorf("revert_to_step requires a positive step")
		}
	case ClientCheckpointRestore:
		if msg.CheckpointID == "" {
			return nil, fmt.Errorf("checkpoint_restore requires checkpoint_id")
		}
	case ClientAddTodo:
		if strings.TrimSpace(msg.Content) == "" {
			return nil, fmt.Errorf("add_todo requires content")
		}
	case ClientRemoveTodo:
		if msg.ID == "" {
			return nil, fmt.Errorf("remove_todo requires id")
		}
	case ClientCancel, ClientBuild, ClientReplan, ClientRejectPlan,
		ClientKeep, ClientRevert, ClientReset, ClientCheckpointList:
		// no required fields
	default:
		return nil, fmt.Errorf("unknown client message type %q", msg.Type)
	}
	return &msg, nil
}
