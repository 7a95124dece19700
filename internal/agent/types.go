// Package agent defines the model conversation types, the tool contract,
// and the executor that runs tool calls on a turn's behalf.
package agent

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry sent to the model.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// BlockType discriminates the content block union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one content block inside a message.
type Block struct {
	Type BlockType `json:"type"`

	// Text for BlockText.
	Text string `json:"text,omitempty"`

	// MediaType and Data (base64) for BlockImage.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// ID, Name, Input for BlockToolUse.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content, IsError for BlockToolResult.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextMessage builds a single-block text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []Block{{Type: BlockText, Text: text}}}
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool call. Failures are carried as
// IsError results, not Go errors: the model sees them and can recover.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Usage is token accounting for one model response.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CacheReadTokens int `json:"cache_read_tokens"`
}

// Add accumulates another response's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// StopReason is why the model stopped emitting.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ChunkType discriminates the stream chunk union.
type ChunkType string

const (
	// ChunkText is an incremental text delta.
	ChunkText ChunkType = "text"

	// ChunkThinking is an incremental reasoning delta, when the model
	// emits visible thinking.
	ChunkThinking ChunkType = "thinking"

	// ChunkToolUse is a complete tool call, delivered once its input
	// JSON has fully streamed.
	ChunkToolUse ChunkType = "tool_use"

	// ChunkRetry reports a transparent stream retry in progress.
	ChunkRetry ChunkType = "retry"

	// ChunkDone closes the stream, carrying usage and the stop reason.
	ChunkDone ChunkType = "done"

	// ChunkError is a terminal failure after retries are exhausted.
	ChunkError ChunkType = "error"
)

// Chunk is one event on a model response stream.
type Chunk struct {
	Type       ChunkType
	Text       string
	ToolCall   *ToolCall
	Usage      Usage
	StopReason StopReason
	Attempt    int
	Err        error
}

// Request is one model invocation.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec is a tool advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Provider streams model responses. The returned channel is closed after
// a ChunkDone or ChunkError.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}
