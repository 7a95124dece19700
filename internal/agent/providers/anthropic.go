// Package providers implements model backends for the agent loop.
//
// The Anthropic provider streams Server-Sent Events from the Messages
// API, assembles tool calls from input JSON deltas, and retries
// transient failures with exponential backoff. A retry surfaces as a
// ChunkRetry so the turn can discard the partial response and tell the
// client a retry is in progress.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/observability"
)

// Anthropic streams completions from the Anthropic Messages API.
// Safe for concurrent use; each Stream call runs independently.
type Anthropic struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
	idleTimeout time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewAnthropic builds the provider from model configuration.
func NewAnthropic(cfg config.ModelConfig, apiKey string, metrics *observability.Metrics, logger *slog.Logger) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	return &Anthropic{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  time.Second,
		idleTimeout: idleTimeout,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

// Stream starts one model invocation. The channel closes after a
// ChunkDone or ChunkError.
func (p *Anthropic) Stream(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	chunks := make(chan agent.Chunk)
	go func() {
		defer close(chunks)
		p.run(ctx, params, chunks)
	}()
	return chunks, nil
}

func (p *Anthropic) run(ctx context.Context, params anthropic.MessageNewParams, chunks chan<- agent.Chunk) {
	for attempt := 0; ; attempt++ {
		err := p.attempt(ctx, params, chunks)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			send(ctx, chunks, agent.Chunk{Type: agent.ChunkError, Err: ctx.Err()})
			return
		}
		if !retryable(err) || attempt >= p.maxRetries {
			send(ctx, chunks, agent.Chunk{Type: agent.ChunkError, Err: err})
			return
		}
		if p.metrics != nil {
			p.metrics.StreamRetries.WithLabelValues(p.model).Inc()
		}
		p.logger.Warn("model stream failed, retrying",
			"attempt", attempt+1, "max_retries", p.maxRetries, "error", err)
		if !send(ctx, chunks, agent.Chunk{Type: agent.ChunkRetry, Attempt: attempt + 1, Err: err}) {
			return
		}
		backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			send(ctx, chunks, agent.Chunk{Type: agent.ChunkError, Err: ctx.Err()})
			return
		case <-time.After(backoff):
		}
	}
}

// attempt runs one streaming request to completion. A nil return means
// the stream finished and ChunkDone was sent.
func (p *Anthropic) attempt(ctx context.Context, params anthropic.MessageNewParams, chunks chan<- agent.Chunk) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Idle watchdog: a stream that stops producing events is treated as
	// failed and retried.
	idle := time.AfterFunc(p.idleTimeout, cancel)
	defer idle.Stop()

	stream := p.client.Messages.NewStreaming(attemptCtx, params)

	var usage agent.Usage
	stopReason := agent.StopEndTurn
	var toolCall *agent.ToolCall
	var toolInput strings.Builder

	for stream.Next() {
		idle.Reset(p.idleTimeout)
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)
			usage.CacheReadTokens = int(start.Message.Usage.CacheReadInputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolCall = &agent.ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, chunks, agent.Chunk{Type: agent.ChunkText, Text: delta.Text}) {
						return nil
					}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !send(ctx, chunks, agent.Chunk{Type: agent.ChunkThinking, Text: delta.Thinking}) {
						return nil
					}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if toolCall != nil {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				toolCall.Input = json.RawMessage(input)
				if !send(ctx, chunks, agent.Chunk{Type: agent.ChunkToolUse, ToolCall: toolCall}) {
					return nil
				}
				toolCall = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}
			switch delta.Delta.StopReason {
			case "tool_use":
				stopReason = agent.StopToolUse
			case "max_tokens":
				stopReason = agent.StopMaxTokens
			}

		case "message_stop":
			if p.metrics != nil {
				p.metrics.ModelTokens.WithLabelValues(p.model, "input").Add(float64(usage.InputTokens))
				p.metrics.ModelTokens.WithLabelValues(p.model, "output").Add(float64(usage.OutputTokens))
				p.metrics.ModelTokens.WithLabelValues(p.model, "cache_read").Add(float64(usage.CacheReadTokens))
			}
			send(ctx, chunks, agent.Chunk{Type: agent.ChunkDone, Usage: usage, StopReason: stopReason})
			return nil
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() == nil && attemptCtx.Err() != nil {
			return fmt.Errorf("stream idle for %s: %w", p.idleTimeout, err)
		}
		return err
	}
	return fmt.Errorf("stream ended without message_stop")
}

func (p *Anthropic) buildParams(req agent.Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	for _, msg := range req.Messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case agent.BlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case agent.BlockImage:
				content = append(content, anthropic.NewImageBlockBase64(block.MediaType, block.Data))
			case agent.BlockToolUse:
				var input map[string]any
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return params, fmt.Errorf("invalid tool call input: %w", err)
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			case agent.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == agent.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		}
	}

	for _, spec := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return params, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return params, fmt.Errorf("invalid tool definition for %s", spec.Name)
		}
		toolParam.OfTool.Description = anthropic.String(spec.Description)
		params.Tools = append(params.Tools, toolParam)
	}
	return params, nil
}

func send(ctx context.Context, chunks chan<- agent.Chunk, c agent.Chunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryable classifies transient failures: rate limits, server errors,
// overload, timeouts, and connection drops.
func retryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		case apiErr.StatusCode == 408:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "stream idle") ||
		strings.Contains(msg, "overloaded")
}
