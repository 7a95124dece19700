package agent

import (
	"context"
	"errors"

	"github.com/haasonsaas/forge/internal/protocol"
)

type ctxKey int

const (
	emitterKey ctxKey = iota
	askerKey
	toolUseIDKey
)

// Emitter delivers an event onto the owning session's outbound stream.
// Tools use it for incremental output such as streaming shell output.
type Emitter func(protocol.Event)

// WithEmitter attaches the session's event emitter to the context.
func WithEmitter(ctx context.Context, emit Emitter) context.Context {
	return context.WithValue(ctx, emitterKey, emit)
}

// EmitterFromContext returns the attached emitter, or a no-op.
func EmitterFromContext(ctx context.Context) Emitter {
	if emit, ok := ctx.Value(emitterKey).(Emitter); ok && emit != nil {
		return emit
	}
	return func(protocol.Event) {}
}

// ErrNoAsker is returned when a tool needs user interaction but the
// context carries no way to reach the user.
var ErrNoAsker = errors.New("no user interaction channel available")

// Asker suspends the turn on a question and resumes with the user's
// answer. Cancelling ctx abandons the question.
type Asker interface {
	Ask(ctx context.Context, toolUseID, question, contextText string, options []string) (string, error)
}

// WithAsker attaches the session's question channel to the context.
func WithAsker(ctx context.Context, asker Asker) context.Context {
	return context.WithValue(ctx, askerKey, asker)
}

// AskerFromContext returns the attached asker, if any.
func AskerFromContext(ctx context.Context) (Asker, bool) {
	asker, ok := ctx.Value(askerKey).(Asker)
	return asker, ok && asker != nil
}

// WithToolUseID tags the context with the id of the tool call being
// dispatched. The executor sets it so tools that interact with the user
// can correlate answers.
func WithToolUseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolUseIDKey, id)
}

// ToolUseIDFromContext returns the tagged tool call id, or "".
func ToolUseIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(toolUseIDKey).(string)
	return id
}
