// Package turn drives one user message through the agent state machine:
// direct execution, or scout → plan → build with user approval, ending
// in a keep/revert review whenever files changed.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/workspace"
)

// Host is the session surface a turn mutates. All methods are called
// from the turn goroutine; the session serializes external access.
type Host interface {
	Emit(protocol.Event)
	AppendHistory(agent.Message)
	History() []agent.Message
	SetPendingPlan(*Plan)
	SetPendingDiffs([]protocol.FileDiff)
	AddUsage(usage agent.Usage, contextPercent float64)
	Name() string
	SetName(name string)

	// Flush persists the session durably. Called before every terminal
	// event.
	Flush()
}

// Engine owns the per-session machinery a turn needs.
type Engine struct {
	Provider agent.Provider
	Registry *agent.Registry
	Executor *agent.Executor
	WS       *workspace.Workspace
	Host     Host
	Workdir  string

	ContextWindow int
	MaxIterations int

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  *slog.Logger
}

// read-only tool names allowed while planning.
var planSafeTools = map[string]bool{
	"Read": true, "Glob": true, "search": true, "find_symbol": true,
	"list_directory": true, "TodoRead": true, "WebFetch": true,
	"scout": true,
}

var (
	// ErrNotAwaitingPlan / ErrNotAwaitingReview reject interaction
	// messages that arrive outside the matching suspension.
	ErrNotAwaitingPlan   = errors.New("no plan is awaiting a decision")
	ErrNotAwaitingReview = errors.New("no diff is awaiting keep/revert")
	ErrNoOpenQuestion    = errors.New("no question with that tool_use_id is open")

	errStreamFailed = errors.New("model stream failed")
	errMaxIterated  = errors.New("turn exceeded the tool iteration limit")
)

type planDecision struct {
	kind    string // build | replan | reject
	steps   []string
	content string
}

type reviewDecision struct {
	kind string // keep | revert | revert_to_step
	step int
}

// Turn is one in-flight run of the engine. Its exported methods are the
// interaction surface the session forwards client messages to.
type Turn struct {
	engine *Engine
	cancel context.CancelFunc

	planCh   chan planDecision
	reviewCh chan reviewDecision

	// building is set while the BUILD loop runs; revert_to_step requests
	// that arrive then queue on stepRevertCh for the next step boundary.
	building     atomic.Bool
	stepRevertCh chan int

	qmu       sync.Mutex
	questions map[string]chan string

	usage agent.Usage

	// checkpoint ids created by this turn, in order.
	checkpointIDs []string
}

// NewTurn prepares a turn; Run starts it.
func (e *Engine) NewTurn() *Turn {
	return &Turn{
		engine:       e,
		planCh:       make(chan planDecision),
		reviewCh:     make(chan reviewDecision),
		stepRevertCh: make(chan int, 1),
		questions:    make(map[string]chan string),
	}
}

// Input is the user message that opens a turn.
type Input struct {
	Content string
	Images  []protocol.Image
	Context string
}

// Run processes the turn to its terminal event. It blocks; the session
// runs it on a dedicated goroutine.
func (t *Turn) Run(ctx context.Context, input Input) {
	e := t.engine
	ctx, t.cancel = context.WithCancel(ctx)
	defer t.cancel()

	if e.Metrics != nil {
		e.Metrics.RunningTurns.Inc()
		defer e.Metrics.RunningTurns.Dec()
	}
	start := time.Now()

	mode, content := DetectMode(input.Content)
	ctx, span := e.Tracer.StartTurn(ctx, string(mode))
	e.Host.AppendHistory(userMessage(content, input.Images, input.Context))
	t.maybeNameSession(content)

	var err error
	switch mode {
	case ModePlan:
		err = t.runPlanned(ctx, content)
	default:
		err = t.runDirect(ctx)
	}

	status := "done"
	switch {
	case err == nil:
		e.Host.Flush()
		e.Host.Emit(protocol.Event{Type: protocol.EventDone, Usage: t.usageEvent()})
	case ctx.Err() != nil:
		status = "cancelled"
		e.Host.Flush()
		e.Host.Emit(protocol.Event{Type: protocol.EventCancelled})
	case errors.Is(err, errStreamFailed):
		status = "stream_failed"
		e.Host.Flush()
		e.Host.Emit(protocol.Event{Type: protocol.EventStreamFailed, Content: err.Error()})
	default:
		status = "error"
		e.Host.Flush()
		e.Host.Emit(protocol.Event{Type: protocol.EventError, Content: err.Error()})
	}
	observability.EndTurn(span, status, err)
	if e.Metrics != nil {
		e.Metrics.TurnDuration.WithLabelValues(string(mode), status).Observe(time.Since(start).Seconds())
	}
	e.Logger.Info("turn finished", "mode", mode, "status", status, "elapsed", time.Since(start))
}

// Cancel fires the turn's cancel token. Open questions and suspensions
// unwind; in-flight shell commands are signalled.
func (t *Turn) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Build resumes a suspended PLAN with the (possibly edited) steps.
func (t *Turn) Build(steps []string) error {
	select {
	case t.planCh <- planDecision{kind: "build", steps: steps}:
		return nil
	default:
		return ErrNotAwaitingPlan
	}
}

// Replan resumes a suspended PLAN with user feedback.
func (t *Turn) Replan(content string) error {
	select {
	case t.planCh <- planDecision{kind: "replan", content: content}:
		return nil
	default:
		return ErrNotAwaitingPlan
	}
}

// RejectPlan abandons a suspended PLAN and ends the turn.
func (t *Turn) RejectPlan() error {
	select {
	case t.planCh <- planDecision{kind: "reject"}:
		return nil
	default:
		return ErrNotAwaitingPlan
	}
}

// Keep resolves the review by keeping all changes.
func (t *Turn) Keep() error {
	select {
	case t.reviewCh <- reviewDecision{kind: "keep"}:
		return nil
	default:
		return ErrNotAwaitingReview
	}
}

// Revert resolves the review by restoring every baseline.
func (t *Turn) Revert() error {
	select {
	case t.reviewCh <- reviewDecision{kind: "revert"}:
		return nil
	default:
		return ErrNotAwaitingReview
	}
}

// RevertToStep restores the checkpoints recorded after the named step.
// During review the remaining changes re-enter the review; while a
// build is still running the revert queues and lands at the next step
// boundary, so a step's writes are never torn mid-flight.
func (t *Turn) RevertToStep(step int) error {
	select {
	case t.reviewCh <- reviewDecision{kind: "revert_to_step", step: step}:
		return nil
	default:
	}
	if t.building.Load() {
		select {
		case t.stepRevertCh <- step:
			return nil
		default:
			return ErrNotAwaitingReview
		}
	}
	return ErrNotAwaitingReview
}

// Answer satisfies an open clarification question.
func (t *Turn) Answer(toolUseID, answer string) error {
	t.qmu.Lock()
	ch, ok := t.questions[toolUseID]
	t.qmu.Unlock()
	if !ok {
		return ErrNoOpenQuestion
	}
	select {
	case ch <- answer:
		return nil
	default:
		return ErrNoOpenQuestion
	}
}

// Ask implements agent.Asker: emit user_question, park until the answer
// or cancellation arrives.
func (t *Turn) Ask(ctx context.Context, toolUseID, question, contextText string, options []string) (string, error) {
	ch := make(chan string, 1)
	t.qmu.Lock()
	t.questions[toolUseID] = ch
	t.qmu.Unlock()
	defer func() {
		t.qmu.Lock()
		delete(t.questions, toolUseID)
		t.qmu.Unlock()
	}()

	t.engine.Host.Emit(protocol.Event{
		Type:      protocol.EventUserQuestion,
		Question:  question,
		Context:   contextText,
		Options:   options,
		ToolUseID: toolUseID,
	})
	select {
	case answer := <-ch:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Turn) runDirect(ctx context.Context) error {
	e := t.engine
	start := time.Now()
	e.Host.Emit(protocol.Event{Type: protocol.EventPhaseStart, Content: "direct"})

	cp := e.WS.Checkpoints.Open("turn", 0)
	t.checkpointIDs = append(t.checkpointIDs, cp.ID)
	e.Host.Emit(protocol.Event{Type: protocol.EventCheckpointCreated, Data: map[string]any{"checkpoint_id": cp.ID}})

	_, err := t.toolLoop(ctx, directPrompt(e.Workdir), nil, false)
	e.WS.Checkpoints.Seal()
	if err != nil {
		return err
	}

	if err := t.review(ctx, false); err != nil {
		return err
	}
	e.Host.Emit(protocol.Event{
		Type:    protocol.EventPhaseEnd,
		Content: "direct",
		Elapsed: time.Since(start).Round(time.Millisecond).String(),
	})
	return nil
}

func (t *Turn) runPlanned(ctx context.Context, content string) error {
	e := t.engine

	summary, err := t.scout(ctx)
	if err != nil {
		return err
	}

	planStart := time.Now()
	e.Host.Emit(protocol.Event{Type: protocol.EventPhaseStart, Content: "plan"})

	var steps []string
	for {
		plan, err := t.toolLoop(ctx, planPrompt(e.Workdir, summary), planSafeTools, true)
		if err != nil {
			return err
		}
		if plan == nil {
			e.Host.Emit(protocol.Event{Type: protocol.EventNoPlan})
			return nil
		}

		e.Host.SetPendingPlan(plan)
		e.Host.Emit(protocol.Event{
			Type:     protocol.EventPlan,
			Steps:    plan.Steps,
			PlanText: plan.PlanText,
			PlanFile: plan.PlanFile,
		})

		var decision planDecision
		select {
		case decision = <-t.planCh:
		case <-ctx.Done():
			e.Host.SetPendingPlan(nil)
			return ctx.Err()
		}

		switch decision.kind {
		case "reject":
			e.Host.SetPendingPlan(nil)
			e.Host.Emit(protocol.Event{Type: protocol.EventPlanRejected})
			return nil
		case "replan":
			e.Host.SetPendingPlan(nil)
			e.Host.AppendHistory(agent.TextMessage(agent.RoleUser,
				"Plan feedback: "+decision.content+"\nRevise the plan and call propose_plan again."))
			if summary, err = t.scout(ctx); err != nil {
				return err
			}
			continue
		case "build":
			steps = plan.Steps
			// Edited steps replace the proposal in memory only; the plan
			// file, if any, keeps the model's original text.
			if len(decision.steps) > 0 {
				steps = decision.steps
				e.Host.Emit(protocol.Event{Type: protocol.EventUpdatedPlan, Steps: steps})
			}
			e.Host.SetPendingPlan(nil)
		}
		break
	}
	e.Host.Emit(protocol.Event{
		Type:    protocol.EventPhaseEnd,
		Content: "plan",
		Elapsed: time.Since(planStart).Round(time.Millisecond).String(),
	})

	buildStart := time.Now()
	e.Host.Emit(protocol.Event{Type: protocol.EventPhaseStart, Content: "build"})
	prompt := buildPrompt(e.Workdir, steps)
	t.building.Store(true)
	defer t.building.Store(false)
	for i, step := range steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cp := e.WS.Checkpoints.Open(fmt.Sprintf("step:%d", i+1), i+1)
		t.checkpointIDs = append(t.checkpointIDs, cp.ID)
		e.Host.Emit(protocol.Event{Type: protocol.EventCheckpointCreated, Data: map[string]any{"checkpoint_id": cp.ID}})
		e.Host.Emit(protocol.Event{Type: protocol.EventPlanStepProgress, Step: i + 1, Total: len(steps)})
		e.Host.AppendHistory(agent.TextMessage(agent.RoleUser, stepMessage(i+1, len(steps), step)))
		if _, err := t.toolLoop(ctx, prompt, nil, false); err != nil {
			e.WS.Checkpoints.Seal()
			return err
		}
		e.WS.Checkpoints.Seal()
		if err := t.applyQueuedStepRevert(); err != nil {
			return err
		}
	}
	t.building.Store(false)
	if err := t.applyQueuedStepRevert(); err != nil {
		return err
	}

	if err := t.review(ctx, true); err != nil {
		return err
	}
	e.Host.Emit(protocol.Event{
		Type:    protocol.EventPhaseEnd,
		Content: "build",
		Elapsed: time.Since(buildStart).Round(time.Millisecond).String(),
	})
	return nil
}

// scout runs the workspace survey tool directly and returns its summary.
func (t *Turn) scout(ctx context.Context) (string, error) {
	e := t.engine
	tool, ok := e.Registry.Get("scout")
	if !ok {
		return "", nil
	}
	e.Host.Emit(protocol.Event{Type: protocol.EventScoutStart})
	toolCtx := agent.WithEmitter(ctx, e.Host.Emit)
	res, err := tool.Execute(toolCtx, json.RawMessage(`{}`))
	if err != nil || res == nil || res.IsError {
		// A failed survey degrades planning quality but should not kill
		// the turn.
		e.Host.Emit(protocol.Event{Type: protocol.EventScoutEnd})
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", nil
	}
	e.Host.Emit(protocol.Event{Type: protocol.EventScoutEnd})
	return res.Content, nil
}

// toolLoop drains model responses and dispatches tool calls until the
// model stops calling tools. When interceptPlan is set, a propose_plan
// call ends the loop and returns the parsed plan.
func (t *Turn) toolLoop(ctx context.Context, system string, allowed map[string]bool, interceptPlan bool) (*Plan, error) {
	e := t.engine

	specs := e.Registry.Specs()
	catalog := make([]agent.ToolSpec, 0, len(specs)+1)
	for _, spec := range specs {
		if allowed == nil || allowed[spec.Name] {
			catalog = append(catalog, spec)
		}
	}
	if interceptPlan {
		pt := planTool{}
		catalog = append(catalog, agent.ToolSpec{Name: pt.Name(), Description: pt.Description(), Schema: pt.Schema()})
	}

	maxIterations := e.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 50
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		streamCtx, span := e.Tracer.StartModel(ctx, iteration)
		assistant, calls, err := t.streamOnce(streamCtx, agent.Request{
			System:   system,
			Messages: e.Host.History(),
			Tools:    catalog,
		})
		observability.EndSpan(span, err)
		if err != nil {
			t.commitPartial(assistant)
			return nil, err
		}
		e.Host.AppendHistory(assistant)

		if len(calls) == 0 {
			return nil, nil
		}

		if interceptPlan {
			if plan, rest := t.interceptPlan(calls); plan != nil {
				// Close out every call in the message so history stays
				// well paired, then hand the plan to the caller.
				results := make([]agent.Block, 0, len(calls))
				for _, call := range calls {
					content := "Plan received."
					isErr := false
					if containsCall(rest, call.ID) {
						content = "not executed: a plan was proposed in this message"
						isErr = true
					}
					results = append(results, agent.Block{
						Type: agent.BlockToolResult, ToolUseID: call.ID, Content: content, IsError: isErr,
					})
				}
				e.Host.AppendHistory(agent.Message{Role: agent.RoleUser, Content: results})
				return plan, nil
			}
		}

		execCtx := agent.WithEmitter(ctx, e.Host.Emit)
		execCtx = agent.WithAsker(execCtx, t)
		outcomes := e.Executor.Execute(execCtx, calls, agent.Hooks{
			OnStart: func(call agent.ToolCall) {
				if tool, ok := e.Registry.Get(call.Name); ok && tool.Mutating() {
					e.Host.Emit(protocol.Event{
						Type: protocol.EventAutoApproved,
						Data: map[string]any{"tool_use_id": call.ID, "name": call.Name},
					})
				}
				e.Host.Emit(protocol.Event{
					Type: protocol.EventToolCall,
					Data: map[string]any{"id": call.ID, "name": call.Name, "input": json.RawMessage(call.Input)},
				})
			},
			OnResult: func(call agent.ToolCall, result agent.ToolResult, elapsed time.Duration) {
				e.Host.Emit(protocol.Event{
					Type:    protocol.EventToolResult,
					Content: result.Content,
					Data: map[string]any{
						"tool_use_id": call.ID,
						"success":     !result.IsError,
						"duration":    elapsed.Round(time.Millisecond).String(),
					},
				})
			},
		})

		blocks := make([]agent.Block, len(outcomes))
		failed := 0
		for i, res := range outcomes {
			if res.IsError {
				failed++
			}
			blocks[i] = agent.Block{
				Type:      agent.BlockToolResult,
				ToolUseID: res.ToolUseID,
				Content:   res.Content,
				IsError:   res.IsError,
			}
		}
		if failed > 0 && failed < len(outcomes) {
			e.Host.Emit(protocol.Event{
				Type: protocol.EventCommandPartialFailure,
				Data: map[string]any{"failed": failed, "total": len(outcomes)},
			})
		}
		e.Host.AppendHistory(agent.Message{Role: agent.RoleUser, Content: blocks})

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, errMaxIterated
}

// streamOnce runs a single model response, forwarding deltas as events,
// and returns the assembled assistant message plus its tool calls. A
// mid-stream retry discards the partial response.
func (t *Turn) streamOnce(ctx context.Context, req agent.Request) (agent.Message, []agent.ToolCall, error) {
	e := t.engine

	chunks, err := e.Provider.Stream(ctx, req)
	if err != nil {
		return agent.Message{}, nil, err
	}

	var blocks []agent.Block
	var calls []agent.ToolCall
	var text, thinking strings.Builder
	textOpen, thinkingOpen := false, false

	closeText := func() {
		if textOpen {
			e.Host.Emit(protocol.Event{Type: protocol.EventTextEnd})
			if text.Len() > 0 {
				blocks = append(blocks, agent.Block{Type: agent.BlockText, Text: text.String()})
			}
			text.Reset()
			textOpen = false
		}
	}
	closeThinking := func() {
		if thinkingOpen {
			e.Host.Emit(protocol.Event{Type: protocol.EventThinkingEnd})
			if thinking.Len() > 0 {
				blocks = append(blocks, agent.Block{Type: agent.BlockThinking, Text: thinking.String()})
			}
			thinking.Reset()
			thinkingOpen = false
		}
	}

	for chunk := range chunks {
		switch chunk.Type {
		case agent.ChunkThinking:
			if !thinkingOpen {
				e.Host.Emit(protocol.Event{Type: protocol.EventThinkingStart})
				thinkingOpen = true
			}
			thinking.WriteString(chunk.Text)
			e.Host.Emit(protocol.Event{Type: protocol.EventThinking, Content: chunk.Text})

		case agent.ChunkText:
			closeThinking()
			if !textOpen {
				e.Host.Emit(protocol.Event{Type: protocol.EventTextStart})
				textOpen = true
			}
			text.WriteString(chunk.Text)
			e.Host.Emit(protocol.Event{Type: protocol.EventText, Content: chunk.Text})

		case agent.ChunkToolUse:
			closeThinking()
			closeText()
			calls = append(calls, *chunk.ToolCall)
			blocks = append(blocks, agent.Block{
				Type:  agent.BlockToolUse,
				ID:    chunk.ToolCall.ID,
				Name:  chunk.ToolCall.Name,
				Input: chunk.ToolCall.Input,
			})

		case agent.ChunkRetry:
			// The provider restarts the whole response; drop what we
			// accumulated and tell the client.
			closeThinking()
			closeText()
			blocks, calls = nil, nil
			e.Host.Emit(protocol.Event{Type: protocol.EventStreamRetry,
				Content: fmt.Sprintf("model stream interrupted, retrying (attempt %d)", chunk.Attempt)})
			e.Host.Emit(protocol.Event{Type: protocol.EventStreamRecovering})

		case agent.ChunkDone:
			closeThinking()
			closeText()
			t.usage.Add(chunk.Usage)
			e.Host.AddUsage(chunk.Usage, t.contextPercent(chunk.Usage))
			return agent.Message{Role: agent.RoleAssistant, Content: blocks}, calls, nil

		case agent.ChunkError:
			closeThinking()
			closeText()
			partial := agent.Message{Role: agent.RoleAssistant, Content: blocks}
			if ctx.Err() != nil {
				return partial, calls, ctx.Err()
			}
			return partial, calls, fmt.Errorf("%w: %v", errStreamFailed, chunk.Err)
		}
	}

	// Channel closed without a terminal chunk: the provider lost a send
	// race with cancellation.
	closeThinking()
	closeText()
	partial := agent.Message{Role: agent.RoleAssistant, Content: blocks}
	if ctx.Err() != nil {
		return partial, calls, ctx.Err()
	}
	return partial, calls, fmt.Errorf("%w: stream closed unexpectedly", errStreamFailed)
}

// commitPartial closes an interrupted assistant message with the blocks
// it accumulated so far, pairing any tool_use block with a synthetic
// failed result to keep the history well formed.
func (t *Turn) commitPartial(assistant agent.Message) {
	if len(assistant.Content) == 0 {
		return
	}
	e := t.engine
	e.Host.AppendHistory(assistant)

	var results []agent.Block
	for _, block := range assistant.Content {
		if block.Type == agent.BlockToolUse {
			results = append(results, agent.Block{
				Type:      agent.BlockToolResult,
				ToolUseID: block.ID,
				Content:   "not executed: the response was interrupted",
				IsError:   true,
			})
		}
	}
	if len(results) > 0 {
		e.Host.AppendHistory(agent.Message{Role: agent.RoleUser, Content: results})
	}
}

// interceptPlan pulls a propose_plan call out of the batch. rest holds
// the other calls of the same message, which are not executed.
func (t *Turn) interceptPlan(calls []agent.ToolCall) (*Plan, []agent.ToolCall) {
	for _, call := range calls {
		if call.Name != planToolName {
			continue
		}
		plan, err := parsePlan(call.Input)
		if err != nil || len(plan.Steps) == 0 {
			continue
		}
		var rest []agent.ToolCall
		for _, other := range calls {
			if other.ID != call.ID {
				rest = append(rest, other)
			}
		}
		return plan, rest
	}
	return nil, nil
}

// review computes the turn's cumulative diff and suspends on keep /
// revert / revert_to_step. No changes short-circuits with no_changes.
func (t *Turn) review(ctx context.Context, cumulative bool) error {
	e := t.engine

	for {
		diffs, err := t.pendingDiffs()
		if err != nil {
			return err
		}
		if len(diffs) == 0 {
			e.Host.SetPendingDiffs(nil)
			if cumulative {
				e.Host.Emit(protocol.Event{Type: protocol.EventNoChanges})
			}
			t.dropCheckpoints()
			return nil
		}

		e.Host.SetPendingDiffs(diffs)
		e.Host.Flush()
		e.Host.Emit(protocol.Event{Type: protocol.EventDiff, Files: diffs, Cumulative: cumulative})

		var decision reviewDecision
		select {
		case decision = <-t.reviewCh:
		case <-ctx.Done():
			e.Host.SetPendingDiffs(nil)
			return ctx.Err()
		}

		switch decision.kind {
		case "keep":
			t.dropCheckpoints()
			e.Host.SetPendingDiffs(nil)
			e.Host.Emit(protocol.Event{Type: protocol.EventKept})
			e.Host.Emit(protocol.Event{Type: protocol.EventClearKeepRevert})
			return nil

		case "revert":
			ops, err := e.WS.Checkpoints.Ops(t.checkpointIDs...)
			if err != nil {
				return err
			}
			paths, err := e.WS.Restore(ops)
			if err != nil {
				return err
			}
			t.dropCheckpoints()
			e.Host.SetPendingDiffs(nil)
			e.Host.Emit(protocol.Event{Type: protocol.EventReverted, Paths: paths})
			e.Host.Emit(protocol.Event{Type: protocol.EventClearKeepRevert})
			return nil

		case "revert_to_step":
			if err := t.revertToStep(decision.step); err != nil {
				return err
			}
			// Changes from steps up to the named one are still pending;
			// loop to re-emit the remaining diff and keep the review open.
			continue
		}
	}
}

// pendingDiffs builds the cumulative diff: earliest baseline per path
// across the turn's checkpoints versus the current content.
func (t *Turn) pendingDiffs() ([]protocol.FileDiff, error) {
	e := t.engine

	type baseline struct {
		content []byte
		existed bool
	}
	earliest := make(map[string]baseline)
	for _, id := range t.checkpointIDs {
		cp, ok := e.WS.Checkpoints.Get(id)
		if !ok {
			continue
		}
		for path := range cp.Files {
			if _, seen := earliest[path]; seen {
				continue
			}
			content, b, ok := e.WS.Checkpoints.Baseline(cp, path)
			if !ok {
				continue
			}
			earliest[path] = baseline{content: content, existed: b.Existed}
		}
	}

	paths := make([]string, 0, len(earliest))
	for path := range earliest {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var diffs []protocol.FileDiff
	for _, path := range paths {
		base := earliest[path]
		current, exists, err := e.WS.Current(path)
		if err != nil {
			return nil, err
		}
		res := workspace.FileDiff(path, base.content, base.existed, current, exists)
		if res.Additions == 0 && res.Deletions == 0 && res.Label == workspace.LabelModified {
			continue
		}
		label := protocol.LabelModified
		if res.Label == workspace.LabelNewFile {
			label = protocol.LabelNewFile
		}
		diffs = append(diffs, protocol.FileDiff{
			Path:      path,
			Label:     label,
			Diff:      res.Diff,
			Additions: res.Additions,
			Deletions: res.Deletions,
		})
	}
	return diffs, nil
}

// revertToStep restores every checkpoint recorded after the named step
// and reports the restored paths. A step with no later checkpoint
// reports no_checkpoint instead of failing.
func (t *Turn) revertToStep(step int) error {
	e := t.engine
	ops, found, err := e.WS.Checkpoints.OpsAfterStep(step)
	if err != nil {
		return err
	}
	if !found {
		e.Host.Emit(protocol.Event{
			Type: protocol.EventRevertedToStep, Step: step, NoCheckpoint: true,
		})
		return nil
	}
	paths, err := e.WS.Restore(ops)
	if err != nil {
		return err
	}
	t.dropCheckpointsAfterStep(step)
	e.Host.Emit(protocol.Event{
		Type: protocol.EventRevertedToStep, Step: step, Paths: paths,
	})
	return nil
}

// applyQueuedStepRevert drains a revert_to_step that arrived while a
// build step was executing.
func (t *Turn) applyQueuedStepRevert() error {
	select {
	case step := <-t.stepRevertCh:
		return t.revertToStep(step)
	default:
		return nil
	}
}

func (t *Turn) dropCheckpoints() {
	if len(t.checkpointIDs) > 0 {
		t.engine.WS.Checkpoints.Drop(t.checkpointIDs...)
		t.checkpointIDs = nil
	}
}

func (t *Turn) dropCheckpointsAfterStep(step int) {
	e := t.engine
	kept := t.checkpointIDs[:0]
	for _, id := range t.checkpointIDs {
		cp, ok := e.WS.Checkpoints.Get(id)
		if ok && cp.StepIndex > step {
			e.WS.Checkpoints.Drop(id)
			continue
		}
		kept = append(kept, id)
	}
	t.checkpointIDs = kept
}

func (t *Turn) contextPercent(usage agent.Usage) float64 {
	if t.engine.ContextWindow <= 0 {
		return 0
	}
	used := usage.InputTokens + usage.CacheReadTokens + usage.OutputTokens
	return float64(used) / float64(t.engine.ContextWindow) * 100
}

func (t *Turn) usageEvent() *protocol.Usage {
	return &protocol.Usage{
		InputTokens:     t.usage.InputTokens,
		OutputTokens:    t.usage.OutputTokens,
		CacheReadTokens: t.usage.CacheReadTokens,
		ContextPercent:  t.contextPercent(t.usage),
	}
}

// maybeNameSession derives a display name from the first request.
func (t *Turn) maybeNameSession(content string) {
	if t.engine.Host.Name() != "" {
		return
	}
	words := strings.Fields(content)
	if len(words) > 6 {
		words = words[:6]
	}
	name := strings.Join(words, " ")
	if name == "" {
		return
	}
	if len(name) > 60 {
		name = name[:60]
	}
	t.engine.Host.SetName(name)
	t.engine.Host.Emit(protocol.Event{Type: protocol.EventSessionNameUpdate, SessionName: name})
}

func userMessage(content string, images []protocol.Image, extra string) agent.Message {
	text := content
	if extra != "" {
		text = content + "\n\nAdditional context:\n" + extra
	}
	blocks := []agent.Block{{Type: agent.BlockText, Text: text}}
	for _, img := range images {
		blocks = append(blocks, agent.Block{
			Type:      agent.BlockImage,
			MediaType: img.MediaType,
			Data:      img.Data,
		})
	}
	return agent.Message{Role: agent.RoleUser, Content: blocks}
}

func containsCall(calls []agent.ToolCall, id string) bool {
	for _, call := range calls {
		if call.ID == id {
			return true
		}
	}
	return false
}
