package turn

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/forge/internal/agent"
)

// Plan is a proposed ordered sequence of build steps awaiting the
// user's decision.
type Plan struct {
	Steps    []string `json:"steps"`
	PlanText string   `json:"plan_text,omitempty"`
	PlanFile string   `json:"plan_file,omitempty"`
}

// planToolName is intercepted by the engine rather than dispatched.
const planToolName = "propose_plan"

type planParams struct {
	Steps    []string `json:"steps" jsonschema:"description=Ordered build steps; one short imperative sentence each"`
	PlanText string   `json:"plan_text,omitempty" jsonschema:"description=Full plan narrative shown to the user"`
	PlanFile string   `json:"plan_file,omitempty" jsonschema:"description=Optional workspace path where the plan was written"`
}

// planTool is advertised during PLAN so the model emits its plan as a
// structured call. It never executes; the engine intercepts it.
type planTool struct{}

func (planTool) Name() string { return planToolName }

func (planTool) Description() string {
	return "Submit the final ordered plan for the user to approve. Call exactly once, after exploration."
}

func (planTool) Schema() json.RawMessage { return agent.SchemaFor[planParams]() }

func (planTool) Mutating() bool { return true }

// Execute only runs if the engine fails to intercept the call, which
// would be a bug; answer the model neutrally rather than erroring.
func (planTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "Plan received."}, nil
}

// parsePlan decodes a propose_plan call's input.
func parsePlan(input json.RawMessage) (*Plan, error) {
	var p planParams
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, err
	}
	return &Plan{Steps: p.Steps, PlanText: p.PlanText, PlanFile: p.PlanFile}, nil
}
