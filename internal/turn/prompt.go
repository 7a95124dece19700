package turn

import (
	"fmt"
	"strings"
)

const basePrompt = `You are a coding agent operating on the user's workspace through tools.
Working directory: %s

Rules:
- Use tools to inspect before you modify; never guess file contents.
- Keep edits minimal and scoped to the request.
- Prefer Edit over Write for existing files so changes stay reviewable.
- When a command or build fails, read the error and fix the cause before retrying.
- Ask with AskUserQuestion only when a wrong guess would be expensive.`

const directAddendum = `
Handle the request directly. When you are done, summarize what you did in one or two sentences.`

const planAddendum = `
You are in planning mode. Explore the workspace with read-only tools, then call propose_plan
exactly once with an ordered list of concrete build steps. Do not modify any files.
Each step should be independently executable and verifiable.`

const buildAddendum = `
You are executing an approved plan one step at a time. Work only on the step named in the
latest message. When the step is complete, stop issuing tool calls and summarize the step briefly.`

func directPrompt(workdir string) string {
	return fmt.Sprintf(basePrompt, workdir) + directAddendum
}

func planPrompt(workdir, scoutSummary string) string {
	prompt := fmt.Sprintf(basePrompt, workdir) + planAddendum
	if scoutSummary != "" {
		prompt += "\n\nWorkspace survey:\n" + scoutSummary
	}
	return prompt
}

func buildPrompt(workdir string, steps []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(basePrompt, workdir))
	sb.WriteString(buildAddendum)
	sb.WriteString("\n\nApproved plan:\n")
	for i, step := range steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// stepMessage is the user-role message that opens one build step.
func stepMessage(step int, total int, text string) string {
	return fmt.Sprintf("Execute step %d of %d: %s", step, total, text)
}
