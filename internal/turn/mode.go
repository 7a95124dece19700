package turn

import (
	"strings"
)

// Mode selects the turn's path through the state machine.
type Mode string

const (
	// ModeDirect runs the tool loop immediately with one turn-wide
	// checkpoint.
	ModeDirect Mode = "direct"

	// ModePlan scouts the workspace, proposes a plan, and builds it
	// step by step after approval.
	ModePlan Mode = "plan"
)

// quick verbs that signal a question or small read-only task.
var directVerbs = []string{
	"read", "show", "list", "print", "cat", "what", "where", "which",
	"who", "why", "how", "explain", "describe", "find", "search",
	"look", "check", "run", "tell",
}

// verbs that signal multi-file engineering work worth planning.
var planVerbs = []string{
	"implement", "refactor", "migrate", "redesign", "rewrite",
	"build", "create", "add support", "integrate", "overhaul",
}

const planLengthThreshold = 240

// DetectMode picks direct vs plan for a user request. A "/plan" or
// "/direct" prefix overrides; otherwise the decision is a deterministic
// function of the request text. Returns the mode and the request with
// any prefix stripped.
func DetectMode(content string) (Mode, string) {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "/plan"):
		return ModePlan, strings.TrimSpace(trimmed[len("/plan"):])
	case strings.HasPrefix(lower, "/direct"):
		return ModeDirect, strings.TrimSpace(trimmed[len("/direct"):])
	}

	for _, verb := range planVerbs {
		if strings.Contains(lower, verb) {
			return ModePlan, trimmed
		}
	}
	if len(trimmed) >= planLengthThreshold {
		return ModePlan, trimmed
	}
	firstWord := lower
	if i := strings.IndexAny(lower, " \t\n"); i > 0 {
		firstWord = lower[:i]
	}
	for _, verb := range directVerbs {
		if firstWord == verb {
			return ModeDirect, trimmed
		}
	}
	return ModeDirect, trimmed
}
