package turn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectMode(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		mode    Mode
		content string
	}{
		{"plan prefix", "/plan fix the parser", ModePlan, "fix the parser"},
		{"plan prefix only", "/plan", ModePlan, ""},
		{"direct prefix", "/direct implement the parser", ModeDirect, "implement the parser"},
		{"plan verb", "refactor the session layer", ModePlan, "refactor the session layer"},
		{"plan verb mid-sentence", "please implement retry logic", ModePlan, "please implement retry logic"},
		{"question", "what does the executor do?", ModeDirect, "what does the executor do?"},
		{"read verb", "read internal/turn/engine.go", ModeDirect, "read internal/turn/engine.go"},
		{"short default", "fix the typo in the readme", ModeDirect, "fix the typo in the readme"},
		{"long request", strings.Repeat("change this and that ", 15), ModePlan, strings.TrimSpace(strings.Repeat("change this and that ", 15))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mode, content := DetectMode(tc.input)
			assert.Equal(t, tc.mode, mode)
			assert.Equal(t, tc.content, content)
		})
	}
}

func TestDetectModePrefixCaseInsensitive(t *testing.T) {
	mode, content := DetectMode("  /PLAN do it  ")
	assert.Equal(t, ModePlan, mode)
	assert.Equal(t, "do it", content)
}
