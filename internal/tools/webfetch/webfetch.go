// Package webfetch implements the WebFetch tool: a bounded HTTP GET
// that strips HTML down to readable text.
package webfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/forge/internal/agent"
)

const (
	maxBodyBytes = 500_000
	maxTextBytes = 50_000
	fetchTimeout = 30 * time.Second
)

type fetchParams struct {
	URL string `json:"url" jsonschema:"description=The http or https URL to fetch"`
}

// Tool fetches a URL and returns its text content.
type Tool struct {
	client *http.Client
}

func New() *Tool {
	return &Tool{client: &http.Client{Timeout: fetchTimeout}}
}

func (t *Tool) Name() string { return "WebFetch" }

func (t *Tool) Description() string {
	return "Fetch a web page and return its readable text content. Only http and https URLs."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[fetchParams]() }

func (t *Tool) Mutating() bool { return false }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input fetchParams
	if err := json.Unmarshal(params, &input); err != nil {
		return fail(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	u, err := url.Parse(strings.TrimSpace(input.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fail("url must be http or https"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(err.Error()), nil
	}
	req.Header.Set("User-Agent", "forge/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return fail(fmt.Sprintf("fetch failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fail(fmt.Sprintf("fetch failed: HTTP %d", resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(fmt.Sprintf("read body: %v", err)), nil
	}

	content := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		content = stripHTML(content)
	}
	if len(content) > maxTextBytes {
		content = content[:maxTextBytes] + "\n[truncated]"
	}
	return &agent.ToolResult{Content: content}, nil
}

func fail(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces an HTML document to its visible text.
func stripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&nbsp;", " ",
	).Replace(text)
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return blankRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
