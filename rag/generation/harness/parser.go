package harness

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/google/uuid"
)

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKey   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// OutputParser extracts tool calls that a model wrote into its text instead of
// returning them as structured calls.
type OutputParser struct {
	toolCallPatterns []*regexp.Regexp
}

// NewOutputParser creates a parser with default patterns for common tool call formats.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		toolCallPatterns: []*regexp.Regexp{
			// JSON array format: [{"name": "tool", "arguments": {...}}]
			regexp.MustCompile(`\[\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}\s*\]`),
			// Function call format: tool_name({"arg": "value"})
			regexp.MustCompile(`(\w+)\s*\(\s*(\{.*?\})\s*\)`),
			// OpenAI format: {"tool_calls": [{"function": {"name": "tool", "arguments": "..."}}]}
			regexp.MustCompile(`"tool_calls"\s*:\s*\[\s*\{\s*"function"\s*:\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*"(\{.*?\})"\s*\}\s*\}\s*\]`),
		},
	}
}

// ParseToolCalls extracts tool calls from a model response text. Calls whose
// arguments cannot be repaired into valid JSON are skipped.
func (p *OutputParser) ParseToolCalls(text string) []ports.ToolCall {
	var calls []ports.ToolCall

	for _, pattern := range p.toolCallPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if len(match) < 3 {
				continue
			}
			name := strings.TrimSpace(match[1])
			args, ok := repairArgs(strings.TrimSpace(match[2]))
			if !ok {
				continue
			}
			calls = append(calls, ports.ToolCall{Name: name, Args: args})
		}
	}
	return calls
}

func repairArgs(s string) (json.RawMessage, bool) {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), true
	}
	// arguments embedded as an escaped JSON string
	if unq, err := strconv.Unquote(`"` + s + `"`); err == nil && json.Valid([]byte(unq)) {
		return json.RawMessage(unq), true
	}
	fixed := fixJSON(s)
	if json.Valid([]byte(fixed)) {
		return json.RawMessage(fixed), true
	}
	return nil, false
}

// fixJSON attempts to fix common JSON formatting issues.
func fixJSON(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	s = unquotedKey.ReplaceAllString(s, `$1"$2":`)
	return strings.ReplaceAll(s, "'", "\"")
}

var defaultParser = NewOutputParser()

// NormalizeToolCalls returns the tool calls of a completion in a uniform shape.
// Provider-native calls win. Otherwise calls are parsed from the text, keeping
// only names in offered when offered is non-empty. Missing ids are filled in and
// empty arguments become "{}".
func NormalizeToolCalls(c ports.Completion, offered ...string) []ports.ToolCall {
	calls := c.ToolCalls
	if len(calls) == 0 {
		for _, call := range defaultParser.ParseToolCalls(c.Text) {
			if len(offered) > 0 && !slices.Contains(offered, call.Name) {
				continue
			}
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return nil
	}

	out := make([]ports.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		if len(strings.TrimSpace(string(call.Args))) == 0 {
			call.Args = json.RawMessage(`{}`)
		}
		out[i] = call
	}
	return out
}
