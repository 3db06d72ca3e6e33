package server

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const toolsPromptTemplate = "[System] You have access to these functions. Use them when needed to accomplish the user's request:\n\n" +
	"Available functions:\n%s\n\n" +
	"When you need to call a function, output ONLY this format:\n" +
	"```tool_call\n{\"name\": \"function_name\", \"arguments\": {\"param\": \"value\"}}\n```\n\n" +
	"When you receive tool results, analyze them and either:\n" +
	"- Call another function if more information is needed\n" +
	"- Provide your final answer based on the results\n\n" +
	"User request: "

// Fenced blocks are tried in order; the bare-object pattern is only used
// when no fenced block produced a call.
var (
	fencedToolCallPatterns = []*regexp.Regexp{
		regexp.MustCompile("(?s)```tool_call\\s*\\n?(.*?)\\n?```"),
		regexp.MustCompile("(?s)```json\\s*\\n?(.*?)\\n?```"),
		regexp.MustCompile("(?s)```\\s*\\n?(\\{[^`]*\"name\"[^`]*\\})\\n?```"),
	}
	inlineToolCallPattern = regexp.MustCompile(`\{[^{}]*"name"\s*:\s*"[^"]+"\s*,\s*"arguments"\s*:\s*\{[^{}]*\}[^{}]*\}`)
)

// buildToolsPrompt renders the instruction block prepended to a turn when
// the request declares tools.
func buildToolsPrompt(tools []Tool) string {
	schema := "[]"
	for _, t := range tools {
		item, _ := sjson.Set("", "name", t.Name)
		item, _ = sjson.Set(item, "description", t.Description)
		item, _ = sjson.SetRaw(item, "parameters", t.Parameters)
		schema, _ = sjson.SetRaw(schema, "-1", item)
	}
	pretty := strings.TrimRight(gjson.Get(schema, "@pretty").Raw, "\n")
	return fmt.Sprintf(toolsPromptTemplate, pretty)
}

type span struct{ start, end int }

// parseToolCalls extracts tool calls from a model reply and returns the text
// left after removing the blocks that produced them.
func parseToolCalls(content string) ([]ToolCall, string) {
	var (
		calls    []ToolCall
		consumed []span
	)

	collect := func(start, end int, raw string) {
		for _, c := range consumed {
			if start < c.end && c.start < end {
				return
			}
		}
		fn, ok := decodeToolCall(strings.TrimSpace(raw))
		if !ok {
			return
		}
		calls = append(calls, ToolCall{
			Index:    len(calls),
			ID:       newCallID(),
			Type:     "function",
			Function: fn,
		})
		consumed = append(consumed, span{start, end})
	}

	for _, re := range fencedToolCallPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			collect(m[0], m[1], content[m[2]:m[3]])
		}
	}
	if len(calls) == 0 {
		for _, m := range inlineToolCallPattern.FindAllStringIndex(content, -1) {
			collect(m[0], m[1], content[m[0]:m[1]])
		}
	}
	if len(calls) == 0 {
		return nil, content
	}

	slices.SortFunc(consumed, func(a, b span) int { return a.start - b.start })
	var b strings.Builder
	last := 0
	for _, c := range consumed {
		b.WriteString(content[last:c.start])
		last = c.end
	}
	b.WriteString(content[last:])
	return calls, strings.TrimSpace(b.String())
}

func decodeToolCall(raw string) (FunctionCall, bool) {
	if !gjson.Valid(raw) {
		return FunctionCall{}, false
	}
	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return FunctionCall{}, false
	}
	name := obj.Get("name")
	if name.Type != gjson.String || name.Str == "" {
		return FunctionCall{}, false
	}

	args := obj.Get("arguments")
	var arguments string
	switch {
	case !args.Exists() || args.Type == gjson.Null:
		arguments = "{}"
	case args.Type == gjson.String:
		arguments = args.Str
	default:
		arguments = obj.Get("arguments|@ugly").Raw
	}
	return FunctionCall{Name: name.Str, Arguments: arguments}, true
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
