package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildToolsPrompt(t *testing.T) {
	prompt := buildToolsPrompt([]Tool{
		{Name: "get_weather", Description: "Current weather", Parameters: `{"type":"object","properties":{"city":{"type":"string"}}}`},
		{Name: "noop", Parameters: "{}"},
	})

	assert.True(t, strings.HasPrefix(prompt, "[System] You have access to these functions."))
	assert.True(t, strings.HasSuffix(prompt, "User request: "))
	assert.Contains(t, prompt, "```tool_call\n{\"name\": \"function_name\", \"arguments\": {\"param\": \"value\"}}\n```")

	start := strings.Index(prompt, "Available functions:\n") + len("Available functions:\n")
	end := strings.Index(prompt, "\n\nWhen you need to call a function")
	require.Greater(t, end, start)

	schema := prompt[start:end]
	require.True(t, gjson.Valid(schema))
	assert.Equal(t, "get_weather", gjson.Get(schema, "0.name").String())
	assert.Equal(t, "Current weather", gjson.Get(schema, "0.description").String())
	assert.Equal(t, "string", gjson.Get(schema, "0.parameters.properties.city.type").String())
	assert.Equal(t, "noop", gjson.Get(schema, "1.name").String())
	assert.Contains(t, schema, "\n  {")
}

func TestParseToolCalls(t *testing.T) {
	testCases := []struct {
		name      string
		content   string
		names     []string
		arguments []string
		remaining string
	}{
		{
			name:      "tool_call block",
			content:   "```tool_call\n{\"name\": \"search\", \"arguments\": {\"q\": \"go\"}}\n```",
			names:     []string{"search"},
			arguments: []string{`{"q":"go"}`},
			remaining: "",
		},
		{
			name:      "json block with prose",
			content:   "Let me look.\n```json\n{\"name\": \"search\", \"arguments\": {\"q\": \"go\", \"limit\": 3}}\n```\nDone.",
			names:     []string{"search"},
			arguments: []string{`{"q":"go","limit":3}`},
			remaining: "Let me look.\n\nDone.",
		},
		{
			name:      "bare fence",
			content:   "```\n{\"name\": \"lookup\", \"arguments\": {}}\n```",
			names:     []string{"lookup"},
			arguments: []string{`{}`},
			remaining: "",
		},
		{
			name:      "two blocks",
			content:   "```tool_call\n{\"name\": \"a\", \"arguments\": {\"x\": 1}}\n```\n```tool_call\n{\"name\": \"b\", \"arguments\": {\"y\": 2}}\n```",
			names:     []string{"a", "b"},
			arguments: []string{`{"x":1}`, `{"y":2}`},
			remaining: "",
		},
		{
			name:      "inline object",
			content:   `I will call {"name": "search", "arguments": {"q": "cats"}} now`,
			names:     []string{"search"},
			arguments: []string{`{"q":"cats"}`},
			remaining: "I will call  now",
		},
		{
			name:      "string arguments kept",
			content:   "```tool_call\n{\"name\": \"search\", \"arguments\": \"{\\\"q\\\":\\\"x\\\"}\"}\n```",
			names:     []string{"search"},
			arguments: []string{`{"q":"x"}`},
			remaining: "",
		},
		{
			name:      "missing arguments",
			content:   "```tool_call\n{\"name\": \"ping\"}\n```",
			names:     []string{"ping"},
			arguments: []string{`{}`},
			remaining: "",
		},
		{
			name:      "plain code block is left alone",
			content:   "Here:\n```json\n{\"value\": 1}\n```",
			remaining: "Here:\n```json\n{\"value\": 1}\n```",
		},
		{
			name:      "no calls",
			content:   "Just an answer.",
			remaining: "Just an answer.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls, remaining := parseToolCalls(tc.content)
			assert.Equal(t, tc.remaining, remaining)
			require.Len(t, calls, len(tc.names))
			for i, call := range calls {
				assert.Equal(t, i, call.Index)
				assert.Equal(t, "function", call.Type)
				assert.Regexp(t, `^call_[0-9a-f]{8}$`, call.ID)
				assert.Equal(t, tc.names[i], call.Function.Name)
				assert.JSONEq(t, tc.arguments[i], call.Function.Arguments)
			}
		})
	}
}

func TestParseToolCallsUniqueIDs(t *testing.T) {
	calls, _ := parseToolCalls("```tool_call\n{\"name\": \"a\", \"arguments\": {}}\n```\n```tool_call\n{\"name\": \"a\", \"arguments\": {}}\n```")
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}
