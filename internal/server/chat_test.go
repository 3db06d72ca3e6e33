package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/dvcrn/gemini-web-proxy/internal/config"
	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
	"github.com/dvcrn/gemini-web-proxy/internal/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const weatherTools = `[{"type":"function","function":{"name":"get_weather","description":"Current weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}]`

func TestChatCompletionFreshThenActive(t *testing.T) {
	up := &fakeGemini{replies: []string{
		geminiReply(t, "c_1", "r_1", "rc_1", "Hello there"),
		geminiReply(t, "c_1", "r_2", "rc_2", "Second answer"),
	}}
	s, _ := newTestServer(t, up, nil)

	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{
		"model": "gemini-3.0-pro",
		"messages": [
			{"role": "system", "content": "Be brief."},
			{"role": "user", "content": "Hi"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := gjson.Parse(rec.Body.String())
	assert.True(t, strings.HasPrefix(body.Get("id").String(), "chatcmpl-"))
	assert.Len(t, strings.TrimPrefix(body.Get("id").String(), "chatcmpl-"), 8)
	assert.Equal(t, "chat.completion", body.Get("object").String())
	assert.Equal(t, "gemini-3.0-pro", body.Get("model").String())
	assert.Equal(t, "assistant", body.Get("choices.0.message.role").String())
	assert.Equal(t, "Hello there", body.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", body.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(11), body.Get("usage.completion_tokens").Int())
	assert.Equal(t, "Be brief.\n\nHi", up.lastText())
	assert.Equal(t, "", up.lastConvID())

	rec = doRequest(s, http.MethodPost, "/v1/chat/completions", `{
		"model": "gemini-3.0-pro",
		"messages": [
			{"role": "system", "content": "Be brief."},
			{"role": "user", "content": "Hi"},
			{"role": "assistant", "content": "Hello there"},
			{"role": "user", "content": "And again?"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Second answer", gjson.Get(rec.Body.String(), "choices.0.message.content").String())
	assert.Equal(t, "And again?", up.lastText())
	assert.Equal(t, "c_1", up.lastConvID())
}

func TestChatCompletionNewConversationResets(t *testing.T) {
	up := &fakeGemini{replies: []string{
		geminiReply(t, "c_1", "r_1", "rc_1", "First"),
		geminiReply(t, "c_2", "r_1", "rc_1", "Fresh"),
	}}
	s, _ := newTestServer(t, up, nil)

	first := `{"messages":[{"role":"user","content":"Hi"}]}`
	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", first).Code)

	// No assistant turn in the history, so this starts over.
	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"New topic"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", up.lastConvID())
	assert.Equal(t, "New topic", up.lastText())
}

func TestChatCompletionStream(t *testing.T) {
	up := &fakeGemini{replies: []string{geminiReply(t, "c_1", "r_1", "rc_1", "Streamed reply")}}
	s, _ := newTestServer(t, up, nil)

	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"model":"gemini-3.0-flash","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	events := sseEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "[DONE]", events[3])

	assert.Equal(t, "assistant", gjson.Get(events[0], "choices.0.delta.role").String())
	assert.Equal(t, "chat.completion.chunk", gjson.Get(events[0], "object").String())
	assert.Equal(t, "Streamed reply", gjson.Get(events[1], "choices.0.delta.content").String())
	assert.Equal(t, gjson.Null, gjson.Get(events[1], "choices.0.finish_reason").Type)
	assert.Equal(t, "stop", gjson.Get(events[2], "choices.0.finish_reason").String())
	assert.Equal(t, gjson.Get(events[0], "id").String(), gjson.Get(events[2], "id").String())
}

func TestChatCompletionToolCalls(t *testing.T) {
	reply := "```tool_call\n{\"name\": \"get_weather\", \"arguments\": {\"city\": \"Paris\"}}\n```"
	up := &fakeGemini{replies: []string{
		geminiReply(t, "c_1", "r_1", "rc_1", reply),
		geminiReply(t, "c_1", "r_2", "rc_2", "It is sunny in Paris."),
	}}
	s, _ := newTestServer(t, up, nil)

	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{
		"messages": [{"role": "user", "content": "Weather in Paris?"}],
		"tools": `+weatherTools+`
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent := up.lastText()
	assert.True(t, strings.HasPrefix(sent, "[System] You have access to these functions."))
	assert.Contains(t, sent, `"name": "get_weather"`)
	assert.True(t, strings.HasSuffix(sent, "User request: Weather in Paris?"))

	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, "tool_calls", body.Get("choices.0.finish_reason").String())
	assert.Equal(t, gjson.Null, body.Get("choices.0.message.content").Type)
	call := body.Get("choices.0.message.tool_calls.0")
	assert.Equal(t, "function", call.Get("type").String())
	assert.True(t, strings.HasPrefix(call.Get("id").String(), "call_"))
	assert.Equal(t, "get_weather", call.Get("function.name").String())
	assert.JSONEq(t, `{"city":"Paris"}`, call.Get("function.arguments").String())

	// Feeding the result back is a continuation: no tools prompt, the
	// result is wrapped instead.
	rec = doRequest(s, http.MethodPost, "/v1/chat/completions", `{
		"messages": [
			{"role": "user", "content": "Weather in Paris?"},
			{"role": "assistant", "content": null, "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "content": "sunny, 24C"}
		],
		"tools": `+weatherTools+`
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent = up.lastText()
	assert.NotContains(t, sent, "[System]")
	assert.Contains(t, sent, "sunny, 24C")
	assert.Equal(t, "c_1", up.lastConvID())
	assert.Equal(t, "stop", gjson.Get(rec.Body.String(), "choices.0.finish_reason").String())
	assert.Equal(t, "It is sunny in Paris.", gjson.Get(rec.Body.String(), "choices.0.message.content").String())
}

func TestChatCompletionToolCallsStream(t *testing.T) {
	reply := "Checking.\n```json\n{\"name\": \"get_weather\", \"arguments\": {\"city\": \"Oslo\"}}\n```"
	up := &fakeGemini{replies: []string{geminiReply(t, "c_1", "r_1", "rc_1", reply)}}
	s, _ := newTestServer(t, up, nil)

	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"stream":true,"messages":[{"role":"user","content":"Oslo?"}],"tools":`+weatherTools+`}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events := sseEvents(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, "Checking.", gjson.Get(events[1], "choices.0.delta.content").String())
	assert.Equal(t, "get_weather", gjson.Get(events[2], "choices.0.delta.tool_calls.0.function.name").String())
	assert.Equal(t, int64(0), gjson.Get(events[2], "choices.0.delta.tool_calls.0.index").Int())
	assert.Equal(t, "tool_calls", gjson.Get(events[3], "choices.0.finish_reason").String())
	assert.Equal(t, "[DONE]", events[4])
}

type doFunc func(*http.Request) (*http.Response, error)

func (f doFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestChatCompletionErrors(t *testing.T) {
	reply := geminiReply(t, "c_1", "r_1", "rc_1", "unused")
	testCases := []struct {
		name     string
		status   int
		body     string
		method   string
		expected int
		errType  string
	}{
		{name: "upstream 500", status: http.StatusInternalServerError, expected: http.StatusBadGateway, errType: "upstream_error"},
		{name: "upstream 401", status: http.StatusUnauthorized, expected: http.StatusUnauthorized, errType: "authentication_error"},
		{name: "upstream 403", status: http.StatusForbidden, expected: http.StatusUnauthorized, errType: "authentication_error"},
		{name: "empty turn", body: `{"messages":[{"role":"user","content":"   "}]}`, expected: http.StatusBadRequest, errType: "invalid_request_error"},
		{name: "invalid json", body: `{"messages":`, expected: http.StatusBadRequest, errType: "invalid_request_error"},
		{name: "missing messages", body: `{"model":"gemini-3.0-pro"}`, expected: http.StatusBadRequest, errType: "invalid_request_error"},
		{name: "wrong method", method: http.MethodGet, expected: http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			up := &fakeGemini{replies: []string{reply}, status: tc.status}
			s, _ := newTestServer(t, up, nil)

			body := tc.body
			if body == "" && tc.method == "" {
				body = `{"messages":[{"role":"user","content":"Hi"}]}`
			}
			method := tc.method
			if method == "" {
				method = http.MethodPost
			}

			rec := doRequest(s, method, "/v1/chat/completions", body)
			assert.Equal(t, tc.expected, rec.Code, rec.Body.String())
			if tc.errType != "" {
				assert.Equal(t, tc.errType, gjson.Get(rec.Body.String(), "error.type").String())
				assert.NotEmpty(t, gjson.Get(rec.Body.String(), "error.message").String())
			}
		})
	}
}

func TestChatCompletionTransientFailure(t *testing.T) {
	calls := 0
	client := doFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	})
	s, _ := newTestServer(t, &fakeGemini{}, nil, WithHTTPClient(client))

	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"Hi"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "upstream_unavailable", gjson.Get(rec.Body.String(), "error.type").String())
	assert.Equal(t, 1, calls)
}

func TestResetHandler(t *testing.T) {
	up := &fakeGemini{replies: []string{
		geminiReply(t, "c_1", "r_1", "rc_1", "First"),
		geminiReply(t, "c_2", "r_1", "rc_1", "After reset"),
	}}
	s, _ := newTestServer(t, up, nil)

	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"Hi"}]}`).Code)

	rec := doRequest(s, http.MethodPost, "/v1/chat/completions/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	// The history still carries an assistant turn, but there is no
	// conversation id left to continue.
	rec = doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages":[
		{"role":"user","content":"Hi"},
		{"role":"assistant","content":"First"},
		{"role":"user","content":"More"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", up.lastConvID())
	assert.Equal(t, "Hi\n\n[Previous response]: First\n\nMore", up.lastText())
}

func TestConversationsAreKeyedByUser(t *testing.T) {
	up := &fakeGemini{replies: []string{
		geminiReply(t, "c_alice", "r_1", "rc_1", "Hi Alice"),
		geminiReply(t, "c_bob", "r_1", "rc_1", "Hi Bob"),
		geminiReply(t, "c_alice", "r_2", "rc_2", "Again Alice"),
	}}
	s, _ := newTestServer(t, up, nil)

	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", `{"user":"alice","messages":[{"role":"user","content":"Hi"}]}`).Code)
	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", `{"user":"bob","messages":[{"role":"user","content":"Hi"}]}`).Code)
	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", `{"user":"alice","messages":[
		{"role":"user","content":"Hi"},
		{"role":"assistant","content":"Hi Alice"},
		{"role":"user","content":"Again"}
	]}`).Code)

	assert.Equal(t, "c_alice", up.lastConvID())
}

func TestSessionPersistedAndRestored(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	up := &fakeGemini{replies: []string{geminiReply(t, "c_1", "r_1", "rc_1", "Stored")}}
	s, _ := newTestServer(t, up, nil, WithSessionStore(store))

	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"Hi"}]}`).Code)

	rec, err := store.Load(context.Background(), defaultConversationKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, gemini.SessionContext{ConversationID: "c_1", ResponseID: "r_1", ChoiceID: "rc_1"}, rec.Context)
	assert.Equal(t, 1, rec.Turns)

	// A second server sharing the store picks the conversation up.
	up2 := &fakeGemini{replies: []string{geminiReply(t, "c_1", "r_2", "rc_2", "Restored")}}
	s2, _ := newTestServer(t, up2, nil, WithSessionStore(store))
	resp := doRequest(s2, http.MethodPost, "/v1/chat/completions", `{"messages":[
		{"role":"user","content":"Hi"},
		{"role":"assistant","content":"Stored"},
		{"role":"user","content":"Continue"}
	]}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "c_1", up2.lastConvID())
	assert.Equal(t, "Continue", up2.lastText())

	history := gjson.Parse(doRequest(s2, http.MethodGet, "/v1/chat/completions/history", "").Body.String())
	assert.Equal(t, []string{"Hi", "Stored", "Continue", "Restored"}, stringsOf(history.Get("messages.#.content").Array()))

	require.Equal(t, http.StatusOK, doRequest(s2, http.MethodPost, "/v1/chat/completions/reset", `{"user":"default"}`).Code)
	rec, err = store.Load(context.Background(), defaultConversationKey)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHistoryHandler(t *testing.T) {
	up := &fakeGemini{replies: []string{geminiReply(t, "c_1", "r_1", "rc_1", "A red square")}}
	s, _ := newTestServer(t, up, nil)

	empty := doRequest(s, http.MethodGet, "/v1/chat/completions/history?user=alice", "")
	require.Equal(t, http.StatusOK, empty.Code)
	assert.Equal(t, "fresh", gjson.Get(empty.Body.String(), "state").String())
	assert.True(t, gjson.Get(empty.Body.String(), "messages").IsArray())
	assert.Empty(t, gjson.Get(empty.Body.String(), "messages").Array())

	rec := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"user":"alice","messages":[{"role":"user","content":[
		{"type":"text","text":"What is this?"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,iVBORw0KGgo="}}
	]}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := gjson.Parse(doRequest(s, http.MethodGet, "/v1/chat/completions/history?user=alice", "").Body.String())
	assert.Equal(t, "alice", body.Get("user").String())
	assert.Equal(t, "active", body.Get("state").String())
	assert.Equal(t, "c_1", body.Get("conversation_id").String())
	assert.Equal(t, int64(1), body.Get("turns").Int())
	assert.Equal(t, []string{"user", "assistant"}, stringsOf(body.Get("messages.#.role").Array()))
	assert.Equal(t, "What is this?", body.Get("messages.0.content").String())
	assert.Equal(t, int64(1), body.Get("messages.0.images").Int())
	assert.Equal(t, "A red square", body.Get("messages.1.content").String())

	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(s, http.MethodPost, "/v1/chat/completions/history", "").Code)
}

func TestExpiredSessionStartsOver(t *testing.T) {
	up := &fakeGemini{replies: []string{
		geminiReply(t, "c_1", "r_1", "rc_1", "First"),
		geminiReply(t, "c_2", "r_1", "rc_1", "Later"),
	}}
	s, _ := newTestServer(t, up, func(cfg *config.Config) {
		cfg.Session.TimeoutMinutes = 1
	})

	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"Hi"}]}`).Code)

	conv := s.conversations.get(context.Background(), defaultConversationKey)
	conv.client.Session().Touch(time.Now().Add(-2 * time.Minute))

	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/chat/completions", `{"messages":[
		{"role":"user","content":"Hi"},
		{"role":"assistant","content":"First"},
		{"role":"user","content":"Still there?"}
	]}`).Code)
	assert.Equal(t, "", up.lastConvID())
	assert.Equal(t, 2, up.calls())
}

func sseEvents(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
		}
	}
	require.NoError(t, scanner.Err())
	return events
}
