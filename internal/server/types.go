package server

import (
	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
)

// ChatCompletionRequest holds the request fields the proxy acts on. The body
// itself is read with gjson so message content can be a string, a part list
// or null without bespoke unmarshalers.
type ChatCompletionRequest struct {
	Model    string
	Messages []gemini.Message
	Stream   bool
	User     string
	Tools    []Tool
}

// Tool is one entry of the request's "tools" array.
type Tool struct {
	Name        string
	Description string
	// Parameters is the raw JSON schema.
	Parameters string
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ResponseMessage keeps Content as a pointer so a pure tool-call reply
// serializes "content": null.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ChatCompletionChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   gemini.Usage           `json:"usage"`
}

type streamingDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type streamingChoice struct {
	Index        int            `json:"index"`
	Delta        streamingDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type streamingChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []streamingChoice `json:"choices"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelsResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// credentialsUpdate is the body accepted by POST /admin/credentials.
type credentialsUpdate struct {
	Cookie     string `json:"cookie"`
	AtToken    string `json:"at_token"`
	PushID     string `json:"push_id"`
	BuildLabel string `json:"build_label"`
}

type historyResponse struct {
	User           string                `json:"user"`
	State          string                `json:"state"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Turns          int                   `json:"turns"`
	Messages       []gemini.HistoryEntry `json:"messages"`
}
