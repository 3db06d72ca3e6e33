package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
	"github.com/google/uuid"
)

// sseFlushWriter wraps a ResponseWriter to flush after each write.
type sseFlushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw sseFlushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}
	return n, err
}

// chatCompletionsHandler handles POST /v1/chat/completions
func (s *Server) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read request body")
		s.writeAPIError(w, http.StatusBadRequest, "Failed to read request body", "invalid_request_error", "invalid_body")
		return
	}

	req, err := s.parseChatRequest(ctx, body, s.fetchImage)
	if err != nil {
		s.writeAPIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_request")
		return
	}

	s.logger.Debug().
		Str("model", req.Model).
		Bool("stream", req.Stream).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Str("user", req.User).
		Msg("Chat completion request")

	conv := s.conversations.get(ctx, req.User)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	session := conv.client.Session()
	now := s.now()
	if session.ShouldReset(req.Messages, now) {
		if session.State() == gemini.StateActive {
			s.logger.Info().
				Str("conversation", conv.key).
				Str("conversation_id", session.Context().ConversationID).
				Msg("🔄 Starting a new upstream conversation")
		}
		s.conversations.reset(ctx, conv)
	}

	turn, err := session.ComposeTurn(req.Messages)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	turn.Model = req.Model
	if len(req.Tools) > 0 && !turn.ToolContinuation {
		turn.Text = buildToolsPrompt(req.Tools) + turn.Text
	}

	result, err := conv.client.Submit(ctx, turn)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	conv.turns++
	session.Record(req.Messages[len(req.Messages)-1], gemini.Message{Role: gemini.RoleAssistant, Text: result.Text})
	s.conversations.save(ctx, conv, now)

	content := result.Text
	var toolCalls []ToolCall
	if len(req.Tools) > 0 {
		toolCalls, content = parseToolCalls(content)
	}

	id := completionID()
	created := now.Unix()
	if req.Stream {
		s.writeStream(w, id, created, req.Model, content, toolCalls)
		return
	}

	finishReason := "stop"
	message := ResponseMessage{Role: "assistant", Content: &content}
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
		message.ToolCalls = toolCalls
		if strings.TrimSpace(content) == "" {
			message.Content = nil
		}
	}

	s.writeJSON(w, http.StatusOK, ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage: result.Usage,
	})
}

// writeStream replays a finished reply as OpenAI chat.completion.chunk
// events. The upstream answers in one piece, so there is a single content
// or tool_calls chunk between the role and finish chunks.
func (s *Server) writeStream(w http.ResponseWriter, id string, created int64, model, content string, toolCalls []ToolCall) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var out io.Writer = w
	if flusher, ok := w.(http.Flusher); ok {
		out = sseFlushWriter{w: w, f: flusher}
	}

	chunk := func(delta streamingDelta, finish *string) streamingChunk {
		return streamingChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []streamingChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	events := []streamingChunk{chunk(streamingDelta{Role: "assistant"}, nil)}
	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
		if strings.TrimSpace(content) != "" {
			events = append(events, chunk(streamingDelta{Content: content}, nil))
		}
		events = append(events, chunk(streamingDelta{ToolCalls: toolCalls}, nil))
	} else {
		events = append(events, chunk(streamingDelta{Content: content}, nil))
	}
	events = append(events, chunk(streamingDelta{}, &finishReason))

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode stream chunk")
			return
		}
		if _, err := fmt.Fprintf(out, "data: %s\n\n", data); err != nil {
			s.logger.Warn().Err(err).Msg("Client went away during stream")
			return
		}
	}
	fmt.Fprint(out, "data: [DONE]\n\n")
}

// resetHandler handles POST /v1/chat/completions/reset. A body naming a
// user resets only that conversation; otherwise all are reset.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		User string `json:"user"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if body.User != "" {
		s.conversations.resetKey(r.Context(), body.User)
		s.logger.Info().Str("conversation", body.User).Msg("Conversation reset")
	} else {
		n := s.conversations.resetAll(r.Context())
		s.conversations.resetKey(r.Context(), defaultConversationKey)
		s.logger.Info().Int("conversations", n).Msg("All conversations reset")
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// historyHandler handles GET /v1/chat/completions/history?user=<key>.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conv := s.conversations.get(r.Context(), r.URL.Query().Get("user"))
	conv.mu.Lock()
	session := conv.client.Session()
	resp := historyResponse{
		User:           conv.key,
		State:          session.State().String(),
		ConversationID: session.Context().ConversationID,
		Turns:          conv.turns,
		Messages:       session.History(),
	}
	conv.mu.Unlock()

	if resp.Messages == nil {
		resp.Messages = []gemini.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
