package gemini

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SessionContext is the triple of opaque ids the upstream uses to continue a
// conversation server-side. Empty strings mean "no upstream session yet".
type SessionContext struct {
	ConversationID string `json:"conversation_id"`
	ResponseID     string `json:"response_id"`
	ChoiceID       string `json:"choice_id"`
}

func (s SessionContext) IsZero() bool {
	return s.ConversationID == "" && s.ResponseID == "" && s.ChoiceID == ""
}

// Merge overlays the non-empty fields of next. Each id is kept independently
// when next lacks it.
func (s SessionContext) Merge(next SessionContext) SessionContext {
	if next.ConversationID != "" {
		s.ConversationID = next.ConversationID
	}
	if next.ResponseID != "" {
		s.ResponseID = next.ResponseID
	}
	if next.ChoiceID != "" {
		s.ChoiceID = next.ChoiceID
	}
	return s
}

// MaxHistory bounds the number of messages a session keeps locally.
const MaxHistory = 100

// HistoryEntry is a recorded message. Attachments are counted, not kept.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Images  int    `json:"images,omitempty"`
}

type State int

const (
	StateFresh State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "fresh"
}

const toolContinuationInstruction = "The tool has been executed successfully. Here are the results:\n\n%s\n\n" +
	"Based on these results, please continue with the next step or provide your analysis. " +
	"Do NOT call the same tool again with the same parameters - the results are already provided above."

// Session tracks one upstream conversation. It is not safe for concurrent
// use; callers serialize access per conversation.
type Session struct {
	context     SessionContext
	history     []HistoryEntry
	lastRequest time.Time

	// Timeout is the inactivity window after which the session is reset.
	// Zero disables the check.
	Timeout time.Duration

	// ResendSystemPrompt prepends system content to ACTIVE turns too.
	ResendSystemPrompt bool
}

func NewSession(timeout time.Duration) *Session {
	return &Session{Timeout: timeout}
}

// State is ACTIVE once the upstream has assigned a conversation id.
func (s *Session) State() State {
	if s.context.ConversationID != "" {
		return StateActive
	}
	return StateFresh
}

func (s *Session) Context() SessionContext {
	return s.context
}

// Apply merges ids from a successful decode.
func (s *Session) Apply(next SessionContext) {
	s.context = s.context.Merge(next)
}

// Restore reinstates persisted state.
func (s *Session) Restore(ctx SessionContext, lastRequest time.Time, history []HistoryEntry) {
	s.context = ctx
	s.lastRequest = lastRequest
	s.history = nil
	s.appendHistory(history...)
}

// Reset clears the ids and local history.
func (s *Session) Reset() {
	s.context = SessionContext{}
	s.history = nil
}

func (s *Session) LastRequest() time.Time {
	return s.lastRequest
}

func (s *Session) Touch(now time.Time) {
	s.lastRequest = now
}

// Expired reports whether more than Timeout has passed since the last request.
func (s *Session) Expired(now time.Time) bool {
	if s.Timeout <= 0 || s.lastRequest.IsZero() {
		return false
	}
	return now.Sub(s.lastRequest) > s.Timeout
}

// ShouldReset decides whether an inbound request starts a new upstream
// conversation: the client sent no prior assistant or tool turns, the
// session went idle, or there is no conversation to continue.
func (s *Session) ShouldReset(msgs []Message, now time.Time) bool {
	hasReplies := false
	for _, m := range msgs {
		if m.Role == RoleAssistant || m.isToolResult() {
			hasReplies = true
			break
		}
	}
	if !hasReplies {
		return true
	}
	if s.Expired(now) {
		return true
	}
	return s.context.ConversationID == ""
}

// Record appends an exchange to the local history, keeping at most
// MaxHistory entries.
func (s *Session) Record(msgs ...Message) {
	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, HistoryEntry{Role: m.Role, Content: m.Text, Images: len(m.Images)})
	}
	s.appendHistory(entries...)
}

func (s *Session) appendHistory(entries ...HistoryEntry) {
	s.history = append(s.history, entries...)
	if over := len(s.history) - MaxHistory; over > 0 {
		s.history = slices.Clone(s.history[over:])
	}
}

func (s *Session) History() []HistoryEntry {
	return slices.Clone(s.history)
}

// ComposeTurn flattens msgs into one outbound turn. FRESH sends the whole
// history, ACTIVE only the newest user content or pending tool results.
func (s *Session) ComposeTurn(msgs []Message) (Turn, error) {
	active := s.State() == StateActive

	var parts []string
	if !active || s.ResendSystemPrompt {
		for _, m := range msgs {
			if m.Role == RoleSystem && m.Text != "" {
				parts = append(parts, m.Text)
			}
		}
	}

	var (
		body   []string
		images []Image
		cont   bool
	)
	if active {
		body, images, cont = pendingContent(msgs)
	} else {
		body, images = flattenHistory(msgs)
	}
	parts = append(parts, body...)

	turn := Turn{
		Text:             strings.Join(parts, "\n\n"),
		Images:           images,
		ToolContinuation: cont,
	}
	if turn.Empty() {
		return Turn{}, ErrEmptyTurn
	}
	return turn, nil
}

func flattenHistory(msgs []Message) ([]string, []Image) {
	var (
		body   []string
		images []Image
	)
	for _, m := range msgs {
		switch {
		case m.Role == RoleUser:
			if m.Text != "" {
				body = append(body, m.Text)
			}
			images = append(images, m.Images...)
		case m.Role == RoleAssistant:
			if m.Text != "" {
				body = append(body, "[Previous response]: "+m.Text)
			}
		case m.isToolResult():
			body = append(body, toolResultText(m))
		}
	}
	return body, images
}

// pendingContent picks what an ACTIVE session still has to send.
func pendingContent(msgs []Message) ([]string, []Image, bool) {
	if len(msgs) == 0 {
		return nil, nil, false
	}

	last := msgs[len(msgs)-1]
	if last.Role == RoleUser {
		return nonEmpty(last.Text), last.Images, false
	}

	if last.isToolResult() {
		start := 0
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == RoleAssistant {
				start = i + 1
				break
			}
		}
		var results []string
		for _, m := range msgs[start:] {
			if m.isToolResult() {
				results = append(results, toolResultText(m))
			}
		}
		if len(results) > 0 {
			combined := strings.Join(results, "\n\n")
			return []string{fmt.Sprintf(toolContinuationInstruction, combined)}, nil, true
		}
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return nonEmpty(msgs[i].Text), msgs[i].Images, false
		}
	}

	body, images := flattenHistory(msgs)
	return body, images, false
}

func toolResultText(m Message) string {
	name := m.Name
	if name == "" {
		name = m.ToolCallID
	}
	if name == "" {
		name = "unknown_tool"
	}
	return fmt.Sprintf("[Tool Result for %s]:\n%s", name, m.Text)
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
