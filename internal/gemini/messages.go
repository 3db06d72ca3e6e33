package gemini

import (
	"encoding/base64"
	"errors"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// Image is a decoded inline attachment.
type Image struct {
	MimeType string
	Data     []byte
}

// Message is the normalized form of one inbound chat message. The HTTP layer
// builds it once; nothing downstream looks at the wire representation.
type Message struct {
	Role       Role
	Text       string
	Images     []Image
	Name       string
	ToolCallID string
}

func (m Message) isToolResult() bool {
	return m.Role == RoleTool || m.Role == RoleFunction
}

// Turn is what gets sent upstream in a single exchange.
type Turn struct {
	Text   string
	Images []Image
	Model  string

	// ToolContinuation is set when the turn carries tool results rather than
	// a new user question.
	ToolContinuation bool
}

func (t Turn) Empty() bool {
	return strings.TrimSpace(t.Text) == "" && len(t.Images) == 0
}

var errNotDataURL = errors.New("not a base64 data URL")

// DecodeDataURL decodes "data:<mime>;base64,<payload>".
func DecodeDataURL(u string) (Image, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return Image{}, errNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, errNotDataURL
	}
	mimeType, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" || mimeType == "" {
		return Image{}, errNotDataURL
	}
	data, err := decodeBase64(payload)
	if err != nil {
		return Image{}, err
	}
	return Image{MimeType: mimeType, Data: data}, nil
}

// DecodeBase64Image accepts a bare base64 payload, assumed to be PNG.
func DecodeBase64Image(payload string) (Image, error) {
	data, err := decodeBase64(payload)
	if err != nil {
		return Image{}, err
	}
	return Image{MimeType: "image/png", Data: data}, nil
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
}
