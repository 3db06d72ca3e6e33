package gemini

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Policy holds the reverse-engineered response heuristics. Both are guesses
// about undocumented upstream behaviour and can be switched off.
type Policy struct {
	// LongestTextWins keeps the longest candidate text across frames. When
	// false the last non-empty candidate wins.
	LongestTextWins bool

	// PreferCleanCopy picks the second (unwatermarked) item of a two-copy
	// media structure.
	PreferCleanCopy bool
}

func DefaultPolicy() Policy {
	return Policy{LongestTextWins: true, PreferCleanCopy: true}
}

// Codec translates turns into request envelopes and response streams into
// DecodeResults.
type Codec struct {
	Policy Policy

	newToken func() string
	now      func() time.Time
}

func NewCodec(policy Policy) *Codec {
	return &Codec{
		Policy: policy,
		newToken: func() string {
			return strings.ToUpper(uuid.NewString())
		},
		now: time.Now,
	}
}

// Attachment references an image already stored by the upload endpoint.
type Attachment struct {
	Path     string
	MimeType string
	Filename string
}

// EncodeInput is everything that varies between envelopes.
type EncodeInput struct {
	Text       string
	Attachment *Attachment
	Locale     string
	Session    SessionContext
	AtToken    string
	Model      string
}

// Envelope slot positions. Every other slot is an explicit null or one of
// the constants in envelopeFixed.
const (
	envelopeArity = 67

	slotMessage       = 0
	slotLocale        = 1
	slotSession       = 2
	slotAtToken       = 3
	slotModel         = 17
	slotClientSession = 59
	slotTimestamp     = 66
)

// envelopeFixed holds the constant slot values observed in browser traffic.
var envelopeFixed = map[int]func() any{
	6:  func() any { return []any{1} },
	7:  func() any { return 1 },
	10: func() any { return 1 },
	11: func() any { return 0 },
	18: func() any { return 0 },
	27: func() any { return 1 },
	30: func() any { return []any{4} },
	41: func() any { return []any{1} },
	53: func() any { return 0 },
	61: func() any { return []any{} },
}

// Encode builds the f.req form value: the envelope serialized compactly,
// wrapped as [null, "<envelope>"] and serialized again. Only the client
// session token and timestamp differ between calls with equal input.
func (c *Codec) Encode(in EncodeInput) (string, error) {
	inner, err := marshalCompact(c.envelope(in))
	if err != nil {
		return "", err
	}
	return marshalCompact([]any{nil, inner})
}

func (c *Codec) envelope(in EncodeInput) []any {
	env := make([]any, envelopeArity)
	for slot, value := range envelopeFixed {
		env[slot] = value()
	}

	var attachment any
	if a := in.Attachment; a != nil {
		attachment = []any{[]any{[]any{a.Path, 1, nil, a.MimeType}, a.Filename}}
	}
	locale := in.Locale
	if locale == "" {
		locale = "zh-CN"
	}
	ms := c.now().UnixMilli()

	env[slotMessage] = []any{in.Text, 0, nil, attachment, nil, nil, 0}
	env[slotLocale] = []any{locale}
	env[slotSession] = []any{
		in.Session.ConversationID, in.Session.ResponseID, in.Session.ChoiceID,
		nil, nil, nil, nil, nil, nil, "",
	}
	env[slotAtToken] = in.AtToken
	env[slotModel] = []any{[]any{SelectVariant(in.Model).SelectorCode()}}
	env[slotClientSession] = c.newToken()
	env[slotTimestamp] = []any{ms / 1000, (ms % 1000) * 1_000_000}
	return env
}

// marshalCompact serializes without whitespace or HTML escaping.
func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
