package gemini

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// UnparsableResponse is the reply text used when no frame yields anything.
const UnparsableResponse = "Unable to parse response"

const (
	antiHijackPrefix  = ")]}'"
	frameTypeResponse = "wrb.fr"
)

// MediaReference is a generated-media URL found in a response.
type MediaReference struct {
	URL      string
	MimeHint string
}

// DecodeResult is the structured content of one upstream response.
type DecodeResult struct {
	Text    string
	Media   []MediaReference
	Session SessionContext

	// Parsed is false when neither text nor media was found; Text then holds
	// UnparsableResponse.
	Parsed bool

	Frames  int
	Skipped int
}

var (
	errNoise   = errors.New("noise line")
	errNotJSON = errors.New("line is not JSON")
	errNoFrame = errors.New("line carries no wrb.fr frame")
)

// Decode parses a raw upstream response body.
func (c *Codec) Decode(raw string) DecodeResult {
	var (
		res   DecodeResult
		found bool
		seen  = make(map[string]bool)
	)

	for _, line := range strings.Split(raw, "\n") {
		payloads, err := parseLine(line)
		if err != nil {
			res.Skipped++
			continue
		}

		for _, inner := range payloads {
			res.Frames++

			for _, ref := range c.extractMedia(inner) {
				if seen[ref.URL] {
					continue
				}
				seen[ref.URL] = true
				res.Media = append(res.Media, ref)
			}

			for _, cand := range candidates(inner) {
				text := candidateText(cand)
				if !c.replaces(res.Text, text, found) {
					continue
				}
				res.Text = text
				found = true
				res.Session = res.Session.Merge(SessionContext{
					ConversationID: stringAt(inner, "1.0"),
					ResponseID:     stringAt(inner, "1.1"),
					ChoiceID:       stringAt(cand, "0"),
				})
			}
		}
	}

	res.Parsed = found || len(res.Media) > 0
	if !res.Parsed {
		res.Text = UnparsableResponse
	}
	return res
}

func (c *Codec) replaces(best, text string, found bool) bool {
	if text == "" {
		return false
	}
	if !c.Policy.LongestTextWins || !found {
		return true
	}
	return utf8.RuneCountInString(text) > utf8.RuneCountInString(best)
}

// parseLine returns the inner payloads of every wrb.fr frame on line.
func parseLine(line string) ([]gjson.Result, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, antiHijackPrefix) || isDigits(line) {
		return nil, errNoise
	}
	if !gjson.Valid(line) {
		return nil, errNotJSON
	}

	root := gjson.Parse(line)
	if !root.IsArray() {
		return nil, errNoFrame
	}

	var payloads []gjson.Result
	root.ForEach(func(_, entry gjson.Result) bool {
		if inner, ok := framePayload(entry); ok {
			payloads = append(payloads, inner)
		}
		return true
	})
	if len(payloads) == 0 {
		return nil, errNoFrame
	}
	return payloads, nil
}

// framePayload matches ["wrb.fr", _, "<json>", ...] and parses the string.
func framePayload(entry gjson.Result) (gjson.Result, bool) {
	if !entry.IsArray() || stringAt(entry, "0") != frameTypeResponse {
		return gjson.Result{}, false
	}
	raw := stringAt(entry, "2")
	if raw == "" || !gjson.Valid(raw) {
		return gjson.Result{}, false
	}
	inner := gjson.Parse(raw)
	if !inner.IsArray() {
		return gjson.Result{}, false
	}
	return inner, true
}

// candidates returns the candidate list, normally at slot 4. Payloads that
// carry it elsewhere are scanned slot by slot for the first matching shape.
func candidates(inner gjson.Result) []gjson.Result {
	if list := inner.Get("4"); isCandidateList(list) {
		return list.Array()
	}
	for _, slot := range inner.Array() {
		if isCandidateList(slot) {
			return slot.Array()
		}
	}
	return nil
}

// isCandidate matches [choiceId, [text, ...], ...].
func isCandidate(v gjson.Result) bool {
	if !v.IsArray() {
		return false
	}
	a := v.Array()
	if len(a) < 2 || a[0].Type != gjson.String || !a[1].IsArray() {
		return false
	}
	parts := a[1].Array()
	return len(parts) > 0 && parts[0].Type == gjson.String
}

func isCandidateList(v gjson.Result) bool {
	if !v.IsArray() {
		return false
	}
	a := v.Array()
	return len(a) > 0 && isCandidate(a[0])
}

func candidateText(cand gjson.Result) string {
	return stringAt(cand, "1.0")
}

// stringAt returns the string at path, or "" for any other type.
func stringAt(v gjson.Result, path string) string {
	r := v.Get(path)
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
