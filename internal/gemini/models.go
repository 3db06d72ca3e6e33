package gemini

import (
	"strings"

	"github.com/tidwall/sjson"
)

// ModelVariant is one of the three upstream model families.
type ModelVariant int

const (
	VariantFlash ModelVariant = iota
	VariantPro
	VariantThinking
)

func (v ModelVariant) String() string {
	switch v {
	case VariantPro:
		return "pro"
	case VariantThinking:
		return "thinking"
	}
	return "flash"
}

// SelectVariant maps a requested model name onto a variant by substring:
// "pro" wins over "think"; everything else is Flash.
func SelectVariant(model string) ModelVariant {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "pro"):
		return VariantPro
	case strings.Contains(m, "think"):
		return VariantThinking
	}
	return VariantFlash
}

// SelectorCode is the integer carried in the envelope's model slot.
func (v ModelVariant) SelectorCode() int {
	switch v {
	case VariantPro:
		return 0
	case VariantThinking:
		return 3
	}
	return 1
}

// ModelIDs are the opaque ids sent in the model-selection header.
type ModelIDs struct {
	Flash    string
	Pro      string
	Thinking string
}

var DefaultModelIDs = ModelIDs{
	Flash:    "56fdd199312815e2",
	Pro:      "e6fa609c3fa255c0",
	Thinking: "e051ce1aa80aa576",
}

// For returns the id for v, falling back to the built-in default.
func (ids ModelIDs) For(v ModelVariant) string {
	var id, def string
	switch v {
	case VariantPro:
		id, def = ids.Pro, DefaultModelIDs.Pro
	case VariantThinking:
		id, def = ids.Thinking, DefaultModelIDs.Thinking
	default:
		id, def = ids.Flash, DefaultModelIDs.Flash
	}
	if id == "" {
		return def
	}
	return id
}

// WithOverrides returns ids with any non-empty entry of overrides (keyed
// flash/pro/thinking) applied.
func (ids ModelIDs) WithOverrides(overrides map[string]string) ModelIDs {
	if v := overrides["flash"]; v != "" {
		ids.Flash = v
	}
	if v := overrides["pro"]; v != "" {
		ids.Pro = v
	}
	if v := overrides["thinking"]; v != "" {
		ids.Thinking = v
	}
	return ids
}

const (
	ModelHeaderName     = "x-goog-ext-525001261-jspb"
	modelHeaderTemplate = `[1,null,null,null,"",null,null,0,[4],null,null,2]`
)

// ModelHeader renders the model-selection header value for id.
func ModelHeader(id string) string {
	out, err := sjson.Set(modelHeaderTemplate, "4", id)
	if err != nil {
		return modelHeaderTemplate
	}
	return out
}
