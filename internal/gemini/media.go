package gemini

import (
	"math"
	"mime"
	"path"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	maxExtractDepth  = 30
	generationMarker = "gg-dl/"
)

// placeholderMarkers identify upstream stand-in URLs that never resolve to
// real media.
var placeholderMarkers = []string{"image_generation_content", "video_gen_chip"}

// extractMedia walks v looking for media items, collapsing two-copy
// structures per policy. Results keep discovery order.
func (c *Codec) extractMedia(v gjson.Result) []MediaReference {
	var out []MediaReference
	seen := make(map[string]bool)
	c.walkMedia(v, 0, func(item gjson.Result) {
		url := item.Get("3").Str
		if seen[url] {
			return
		}
		seen[url] = true
		out = append(out, MediaReference{
			URL:      url,
			MimeHint: mime.TypeByExtension(strings.ToLower(path.Ext(item.Get("2").Str))),
		})
	})
	return out
}

func (c *Codec) walkMedia(v gjson.Result, depth int, emit func(gjson.Result)) {
	if depth > maxExtractDepth {
		return
	}
	switch {
	case v.IsArray():
		a := v.Array()
		// [watermarked, _, _, clean, ...]
		if len(a) >= 4 && isMediaItem(a[0]) && isMediaItem(a[3]) {
			if c.Policy.PreferCleanCopy {
				emit(a[3])
			} else {
				emit(a[0])
			}
			return
		}
		if isMediaItem(v) {
			emit(v)
			return
		}
		for _, child := range a {
			c.walkMedia(child, depth+1, emit)
		}
	case v.IsObject():
		v.ForEach(func(_, child gjson.Result) bool {
			c.walkMedia(child, depth+1, emit)
			return true
		})
	}
}

// isMediaItem matches [null, <int>, "<filename>", "https://…gg-dl/…", ...].
func isMediaItem(v gjson.Result) bool {
	if !v.IsArray() {
		return false
	}
	a := v.Array()
	if len(a) < 4 {
		return false
	}
	return a[0].Type == gjson.Null &&
		a[1].Type == gjson.Number && a[1].Num == math.Trunc(a[1].Num) &&
		a[2].Type == gjson.String &&
		a[3].Type == gjson.String && isGeneratedURL(a[3].Str)
}

func isGeneratedURL(u string) bool {
	if !strings.HasPrefix(u, "https://") || !strings.Contains(u, generationMarker) {
		return false
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(u, marker) {
			return false
		}
	}
	return true
}
