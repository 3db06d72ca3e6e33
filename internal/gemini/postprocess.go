package gemini

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// VideoNotice is appended when the upstream reports asynchronous video
// generation. The video itself never appears in the response.
const VideoNotice = "\n\n---\n" +
	"📹 Video is generated asynchronously. The results can be viewed and downloaded in the official chat window.\n\n" +
	"⏱️ Usage limits:\n" +
	"- Video generation (Veo model): 3 times per day in total\n" +
	"- Image generation (Nano Banana model): 1000 times per day in total"

const videoChipMarker = "googleusercontent.com/video_gen_chip/"

var (
	placeholderURLPattern = regexp.MustCompile(`https?://googleusercontent\.com/(?:image_generation_content|video_gen_chip)/\d+`)
	emptyImagePattern     = regexp.MustCompile(`!\[[^\]]*\]\(\s*\)`)
	uploadImagePattern    = regexp.MustCompile(`!\[[^\]]*\]\(https?://[^)]*googleusercontent\.com/gg/[^)]*\)`)
	uploadURLPattern      = regexp.MustCompile(`https?://lh3\.googleusercontent\.com/gg/[^\s)]+`)
	blankRunPattern       = regexp.MustCompile(`\n{3,}`)

	markdownImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	bareImageURLPattern  = regexp.MustCompile(`https?://[^\s)]+(?:googleusercontent|ggpht)[^\s)]*`)

	sizeSuffixPatterns = []*regexp.Regexp{
		regexp.MustCompile(`=w\d+(-h\d+)?(-[a-zA-Z]+)*$`),
		regexp.MustCompile(`=s\d+(-[a-zA-Z]+)*$`),
		regexp.MustCompile(`=h\d+(-[a-zA-Z]+)*$`),
	}
)

// Finalize turns decoded text plus resolved media URLs into the reply text:
// placeholders and echoed uploads are stripped, media is appended as
// markdown images and image URLs are upgraded to full size.
func Finalize(text string, mediaURLs []string) string {
	video := strings.Contains(text, videoChipMarker)

	if len(mediaURLs) > 0 {
		blocks := make([]string, 0, len(mediaURLs))
		for i, u := range mediaURLs {
			blocks = append(blocks, fmt.Sprintf("![Generated content %d](%s)", i+1, u))
		}
		block := strings.Join(blocks, "\n\n")

		text = strings.TrimSpace(stripPlaceholders(text))
		if text != "" {
			text += "\n\n" + block
		} else {
			text = block
		}
	}

	text = stripPlaceholders(text)
	text = uploadImagePattern.ReplaceAllString(text, "")
	text = uploadURLPattern.ReplaceAllString(text, "")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if video {
		if text == "" {
			text = strings.TrimLeft(VideoNotice, "\n")
		} else {
			text += VideoNotice
		}
	}

	return OptimizeEmbeddedURLs(text)
}

func stripPlaceholders(text string) string {
	text = placeholderURLPattern.ReplaceAllString(text, "")
	return emptyImagePattern.ReplaceAllString(text, "")
}

// OptimizeURL rewrites a Google image-host URL to request the original size.
// Non-image and video URLs are returned unchanged. It is idempotent.
func OptimizeURL(u string) string {
	if !isImageHost(u) || isVideoURL(u) {
		return u
	}
	for _, p := range sizeSuffixPatterns {
		if p.MatchString(u) {
			return p.ReplaceAllString(u, "=s0")
		}
	}
	last := u[strings.LastIndex(u, "/")+1:]
	if !strings.Contains(last, "=") {
		return u + "=s0"
	}
	return u
}

// OptimizeEmbeddedURLs applies OptimizeURL to markdown images and bare image
// host URLs in text.
func OptimizeEmbeddedURLs(text string) string {
	text = markdownImagePattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := markdownImagePattern.FindStringSubmatch(m)
		return "![" + sub[1] + "](" + OptimizeURL(sub[2]) + ")"
	})
	return bareImageURLPattern.ReplaceAllStringFunc(text, OptimizeURL)
}

var imageHostDomains = []string{"googleusercontent.com", "ggpht.com"}

// isImageHost reports whether u is served from a Google image host domain or
// one of its subdomains.
func isImageHost(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range imageHostDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func isVideoURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.Contains(lower, ".mp4") || strings.Contains(lower, ".webm") || strings.Contains(lower, "video")
}
