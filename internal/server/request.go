package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
	"github.com/tidwall/gjson"
)

const maxRemoteImageBytes = 20 << 20

var (
	errInvalidJSON     = errors.New("request body is not valid JSON")
	errMissingMessages = errors.New("messages must be a non-empty array")
)

// imageFetcher downloads an image referenced by an http(s) URL.
type imageFetcher func(ctx context.Context, url string) (gemini.Image, error)

// parseChatRequest reads the fields the proxy needs from an OpenAI chat
// completions body. Images that cannot be decoded or fetched are dropped
// with a warning rather than failing the request.
func (s *Server) parseChatRequest(ctx context.Context, body []byte, fetch imageFetcher) (*ChatCompletionRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}
	root := gjson.ParseBytes(body)

	messages := root.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, errMissingMessages
	}

	req := &ChatCompletionRequest{
		Model:  root.Get("model").String(),
		Stream: root.Get("stream").Bool(),
		User:   root.Get("user").String(),
	}
	if req.Model == "" {
		req.Model = s.cfg.Upstream.Models[0]
	}

	for _, m := range messages.Array() {
		req.Messages = append(req.Messages, s.normalizeMessage(ctx, m, fetch))
	}

	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		if t := tool.Get("type").String(); t != "" && t != "function" {
			return true
		}
		fn := tool.Get("function")
		if !fn.Exists() {
			fn = tool
		}
		name := fn.Get("name").String()
		if name == "" {
			return true
		}
		params := fn.Get("parameters").Raw
		if params == "" {
			params = "{}"
		}
		req.Tools = append(req.Tools, Tool{
			Name:        name,
			Description: fn.Get("description").String(),
			Parameters:  params,
		})
		return true
	})

	return req, nil
}

func (s *Server) normalizeMessage(ctx context.Context, m gjson.Result, fetch imageFetcher) gemini.Message {
	msg := gemini.Message{
		Role:       gemini.Role(strings.ToLower(m.Get("role").String())),
		Name:       m.Get("name").String(),
		ToolCallID: m.Get("tool_call_id").String(),
	}

	content := m.Get("content")
	switch {
	case !content.Exists() || content.Type == gjson.Null:
	case content.Type == gjson.String:
		msg.Text = content.Str
	case content.IsArray():
		var texts []string
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text", "input_text":
				if t := part.Get("text").String(); t != "" {
					texts = append(texts, t)
				}
			case "image_url", "input_image":
				ref := part.Get("image_url.url").String()
				if raw := part.Get("image_url"); ref == "" && raw.Type == gjson.String {
					ref = raw.Str
				}
				img, err := s.resolveImage(ctx, ref, fetch)
				if err != nil {
					s.logger.Warn().Err(err).Str("ref", truncateRef(ref)).Msg("Skipping unreadable image")
					return true
				}
				msg.Images = append(msg.Images, img)
			}
			return true
		})
		msg.Text = strings.Join(texts, "\n")
	default:
		msg.Text = content.Raw
	}
	return msg
}

func (s *Server) resolveImage(ctx context.Context, ref string, fetch imageFetcher) (gemini.Image, error) {
	switch {
	case ref == "":
		return gemini.Image{}, errors.New("empty image reference")
	case strings.HasPrefix(ref, "data:"):
		return gemini.DecodeDataURL(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if fetch == nil {
			return gemini.Image{}, errors.New("remote images are disabled")
		}
		return fetch(ctx, ref)
	default:
		return gemini.DecodeBase64Image(ref)
	}
}

// fetchImage downloads a remote image with the shared HTTP client.
func (s *Server) fetchImage(ctx context.Context, url string) (gemini.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MediaDownloadTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gemini.Image{}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return gemini.Image{}, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gemini.Image{}, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes+1))
	if err != nil {
		return gemini.Image{}, fmt.Errorf("fetch image: %w", err)
	}
	if len(data) > maxRemoteImageBytes {
		return gemini.Image{}, fmt.Errorf("fetch image: larger than %d bytes", maxRemoteImageBytes)
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return gemini.Image{MimeType: mimeType, Data: data}, nil
}

func truncateRef(ref string) string {
	if len(ref) > 64 {
		return ref[:64] + "…"
	}
	return ref
}
