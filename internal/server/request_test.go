package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dvcrn/gemini-web-proxy/internal/config"
	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestParseChatRequest(t *testing.T) {
	s, _ := newTestServer(t, &fakeGemini{}, nil)
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)

	fetched := 0
	fetch := func(_ context.Context, url string) (gemini.Image, error) {
		fetched++
		assert.Equal(t, "https://example.com/cat.jpg", url)
		return gemini.Image{MimeType: "image/jpeg", Data: []byte("jpeg")}, nil
	}

	req, err := s.parseChatRequest(context.Background(), []byte(`{
		"model": "gemini-3.0-flash",
		"stream": true,
		"user": "alice",
		"messages": [
			{"role": "System", "content": "Be brief."},
			{"role": "user", "content": [
				{"type": "text", "text": "What is this?"},
				{"type": "image_url", "image_url": {"url": "`+dataURL+`"}},
				{"type": "image_url", "image_url": "https://example.com/cat.jpg"},
				{"type": "text", "text": "And this?"}
			]},
			{"role": "assistant", "content": null},
			{"role": "tool", "tool_call_id": "call_1", "name": "lookup", "content": {"ok": true}}
		],
		"tools": [
			{"type": "function", "function": {"name": "lookup", "description": "Find", "parameters": {"type": "object"}}},
			{"type": "retrieval"},
			{"type": "function", "function": {"name": "bare"}}
		]
	}`), fetch)
	require.NoError(t, err)

	assert.Equal(t, "gemini-3.0-flash", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, "alice", req.User)
	require.Len(t, req.Messages, 4)

	assert.Equal(t, gemini.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "What is this?\nAnd this?", req.Messages[1].Text)
	require.Len(t, req.Messages[1].Images, 2)
	assert.Equal(t, "image/png", req.Messages[1].Images[0].MimeType)
	assert.Equal(t, pngHeader, req.Messages[1].Images[0].Data)
	assert.Equal(t, "image/jpeg", req.Messages[1].Images[1].MimeType)
	assert.Equal(t, 1, fetched)

	assert.Equal(t, "", req.Messages[2].Text)
	assert.Equal(t, gemini.RoleTool, req.Messages[3].Role)
	assert.Equal(t, "call_1", req.Messages[3].ToolCallID)
	assert.Equal(t, "lookup", req.Messages[3].Name)
	assert.JSONEq(t, `{"ok": true}`, req.Messages[3].Text)

	require.Len(t, req.Tools, 2)
	assert.Equal(t, Tool{Name: "lookup", Description: "Find", Parameters: `{"type": "object"}`}, req.Tools[0])
	assert.Equal(t, Tool{Name: "bare", Parameters: "{}"}, req.Tools[1])
}

func TestParseChatRequestDefaultsAndFailures(t *testing.T) {
	s, _ := newTestServer(t, &fakeGemini{}, func(cfg *config.Config) {
		cfg.Upstream.Models = []string{"gemini-3.0-pro"}
	})

	req, err := s.parseChatRequest(context.Background(), []byte(`{"messages":[{"role":"user","content":[
		{"type":"image_url","image_url":{"url":"https://example.com/broken.png"}},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,@@@"}},
		{"type":"text","text":"hi"}
	]}]}`), func(context.Context, string) (gemini.Image, error) {
		return gemini.Image{}, errors.New("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-3.0-pro", req.Model)
	assert.False(t, req.Stream)
	assert.Equal(t, "hi", req.Messages[0].Text)
	assert.Empty(t, req.Messages[0].Images)

	_, err = s.parseChatRequest(context.Background(), []byte(`not json`), nil)
	assert.ErrorIs(t, err, errInvalidJSON)

	_, err = s.parseChatRequest(context.Background(), []byte(`{"messages":[]}`), nil)
	assert.ErrorIs(t, err, errMissingMessages)
}

func TestFetchImage(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/typed.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngHeader)
		case "/untyped":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	defer images.Close()

	s, _ := newTestServer(t, &fakeGemini{}, nil, WithHTTPClient(images.Client()))

	img, err := s.fetchImage(context.Background(), images.URL+"/typed.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, pngHeader, img.Data)

	img, err = s.fetchImage(context.Background(), images.URL+"/untyped")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)

	_, err = s.fetchImage(context.Background(), images.URL+"/missing")
	assert.Error(t, err)
}
